/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces.

PURPOSE:
  The production twin of store/sqlite. Same tables, same guard semantics,
  but native types (DATE, TIMESTAMPTZ, TEXT[]) and no process-level mutex:
  the database handles concurrency.

VERSION GUARD:
  SaveBalance inserts version 1 rows and otherwise updates with
  "WHERE version = $n". Zero rows affected means another writer got there
  first; the caller sees ConcurrentModificationError with both versions.

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - leave/store.go: Interface definitions and contracts
  - store/sqlite: The embedded twin, kept column-compatible
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/leave-ledger/leave"
)

// Store implements leave.TxStore using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS balances (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		allocated TEXT NOT NULL,
		carried_in TEXT NOT NULL,
		used TEXT NOT NULL,
		pending TEXT NOT NULL,
		version BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, year)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_year
		ON balances(year);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		seq BIGSERIAL,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		request_id TEXT NOT NULL,
		days TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_request
		ON reservations(request_id);

	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		seq BIGSERIAL,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		requested_days TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		comments TEXT NOT NULL DEFAULT '',
		reservation_ids TEXT[] NOT NULL,
		decided_by TEXT,
		decided_at TIMESTAMPTZ,
		decision_comments TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON requests(employee_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON requests(status);

	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		default_annual_days TEXT NOT NULL,
		carry_max_days TEXT,
		carry_expiry_months INTEGER,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS carry_forward_records (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		from_year INTEGER NOT NULL,
		to_year INTEGER NOT NULL,
		days_transferred TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		seq BIGSERIAL,
		PRIMARY KEY (employee_id, leave_type_id, from_year, to_year)
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		joined_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		seq BIGSERIAL,
		at TIMESTAMPTZ NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		request_id TEXT NOT NULL DEFAULT '',
		key_employee_id TEXT,
		key_leave_type_id TEXT,
		key_year INTEGER,
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_actor
		ON audit_log(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_request
		ON audit_log(request_id) WHERE request_id <> '';
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every operation
// has one implementation shared by the plain store and the transactional view.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// BALANCES
// =============================================================================

const balanceColumns = `employee_id, leave_type_id, year, allocated, carried_in, used, pending, version, updated_at`

func (s *Store) GetBalance(ctx context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	return getBalance(ctx, s.pool, key)
}

func getBalance(ctx context.Context, q querier, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	row := q.QueryRow(ctx, `
		SELECT `+balanceColumns+`
		FROM balances
		WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3`,
		key.EmployeeID, key.LeaveTypeID, key.Year)

	b, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBalance(sc scanner) (leave.LeaveBalance, error) {
	var (
		b                                 leave.LeaveBalance
		allocated, carried, used, pending string
	)
	err := sc.Scan(&b.Key.EmployeeID, &b.Key.LeaveTypeID, &b.Key.Year,
		&allocated, &carried, &used, &pending, &b.Version, &b.UpdatedAt)
	if err != nil {
		return b, err
	}

	if b.Allocated, err = leave.ParseDays(allocated); err != nil {
		return b, fmt.Errorf("balance %s: %w", b.Key, err)
	}
	if b.CarriedIn, err = leave.ParseDays(carried); err != nil {
		return b, fmt.Errorf("balance %s: %w", b.Key, err)
	}
	if b.Used, err = leave.ParseDays(used); err != nil {
		return b, fmt.Errorf("balance %s: %w", b.Key, err)
	}
	if b.Pending, err = leave.ParseDays(pending); err != nil {
		return b, fmt.Errorf("balance %s: %w", b.Key, err)
	}
	return b, nil
}

func (s *Store) SaveBalance(ctx context.Context, balance leave.LeaveBalance) error {
	return saveBalance(ctx, s.pool, balance)
}

// saveBalance enforces the version guard. Version 1 inserts; anything later
// updates only the row still at version-1.
func saveBalance(ctx context.Context, q querier, b leave.LeaveBalance) error {
	if b.Version == 1 {
		_, err := q.Exec(ctx, `
			INSERT INTO balances (`+balanceColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			b.Key.EmployeeID, b.Key.LeaveTypeID, b.Key.Year,
			b.Allocated.String(), b.CarriedIn.String(), b.Used.String(), b.Pending.String(),
			b.Version, b.UpdatedAt.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return versionConflict(ctx, q, b)
			}
			return fmt.Errorf("failed to insert balance: %w", err)
		}
		return nil
	}

	ct, err := q.Exec(ctx, `
		UPDATE balances
		SET allocated = $1, carried_in = $2, used = $3, pending = $4, version = $5, updated_at = $6
		WHERE employee_id = $7 AND leave_type_id = $8 AND year = $9 AND version = $10`,
		b.Allocated.String(), b.CarriedIn.String(), b.Used.String(), b.Pending.String(),
		b.Version, b.UpdatedAt.UTC(),
		b.Key.EmployeeID, b.Key.LeaveTypeID, b.Key.Year, b.Version-1)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return versionConflict(ctx, q, b)
	}
	return nil
}

func versionConflict(ctx context.Context, q querier, b leave.LeaveBalance) error {
	var actual int64
	err := q.QueryRow(ctx,
		"SELECT version FROM balances WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3",
		b.Key.EmployeeID, b.Key.LeaveTypeID, b.Key.Year,
	).Scan(&actual)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	return &leave.ConcurrentModificationError{
		Key:             b.Key,
		ExpectedVersion: b.Version - 1,
		ActualVersion:   actual,
	}
}

func (s *Store) ListBalances(ctx context.Context, employeeID leave.EmployeeID) ([]leave.LeaveBalance, error) {
	return listBalances(ctx, s.pool, employeeID)
}

func listBalances(ctx context.Context, q querier, employeeID leave.EmployeeID) ([]leave.LeaveBalance, error) {
	return queryBalances(ctx, q, `
		SELECT `+balanceColumns+`
		FROM balances
		WHERE employee_id = $1
		ORDER BY year ASC, leave_type_id ASC`, employeeID)
}

func (s *Store) ListBalancesForYear(ctx context.Context, year int) ([]leave.LeaveBalance, error) {
	return listBalancesForYear(ctx, s.pool, year)
}

func listBalancesForYear(ctx context.Context, q querier, year int) ([]leave.LeaveBalance, error) {
	return queryBalances(ctx, q, `
		SELECT `+balanceColumns+`
		FROM balances
		WHERE year = $1
		ORDER BY employee_id ASC, leave_type_id ASC`, year)
}

func queryBalances(ctx context.Context, q querier, query string, args ...any) ([]leave.LeaveBalance, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []leave.LeaveBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// =============================================================================
// RESERVATIONS
// =============================================================================

const reservationColumns = `id, employee_id, leave_type_id, year, request_id, days, status, created_at, resolved_at`

func (s *Store) SaveReservation(ctx context.Context, r leave.Reservation) error {
	return saveReservation(ctx, s.pool, r)
}

func saveReservation(ctx context.Context, q querier, r leave.Reservation) error {
	_, err := q.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			resolved_at = EXCLUDED.resolved_at`,
		r.ID, r.Key.EmployeeID, r.Key.LeaveTypeID, r.Key.Year,
		r.RequestID, r.Days.String(), r.Status,
		r.CreatedAt.UTC(), r.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id leave.ReservationID) (*leave.Reservation, error) {
	return getReservation(ctx, s.pool, id)
}

func getReservation(ctx context.Context, q querier, id leave.ReservationID) (*leave.Reservation, error) {
	row := q.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations WHERE id = $1`, id)

	r, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanReservation(sc scanner) (leave.Reservation, error) {
	var (
		r    leave.Reservation
		days string
	)
	err := sc.Scan(&r.ID, &r.Key.EmployeeID, &r.Key.LeaveTypeID, &r.Key.Year,
		&r.RequestID, &days, &r.Status, &r.CreatedAt, &r.ResolvedAt)
	if err != nil {
		return r, err
	}

	if r.Days, err = leave.ParseDays(days); err != nil {
		return r, fmt.Errorf("reservation %s: %w", r.ID, err)
	}
	return r, nil
}

func (s *Store) ListReservationsByRequest(ctx context.Context, requestID leave.RequestID) ([]leave.Reservation, error) {
	return listReservationsByRequest(ctx, s.pool, requestID)
}

func listReservationsByRequest(ctx context.Context, q querier, requestID leave.RequestID) ([]leave.Reservation, error) {
	rows, err := q.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE request_id = $1
		ORDER BY seq ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []leave.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

// =============================================================================
// REQUESTS
// =============================================================================

const requestColumns = `id, employee_id, leave_type_id, start_date, end_date, requested_days,
		status, comments, reservation_ids, decided_by, decided_at, decision_comments, created_at`

func (s *Store) SaveRequest(ctx context.Context, r leave.LeaveRequest) error {
	return saveRequest(ctx, s.pool, r)
}

func saveRequest(ctx context.Context, q querier, r leave.LeaveRequest) error {
	_, err := q.Exec(ctx, `
		INSERT INTO requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.EmployeeID, r.LeaveTypeID,
		r.StartDate.Time, r.EndDate.Time, r.RequestedDays.String(),
		r.Status, r.Comments, reservationIDStrings(r.ReservationIDs),
		decidedByArg(r.DecidedBy), r.DecidedAt, r.DecisionComments,
		r.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("request %s already exists", r.ID)
		}
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

func (s *Store) UpdateRequest(ctx context.Context, r leave.LeaveRequest, expectStatus leave.RequestStatus) error {
	return updateRequest(ctx, s.pool, r, expectStatus)
}

// updateRequest writes only while the stored status matches what the caller
// last observed.
func updateRequest(ctx context.Context, q querier, r leave.LeaveRequest, expectStatus leave.RequestStatus) error {
	ct, err := q.Exec(ctx, `
		UPDATE requests
		SET status = $1, decided_by = $2, decided_at = $3, decision_comments = $4
		WHERE id = $5 AND status = $6`,
		r.Status, decidedByArg(r.DecidedBy), r.DecidedAt, r.DecisionComments,
		r.ID, expectStatus)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if ct.RowsAffected() == 0 {
		var current string
		err := q.QueryRow(ctx, "SELECT status FROM requests WHERE id = $1", r.ID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", leave.ErrUnknownRequest, r.ID)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: request %s is %s, expected %s",
			leave.ErrConcurrentModification, r.ID, current, expectStatus)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id leave.RequestID) (*leave.LeaveRequest, error) {
	return getRequest(ctx, s.pool, id)
}

func getRequest(ctx context.Context, q querier, id leave.RequestID) (*leave.LeaveRequest, error) {
	row := q.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)

	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanRequest(sc scanner) (leave.LeaveRequest, error) {
	var (
		r                  leave.LeaveRequest
		startDate, endDate time.Time
		requestedDays      string
		reservationIDs     []string
		decidedBy          *string
	)
	err := sc.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &startDate, &endDate,
		&requestedDays, &r.Status, &r.Comments, &reservationIDs,
		&decidedBy, &r.DecidedAt, &r.DecisionComments, &r.CreatedAt)
	if err != nil {
		return r, err
	}

	r.StartDate = leave.DateOf(startDate)
	r.EndDate = leave.DateOf(endDate)
	if r.RequestedDays, err = leave.ParseDays(requestedDays); err != nil {
		return r, fmt.Errorf("request %s: %w", r.ID, err)
	}
	r.ReservationIDs = make([]leave.ReservationID, len(reservationIDs))
	for i, id := range reservationIDs {
		r.ReservationIDs[i] = leave.ReservationID(id)
	}
	if decidedBy != nil {
		v := leave.EmployeeID(*decidedBy)
		r.DecidedBy = &v
	}
	return r, nil
}

func (s *Store) ListRequestsByEmployee(ctx context.Context, employeeID leave.EmployeeID, statuses ...leave.RequestStatus) ([]leave.LeaveRequest, error) {
	return listRequestsByEmployee(ctx, s.pool, employeeID, statuses...)
}

func listRequestsByEmployee(ctx context.Context, q querier, employeeID leave.EmployeeID, statuses ...leave.RequestStatus) ([]leave.LeaveRequest, error) {
	if len(statuses) == 0 {
		return queryRequests(ctx, q, `
			SELECT `+requestColumns+` FROM requests
			WHERE employee_id = $1
			ORDER BY seq DESC`, employeeID)
	}

	wanted := make([]string, len(statuses))
	for i, st := range statuses {
		wanted[i] = string(st)
	}
	return queryRequests(ctx, q, `
		SELECT `+requestColumns+` FROM requests
		WHERE employee_id = $1 AND status = ANY($2)
		ORDER BY seq DESC`, employeeID, wanted)
}

func (s *Store) ListRequestsByStatus(ctx context.Context, status leave.RequestStatus) ([]leave.LeaveRequest, error) {
	return listRequestsByStatus(ctx, s.pool, status)
}

func listRequestsByStatus(ctx context.Context, q querier, status leave.RequestStatus) ([]leave.LeaveRequest, error) {
	return queryRequests(ctx, q, `
		SELECT `+requestColumns+` FROM requests
		WHERE status = $1
		ORDER BY seq ASC`, status)
}

func queryRequests(ctx context.Context, q querier, query string, args ...any) ([]leave.LeaveRequest, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []leave.LeaveRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func (s *Store) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	return saveLeaveType(ctx, s.pool, lt)
}

func saveLeaveType(ctx context.Context, q querier, lt leave.LeaveType) error {
	var carryMax *string
	var carryExpiry *int
	if lt.CarryForward != nil {
		v := lt.CarryForward.MaxDays.String()
		carryMax = &v
		carryExpiry = &lt.CarryForward.ExpiryMonths
	}

	_, err := q.Exec(ctx, `
		INSERT INTO leave_types (id, name, active, default_annual_days, carry_max_days, carry_expiry_months, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lt.ID, lt.Name, lt.Active, lt.DefaultAnnualDays.String(),
		carryMax, carryExpiry, lt.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", leave.ErrDuplicateLeaveType, lt.ID)
		}
		return fmt.Errorf("failed to save leave type: %w", err)
	}
	return nil
}

func (s *Store) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	return getLeaveType(ctx, s.pool, id)
}

func getLeaveType(ctx context.Context, q querier, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	row := q.QueryRow(ctx, `
		SELECT id, name, active, default_annual_days, carry_max_days, carry_expiry_months, created_at
		FROM leave_types WHERE id = $1`, id)

	lt, err := scanLeaveType(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lt, nil
}

func scanLeaveType(sc scanner) (leave.LeaveType, error) {
	var (
		lt          leave.LeaveType
		annualDays  string
		carryMax    *string
		carryExpiry *int
	)
	err := sc.Scan(&lt.ID, &lt.Name, &lt.Active, &annualDays, &carryMax, &carryExpiry, &lt.CreatedAt)
	if err != nil {
		return lt, err
	}

	if lt.DefaultAnnualDays, err = leave.ParseDays(annualDays); err != nil {
		return lt, fmt.Errorf("leave type %s: %w", lt.ID, err)
	}
	if carryMax != nil {
		maxDays, err := leave.ParseDays(*carryMax)
		if err != nil {
			return lt, fmt.Errorf("leave type %s: %w", lt.ID, err)
		}
		months := 0
		if carryExpiry != nil {
			months = *carryExpiry
		}
		lt.CarryForward = &leave.CarryForwardPolicy{
			MaxDays:      maxDays,
			ExpiryMonths: months,
		}
	}
	return lt, nil
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	return listLeaveTypes(ctx, s.pool)
}

func listLeaveTypes(ctx context.Context, q querier) ([]leave.LeaveType, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, active, default_annual_days, carry_max_days, carry_expiry_months, created_at
		FROM leave_types ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave types: %w", err)
	}
	defer rows.Close()

	var types []leave.LeaveType
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, lt)
	}
	return types, rows.Err()
}

func (s *Store) SetLeaveTypeActive(ctx context.Context, id leave.LeaveTypeID, active bool) error {
	return setLeaveTypeActive(ctx, s.pool, id, active)
}

func setLeaveTypeActive(ctx context.Context, q querier, id leave.LeaveTypeID, active bool) error {
	ct, err := q.Exec(ctx, "UPDATE leave_types SET active = $1 WHERE id = $2", active, id)
	if err != nil {
		return fmt.Errorf("failed to update leave type: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", leave.ErrLeaveTypeNotFound, id)
	}
	return nil
}

// =============================================================================
// CARRY-FORWARD RECORDS
// =============================================================================

func (s *Store) SaveCarryForward(ctx context.Context, rec leave.CarryForwardRecord) error {
	return saveCarryForward(ctx, s.pool, rec)
}

func saveCarryForward(ctx context.Context, q querier, rec leave.CarryForwardRecord) error {
	_, err := q.Exec(ctx, `
		INSERT INTO carry_forward_records (employee_id, leave_type_id, from_year, to_year, days_transferred, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.EmployeeID, rec.LeaveTypeID, rec.FromYear, rec.ToYear,
		rec.DaysTransferred.String(), rec.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s %d->%d",
				leave.ErrDuplicateCarryForward, rec.EmployeeID, rec.LeaveTypeID, rec.FromYear, rec.ToYear)
		}
		return fmt.Errorf("failed to save carry-forward record: %w", err)
	}
	return nil
}

func (s *Store) GetCarryForward(ctx context.Context, employeeID leave.EmployeeID, typeID leave.LeaveTypeID, fromYear, toYear int) (*leave.CarryForwardRecord, error) {
	return getCarryForward(ctx, s.pool, employeeID, typeID, fromYear, toYear)
}

func getCarryForward(ctx context.Context, q querier, employeeID leave.EmployeeID, typeID leave.LeaveTypeID, fromYear, toYear int) (*leave.CarryForwardRecord, error) {
	row := q.QueryRow(ctx, `
		SELECT employee_id, leave_type_id, from_year, to_year, days_transferred, created_at
		FROM carry_forward_records
		WHERE employee_id = $1 AND leave_type_id = $2 AND from_year = $3 AND to_year = $4`,
		employeeID, typeID, fromYear, toYear)

	rec, err := scanCarryForward(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanCarryForward(sc scanner) (leave.CarryForwardRecord, error) {
	var (
		rec  leave.CarryForwardRecord
		days string
	)
	err := sc.Scan(&rec.EmployeeID, &rec.LeaveTypeID, &rec.FromYear, &rec.ToYear, &days, &rec.CreatedAt)
	if err != nil {
		return rec, err
	}

	if rec.DaysTransferred, err = leave.ParseDays(days); err != nil {
		return rec, fmt.Errorf("carry-forward %s/%s: %w", rec.EmployeeID, rec.LeaveTypeID, err)
	}
	return rec, nil
}

func (s *Store) ListCarryForwards(ctx context.Context, employeeID leave.EmployeeID) ([]leave.CarryForwardRecord, error) {
	return listCarryForwards(ctx, s.pool, employeeID)
}

func listCarryForwards(ctx context.Context, q querier, employeeID leave.EmployeeID) ([]leave.CarryForwardRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT employee_id, leave_type_id, from_year, to_year, days_transferred, created_at
		FROM carry_forward_records
		WHERE employee_id = $1
		ORDER BY seq DESC`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query carry-forward records: %w", err)
	}
	defer rows.Close()

	var records []leave.CarryForwardRecord
	for rows.Next() {
		rec, err := scanCarryForward(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, e leave.Employee) error {
	return saveEmployee(ctx, s.pool, e)
}

func saveEmployee(ctx context.Context, q querier, e leave.Employee) error {
	_, err := q.Exec(ctx, `
		INSERT INTO employees (id, name, email, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			joined_at = EXCLUDED.joined_at`,
		e.ID, e.Name, e.Email, e.JoinedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id leave.EmployeeID) (*leave.Employee, error) {
	return getEmployee(ctx, s.pool, id)
}

func getEmployee(ctx context.Context, q querier, id leave.EmployeeID) (*leave.Employee, error) {
	var e leave.Employee
	err := q.QueryRow(ctx,
		"SELECT id, name, email, joined_at FROM employees WHERE id = $1", id,
	).Scan(&e.ID, &e.Name, &e.Email, &e.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]leave.Employee, error) {
	return listEmployees(ctx, s.pool)
}

func listEmployees(ctx context.Context, q querier) ([]leave.Employee, error) {
	rows, err := q.Query(ctx, "SELECT id, name, email, joined_at FROM employees ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []leave.Employee
	for rows.Next() {
		var e leave.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.Email, &e.JoinedAt); err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry leave.AuditEntry) error {
	return appendAudit(ctx, s.pool, entry)
}

func appendAudit(ctx context.Context, q querier, entry leave.AuditEntry) error {
	var keyEmployee, keyType *string
	var keyYear *int
	if entry.Key != nil {
		emp := string(entry.Key.EmployeeID)
		typ := string(entry.Key.LeaveTypeID)
		keyEmployee, keyType = &emp, &typ
		keyYear = &entry.Key.Year
	}

	_, err := q.Exec(ctx, `
		INSERT INTO audit_log (id, at, actor_id, action, request_id, key_employee_id, key_leave_type_id, key_year, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.At.UTC(), entry.ActorID, entry.Action,
		entry.RequestID, keyEmployee, keyType, keyYear, entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	return queryAudit(ctx, s.pool, filter)
}

func queryAudit(ctx context.Context, q querier, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.EmployeeID != nil {
		add("actor_id = $%d", *filter.EmployeeID)
	}
	if filter.RequestID != nil {
		add("request_id = $%d", *filter.RequestID)
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		add("action = ANY($%d)", actions)
	}
	if filter.From != nil {
		add("at >= $%d", filter.From.UTC())
	}
	if filter.To != nil {
		add("at <= $%d", filter.To.UTC())
	}

	query := `
		SELECT id, at, actor_id, action, request_id, key_employee_id, key_leave_type_id, key_year, detail
		FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq DESC"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []leave.AuditEntry
	for rows.Next() {
		var (
			entry       leave.AuditEntry
			keyEmployee *string
			keyType     *string
			keyYear     *int
		)
		if err := rows.Scan(&entry.ID, &entry.At, &entry.ActorID, &entry.Action,
			&entry.RequestID, &keyEmployee, &keyType, &keyYear, &entry.Detail); err != nil {
			return nil, err
		}
		if keyEmployee != nil {
			key := leave.BalanceKey{EmployeeID: leave.EmployeeID(*keyEmployee)}
			if keyType != nil {
				key.LeaveTypeID = leave.LeaveTypeID(*keyType)
			}
			if keyYear != nil {
				key.Year = *keyYear
			}
			entry.Key = &key
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (leave.TxStore interface)
// =============================================================================

// WithTx executes fn inside a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store leave.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore runs every operation against the open pgx.Tx.
type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) GetBalance(ctx context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	return getBalance(ctx, ts.tx, key)
}

func (ts *txStore) SaveBalance(ctx context.Context, balance leave.LeaveBalance) error {
	return saveBalance(ctx, ts.tx, balance)
}

func (ts *txStore) ListBalances(ctx context.Context, employeeID leave.EmployeeID) ([]leave.LeaveBalance, error) {
	return listBalances(ctx, ts.tx, employeeID)
}

func (ts *txStore) ListBalancesForYear(ctx context.Context, year int) ([]leave.LeaveBalance, error) {
	return listBalancesForYear(ctx, ts.tx, year)
}

func (ts *txStore) SaveReservation(ctx context.Context, r leave.Reservation) error {
	return saveReservation(ctx, ts.tx, r)
}

func (ts *txStore) GetReservation(ctx context.Context, id leave.ReservationID) (*leave.Reservation, error) {
	return getReservation(ctx, ts.tx, id)
}

func (ts *txStore) ListReservationsByRequest(ctx context.Context, requestID leave.RequestID) ([]leave.Reservation, error) {
	return listReservationsByRequest(ctx, ts.tx, requestID)
}

func (ts *txStore) SaveRequest(ctx context.Context, r leave.LeaveRequest) error {
	return saveRequest(ctx, ts.tx, r)
}

func (ts *txStore) UpdateRequest(ctx context.Context, r leave.LeaveRequest, expectStatus leave.RequestStatus) error {
	return updateRequest(ctx, ts.tx, r, expectStatus)
}

func (ts *txStore) GetRequest(ctx context.Context, id leave.RequestID) (*leave.LeaveRequest, error) {
	return getRequest(ctx, ts.tx, id)
}

func (ts *txStore) ListRequestsByEmployee(ctx context.Context, employeeID leave.EmployeeID, statuses ...leave.RequestStatus) ([]leave.LeaveRequest, error) {
	return listRequestsByEmployee(ctx, ts.tx, employeeID, statuses...)
}

func (ts *txStore) ListRequestsByStatus(ctx context.Context, status leave.RequestStatus) ([]leave.LeaveRequest, error) {
	return listRequestsByStatus(ctx, ts.tx, status)
}

func (ts *txStore) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	return saveLeaveType(ctx, ts.tx, lt)
}

func (ts *txStore) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	return getLeaveType(ctx, ts.tx, id)
}

func (ts *txStore) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	return listLeaveTypes(ctx, ts.tx)
}

func (ts *txStore) SetLeaveTypeActive(ctx context.Context, id leave.LeaveTypeID, active bool) error {
	return setLeaveTypeActive(ctx, ts.tx, id, active)
}

func (ts *txStore) SaveCarryForward(ctx context.Context, rec leave.CarryForwardRecord) error {
	return saveCarryForward(ctx, ts.tx, rec)
}

func (ts *txStore) GetCarryForward(ctx context.Context, employeeID leave.EmployeeID, typeID leave.LeaveTypeID, fromYear, toYear int) (*leave.CarryForwardRecord, error) {
	return getCarryForward(ctx, ts.tx, employeeID, typeID, fromYear, toYear)
}

func (ts *txStore) ListCarryForwards(ctx context.Context, employeeID leave.EmployeeID) ([]leave.CarryForwardRecord, error) {
	return listCarryForwards(ctx, ts.tx, employeeID)
}

func (ts *txStore) SaveEmployee(ctx context.Context, e leave.Employee) error {
	return saveEmployee(ctx, ts.tx, e)
}

func (ts *txStore) GetEmployee(ctx context.Context, id leave.EmployeeID) (*leave.Employee, error) {
	return getEmployee(ctx, ts.tx, id)
}

func (ts *txStore) ListEmployees(ctx context.Context) ([]leave.Employee, error) {
	return listEmployees(ctx, ts.tx)
}

func (ts *txStore) AppendAudit(ctx context.Context, entry leave.AuditEntry) error {
	return appendAudit(ctx, ts.tx, entry)
}

func (ts *txStore) QueryAudit(ctx context.Context, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	return queryAudit(ctx, ts.tx, filter)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		TRUNCATE balances, reservations, requests, leave_types,
			carry_forward_records, employees, audit_log
		RESTART IDENTITY`)
	return err
}

func reservationIDStrings(ids []leave.ReservationID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func decidedByArg(id *leave.EmployeeID) *string {
	if id == nil {
		return nil
	}
	v := string(*id)
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
