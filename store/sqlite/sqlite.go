/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements leave.Store and leave.TxStore on SQLite. The same patterns apply
  to PostgreSQL (store/postgres) with only dialect differences.

KEY TABLES:
  balances:              One row per (employee, type, year), version-guarded
  reservations:          Provisional holds, resolved in place
  requests:              Workflow entities, status-guarded updates
  leave_types:           The catalog (never deleted, only deactivated)
  carry_forward_records: Append-only year transfers, unique per tuple
  employees:             Directory for batch jobs
  audit_log:             Append-only action trail

VERSION GUARD:
  SaveBalance inserts version 1 rows and otherwise updates with
  "WHERE version = ?-1". Zero rows affected means another writer got there
  first; the caller sees ConcurrentModificationError with both versions.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery
  ":memory:" databases are pinned to one connection, because every new
  pooled connection would otherwise see its own empty database.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := leave.NewLedger(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - leave/store.go: Interface definitions and contracts
  - leave/store/memory.go: In-memory implementation for testing
  - store/postgres: The PostgreSQL twin
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/leave-ledger/leave"
)

// Store implements leave.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Balances (one row per employee, type, year; version-guarded)
	CREATE TABLE IF NOT EXISTS balances (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		allocated TEXT NOT NULL,
		carried_in TEXT NOT NULL,
		used TEXT NOT NULL,
		pending TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, year)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_year
		ON balances(year);

	-- Reservations (holds against a balance; resolved in place)
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		request_id TEXT NOT NULL,
		days TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		resolved_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_request
		ON reservations(request_id);

	-- Leave Requests (workflow entities)
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		requested_days TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		comments TEXT,
		reservation_ids TEXT NOT NULL,
		decided_by TEXT,
		decided_at TEXT,
		decision_comments TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON requests(employee_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON requests(status);

	-- Leave Types (catalog; deactivated, never deleted)
	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		default_annual_days TEXT NOT NULL,
		carry_max_days TEXT,
		carry_expiry_months INTEGER,
		created_at TEXT NOT NULL
	);

	-- Carry-Forward Records (append-only; the tuple is the idempotency lock)
	CREATE TABLE IF NOT EXISTS carry_forward_records (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		from_year INTEGER NOT NULL,
		to_year INTEGER NOT NULL,
		days_transferred TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, from_year, to_year)
	);

	-- Employees (directory for batch jobs)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		joined_at TEXT NOT NULL
	);

	-- Audit Log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		request_id TEXT,
		key_employee_id TEXT,
		key_leave_type_id TEXT,
		key_year INTEGER,
		detail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_actor
		ON audit_log(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_request
		ON audit_log(request_id) WHERE request_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx, so every operation has
// one implementation shared by the plain store and the transactional view.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// BALANCES
// =============================================================================

func (s *Store) GetBalance(ctx context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(ctx, s.db, key)
}

func getBalance(ctx context.Context, q querier, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	row := q.QueryRowContext(ctx, `
		SELECT employee_id, leave_type_id, year, allocated, carried_in, used, pending, version, updated_at
		FROM balances
		WHERE employee_id = ? AND leave_type_id = ? AND year = ?`,
		key.EmployeeID, key.LeaveTypeID, key.Year)

	b, err := scanBalance(row)
	if err == sql.ErrNoRows {
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
		updatedAt                         string
	)
	err := sc.Scan(&b.Key.EmployeeID, &b.Key.LeaveTypeID, &b.Key.Year,
		&allocated, &carried, &used, &pending, &b.Version, &updatedAt)
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
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return b, nil
}

func (s *Store) SaveBalance(ctx context.Context, balance leave.LeaveBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBalance(ctx, s.db, balance)
}

// saveBalance enforces the version guard. Version 1 inserts; anything later
// updates only the row still at version-1.
func saveBalance(ctx context.Context, q querier, b leave.LeaveBalance) error {
	updatedAt := b.UpdatedAt.UTC().Format(time.RFC3339)

	if b.Version == 1 {
		_, err := q.ExecContext(ctx, `
			INSERT INTO balances (employee_id, leave_type_id, year, allocated, carried_in, used, pending, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.Key.EmployeeID, b.Key.LeaveTypeID, b.Key.Year,
			b.Allocated.String(), b.CarriedIn.String(), b.Used.String(), b.Pending.String(),
			b.Version, updatedAt)
		if err != nil {
			if isUniqueConstraintError(err) {
				return versionConflict(ctx, q, b)
			}
			return fmt.Errorf("failed to insert balance: %w", err)
		}
		return nil
	}

	res, err := q.ExecContext(ctx, `
		UPDATE balances
		SET allocated = ?, carried_in = ?, used = ?, pending = ?, version = ?, updated_at = ?
		WHERE employee_id = ? AND leave_type_id = ? AND year = ? AND version = ?`,
		b.Allocated.String(), b.CarriedIn.String(), b.Used.String(), b.Pending.String(),
		b.Version, updatedAt,
		b.Key.EmployeeID, b.Key.LeaveTypeID, b.Key.Year, b.Version-1)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return versionConflict(ctx, q, b)
	}
	return nil
}

func versionConflict(ctx context.Context, q querier, b leave.LeaveBalance) error {
	var actual int64
	err := q.QueryRowContext(ctx,
		"SELECT version FROM balances WHERE employee_id = ? AND leave_type_id = ? AND year = ?",
		b.Key.EmployeeID, b.Key.LeaveTypeID, b.Key.Year,
	).Scan(&actual)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	return &leave.ConcurrentModificationError{
		Key:             b.Key,
		ExpectedVersion: b.Version - 1,
		ActualVersion:   actual,
	}
}

func (s *Store) ListBalances(ctx context.Context, employeeID leave.EmployeeID) ([]leave.LeaveBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBalances(ctx, s.db, `
		SELECT employee_id, leave_type_id, year, allocated, carried_in, used, pending, version, updated_at
		FROM balances
		WHERE employee_id = ?
		ORDER BY year ASC, leave_type_id ASC`, employeeID)
}

func (s *Store) ListBalancesForYear(ctx context.Context, year int) ([]leave.LeaveBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBalances(ctx, s.db, `
		SELECT employee_id, leave_type_id, year, allocated, carried_in, used, pending, version, updated_at
		FROM balances
		WHERE year = ?
		ORDER BY employee_id ASC, leave_type_id ASC`, year)
}

func queryBalances(ctx context.Context, q querier, query string, args ...any) ([]leave.LeaveBalance, error) {
	rows, err := q.QueryContext(ctx, query, args...)
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

func (s *Store) SaveReservation(ctx context.Context, r leave.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveReservation(ctx, s.db, r)
}

func saveReservation(ctx context.Context, q querier, r leave.Reservation) error {
	var resolvedAt *string
	if r.ResolvedAt != nil {
		t := r.ResolvedAt.UTC().Format(time.RFC3339)
		resolvedAt = &t
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO reservations (id, employee_id, leave_type_id, year, request_id, days, status, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resolved_at = excluded.resolved_at`,
		r.ID, r.Key.EmployeeID, r.Key.LeaveTypeID, r.Key.Year,
		r.RequestID, r.Days.String(), r.Status,
		r.CreatedAt.UTC().Format(time.RFC3339), resolvedAt)
	if err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id leave.ReservationID) (*leave.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getReservation(ctx, s.db, id)
}

func getReservation(ctx context.Context, q querier, id leave.ReservationID) (*leave.Reservation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, employee_id, leave_type_id, year, request_id, days, status, created_at, resolved_at
		FROM reservations WHERE id = ?`, id)

	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanReservation(sc scanner) (leave.Reservation, error) {
	var (
		r          leave.Reservation
		days       string
		createdAt  string
		resolvedAt sql.NullString
	)
	err := sc.Scan(&r.ID, &r.Key.EmployeeID, &r.Key.LeaveTypeID, &r.Key.Year,
		&r.RequestID, &days, &r.Status, &createdAt, &resolvedAt)
	if err != nil {
		return r, err
	}

	if r.Days, err = leave.ParseDays(days); err != nil {
		return r, fmt.Errorf("reservation %s: %w", r.ID, err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if resolvedAt.Valid {
		t, _ := time.Parse(time.RFC3339, resolvedAt.String)
		r.ResolvedAt = &t
	}
	return r, nil
}

func (s *Store) ListReservationsByRequest(ctx context.Context, requestID leave.RequestID) ([]leave.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listReservationsByRequest(ctx, s.db, requestID)
}

func listReservationsByRequest(ctx context.Context, q querier, requestID leave.RequestID) ([]leave.Reservation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, employee_id, leave_type_id, year, request_id, days, status, created_at, resolved_at
		FROM reservations
		WHERE request_id = ?
		ORDER BY created_at ASC, rowid ASC`, requestID)
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
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveRequest(ctx, s.db, r)
}

func saveRequest(ctx context.Context, q querier, r leave.LeaveRequest) error {
	reservationIDs, err := json.Marshal(r.ReservationIDs)
	if err != nil {
		return fmt.Errorf("failed to encode reservation ids: %w", err)
	}

	var decidedBy *string
	if r.DecidedBy != nil {
		v := string(*r.DecidedBy)
		decidedBy = &v
	}
	var decidedAt *string
	if r.DecidedAt != nil {
		v := r.DecidedAt.UTC().Format(time.RFC3339)
		decidedAt = &v
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EmployeeID, r.LeaveTypeID,
		r.StartDate.String(), r.EndDate.String(), r.RequestedDays.String(),
		r.Status, r.Comments, string(reservationIDs),
		decidedBy, decidedAt, r.DecisionComments,
		r.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("request %s already exists", r.ID)
		}
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

func (s *Store) UpdateRequest(ctx context.Context, r leave.LeaveRequest, expectStatus leave.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRequest(ctx, s.db, r, expectStatus)
}

// updateRequest writes only while the stored status matches what the caller
// last observed.
func updateRequest(ctx context.Context, q querier, r leave.LeaveRequest, expectStatus leave.RequestStatus) error {
	var decidedBy *string
	if r.DecidedBy != nil {
		v := string(*r.DecidedBy)
		decidedBy = &v
	}
	var decidedAt *string
	if r.DecidedAt != nil {
		v := r.DecidedAt.UTC().Format(time.RFC3339)
		decidedAt = &v
	}

	res, err := q.ExecContext(ctx, `
		UPDATE requests
		SET status = ?, decided_by = ?, decided_at = ?, decision_comments = ?
		WHERE id = ? AND status = ?`,
		r.Status, decidedBy, decidedAt, r.DecisionComments,
		r.ID, expectStatus)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		err := q.QueryRowContext(ctx, "SELECT status FROM requests WHERE id = ?", r.ID).Scan(&current)
		if err == sql.ErrNoRows {
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
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

func getRequest(ctx context.Context, q querier, id leave.RequestID) (*leave.LeaveRequest, error) {
	row := q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)

	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
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
		startDate, endDate string
		requestedDays      string
		comments           sql.NullString
		reservationIDs     string
		decidedBy          sql.NullString
		decidedAt          sql.NullString
		decisionComments   sql.NullString
		createdAt          string
	)
	err := sc.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &startDate, &endDate,
		&requestedDays, &r.Status, &comments, &reservationIDs,
		&decidedBy, &decidedAt, &decisionComments, &createdAt)
	if err != nil {
		return r, err
	}

	if r.StartDate, err = leave.ParseDate(startDate); err != nil {
		return r, fmt.Errorf("request %s: %w", r.ID, err)
	}
	if r.EndDate, err = leave.ParseDate(endDate); err != nil {
		return r, fmt.Errorf("request %s: %w", r.ID, err)
	}
	if r.RequestedDays, err = leave.ParseDays(requestedDays); err != nil {
		return r, fmt.Errorf("request %s: %w", r.ID, err)
	}
	r.Comments = comments.String
	if err := json.Unmarshal([]byte(reservationIDs), &r.ReservationIDs); err != nil {
		return r, fmt.Errorf("request %s: bad reservation ids: %w", r.ID, err)
	}
	if decidedBy.Valid {
		v := leave.EmployeeID(decidedBy.String)
		r.DecidedBy = &v
	}
	if decidedAt.Valid {
		t, _ := time.Parse(time.RFC3339, decidedAt.String)
		r.DecidedAt = &t
	}
	r.DecisionComments = decisionComments.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return r, nil
}

func (s *Store) ListRequestsByEmployee(ctx context.Context, employeeID leave.EmployeeID, statuses ...leave.RequestStatus) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequestsByEmployee(ctx, s.db, employeeID, statuses...)
}

func listRequestsByEmployee(ctx context.Context, q querier, employeeID leave.EmployeeID, statuses ...leave.RequestStatus) ([]leave.LeaveRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE employee_id = ?`
	args := []any{employeeID}
	if len(statuses) > 0 {
		query += " AND status IN (?" + strings.Repeat(", ?", len(statuses)-1) + ")"
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	return queryRequests(ctx, q, query, args...)
}

func (s *Store) ListRequestsByStatus(ctx context.Context, status leave.RequestStatus) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequestsByStatus(ctx, s.db, status)
}

func listRequestsByStatus(ctx context.Context, q querier, status leave.RequestStatus) ([]leave.LeaveRequest, error) {
	return queryRequests(ctx, q, `
		SELECT `+requestColumns+` FROM requests
		WHERE status = ?
		ORDER BY created_at ASC, rowid ASC`, status)
}

func queryRequests(ctx context.Context, q querier, query string, args ...any) ([]leave.LeaveRequest, error) {
	rows, err := q.QueryContext(ctx, query, args...)
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
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveLeaveType(ctx, s.db, lt)
}

func saveLeaveType(ctx context.Context, q querier, lt leave.LeaveType) error {
	var carryMax *string
	var carryExpiry *int
	if lt.CarryForward != nil {
		v := lt.CarryForward.MaxDays.String()
		carryMax = &v
		carryExpiry = &lt.CarryForward.ExpiryMonths
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO leave_types (id, name, active, default_annual_days, carry_max_days, carry_expiry_months, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lt.ID, lt.Name, lt.Active, lt.DefaultAnnualDays.String(),
		carryMax, carryExpiry, lt.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", leave.ErrDuplicateLeaveType, lt.ID)
		}
		return fmt.Errorf("failed to save leave type: %w", err)
	}
	return nil
}

func (s *Store) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLeaveType(ctx, s.db, id)
}

func getLeaveType(ctx context.Context, q querier, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, active, default_annual_days, carry_max_days, carry_expiry_months, created_at
		FROM leave_types WHERE id = ?`, id)

	lt, err := scanLeaveType(row)
	if err == sql.ErrNoRows {
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
		carryMax    sql.NullString
		carryExpiry sql.NullInt64
		createdAt   string
	)
	err := sc.Scan(&lt.ID, &lt.Name, &lt.Active, &annualDays, &carryMax, &carryExpiry, &createdAt)
	if err != nil {
		return lt, err
	}

	if lt.DefaultAnnualDays, err = leave.ParseDays(annualDays); err != nil {
		return lt, fmt.Errorf("leave type %s: %w", lt.ID, err)
	}
	if carryMax.Valid {
		maxDays, err := leave.ParseDays(carryMax.String)
		if err != nil {
			return lt, fmt.Errorf("leave type %s: %w", lt.ID, err)
		}
		lt.CarryForward = &leave.CarryForwardPolicy{
			MaxDays:      maxDays,
			ExpiryMonths: int(carryExpiry.Int64),
		}
	}
	lt.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return lt, nil
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLeaveTypes(ctx, s.db)
}

func listLeaveTypes(ctx context.Context, q querier) ([]leave.LeaveType, error) {
	rows, err := q.QueryContext(ctx, `
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
	s.mu.Lock()
	defer s.mu.Unlock()
	return setLeaveTypeActive(ctx, s.db, id, active)
}

func setLeaveTypeActive(ctx context.Context, q querier, id leave.LeaveTypeID, active bool) error {
	res, err := q.ExecContext(ctx, "UPDATE leave_types SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("failed to update leave type: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", leave.ErrLeaveTypeNotFound, id)
	}
	return nil
}

// =============================================================================
// CARRY-FORWARD RECORDS
// =============================================================================

func (s *Store) SaveCarryForward(ctx context.Context, rec leave.CarryForwardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCarryForward(ctx, s.db, rec)
}

func saveCarryForward(ctx context.Context, q querier, rec leave.CarryForwardRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO carry_forward_records (employee_id, leave_type_id, from_year, to_year, days_transferred, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.EmployeeID, rec.LeaveTypeID, rec.FromYear, rec.ToYear,
		rec.DaysTransferred.String(), rec.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s/%s %d->%d",
				leave.ErrDuplicateCarryForward, rec.EmployeeID, rec.LeaveTypeID, rec.FromYear, rec.ToYear)
		}
		return fmt.Errorf("failed to save carry-forward record: %w", err)
	}
	return nil
}

func (s *Store) GetCarryForward(ctx context.Context, employeeID leave.EmployeeID, typeID leave.LeaveTypeID, fromYear, toYear int) (*leave.CarryForwardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCarryForward(ctx, s.db, employeeID, typeID, fromYear, toYear)
}

func getCarryForward(ctx context.Context, q querier, employeeID leave.EmployeeID, typeID leave.LeaveTypeID, fromYear, toYear int) (*leave.CarryForwardRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT employee_id, leave_type_id, from_year, to_year, days_transferred, created_at
		FROM carry_forward_records
		WHERE employee_id = ? AND leave_type_id = ? AND from_year = ? AND to_year = ?`,
		employeeID, typeID, fromYear, toYear)

	rec, err := scanCarryForward(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanCarryForward(sc scanner) (leave.CarryForwardRecord, error) {
	var (
		rec       leave.CarryForwardRecord
		days      string
		createdAt string
	)
	err := sc.Scan(&rec.EmployeeID, &rec.LeaveTypeID, &rec.FromYear, &rec.ToYear, &days, &createdAt)
	if err != nil {
		return rec, err
	}

	if rec.DaysTransferred, err = leave.ParseDays(days); err != nil {
		return rec, fmt.Errorf("carry-forward %s/%s: %w", rec.EmployeeID, rec.LeaveTypeID, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return rec, nil
}

func (s *Store) ListCarryForwards(ctx context.Context, employeeID leave.EmployeeID) ([]leave.CarryForwardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCarryForwards(ctx, s.db, employeeID)
}

func listCarryForwards(ctx context.Context, q querier, employeeID leave.EmployeeID) ([]leave.CarryForwardRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT employee_id, leave_type_id, from_year, to_year, days_transferred, created_at
		FROM carry_forward_records
		WHERE employee_id = ?
		ORDER BY created_at DESC, rowid DESC`, employeeID)
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
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveEmployee(ctx, s.db, e)
}

func saveEmployee(ctx context.Context, q querier, e leave.Employee) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			joined_at = excluded.joined_at`,
		e.ID, e.Name, e.Email, e.JoinedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id leave.EmployeeID) (*leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEmployee(ctx, s.db, id)
}

func getEmployee(ctx context.Context, q querier, id leave.EmployeeID) (*leave.Employee, error) {
	var (
		e        leave.Employee
		email    sql.NullString
		joinedAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, name, email, joined_at FROM employees WHERE id = ?", id,
	).Scan(&e.ID, &e.Name, &email, &joinedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.Email = email.String
	e.JoinedAt, _ = time.Parse(time.RFC3339, joinedAt)
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEmployees(ctx, s.db)
}

func listEmployees(ctx context.Context, q querier) ([]leave.Employee, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, name, email, joined_at FROM employees ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []leave.Employee
	for rows.Next() {
		var (
			e        leave.Employee
			email    sql.NullString
			joinedAt string
		)
		if err := rows.Scan(&e.ID, &e.Name, &email, &joinedAt); err != nil {
			return nil, err
		}
		e.Email = email.String
		e.JoinedAt, _ = time.Parse(time.RFC3339, joinedAt)
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry leave.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, entry)
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

	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, action, request_id, key_employee_id, key_leave_type_id, key_year, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.At.UTC().Format(time.RFC3339), entry.ActorID, entry.Action,
		nullString(string(entry.RequestID)), keyEmployee, keyType, keyYear, entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAudit(ctx, s.db, filter)
}

func queryAudit(ctx context.Context, q querier, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	query := `
		SELECT id, at, actor_id, action, request_id, key_employee_id, key_leave_type_id, key_year, detail
		FROM audit_log WHERE 1=1`
	var args []any

	if filter.EmployeeID != nil {
		query += " AND actor_id = ?"
		args = append(args, *filter.EmployeeID)
	}
	if filter.RequestID != nil {
		query += " AND request_id = ?"
		args = append(args, *filter.RequestID)
	}
	if len(filter.Actions) > 0 {
		query += " AND action IN (?" + strings.Repeat(", ?", len(filter.Actions)-1) + ")"
		for _, a := range filter.Actions {
			args = append(args, a)
		}
	}
	if filter.From != nil {
		query += " AND at >= ?"
		args = append(args, filter.From.UTC().Format(time.RFC3339))
	}
	if filter.To != nil {
		query += " AND at <= ?"
		args = append(args, filter.To.UTC().Format(time.RFC3339))
	}
	query += " ORDER BY at DESC, rowid DESC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []leave.AuditEntry
	for rows.Next() {
		var (
			entry       leave.AuditEntry
			at          string
			requestID   sql.NullString
			keyEmployee sql.NullString
			keyType     sql.NullString
			keyYear     sql.NullInt64
			detail      sql.NullString
		)
		if err := rows.Scan(&entry.ID, &at, &entry.ActorID, &entry.Action,
			&requestID, &keyEmployee, &keyType, &keyYear, &detail); err != nil {
			return nil, err
		}
		entry.At, _ = time.Parse(time.RFC3339, at)
		entry.RequestID = leave.RequestID(requestID.String)
		if keyEmployee.Valid {
			entry.Key = &leave.BalanceKey{
				EmployeeID:  leave.EmployeeID(keyEmployee.String),
				LeaveTypeID: leave.LeaveTypeID(keyType.String),
				Year:        int(keyYear.Int64),
			}
		}
		entry.Detail = detail.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (leave.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The write lock
// is held for the duration, so the view handed to fn does no locking of
// its own.
func (s *Store) WithTx(ctx context.Context, fn func(store leave.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore runs every operation against the open *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetBalance(ctx context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	return getBalance(ctx, ts.tx, key)
}

func (ts *txStore) SaveBalance(ctx context.Context, balance leave.LeaveBalance) error {
	return saveBalance(ctx, ts.tx, balance)
}

func (ts *txStore) ListBalances(ctx context.Context, employeeID leave.EmployeeID) ([]leave.LeaveBalance, error) {
	return queryBalances(ctx, ts.tx, `
		SELECT employee_id, leave_type_id, year, allocated, carried_in, used, pending, version, updated_at
		FROM balances
		WHERE employee_id = ?
		ORDER BY year ASC, leave_type_id ASC`, employeeID)
}

func (ts *txStore) ListBalancesForYear(ctx context.Context, year int) ([]leave.LeaveBalance, error) {
	return queryBalances(ctx, ts.tx, `
		SELECT employee_id, leave_type_id, year, allocated, carried_in, used, pending, version, updated_at
		FROM balances
		WHERE year = ?
		ORDER BY employee_id ASC, leave_type_id ASC`, year)
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
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"balances", "reservations", "requests", "leave_types", "carry_forward_records", "employees", "audit_log"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
