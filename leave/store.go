/*
store.go - Persistence interfaces for the leave core

PURPOSE:
  Defines the boundary between the domain logic and the database. The
  interfaces are grouped per record kind; Store is the composite every
  backend implements. Implementations exist for memory (leave/store),
  SQLite (store/sqlite), and PostgreSQL (store/postgres).

VERSION GUARD CONTRACT:
  SaveBalance is the serialization point for the whole ledger. The caller
  writes a row whose Version it has already incremented; the store persists
  it only if the stored row's version is exactly Version-1 (or the row is
  absent and Version is 1). Anything else is a ConcurrentModificationError.
  Ledger mutations never bypass this, so two writers working from the same
  read cannot both win.

GUARDED REQUEST UPDATES:
  UpdateRequest takes the status the caller last observed and applies the
  write only if the row still has it, returning ErrConcurrentModification
  otherwise. The workflow re-reads and reports the real transition error.

APPEND-ONLY RECORDS:
  Carry-forward records and audit entries are append-only: no update or
  delete methods exist for them, and SaveCarryForward refuses duplicates
  with ErrDuplicateCarryForward.

SEE ALSO:
  - ledger.go: drives SaveBalance and reservation writes
  - store/memory.go: reference implementation
  - store/sqlite, store/postgres: durable implementations
*/
package leave

import (
	"context"
	"time"
)

// =============================================================================
// PER-RECORD INTERFACES
// =============================================================================

// BalanceStore persists ledger rows with the version guard described above.
type BalanceStore interface {
	// GetBalance returns the row for key, or (nil, nil) if it was never written.
	GetBalance(ctx context.Context, key BalanceKey) (*LeaveBalance, error)

	// SaveBalance writes a row under the version guard contract.
	SaveBalance(ctx context.Context, balance LeaveBalance) error

	// ListBalances returns all rows for an employee, ordered by year then type.
	ListBalances(ctx context.Context, employeeID EmployeeID) ([]LeaveBalance, error)

	// ListBalancesForYear returns every employee's rows for one year.
	ListBalancesForYear(ctx context.Context, year int) ([]LeaveBalance, error)
}

// ReservationStore persists reservation handles.
type ReservationStore interface {
	// SaveReservation inserts or updates a reservation by ID.
	SaveReservation(ctx context.Context, r Reservation) error

	// GetReservation returns the reservation, or (nil, nil) if unknown.
	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)

	// ListReservationsByRequest returns a request's reservations in creation order.
	ListReservationsByRequest(ctx context.Context, requestID RequestID) ([]Reservation, error)
}

// RequestStore persists workflow entities.
type RequestStore interface {
	// SaveRequest inserts a new request.
	SaveRequest(ctx context.Context, r LeaveRequest) error

	// UpdateRequest writes r only while the stored status equals expectStatus.
	// Returns ErrUnknownRequest if missing, ErrConcurrentModification on a
	// guard miss.
	UpdateRequest(ctx context.Context, r LeaveRequest, expectStatus RequestStatus) error

	// GetRequest returns the request, or (nil, nil) if unknown.
	GetRequest(ctx context.Context, id RequestID) (*LeaveRequest, error)

	// ListRequestsByEmployee returns an employee's requests, newest first.
	// With statuses given, only those statuses are returned.
	ListRequestsByEmployee(ctx context.Context, employeeID EmployeeID, statuses ...RequestStatus) ([]LeaveRequest, error)

	// ListRequestsByStatus returns all requests in one status, oldest first
	// (approval queues want FIFO).
	ListRequestsByStatus(ctx context.Context, status RequestStatus) ([]LeaveRequest, error)
}

// LeaveTypeStore persists the leave type catalog.
type LeaveTypeStore interface {
	// SaveLeaveType inserts a type; ErrDuplicateLeaveType if the id is taken.
	SaveLeaveType(ctx context.Context, lt LeaveType) error

	// GetLeaveType returns the type, or (nil, nil) if unknown.
	GetLeaveType(ctx context.Context, id LeaveTypeID) (*LeaveType, error)

	// ListLeaveTypes returns the whole catalog, active and inactive.
	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)

	// SetLeaveTypeActive flips the active flag. Types are never deleted.
	SetLeaveTypeActive(ctx context.Context, id LeaveTypeID, active bool) error
}

// CarryForwardStore persists the append-only transfer records.
type CarryForwardStore interface {
	// SaveCarryForward appends a record; ErrDuplicateCarryForward if the
	// (employee, type, fromYear, toYear) tuple was already processed.
	SaveCarryForward(ctx context.Context, rec CarryForwardRecord) error

	// GetCarryForward returns the record for a tuple, or (nil, nil).
	GetCarryForward(ctx context.Context, employeeID EmployeeID, typeID LeaveTypeID, fromYear, toYear int) (*CarryForwardRecord, error)

	// ListCarryForwards returns an employee's records, newest first.
	ListCarryForwards(ctx context.Context, employeeID EmployeeID) ([]CarryForwardRecord, error)
}

// EmployeeStore persists the employee directory.
type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// =============================================================================
// STORE - Composite interface implemented by each backend
// =============================================================================

type Store interface {
	BalanceStore
	ReservationStore
	RequestStore
	LeaveTypeStore
	CarryForwardStore
	EmployeeStore
	AuditLog
}

// TxStore wraps Store with transaction support. The ledger uses it to keep
// a balance write and its reservation write atomic.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Who did what, when (append-only)
// =============================================================================

// AuditEntry records one workflow or ledger action. Compensations write an
// entry even when the triggering operation fails, so partial applications
// are reconstructible.
type AuditEntry struct {
	ID        string
	At        time.Time
	ActorID   EmployeeID
	Action    AuditAction
	RequestID RequestID   // zero when not request-scoped
	Key       *BalanceKey // nil when not balance-scoped
	Detail    string
}

type AuditAction string

const (
	AuditRequestSubmitted AuditAction = "request_submitted"
	AuditRequestApproved  AuditAction = "request_approved"
	AuditRequestRejected  AuditAction = "request_rejected"
	AuditRequestCancelled AuditAction = "request_cancelled"
	AuditCompensation     AuditAction = "compensation"
	AuditAllocation       AuditAction = "allocation"
	AuditAnnualGrant      AuditAction = "annual_grant"
	AuditCarryForward     AuditAction = "carry_forward"
	AuditCarryExpiry      AuditAction = "carry_expiry"
)

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	EmployeeID *EmployeeID
	RequestID  *RequestID
	Actions    []AuditAction
	From       *time.Time
	To         *time.Time
}

// Matches reports whether an entry passes the filter. Store implementations
// without query pushdown use it directly.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.EmployeeID != nil && e.ActorID != *f.EmployeeID {
		return false
	}
	if f.RequestID != nil && e.RequestID != *f.RequestID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if e.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.At.Before(*f.From) {
		return false
	}
	if f.To != nil && e.At.After(*f.To) {
		return false
	}
	return true
}
