/*
Package leave implements the leave balance ledger and request workflow.

PURPOSE:
  This package contains the accounting core for employee leave: per-year
  balances with provisional holds, the request lifecycle that drives them,
  and the year-end carry-forward of unused days. Everything around it
  (HTTP, storage engines, scheduling) plugs in through the interfaces in
  store.go and calendar.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Days: a day quantity backed by decimal (half days are legal)
  - BalanceKey: the (employee, leave type, year) ledger key
  - LeaveBalance: allocated/carriedIn/used/pending quadruple + version
  - Reservation: a provisional hold created by Ledger.Reserve
  - LeaveRequest: the workflow entity (pending/approved/rejected/cancelled)
  - CarryForwardRecord: append-only audit row for a year-to-year transfer

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all day arithmetic, no float drift
  2. Type safety: distinct ID types prevent mixing employees and requests
  3. Versioning: every balance row carries a version; stores reject stale writes
  4. Auditability: reservations and carry-forwards are records, not side notes

USAGE:
  key := leave.BalanceKey{EmployeeID: "emp-123", LeaveTypeID: "casual", Year: 2025}
  bal, _ := ledger.Snapshot(ctx, key)
  fmt.Println(bal.Available)

SEE ALSO:
  - ledger.go: balance mutations (allocate, reserve, commit, release)
  - workflow.go: request state machine
  - carryforward.go: year-end transfers and carried-in expiry
*/
package leave

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// DAYS - Day quantity (decimal-backed, half days are legal)
// =============================================================================

type Days struct {
	Value decimal.Decimal
}

func NewDays(value float64) Days {
	return Days{Value: decimal.NewFromFloat(value)}
}

func DaysFromInt(value int) Days {
	return Days{Value: decimal.NewFromInt(int64(value))}
}

// ParseDays parses a stored decimal string ("2.5"). Used by store implementations.
func ParseDays(s string) (Days, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Days{}, fmt.Errorf("invalid day amount %q: %w", s, err)
	}
	return Days{Value: d}, nil
}

func ZeroDays() Days { return Days{Value: decimal.Zero} }

func (d Days) Add(o Days) Days         { return Days{Value: d.Value.Add(o.Value)} }
func (d Days) Sub(o Days) Days         { return Days{Value: d.Value.Sub(o.Value)} }
func (d Days) Neg() Days               { return Days{Value: d.Value.Neg()} }
func (d Days) IsNegative() bool        { return d.Value.IsNegative() }
func (d Days) IsZero() bool            { return d.Value.IsZero() }
func (d Days) IsPositive() bool        { return d.Value.IsPositive() }
func (d Days) GreaterThan(o Days) bool { return d.Value.GreaterThan(o.Value) }
func (d Days) LessThan(o Days) bool    { return d.Value.LessThan(o.Value) }
func (d Days) Equal(o Days) bool       { return d.Value.Equal(o.Value) }
func (d Days) Float64() float64        { return d.Value.InexactFloat64() }
func (d Days) String() string          { return d.Value.String() }

// Min returns the smaller of two day amounts.
func (d Days) Min(o Days) Days {
	if d.LessThan(o) {
		return d
	}
	return o
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type LeaveTypeID string
type RequestID string
type ReservationID string

// SystemActor marks audit entries written by scheduled jobs rather than a
// person.
const SystemActor EmployeeID = "system"

func NewRequestID() RequestID         { return RequestID(uuid.NewString()) }
func NewReservationID() ReservationID { return ReservationID(uuid.NewString()) }
func NewAuditID() string              { return uuid.NewString() }

// BalanceKey identifies one ledger row. All balance mutations are keyed and
// serialized by it; balances for different keys never contend.
type BalanceKey struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.EmployeeID, k.LeaveTypeID, k.Year)
}

// =============================================================================
// LEAVE TYPE - Catalog entry (sick, casual, earned, ...)
// =============================================================================

// CarryForwardPolicy bounds the year-to-year transfer of unused days.
// A nil policy on the LeaveType means nothing carries forward.
type CarryForwardPolicy struct {
	// MaxDays caps the transfer: carried = min(available, MaxDays).
	MaxDays Days

	// ExpiryMonths is how many months into the new year carried-in days
	// survive. Zero means they never expire.
	ExpiryMonths int
}

// LeaveType is immutable once a balance references it; administration may
// only deactivate it, never delete or reshape it.
type LeaveType struct {
	ID                LeaveTypeID
	Name              string
	Active            bool
	DefaultAnnualDays Days
	CarryForward      *CarryForwardPolicy
	CreatedAt         time.Time
}

// =============================================================================
// LEAVE BALANCE - The ledger row
// =============================================================================

// LeaveBalance holds the quadruple for one (employee, type, year).
//
// Invariant after every mutation:
//
//	Available() >= 0, Used >= 0, Pending >= 0
//
// Version increments on every successful write; stores reject writes whose
// version does not follow the stored one.
type LeaveBalance struct {
	Key       BalanceKey
	Allocated Days
	CarriedIn Days
	Used      Days
	Pending   Days
	Version   int64
	UpdatedAt time.Time
}

// NewBalance returns the zero-valued row for a key. Rows are created lazily
// on the first allocation or reservation touching the key.
func NewBalance(key BalanceKey) LeaveBalance {
	return LeaveBalance{
		Key:       key,
		Allocated: ZeroDays(),
		CarriedIn: ZeroDays(),
		Used:      ZeroDays(),
		Pending:   ZeroDays(),
	}
}

// Available is the derived amount an employee may still request.
func (b LeaveBalance) Available() Days {
	return b.Allocated.Add(b.CarriedIn).Sub(b.Used).Sub(b.Pending)
}

// Validate checks the balance invariant. A violation here means a ledger
// bug, not caller input: mutations must refuse to produce such a row.
func (b LeaveBalance) Validate() error {
	if b.Available().IsNegative() {
		return fmt.Errorf("balance %s: available is negative (%s)", b.Key, b.Available())
	}
	if b.Used.IsNegative() {
		return fmt.Errorf("balance %s: used is negative (%s)", b.Key, b.Used)
	}
	if b.Pending.IsNegative() {
		return fmt.Errorf("balance %s: pending is negative (%s)", b.Key, b.Pending)
	}
	return nil
}

// Snapshot freezes the row for read-side consumers.
func (b LeaveBalance) Snapshot() BalanceSnapshot {
	return BalanceSnapshot{
		Key:       b.Key,
		Allocated: b.Allocated,
		CarriedIn: b.CarriedIn,
		Used:      b.Used,
		Pending:   b.Pending,
		Available: b.Available(),
		Version:   b.Version,
	}
}

// BalanceSnapshot is a read-only copy of a balance row plus the derived
// available amount. Projections hand these out; they never alias live state.
type BalanceSnapshot struct {
	Key       BalanceKey
	Allocated Days
	CarriedIn Days
	Used      Days
	Pending   Days
	Available Days
	Version   int64
}

// =============================================================================
// RESERVATION - Provisional hold on a balance
// =============================================================================

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"      // pending days are blocked
	ReservationCommitted ReservationStatus = "committed" // moved to used
	ReservationReleased  ReservationStatus = "released"  // hold dropped
)

// Reservation is the handle returned by Ledger.Reserve. Commit and Release
// resolve it exactly once; repeating the same resolution is a no-op, which
// is what makes workflow transitions safely retryable.
type Reservation struct {
	ID         ReservationID
	Key        BalanceKey
	RequestID  RequestID
	Days       Days
	Status     ReservationStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// =============================================================================
// LEAVE REQUEST - Workflow entity
// =============================================================================

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

// LeaveRequest is owned by the employee who submitted it and mutated only
// by the workflow. Rejected and cancelled are terminal; approved permits one
// further transition to cancelled while StartDate is still in the future.
type LeaveRequest struct {
	ID            RequestID
	EmployeeID    EmployeeID
	LeaveTypeID   LeaveTypeID
	StartDate     Date
	EndDate       Date
	RequestedDays Days
	Status        RequestStatus
	Comments      string

	// One reservation per calendar year the date range touches.
	ReservationIDs []ReservationID

	DecidedBy        *EmployeeID
	DecidedAt        *time.Time
	DecisionComments string
	CreatedAt        time.Time
}

// Overlaps reports whether the request's date range intersects [start, end].
// Both ranges are closed intervals of calendar days.
func (r LeaveRequest) Overlaps(start, end Date) bool {
	return !r.StartDate.After(end) && !start.After(r.EndDate)
}

// Years returns the calendar years the request spans, in order.
func (r LeaveRequest) Years() []int {
	years := []int{r.StartDate.Year()}
	if r.EndDate.Year() != r.StartDate.Year() {
		years = append(years, r.EndDate.Year())
	}
	return years
}

// =============================================================================
// CARRY-FORWARD RECORD - Append-only year transfer audit
// =============================================================================

// CarryForwardRecord marks a (employee, type, fromYear, toYear) tuple as
// processed. Its existence is the idempotency check for repeat batch runs.
type CarryForwardRecord struct {
	EmployeeID      EmployeeID
	LeaveTypeID     LeaveTypeID
	FromYear        int
	ToYear          int
	DaysTransferred Days
	CreatedAt       time.Time
}

// =============================================================================
// EMPLOYEE - Directory entry for batch runs and display
// =============================================================================

// Employee is the minimal directory row this subsystem needs: enough to
// enumerate people for batch jobs. Identity and permissions stay with the
// caller.
type Employee struct {
	ID       EmployeeID
	Name     string
	Email    string
	JoinedAt time.Time
}
