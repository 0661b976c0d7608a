/*
workflow.go - Leave request lifecycle

PURPOSE:
  Drives a leave request through its lifecycle and keeps the balance ledger
  consistent with it at every step:

    submit   -> reserve working days (pending)
    approve  -> commit the reservations (pending -> used)
    reject   -> release the reservations
    cancel   -> release (pending) or revert (approved, not yet started)

VALID TRANSITIONS:
    pending  -> approved | rejected | cancelled
    approved -> cancelled   (only while the start date is in the future)
  Everything else is rejected with an InvalidTransitionError. Rejected and
  cancelled are terminal.

CROSS-YEAR REQUESTS:
  A request spanning a year boundary reserves against each year's balance
  separately. The reservations form a small saga. At submit time a failed
  leg releases the holds already taken and the caller sees the original
  failure. When a decision or cancellation fails halfway, the legs already
  resolved are undone and the caller gets a PartialFailureError, marked
  compensated when every undo landed (retrying the whole transition is then
  safe) and uncompensated when an undo failed and left the years out of
  step. Either way the incident is written to the audit log.

CONCURRENCY:
  One mutation at a time per request, via a per-request lock. Decisions use
  a guarded status update in the store, so two processes racing on the same
  request cannot both win.

SEE ALSO:
  - ledger.go: the balance arithmetic behind each step
  - projection.go: read models over requests and balances
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// WORKFLOW SERVICE
// =============================================================================

type Workflow struct {
	ledger   *Ledger
	store    Store
	registry *Registry
	calendar WorkingDayResolver
	log      *slog.Logger

	mu       sync.Mutex
	reqLocks map[RequestID]*sync.Mutex
}

func NewWorkflow(ledger *Ledger, store Store, registry *Registry, calendar WorkingDayResolver, log *slog.Logger) *Workflow {
	if log == nil {
		log = slog.Default()
	}
	return &Workflow{
		ledger:   ledger,
		store:    store,
		registry: registry,
		calendar: calendar,
		log:      log,
		reqLocks: make(map[RequestID]*sync.Mutex),
	}
}

// lockRequest serializes mutations of a single request within this process.
func (w *Workflow) lockRequest(id RequestID) func() {
	w.mu.Lock()
	l, ok := w.reqLocks[id]
	if !ok {
		l = &sync.Mutex{}
		w.reqLocks[id] = l
	}
	w.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Submit files a new leave request. It validates the period, counts working
// days, checks for overlaps with the employee's other pending or approved
// requests, and reserves days against each calendar year the period touches.
func (w *Workflow) Submit(ctx context.Context, employeeID EmployeeID, typeID LeaveTypeID, start, end Date, comments string) (*LeaveRequest, error) {
	emp, err := w.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("load employee %s: %w", employeeID, err)
	}
	if emp == nil {
		return nil, fmt.Errorf("%w: %s", ErrEmployeeNotFound, employeeID)
	}

	lt, err := w.registry.Get(ctx, typeID)
	if err != nil {
		return nil, err
	}
	if !lt.Active {
		return nil, fmt.Errorf("%w: %s", ErrLeaveTypeInactive, typeID)
	}

	period, err := NewDateRange(start, end)
	if err != nil {
		return nil, err
	}
	parts := period.SplitByYear()
	if len(parts) > 2 {
		return nil, fmt.Errorf("%w: request spans more than two calendar years", ErrInvalidPeriod)
	}

	if err := w.checkOverlap(ctx, employeeID, period, ""); err != nil {
		return nil, err
	}

	// Working days per year part. Parts with no working days (a weekend
	// spilling into January, say) need no reservation.
	type yearPart struct {
		year int
		days Days
	}
	var (
		reserveParts []yearPart
		total        Days
	)
	for _, part := range parts {
		days, err := w.calendar.WorkingDaysBetween(ctx, part.Start, part.End)
		if err != nil {
			return nil, fmt.Errorf("count working days %s: %w", part, err)
		}
		if days.IsNegative() {
			return nil, &InvalidAmountError{Op: "submit", Amount: days, Reason: "working day count cannot be negative"}
		}
		total = total.Add(days)
		if days.IsPositive() {
			reserveParts = append(reserveParts, yearPart{year: part.Start.Year(), days: days})
		}
	}
	if !total.IsPositive() {
		return nil, &InvalidAmountError{Op: "submit", Amount: total, Reason: "period contains no working days"}
	}

	req := &LeaveRequest{
		ID:            NewRequestID(),
		EmployeeID:    employeeID,
		LeaveTypeID:   typeID,
		StartDate:     start,
		EndDate:       end,
		RequestedDays: total,
		Status:        RequestPending,
		Comments:      comments,
		CreatedAt:     time.Now(),
	}

	// Reserve each year leg. On failure, roll back the legs already held.
	var made []ReservationID
	for _, part := range reserveParts {
		key := BalanceKey{EmployeeID: employeeID, LeaveTypeID: typeID, Year: part.year}
		res, err := w.ledger.Reserve(ctx, key, req.ID, part.days)
		if err != nil {
			return nil, w.rollbackReservations(ctx, req.ID, made, key, err)
		}
		made = append(made, res.ID)
	}
	req.ReservationIDs = made

	if err := w.store.SaveRequest(ctx, *req); err != nil {
		return nil, w.rollbackReservations(ctx, req.ID, made, BalanceKey{}, fmt.Errorf("save request: %w", err))
	}

	w.audit(ctx, AuditEntry{
		ActorID:   employeeID,
		Action:    AuditRequestSubmitted,
		RequestID: req.ID,
		Detail:    fmt.Sprintf("%s %s, %s to %s, %s days", typeID, employeeID, start, end, total),
	})
	w.log.InfoContext(ctx, "leave request submitted",
		slog.String("request_id", string(req.ID)),
		slog.String("employee_id", string(employeeID)),
		slog.String("leave_type", string(typeID)),
		slog.String("days", total.String()))
	return req, nil
}

// checkOverlap rejects periods that share any day with another pending or
// approved request of the same employee. Both interval ends are inclusive.
// excludeID skips the request being mutated, for re-checks.
func (w *Workflow) checkOverlap(ctx context.Context, employeeID EmployeeID, period DateRange, excludeID RequestID) error {
	existing, err := w.store.ListRequestsByEmployee(ctx, employeeID, RequestPending, RequestApproved)
	if err != nil {
		return fmt.Errorf("list requests for %s: %w", employeeID, err)
	}
	for _, other := range existing {
		if other.ID == excludeID {
			continue
		}
		if other.Overlaps(period.Start, period.End) {
			return &OverlapError{
				EmployeeID:    employeeID,
				Requested:     period,
				ConflictingID: other.ID,
				Conflicting:   DateRange{Start: other.StartDate, End: other.EndDate},
			}
		}
	}
	return nil
}

// rollbackReservations releases the reservations made so far and returns the
// original failure. If a release fails too, the ledger and the request store
// no longer agree and the caller gets a PartialFailureError instead.
func (w *Workflow) rollbackReservations(ctx context.Context, requestID RequestID, made []ReservationID, failedKey BalanceKey, cause error) error {
	for i := len(made) - 1; i >= 0; i-- {
		if rbErr := w.ledger.Release(ctx, made[i]); rbErr != nil {
			pf := &PartialFailureError{
				RequestID:   requestID,
				Op:          "submit rollback",
				FailedKey:   failedKey,
				Compensated: false,
				Cause:       cause,
			}
			w.audit(ctx, AuditEntry{
				Action:    AuditCompensation,
				RequestID: requestID,
				Detail:    fmt.Sprintf("release of reservation %s failed during submit rollback: %v", made[i], rbErr),
			})
			w.log.ErrorContext(ctx, "submit rollback failed",
				slog.String("request_id", string(requestID)),
				slog.String("reservation_id", string(made[i])),
				slog.Any("error", rbErr))
			return pf
		}
	}
	if len(made) > 0 {
		w.audit(ctx, AuditEntry{
			Action:    AuditCompensation,
			RequestID: requestID,
			Detail:    fmt.Sprintf("rolled back %d reservation(s) after failed submit: %v", len(made), cause),
		})
	}
	return cause
}

// =============================================================================
// DECISIONS
// =============================================================================

// Approve commits the request's reservations and marks it approved.
func (w *Workflow) Approve(ctx context.Context, id RequestID, approverID EmployeeID, comments string) (*LeaveRequest, error) {
	return w.decide(ctx, id, approverID, comments, RequestApproved)
}

// Reject releases the request's reservations and marks it rejected.
func (w *Workflow) Reject(ctx context.Context, id RequestID, approverID EmployeeID, comments string) (*LeaveRequest, error) {
	return w.decide(ctx, id, approverID, comments, RequestRejected)
}

func (w *Workflow) decide(ctx context.Context, id RequestID, approverID EmployeeID, comments string, verdict RequestStatus) (*LeaveRequest, error) {
	unlock := w.lockRequest(id)
	defer unlock()

	req, err := w.store.GetRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", id, err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if req.Status != RequestPending {
		return nil, &InvalidTransitionError{
			RequestID: id,
			From:      req.Status,
			Attempted: verdict,
			Reason:    "only pending requests can be decided",
		}
	}

	var apply, undo func(context.Context, ReservationID) error
	var action AuditAction
	switch verdict {
	case RequestApproved:
		apply, undo = w.ledger.Commit, w.ledger.uncommit
		action = AuditRequestApproved
	case RequestRejected:
		apply, undo = w.ledger.Release, w.ledger.rehold
		action = AuditRequestRejected
	default:
		return nil, &InvalidTransitionError{RequestID: id, From: req.Status, Attempted: verdict, Reason: "not a decision"}
	}

	if err := w.resolveAll(ctx, req, apply, undo, string(verdict)); err != nil {
		return nil, err
	}

	now := time.Now()
	req.Status = verdict
	req.DecidedBy = &approverID
	req.DecidedAt = &now
	req.DecisionComments = comments
	if err := w.store.UpdateRequest(ctx, *req, RequestPending); err != nil {
		// Another process decided first. Its ledger resolution and ours are
		// the same idempotent handle operations, so nothing to unwind.
		if errors.Is(err, ErrConcurrentModification) {
			return nil, w.concurrentDecision(ctx, id, verdict)
		}
		return nil, fmt.Errorf("update request %s: %w", id, err)
	}

	w.audit(ctx, AuditEntry{
		ActorID:   approverID,
		Action:    action,
		RequestID: id,
		Detail:    fmt.Sprintf("%s by %s", verdict, approverID),
	})
	w.log.InfoContext(ctx, "leave request decided",
		slog.String("request_id", string(id)),
		slog.String("status", string(verdict)),
		slog.String("decided_by", string(approverID)))
	return req, nil
}

// concurrentDecision reports the status a racing decider left behind.
func (w *Workflow) concurrentDecision(ctx context.Context, id RequestID, attempted RequestStatus) error {
	current, err := w.store.GetRequest(ctx, id)
	if err != nil || current == nil {
		return fmt.Errorf("%w: request %s changed concurrently", ErrConcurrentModification, id)
	}
	return &InvalidTransitionError{
		RequestID: id,
		From:      current.Status,
		Attempted: attempted,
		Reason:    "request was decided concurrently",
	}
}

// =============================================================================
// CANCELLATION
// =============================================================================

// Cancel withdraws a request. Pending requests release their reservations.
// Approved requests can be cancelled only while the start date is still in
// the future; their used days flow back into the balance.
func (w *Workflow) Cancel(ctx context.Context, id RequestID, actorID EmployeeID) (*LeaveRequest, error) {
	unlock := w.lockRequest(id)
	defer unlock()

	req, err := w.store.GetRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", id, err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}

	var apply, undo func(context.Context, ReservationID) error
	switch req.Status {
	case RequestPending:
		apply, undo = w.ledger.Release, w.ledger.rehold
	case RequestApproved:
		if !req.StartDate.After(Today()) {
			return nil, &InvalidTransitionError{
				RequestID: id,
				From:      req.Status,
				Attempted: RequestCancelled,
				Reason:    "leave has already started",
			}
		}
		apply, undo = w.ledger.revertCommitted, w.ledger.recommit
	default:
		return nil, &InvalidTransitionError{
			RequestID: id,
			From:      req.Status,
			Attempted: RequestCancelled,
			Reason:    "request is already closed",
		}
	}

	priorStatus := req.Status
	if err := w.resolveAll(ctx, req, apply, undo, "cancel"); err != nil {
		return nil, err
	}

	now := time.Now()
	req.Status = RequestCancelled
	req.DecidedBy = &actorID
	req.DecidedAt = &now
	if err := w.store.UpdateRequest(ctx, *req, priorStatus); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return nil, w.concurrentDecision(ctx, id, RequestCancelled)
		}
		return nil, fmt.Errorf("update request %s: %w", id, err)
	}

	w.audit(ctx, AuditEntry{
		ActorID:   actorID,
		Action:    AuditRequestCancelled,
		RequestID: id,
		Detail:    fmt.Sprintf("cancelled from %s by %s", priorStatus, actorID),
	})
	w.log.InfoContext(ctx, "leave request cancelled",
		slog.String("request_id", string(id)),
		slog.String("prior_status", string(priorStatus)),
		slog.String("actor_id", string(actorID)))
	return req, nil
}

// =============================================================================
// SAGA RESOLUTION
// =============================================================================

// resolveAll applies a ledger operation to every reservation of a request,
// in order. On failure it undoes the operations already applied, in reverse,
// and reports a PartialFailureError: compensated when every undo landed and
// the caller may simply retry the whole transition, uncompensated when an
// undo failed and the years disagree until a retry heals them. A failure on
// the first leg has nothing to undo and surfaces as the plain cause.
func (w *Workflow) resolveAll(ctx context.Context, req *LeaveRequest, apply, undo func(context.Context, ReservationID) error, op string) error {
	done := make([]ReservationID, 0, len(req.ReservationIDs))
	for _, resID := range req.ReservationIDs {
		if err := apply(ctx, resID); err != nil {
			return w.undoResolved(ctx, req, done, resID, undo, op, err)
		}
		done = append(done, resID)
	}
	return nil
}

func (w *Workflow) undoResolved(ctx context.Context, req *LeaveRequest, done []ReservationID, failed ReservationID, undo func(context.Context, ReservationID) error, op string, cause error) error {
	failedKey := BalanceKey{}
	if res, err := w.store.GetReservation(ctx, failed); err == nil && res != nil {
		failedKey = res.Key
	}
	for i := len(done) - 1; i >= 0; i-- {
		if undoErr := undo(ctx, done[i]); undoErr != nil {
			pf := &PartialFailureError{
				RequestID:   req.ID,
				Op:          op,
				FailedKey:   failedKey,
				Compensated: false,
				Cause:       cause,
			}
			w.audit(ctx, AuditEntry{
				Action:    AuditCompensation,
				RequestID: req.ID,
				Detail:    fmt.Sprintf("undo of reservation %s failed during %s: %v", done[i], op, undoErr),
			})
			w.log.ErrorContext(ctx, "saga compensation failed",
				slog.String("request_id", string(req.ID)),
				slog.String("op", op),
				slog.String("reservation_id", string(done[i])),
				slog.Any("error", undoErr))
			return pf
		}
	}
	if len(done) == 0 {
		// Nothing was applied; the failure was atomic.
		return cause
	}
	w.audit(ctx, AuditEntry{
		Action:    AuditCompensation,
		RequestID: req.ID,
		Detail:    fmt.Sprintf("undid %d reservation(s) after failed %s: %v", len(done), op, cause),
	})
	return &PartialFailureError{
		RequestID:   req.ID,
		Op:          op,
		FailedKey:   failedKey,
		Compensated: true,
		Cause:       cause,
	}
}

// =============================================================================
// LOOKUPS
// =============================================================================

// GetRequest returns a request by id.
func (w *Workflow) GetRequest(ctx context.Context, id RequestID) (*LeaveRequest, error) {
	req, err := w.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	return req, nil
}

// audit writes best-effort: a failed audit append never fails the business
// operation, it is logged and dropped.
func (w *Workflow) audit(ctx context.Context, entry AuditEntry) {
	entry.ID = NewAuditID()
	entry.At = time.Now()
	if err := w.store.AppendAudit(ctx, entry); err != nil {
		w.log.WarnContext(ctx, "audit append failed",
			slog.String("action", string(entry.Action)),
			slog.Any("error", err))
	}
}
