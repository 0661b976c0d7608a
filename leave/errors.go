/*
errors.go - Centralized error types for the leave core

PURPOSE:
  All failure modes of the ledger, workflow, and carry-forward engine in one
  place. Callers branch with errors.Is on the sentinels; the structured
  types carry enough context to render a useful message or retry decision.

ERROR CATEGORIES:
  1. Amount errors - non-positive or over-limit day quantities
  2. Ledger errors - insufficient balance, stale versions, bad handles
  3. Workflow errors - illegal transitions, overlapping requests
  4. Cross-year errors - partially applied operations after compensation

RETRY CONTRACT:
  ConcurrentModification is the only error callers are expected to retry
  automatically (re-read, re-apply). PartialFailure is safe to retry because
  reservation resolution is idempotent, but the retry is a caller decision.
  Everything else is an input or business-rule failure and must surface.

SEE ALSO:
  - ledger.go: produces the ledger errors
  - workflow.go: produces the workflow errors
  - api/handlers.go: maps these onto HTTP statuses
*/
package leave

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for non-positive day amounts, or amounts
	// exceeding what an operation may move (e.g. reverting more than used).
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when a reservation would drive
	// available below zero. The balance is left untouched.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOverlappingRequest is returned when a submission's date range
	// intersects an existing pending or approved request.
	ErrOverlappingRequest = errors.New("overlapping leave request")

	// ErrInvalidTransition is returned for any workflow move outside the
	// transition table.
	ErrInvalidTransition = errors.New("invalid request transition")

	// ErrUnknownReservation is returned when a handle does not identify a
	// resolvable reservation (never issued, or resolved the other way).
	ErrUnknownReservation = errors.New("unknown reservation")

	// ErrUnknownRequest is returned when a request id does not exist.
	ErrUnknownRequest = errors.New("unknown leave request")

	// ErrConcurrentModification is returned when a balance write loses a
	// version race. Re-read and retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrPartialFailure is returned when a cross-year operation applied to
	// one year but not the other. PartialFailureError carries whether the
	// applied side was compensated.
	ErrPartialFailure = errors.New("cross-year operation partially applied")

	// ErrLeaveTypeNotFound is returned when a referenced leave type doesn't exist.
	ErrLeaveTypeNotFound = errors.New("leave type not found")

	// ErrLeaveTypeInactive is returned when submitting against a deactivated type.
	ErrLeaveTypeInactive = errors.New("leave type is inactive")

	// ErrDuplicateLeaveType is returned when registering an already-known type id.
	ErrDuplicateLeaveType = errors.New("leave type already registered")

	// ErrEmployeeNotFound is returned when a referenced employee doesn't exist.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrDuplicateCarryForward is returned by stores when a carry-forward
	// record for the tuple already exists. The engine treats it as "done".
	ErrDuplicateCarryForward = errors.New("carry-forward already recorded")

	// ErrInvalidPeriod is returned when a date range ends before it starts,
	// or a carry-forward does not target the following year.
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidAmountError reports which amount was rejected and why.
type InvalidAmountError struct {
	Op     string
	Amount Days
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("%s: invalid amount %s: %s", e.Op, e.Amount, e.Reason)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Key       BalanceKey
	Available Days
	Requested Days
	Shortfall Days
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %s, requested %s, shortfall %s",
		e.Key, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// ConcurrentModificationError reports a lost optimistic-version race.
type ConcurrentModificationError struct {
	Key             BalanceKey
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification on %s: wrote version %d, stored version %d",
		e.Key, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConcurrentModificationError) Unwrap() error { return ErrConcurrentModification }

// InvalidTransitionError reports a workflow move outside the transition table.
type InvalidTransitionError struct {
	RequestID RequestID
	From      RequestStatus
	Attempted RequestStatus
	Reason    string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("request %s: cannot move to %s from %s", e.RequestID, e.Attempted, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// OverlapError identifies the existing request that blocks a submission.
type OverlapError struct {
	EmployeeID    EmployeeID
	Requested     DateRange
	ConflictingID RequestID
	Conflicting   DateRange
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("employee %s: requested %s overlaps request %s covering %s",
		e.EmployeeID, e.Requested, e.ConflictingID, e.Conflicting)
}

func (e *OverlapError) Unwrap() error { return ErrOverlappingRequest }

// PartialFailureError reports a cross-year operation that applied on one
// ledger key, failed on the other, and had its applied side compensated.
// Compensated=false means the inverse itself failed and the ledgers disagree
// with the request until the operation is retried; the audit log records both.
type PartialFailureError struct {
	RequestID   RequestID
	Op          string
	FailedKey   BalanceKey
	Compensated bool
	Cause       error
}

func (e *PartialFailureError) Error() string {
	state := "compensated"
	if !e.Compensated {
		state = "compensation failed, retry required"
	}
	return fmt.Sprintf("request %s: %s partially applied (failed on %s, %s): %v",
		e.RequestID, e.Op, e.FailedKey, state, e.Cause)
}

func (e *PartialFailureError) Unwrap() error { return ErrPartialFailure }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry with a fresh read.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input or
// a business-rule violation the caller must surface.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOverlappingRequest) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrLeaveTypeInactive) ||
		errors.Is(err, ErrDuplicateLeaveType) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownReservation) ||
		errors.Is(err, ErrUnknownRequest) ||
		errors.Is(err, ErrLeaveTypeNotFound) ||
		errors.Is(err, ErrEmployeeNotFound)
}
