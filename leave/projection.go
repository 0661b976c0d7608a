/*
projection.go - Read models over balances and requests

PURPOSE:
  Assembles the views the API serves without ever mutating anything. The
  write side (ledger, workflow) stays free of display concerns; this file
  joins rows with catalog names and shapes them for consumers.

VIEWS:
  BalanceOverview    an employee's balances for a year, joined with type names
  PendingQueue       requests awaiting decision, oldest first
  EmployeeHistory    an employee's requests, newest first
  RequestDetail      one request plus its reservations
  TransferHistory    an employee's carry-forward records

SEE ALSO:
  - api/handlers.go: serializes these views to JSON
*/
package leave

import (
	"context"
	"fmt"
)

// =============================================================================
// PROJECTION
// =============================================================================

type Projection struct {
	store    Store
	registry *Registry
}

func NewProjection(store Store, registry *Registry) *Projection {
	return &Projection{store: store, registry: registry}
}

// BalanceView is one balance row joined with its leave type name.
type BalanceView struct {
	Key           BalanceKey
	LeaveTypeName string
	Allocated     Days
	CarriedIn     Days
	Used          Days
	Pending       Days
	Available     Days
	Version       int64
}

// RequestDetailView is a request joined with its reservations.
type RequestDetailView struct {
	Request      LeaveRequest
	Reservations []Reservation
}

// =============================================================================
// BALANCE VIEWS
// =============================================================================

// BalanceOverview returns an employee's balances for one year, every type
// they hold a row for, ordered by leave type.
func (p *Projection) BalanceOverview(ctx context.Context, employeeID EmployeeID, year int) ([]BalanceView, error) {
	if emp, err := p.store.GetEmployee(ctx, employeeID); err != nil {
		return nil, fmt.Errorf("load employee %s: %w", employeeID, err)
	} else if emp == nil {
		return nil, fmt.Errorf("%w: %s", ErrEmployeeNotFound, employeeID)
	}

	balances, err := p.store.ListBalances(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("list balances for %s: %w", employeeID, err)
	}

	views := make([]BalanceView, 0, len(balances))
	for _, b := range balances {
		if b.Key.Year != year {
			continue
		}
		name := string(b.Key.LeaveTypeID)
		if lt, err := p.registry.Get(ctx, b.Key.LeaveTypeID); err == nil {
			name = lt.Name
		}
		views = append(views, BalanceView{
			Key:           b.Key,
			LeaveTypeName: name,
			Allocated:     b.Allocated,
			CarriedIn:     b.CarriedIn,
			Used:          b.Used,
			Pending:       b.Pending,
			Available:     b.Available(),
			Version:       b.Version,
		})
	}
	return views, nil
}

// =============================================================================
// REQUEST VIEWS
// =============================================================================

// PendingQueue returns every request awaiting decision, oldest first, so
// approvers work through a FIFO.
func (p *Projection) PendingQueue(ctx context.Context) ([]LeaveRequest, error) {
	return p.store.ListRequestsByStatus(ctx, RequestPending)
}

// EmployeeHistory returns an employee's requests, newest first. With
// statuses given, only those statuses are included.
func (p *Projection) EmployeeHistory(ctx context.Context, employeeID EmployeeID, statuses ...RequestStatus) ([]LeaveRequest, error) {
	return p.store.ListRequestsByEmployee(ctx, employeeID, statuses...)
}

// RequestDetail returns one request with its reservation handles, so callers
// can see how a cross-year request splits.
func (p *Projection) RequestDetail(ctx context.Context, id RequestID) (RequestDetailView, error) {
	req, err := p.store.GetRequest(ctx, id)
	if err != nil {
		return RequestDetailView{}, fmt.Errorf("load request %s: %w", id, err)
	}
	if req == nil {
		return RequestDetailView{}, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	reservations, err := p.store.ListReservationsByRequest(ctx, id)
	if err != nil {
		return RequestDetailView{}, fmt.Errorf("load reservations for %s: %w", id, err)
	}
	return RequestDetailView{Request: *req, Reservations: reservations}, nil
}

// =============================================================================
// HISTORY VIEWS
// =============================================================================

// TransferHistory returns an employee's carry-forward records, newest first.
func (p *Projection) TransferHistory(ctx context.Context, employeeID EmployeeID) ([]CarryForwardRecord, error) {
	return p.store.ListCarryForwards(ctx, employeeID)
}

// AuditTrail returns audit entries matching a filter, newest first.
func (p *Projection) AuditTrail(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	return p.store.QueryAudit(ctx, filter)
}
