/*
registry.go - Leave type catalog

PURPOSE:
  Administers the catalog of leave categories (sick, casual, earned, ...).
  Types are immutable once registered: balances and requests reference them
  by id forever, so administration can only deactivate a type, never delete
  or reshape it. Deactivated types stop accepting new requests; existing
  balances and history stay readable.

CACHING:
  Lookups happen on every submission, so the registry keeps a small cache
  in front of the store, guarded by an RWMutex. Writes go through the store
  first and only then update the cache.

SEE ALSO:
  - workflow.go: checks Active on submission
  - carryforward.go: reads CarryForward policies
*/
package leave

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// REGISTRY
// =============================================================================

type Registry struct {
	store LeaveTypeStore

	mu    sync.RWMutex
	cache map[LeaveTypeID]LeaveType
}

func NewRegistry(store LeaveTypeStore) *Registry {
	return &Registry{
		store: store,
		cache: make(map[LeaveTypeID]LeaveType),
	}
}

// Register adds a new leave type to the catalog.
func (r *Registry) Register(ctx context.Context, lt LeaveType) (LeaveType, error) {
	if lt.ID == "" {
		return LeaveType{}, fmt.Errorf("%w: leave type id is required", ErrInvalidAmount)
	}
	if lt.Name == "" {
		lt.Name = string(lt.ID)
	}
	if lt.DefaultAnnualDays.IsNegative() {
		return LeaveType{}, &InvalidAmountError{Op: "register leave type", Amount: lt.DefaultAnnualDays, Reason: "default annual days cannot be negative"}
	}
	if p := lt.CarryForward; p != nil {
		if p.MaxDays.IsNegative() {
			return LeaveType{}, &InvalidAmountError{Op: "register leave type", Amount: p.MaxDays, Reason: "carry-forward max cannot be negative"}
		}
		if p.ExpiryMonths < 0 {
			return LeaveType{}, fmt.Errorf("%w: carry-forward expiry months cannot be negative", ErrInvalidAmount)
		}
	}

	lt.Active = true
	lt.CreatedAt = time.Now()
	if err := r.store.SaveLeaveType(ctx, lt); err != nil {
		return LeaveType{}, err
	}

	r.mu.Lock()
	r.cache[lt.ID] = lt
	r.mu.Unlock()
	return lt, nil
}

// Get returns a leave type by id, active or not.
func (r *Registry) Get(ctx context.Context, id LeaveTypeID) (LeaveType, error) {
	r.mu.RLock()
	lt, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return lt, nil
	}

	stored, err := r.store.GetLeaveType(ctx, id)
	if err != nil {
		return LeaveType{}, fmt.Errorf("load leave type %s: %w", id, err)
	}
	if stored == nil {
		return LeaveType{}, fmt.Errorf("%w: %s", ErrLeaveTypeNotFound, id)
	}

	r.mu.Lock()
	r.cache[id] = *stored
	r.mu.Unlock()
	return *stored, nil
}

// List returns the whole catalog from the store, refreshing the cache.
func (r *Registry) List(ctx context.Context) ([]LeaveType, error) {
	types, err := r.store.ListLeaveTypes(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	for _, lt := range types {
		r.cache[lt.ID] = lt
	}
	r.mu.Unlock()
	return types, nil
}

// ActiveWithCarryForward returns the active types that carry days over,
// for the year-end batch.
func (r *Registry) ActiveWithCarryForward(ctx context.Context) ([]LeaveType, error) {
	types, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []LeaveType
	for _, lt := range types {
		if lt.Active && lt.CarryForward != nil {
			out = append(out, lt)
		}
	}
	return out, nil
}

// Deactivate retires a type. Existing balances and requests are untouched;
// new submissions against it fail.
func (r *Registry) Deactivate(ctx context.Context, id LeaveTypeID) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	if err := r.store.SetLeaveTypeActive(ctx, id, false); err != nil {
		return err
	}

	r.mu.Lock()
	if lt, ok := r.cache[id]; ok {
		lt.Active = false
		r.cache[id] = lt
	}
	r.mu.Unlock()
	return nil
}
