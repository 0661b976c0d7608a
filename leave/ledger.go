/*
ledger.go - Balance ledger operations

PURPOSE:
  The Ledger owns every mutation of a LeaveBalance row. Callers never write
  balances directly; they allocate, reserve, commit, release, or revert
  through here, and the ledger guarantees the row invariant survives every
  operation.

CONCURRENCY DISCIPLINE:
  Two layers keep a key serialized:
  1. A per-key mutex: at most one in-flight mutation per
     (employee, type, year) inside this process. Different keys never
     contend, so throughput scales across employees.
  2. The store's version guard: every write carries version N+1 and lands
     only if the stored row is at N. A second process (or anything writing
     behind the ledger's back) trips ConcurrentModification and must retry
     from a fresh read.
  The mutex makes contention deterministic: N concurrent reservations on
  one key resolve to one winner and N-1 InsufficientBalance failures, never
  a pile of version-race retries.

RESERVATION LIFECYCLE:
  Reserve creates a held reservation and bumps pending. Commit moves the
  held days pending->used; Release drops them from pending. Both are
  idempotent: resolving an already-resolved handle the same way is a no-op,
  resolving it the other way is ErrUnknownReservation (the hold is gone).
  The workflow's retry story rests on this.

EXAMPLE:
  ledger := leave.NewLedger(store, logger)
  res, err := ledger.Reserve(ctx, key, requestID, leave.NewDays(5))
  if err != nil { ... }
  err = ledger.Commit(ctx, res.ID)

SEE ALSO:
  - store.go: the version guard contract
  - workflow.go: drives reserve/commit/release per request
  - carryforward.go: credits carried-in days through the ledger
*/
package leave

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store Store
	tx    TxStore // nil when the store has no transaction support
	log   *slog.Logger

	mu       sync.Mutex
	keyLocks map[BalanceKey]*sync.Mutex
}

// NewLedger creates a ledger over the given store. If the store implements
// TxStore, balance and reservation writes share a transaction.
func NewLedger(store Store, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	l := &Ledger{
		store:    store,
		log:      log,
		keyLocks: make(map[BalanceKey]*sync.Mutex),
	}
	if ts, ok := store.(TxStore); ok {
		l.tx = ts
	}
	return l
}

// lockKey returns the mutex serializing one balance key, creating it on
// first use. The map only grows; keys are few (employees x types x years).
func (l *Ledger) lockKey(key BalanceKey) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.keyLocks[key]
	if !ok {
		m = &sync.Mutex{}
		l.keyLocks[key] = m
	}
	return m
}

func (l *Ledger) withTx(ctx context.Context, fn func(Store) error) error {
	if l.tx != nil {
		return l.tx.WithTx(ctx, fn)
	}
	return fn(l.store)
}

func loadOrNewBalance(ctx context.Context, s Store, key BalanceKey) (LeaveBalance, error) {
	b, err := s.GetBalance(ctx, key)
	if err != nil {
		return LeaveBalance{}, fmt.Errorf("load balance %s: %w", key, err)
	}
	if b == nil {
		return NewBalance(key), nil
	}
	return *b, nil
}

// saveBalance validates and writes the mutated row with the next version.
func saveBalance(ctx context.Context, s Store, b LeaveBalance) (LeaveBalance, error) {
	if err := b.Validate(); err != nil {
		return LeaveBalance{}, err
	}
	b.Version++
	b.UpdatedAt = time.Now()
	if err := s.SaveBalance(ctx, b); err != nil {
		return LeaveBalance{}, err
	}
	return b, nil
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// Allocate increases the allocated amount for a key, creating the row on
// first touch.
func (l *Ledger) Allocate(ctx context.Context, key BalanceKey, days Days, actor EmployeeID) (BalanceSnapshot, error) {
	if !days.IsPositive() {
		return BalanceSnapshot{}, &InvalidAmountError{Op: "allocate", Amount: days, Reason: "must be positive"}
	}

	lock := l.lockKey(key)
	lock.Lock()
	defer lock.Unlock()

	var out LeaveBalance
	err := l.withTx(ctx, func(s Store) error {
		b, err := loadOrNewBalance(ctx, s, key)
		if err != nil {
			return err
		}
		b.Allocated = b.Allocated.Add(days)
		if out, err = saveBalance(ctx, s, b); err != nil {
			return err
		}
		return s.AppendAudit(ctx, AuditEntry{
			ID:      NewAuditID(),
			At:      time.Now(),
			ActorID: actor,
			Action:  AuditAllocation,
			Key:     &key,
			Detail:  fmt.Sprintf("allocated %s days", days),
		})
	})
	if err != nil {
		return BalanceSnapshot{}, err
	}
	return out.Snapshot(), nil
}

// CarryIn credits days transferred from the previous year. Kept separate
// from Allocate so the audit trail distinguishes grants from transfers.
func (l *Ledger) CarryIn(ctx context.Context, key BalanceKey, days Days) (BalanceSnapshot, error) {
	if !days.IsPositive() {
		return BalanceSnapshot{}, &InvalidAmountError{Op: "carry-in", Amount: days, Reason: "must be positive"}
	}

	lock := l.lockKey(key)
	lock.Lock()
	defer lock.Unlock()

	var out LeaveBalance
	err := l.withTx(ctx, func(s Store) error {
		b, err := loadOrNewBalance(ctx, s, key)
		if err != nil {
			return err
		}
		b.CarriedIn = b.CarriedIn.Add(days)
		out, err = saveBalance(ctx, s, b)
		return err
	})
	if err != nil {
		return BalanceSnapshot{}, err
	}
	return out.Snapshot(), nil
}

// Reserve places a provisional hold of days against the key and returns the
// handle. The availability check and the pending increment are one atomic
// step under the key lock; a shortage leaves the row untouched.
func (l *Ledger) Reserve(ctx context.Context, key BalanceKey, requestID RequestID, days Days) (*Reservation, error) {
	if !days.IsPositive() {
		return nil, &InvalidAmountError{Op: "reserve", Amount: days, Reason: "must be positive"}
	}

	lock := l.lockKey(key)
	lock.Lock()
	defer lock.Unlock()

	res := Reservation{
		ID:        NewReservationID(),
		Key:       key,
		RequestID: requestID,
		Days:      days,
		Status:    ReservationHeld,
		CreatedAt: time.Now(),
	}

	err := l.withTx(ctx, func(s Store) error {
		b, err := loadOrNewBalance(ctx, s, key)
		if err != nil {
			return err
		}
		if b.Available().LessThan(days) {
			return &InsufficientBalanceError{
				Key:       key,
				Available: b.Available(),
				Requested: days,
				Shortfall: days.Sub(b.Available()),
			}
		}
		b.Pending = b.Pending.Add(days)
		if _, err := saveBalance(ctx, s, b); err != nil {
			return err
		}
		return s.SaveReservation(ctx, res)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Commit moves a held reservation's days from pending to used. Committing
// an already-committed handle is a no-op; committing a released one fails
// with ErrUnknownReservation.
func (l *Ledger) Commit(ctx context.Context, id ReservationID) error {
	return l.transition(ctx, id, ReservationHeld, ReservationCommitted)
}

// Release drops a held reservation's days from pending without touching
// used. Same idempotence rules as Commit, mirrored.
func (l *Ledger) Release(ctx context.Context, id ReservationID) error {
	return l.transition(ctx, id, ReservationHeld, ReservationReleased)
}

// transition settles a reservation from one status to another, applying the
// matching balance delta. Every legal move is a row in this table; anything
// else is ErrUnknownReservation.
//
//	held      -> committed   pending -= d, used += d     (approve)
//	held      -> released    pending -= d                (reject, cancel pending)
//	committed -> released    used -= d                   (cancel approved)
//	committed -> held        used -= d,  pending += d    (undo a commit)
//	released  -> held        pending += d                (undo a release)
//	released  -> committed   used += d                   (undo a revert)
//
// The last three are compensations; the two that shrink available re-check
// it, because the freed days may have been reserved by someone else in the
// meantime.
func (l *Ledger) transition(ctx context.Context, id ReservationID, from, to ReservationStatus) error {
	res, err := l.store.GetReservation(ctx, id)
	if err != nil {
		return fmt.Errorf("load reservation %s: %w", id, err)
	}
	if res == nil {
		return fmt.Errorf("%w: %s", ErrUnknownReservation, id)
	}

	lock := l.lockKey(res.Key)
	lock.Lock()
	defer lock.Unlock()

	return l.withTx(ctx, func(s Store) error {
		// Re-read under the lock: the first read raced other resolvers.
		res, err := s.GetReservation(ctx, id)
		if err != nil {
			return fmt.Errorf("load reservation %s: %w", id, err)
		}
		if res == nil {
			return fmt.Errorf("%w: %s", ErrUnknownReservation, id)
		}
		if res.Status == to {
			return nil // already there; retry-safe
		}
		if res.Status != from {
			return fmt.Errorf("%w: %s is %s, not %s", ErrUnknownReservation, id, res.Status, from)
		}

		b, err := loadOrNewBalance(ctx, s, res.Key)
		if err != nil {
			return err
		}
		d := res.Days
		switch {
		case from == ReservationHeld && to == ReservationCommitted:
			b.Pending = b.Pending.Sub(d)
			b.Used = b.Used.Add(d)
		case from == ReservationHeld && to == ReservationReleased:
			b.Pending = b.Pending.Sub(d)
		case from == ReservationCommitted && to == ReservationReleased:
			b.Used = b.Used.Sub(d)
		case from == ReservationCommitted && to == ReservationHeld:
			b.Used = b.Used.Sub(d)
			b.Pending = b.Pending.Add(d)
		case from == ReservationReleased && to == ReservationHeld:
			if b.Available().LessThan(d) {
				return &InsufficientBalanceError{Key: res.Key, Available: b.Available(), Requested: d, Shortfall: d.Sub(b.Available())}
			}
			b.Pending = b.Pending.Add(d)
		case from == ReservationReleased && to == ReservationCommitted:
			if b.Available().LessThan(d) {
				return &InsufficientBalanceError{Key: res.Key, Available: b.Available(), Requested: d, Shortfall: d.Sub(b.Available())}
			}
			b.Used = b.Used.Add(d)
		default:
			return fmt.Errorf("%w: %s cannot move %s -> %s", ErrUnknownReservation, id, from, to)
		}
		if _, err := saveBalance(ctx, s, b); err != nil {
			return err
		}

		res.Status = to
		if to == ReservationHeld {
			res.ResolvedAt = nil
		} else {
			now := time.Now()
			res.ResolvedAt = &now
		}
		return s.SaveReservation(ctx, *res)
	})
}

// RevertUsage moves days from used back toward availability. Used when an
// approved request is cancelled before it starts.
func (l *Ledger) RevertUsage(ctx context.Context, key BalanceKey, days Days) (BalanceSnapshot, error) {
	if !days.IsPositive() {
		return BalanceSnapshot{}, &InvalidAmountError{Op: "revert-usage", Amount: days, Reason: "must be positive"}
	}

	lock := l.lockKey(key)
	lock.Lock()
	defer lock.Unlock()

	var out LeaveBalance
	err := l.withTx(ctx, func(s Store) error {
		b, err := loadOrNewBalance(ctx, s, key)
		if err != nil {
			return err
		}
		if days.GreaterThan(b.Used) {
			return &InvalidAmountError{
				Op:     "revert-usage",
				Amount: days,
				Reason: fmt.Sprintf("exceeds used days (%s)", b.Used),
			}
		}
		b.Used = b.Used.Sub(days)
		out, err = saveBalance(ctx, s, b)
		return err
	})
	if err != nil {
		return BalanceSnapshot{}, err
	}
	return out.Snapshot(), nil
}

// ExpireCarriedIn removes the part of the carried-in credit that has not
// been consumed yet. Carried-in days are considered spent before allocated
// ones, so the unconsumed part is carriedIn - used - pending, floored at
// zero and capped at carriedIn. Returns the amount removed.
func (l *Ledger) ExpireCarriedIn(ctx context.Context, key BalanceKey) (Days, error) {
	lock := l.lockKey(key)
	lock.Lock()
	defer lock.Unlock()

	var expired Days
	err := l.withTx(ctx, func(s Store) error {
		b, err := loadOrNewBalance(ctx, s, key)
		if err != nil {
			return err
		}
		expired = b.CarriedIn.Sub(b.Used).Sub(b.Pending)
		if expired.IsNegative() {
			expired = ZeroDays()
		}
		expired = expired.Min(b.CarriedIn)
		if !expired.IsPositive() {
			return nil
		}
		b.CarriedIn = b.CarriedIn.Sub(expired)
		if _, err := saveBalance(ctx, s, b); err != nil {
			return err
		}
		return s.AppendAudit(ctx, AuditEntry{
			ID:      NewAuditID(),
			At:      time.Now(),
			ActorID: SystemActor,
			Action:  AuditCarryExpiry,
			Key:     &key,
			Detail:  fmt.Sprintf("expired %s unused carried-in days", expired),
		})
	})
	if err != nil {
		return ZeroDays(), err
	}
	return expired, nil
}

// Snapshot returns the current quadruple plus available. A key that was
// never written reads as the zero row at version 0.
func (l *Ledger) Snapshot(ctx context.Context, key BalanceKey) (BalanceSnapshot, error) {
	b, err := l.store.GetBalance(ctx, key)
	if err != nil {
		return BalanceSnapshot{}, fmt.Errorf("load balance %s: %w", key, err)
	}
	if b == nil {
		return NewBalance(key).Snapshot(), nil
	}
	return b.Snapshot(), nil
}

// =============================================================================
// WORKFLOW-ONLY OPERATIONS
// =============================================================================

// revertCommitted gives back a committed reservation's used days, used when
// an approved request is cancelled before it starts. The reservation ends
// released, so a retried cancellation is a no-op per handle.
func (l *Ledger) revertCommitted(ctx context.Context, id ReservationID) error {
	return l.transition(ctx, id, ReservationCommitted, ReservationReleased)
}

// uncommit undoes a commit during cross-year compensation.
func (l *Ledger) uncommit(ctx context.Context, id ReservationID) error {
	return l.transition(ctx, id, ReservationCommitted, ReservationHeld)
}

// rehold undoes a release during cross-year compensation. Fails with
// InsufficientBalance if the freed days were taken in the gap.
func (l *Ledger) rehold(ctx context.Context, id ReservationID) error {
	return l.transition(ctx, id, ReservationReleased, ReservationHeld)
}

// recommit undoes a revert during cross-year compensation.
func (l *Ledger) recommit(ctx context.Context, id ReservationID) error {
	return l.transition(ctx, id, ReservationReleased, ReservationCommitted)
}
