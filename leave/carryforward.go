/*
carryforward.go - Year-end transfers, annual grants, carried-in expiry

PURPOSE:
  Everything that happens to balances on a year boundary:

    ApplyCarryForward  one (employee, type, fromYear) transfer
    RunYearEnd         the transfer for everyone, as a batch
    GrantAnnual        seed the new year's allocations
    ExpireYear         drop carried-in days past their expiry month

IDEMPOTENCY:
  The CarryForwardRecord is the lock. On a transactional store it is written
  in the same transaction as the balance credit, so either both land or
  neither does and a rerun starts from scratch. A store without transactions
  writes the record first, so a crash in between leaves a record without a
  credit rather than a double credit (silent money printing); the next run
  sees the missing credit and applies it. A second run of a completed tuple
  finds the record and does nothing.

CARRY-IN EXPIRY:
  A policy with ExpiryMonths=3 means days carried into 2026 die on April 1st
  2026 unless consumed. Carried-in days count as consumed before allocated
  ones, so only max(0, carriedIn - used - pending) expires.

SEE ALSO:
  - ledger.go: the balance row helpers and ExpireCarriedIn's arithmetic
  - registry.go: supplies each type's CarryForwardPolicy
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
// ENGINE
// =============================================================================

type CarryForwardEngine struct {
	ledger   *Ledger
	store    Store
	tx       TxStore // nil when the store has no transaction support
	registry *Registry
	log      *slog.Logger

	mu         sync.Mutex
	tupleLocks map[string]*sync.Mutex
}

func NewCarryForwardEngine(ledger *Ledger, store Store, registry *Registry, log *slog.Logger) *CarryForwardEngine {
	if log == nil {
		log = slog.Default()
	}
	e := &CarryForwardEngine{
		ledger:     ledger,
		store:      store,
		registry:   registry,
		log:        log,
		tupleLocks: make(map[string]*sync.Mutex),
	}
	if ts, ok := store.(TxStore); ok {
		e.tx = ts
	}
	return e
}

func (e *CarryForwardEngine) lockTuple(employeeID EmployeeID, typeID LeaveTypeID, fromYear int) func() {
	key := fmt.Sprintf("%s/%s/%d", employeeID, typeID, fromYear)
	e.mu.Lock()
	l, ok := e.tupleLocks[key]
	if !ok {
		l = &sync.Mutex{}
		e.tupleLocks[key] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// CarryForwardResult reports one transfer. Applied is false when the tuple
// had already been processed and this call changed nothing.
type CarryForwardResult struct {
	Record  CarryForwardRecord
	Applied bool
}

// =============================================================================
// SINGLE TRANSFER
// =============================================================================

// ApplyCarryForward moves min(available, policy.MaxDays) unused days from
// fromYear into toYear's carried-in bucket. Types without a carry-forward
// policy transfer zero days but still get a record, so reruns skip them too.
// Only the immediately following year is a valid target.
func (e *CarryForwardEngine) ApplyCarryForward(ctx context.Context, employeeID EmployeeID, typeID LeaveTypeID, fromYear, toYear int) (CarryForwardResult, error) {
	if toYear != fromYear+1 {
		return CarryForwardResult{}, fmt.Errorf("%w: carry-forward target must be %d, got %d", ErrInvalidPeriod, fromYear+1, toYear)
	}
	lt, err := e.registry.Get(ctx, typeID)
	if err != nil {
		return CarryForwardResult{}, err
	}

	unlock := e.lockTuple(employeeID, typeID, fromYear)
	defer unlock()

	existing, err := e.store.GetCarryForward(ctx, employeeID, typeID, fromYear, toYear)
	if err != nil {
		return CarryForwardResult{}, fmt.Errorf("load carry-forward record: %w", err)
	}
	if existing != nil {
		return e.resumeTransfer(ctx, lt, *existing)
	}

	fromKey := BalanceKey{EmployeeID: employeeID, LeaveTypeID: typeID, Year: fromYear}
	snap, err := e.ledger.Snapshot(ctx, fromKey)
	if err != nil {
		return CarryForwardResult{}, err
	}

	transfer := ZeroDays()
	if lt.CarryForward != nil && snap.Available.IsPositive() {
		transfer = snap.Available.Min(lt.CarryForward.MaxDays)
	}

	rec := CarryForwardRecord{
		EmployeeID:      employeeID,
		LeaveTypeID:     typeID,
		FromYear:        fromYear,
		ToYear:          toYear,
		DaysTransferred: transfer,
		CreatedAt:       time.Now(),
	}
	toKey := BalanceKey{EmployeeID: employeeID, LeaveTypeID: typeID, Year: toYear}
	if err := e.applyTransfer(ctx, rec, toKey); err != nil {
		if errors.Is(err, ErrDuplicateCarryForward) {
			// Lost a race against another process; its record wins.
			if existing, rerr := e.store.GetCarryForward(ctx, employeeID, typeID, fromYear, toYear); rerr == nil && existing != nil {
				return CarryForwardResult{Record: *existing}, nil
			}
		}
		return CarryForwardResult{}, err
	}

	e.audit(ctx, AuditEntry{
		Action: AuditCarryForward,
		Key:    &toKey,
		Detail: fmt.Sprintf("carried %s days from %d into %d", transfer, fromYear, toYear),
	})
	return CarryForwardResult{Record: rec, Applied: true}, nil
}

// applyTransfer writes the record and credits the target year's carried-in
// bucket. With transaction support both writes land together or not at all.
// Without it the record lands first; a credit failure then surfaces as an
// uncompensated PartialFailureError, and the record without its credit is
// what resumeTransfer looks for on the next run.
func (e *CarryForwardEngine) applyTransfer(ctx context.Context, rec CarryForwardRecord, toKey BalanceKey) error {
	lock := e.ledger.lockKey(toKey)
	lock.Lock()
	defer lock.Unlock()

	if e.tx != nil {
		return e.tx.WithTx(ctx, func(s Store) error {
			if err := s.SaveCarryForward(ctx, rec); err != nil {
				return fmt.Errorf("save carry-forward record: %w", err)
			}
			return creditCarriedIn(ctx, s, toKey, rec.DaysTransferred)
		})
	}

	if err := e.store.SaveCarryForward(ctx, rec); err != nil {
		return fmt.Errorf("save carry-forward record: %w", err)
	}
	if err := creditCarriedIn(ctx, e.store, toKey, rec.DaysTransferred); err != nil {
		e.audit(ctx, AuditEntry{
			Action: AuditCompensation,
			Key:    &toKey,
			Detail: fmt.Sprintf("carry-forward %d->%d recorded %s days but credit failed: %v", rec.FromYear, rec.ToYear, rec.DaysTransferred, err),
		})
		e.log.ErrorContext(ctx, "carry-forward credit failed after record write",
			slog.String("key", toKey.String()),
			slog.String("days", rec.DaysTransferred.String()),
			slog.Any("error", err))
		return &PartialFailureError{
			Op:          "carry-forward",
			FailedKey:   toKey,
			Compensated: false,
			Cause:       err,
		}
	}
	return nil
}

// resumeTransfer handles a tuple that already has a record. Normally the
// transfer is complete and there is nothing left to do. On a store without
// transactions a crash may have left the record without its credit; when the
// target row proves the credit never landed, it is applied now. A row whose
// carried-in days are zero again is left alone when the policy can expire
// them: a lost credit cannot be told apart from an expired one there, and
// crediting again would resurrect expired days.
func (e *CarryForwardEngine) resumeTransfer(ctx context.Context, lt LeaveType, rec CarryForwardRecord) (CarryForwardResult, error) {
	if !rec.DaysTransferred.IsPositive() {
		return CarryForwardResult{Record: rec}, nil
	}
	toKey := BalanceKey{EmployeeID: rec.EmployeeID, LeaveTypeID: rec.LeaveTypeID, Year: rec.ToYear}

	lock := e.ledger.lockKey(toKey)
	lock.Lock()
	defer lock.Unlock()

	row, err := e.store.GetBalance(ctx, toKey)
	if err != nil {
		return CarryForwardResult{}, fmt.Errorf("load balance %s: %w", toKey, err)
	}
	canExpire := lt.CarryForward != nil && lt.CarryForward.ExpiryMonths > 0
	if row != nil && (row.CarriedIn.IsPositive() || canExpire) {
		return CarryForwardResult{Record: rec}, nil
	}

	if err := creditCarriedIn(ctx, e.store, toKey, rec.DaysTransferred); err != nil {
		return CarryForwardResult{}, &PartialFailureError{
			Op:          "carry-forward",
			FailedKey:   toKey,
			Compensated: false,
			Cause:       err,
		}
	}
	e.audit(ctx, AuditEntry{
		Action: AuditCarryForward,
		Key:    &toKey,
		Detail: fmt.Sprintf("resumed carry-forward %d->%d, credited the %s recorded days", rec.FromYear, rec.ToYear, rec.DaysTransferred),
	})
	e.log.WarnContext(ctx, "carry-forward credit resumed from existing record",
		slog.String("key", toKey.String()),
		slog.String("days", rec.DaysTransferred.String()))
	return CarryForwardResult{Record: rec, Applied: true}, nil
}

// creditCarriedIn adds transferred days to the target row's carried-in
// bucket. Zero transfers write nothing.
func creditCarriedIn(ctx context.Context, s Store, key BalanceKey, days Days) error {
	if !days.IsPositive() {
		return nil
	}
	b, err := loadOrNewBalance(ctx, s, key)
	if err != nil {
		return err
	}
	b.CarriedIn = b.CarriedIn.Add(days)
	_, err = saveBalance(ctx, s, b)
	return err
}

// =============================================================================
// BATCH RUNS
// =============================================================================

// YearEndReport summarizes one batch run. Failed tuples are logged and
// skipped; the run continues so one bad row cannot block everyone's transfer.
type YearEndReport struct {
	FromYear  int
	ToYear    int
	Processed int
	Applied   int
	Skipped   int
	Failed    int
	TotalDays Days
}

// RunYearEnd applies the carry-forward for every employee and every active
// type that has a policy. Safe to rerun: processed tuples are skipped.
func (e *CarryForwardEngine) RunYearEnd(ctx context.Context, fromYear int) (YearEndReport, error) {
	report := YearEndReport{FromYear: fromYear, ToYear: fromYear + 1, TotalDays: ZeroDays()}

	types, err := e.registry.ActiveWithCarryForward(ctx)
	if err != nil {
		return report, err
	}
	employees, err := e.store.ListEmployees(ctx)
	if err != nil {
		return report, fmt.Errorf("list employees: %w", err)
	}

	for _, emp := range employees {
		for _, lt := range types {
			report.Processed++
			res, err := e.ApplyCarryForward(ctx, emp.ID, lt.ID, fromYear, fromYear+1)
			if err != nil {
				report.Failed++
				e.log.ErrorContext(ctx, "carry-forward failed",
					slog.String("employee_id", string(emp.ID)),
					slog.String("leave_type", string(lt.ID)),
					slog.Int("from_year", fromYear),
					slog.Any("error", err))
				continue
			}
			if res.Applied {
				report.Applied++
				report.TotalDays = report.TotalDays.Add(res.Record.DaysTransferred)
			} else {
				report.Skipped++
			}
		}
	}

	e.log.InfoContext(ctx, "year-end carry-forward finished",
		slog.Int("from_year", fromYear),
		slog.Int("processed", report.Processed),
		slog.Int("applied", report.Applied),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.String("total_days", report.TotalDays.String()))
	return report, nil
}

// GrantAnnual seeds every employee's allocation for a year from each active
// type's default. Employees already holding an allocation for the key are
// skipped, so the job can rerun after a partial failure.
func (e *CarryForwardEngine) GrantAnnual(ctx context.Context, year int) (int, error) {
	types, err := e.registry.List(ctx)
	if err != nil {
		return 0, err
	}
	employees, err := e.store.ListEmployees(ctx)
	if err != nil {
		return 0, fmt.Errorf("list employees: %w", err)
	}

	granted := 0
	for _, emp := range employees {
		for _, lt := range types {
			if !lt.Active || !lt.DefaultAnnualDays.IsPositive() {
				continue
			}
			key := BalanceKey{EmployeeID: emp.ID, LeaveTypeID: lt.ID, Year: year}
			snap, err := e.ledger.Snapshot(ctx, key)
			if err != nil {
				return granted, err
			}
			if snap.Allocated.IsPositive() {
				continue
			}
			if _, err := e.ledger.Allocate(ctx, key, lt.DefaultAnnualDays, SystemActor); err != nil {
				return granted, fmt.Errorf("grant %s: %w", key, err)
			}
			granted++
		}
	}

	if granted > 0 {
		e.audit(ctx, AuditEntry{
			Action: AuditAnnualGrant,
			Detail: fmt.Sprintf("granted annual allocations for %d, %d balances seeded", year, granted),
		})
	}
	e.log.InfoContext(ctx, "annual grant finished",
		slog.Int("year", year),
		slog.Int("granted", granted))
	return granted, nil
}

// ExpireYear sweeps a year's balances and expires carried-in days whose
// policy window has closed as of the given date. Balances where everything
// carried was already consumed expire zero and stay untouched.
func (e *CarryForwardEngine) ExpireYear(ctx context.Context, year int, asOf Date) (Days, error) {
	total := ZeroDays()

	balances, err := e.store.ListBalancesForYear(ctx, year)
	if err != nil {
		return total, fmt.Errorf("list balances for %d: %w", year, err)
	}

	// Expiry dates per type, resolved once.
	cutoffs := make(map[LeaveTypeID]Date)
	for _, b := range balances {
		if !b.CarriedIn.IsPositive() {
			continue
		}
		cutoff, ok := cutoffs[b.Key.LeaveTypeID]
		if !ok {
			lt, err := e.registry.Get(ctx, b.Key.LeaveTypeID)
			if err != nil {
				return total, err
			}
			if lt.CarryForward == nil || lt.CarryForward.ExpiryMonths <= 0 {
				cutoff = Date{} // zero date: never expires
			} else {
				cutoff = StartOfYear(year).AddMonths(lt.CarryForward.ExpiryMonths)
			}
			cutoffs[b.Key.LeaveTypeID] = cutoff
		}
		if cutoff.IsZero() || asOf.Before(cutoff) {
			continue
		}

		expired, err := e.ledger.ExpireCarriedIn(ctx, b.Key)
		if err != nil {
			return total, err
		}
		total = total.Add(expired)
	}

	if total.IsPositive() {
		e.log.InfoContext(ctx, "carried-in expiry sweep finished",
			slog.Int("year", year),
			slog.String("as_of", asOf.String()),
			slog.String("expired_days", total.String()))
	}
	return total, nil
}

func (e *CarryForwardEngine) audit(ctx context.Context, entry AuditEntry) {
	entry.ID = NewAuditID()
	entry.At = time.Now()
	if entry.ActorID == "" {
		entry.ActorID = SystemActor
	}
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		e.log.WarnContext(ctx, "audit append failed",
			slog.String("action", string(entry.Action)),
			slog.Any("error", err))
	}
}
