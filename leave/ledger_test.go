package leave_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/leave/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================
// Shared by the other _test.go files in this package.

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T) (*leave.Ledger, *store.TxMemory) {
	t.Helper()
	st := store.NewTxMemory()
	return leave.NewLedger(st, quietLogger()), st
}

func days(n float64) leave.Days {
	return leave.NewDays(n)
}

func testKey(year int) leave.BalanceKey {
	return leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: year}
}

// =============================================================================
// ALLOCATION TESTS
// =============================================================================

func TestLedger_Allocate_CreatesRowOnFirstTouch(t *testing.T) {
	// GIVEN: A key that has never been written
	// WHEN: Allocating 25 days
	// THEN: The row exists with allocated=available=25 at version 1

	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	snap, err := ledger.Allocate(ctx, testKey(2026), days(25), "admin")
	require.NoError(t, err)

	assert.True(t, snap.Allocated.Equal(days(25)))
	assert.True(t, snap.Available.Equal(days(25)))
	assert.True(t, snap.Used.IsZero())
	assert.True(t, snap.Pending.IsZero())
	assert.Equal(t, int64(1), snap.Version)
}

func TestLedger_Allocate_Accumulates(t *testing.T) {
	// GIVEN: 20 days already allocated
	// WHEN: Allocating 5 more
	// THEN: Allocated is 25 and the version advanced

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(20), "admin")
	require.NoError(t, err)

	snap, err := ledger.Allocate(ctx, key, days(5), "admin")
	require.NoError(t, err)

	assert.True(t, snap.Allocated.Equal(days(25)))
	assert.Equal(t, int64(2), snap.Version)
}

func TestLedger_Allocate_NonPositive_Rejected(t *testing.T) {
	// GIVEN: Any key
	// WHEN: Allocating zero or negative days
	// THEN: The call fails with ErrInvalidAmount and writes nothing

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(0), "admin")
	assert.ErrorIs(t, err, leave.ErrInvalidAmount)

	_, err = ledger.Allocate(ctx, key, days(-3), "admin")
	assert.ErrorIs(t, err, leave.ErrInvalidAmount)

	snap, err := ledger.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version, "rejected allocations must not write")
}

func TestLedger_Allocate_WritesAuditEntry(t *testing.T) {
	// GIVEN: An empty audit log
	// WHEN: Allocating days
	// THEN: An allocation entry appears for the key

	ledger, st := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Allocate(ctx, testKey(2026), days(10), "admin")
	require.NoError(t, err)

	entries, err := st.QueryAudit(ctx, leave.AuditFilter{Actions: []leave.AuditAction{leave.AuditAllocation}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, leave.EmployeeID("admin"), entries[0].ActorID)
	require.NotNil(t, entries[0].Key)
	assert.Equal(t, testKey(2026), *entries[0].Key)
}

func TestLedger_CarryIn_CreditsSeparateBucket(t *testing.T) {
	// GIVEN: A row with 20 allocated
	// WHEN: Carrying in 5 days
	// THEN: CarriedIn is tracked apart from Allocated, both count as available

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(20), "admin")
	require.NoError(t, err)

	snap, err := ledger.CarryIn(ctx, key, days(5))
	require.NoError(t, err)

	assert.True(t, snap.Allocated.Equal(days(20)))
	assert.True(t, snap.CarriedIn.Equal(days(5)))
	assert.True(t, snap.Available.Equal(days(25)))
}

// =============================================================================
// RESERVATION TESTS
// =============================================================================

func TestLedger_Reserve_HoldsPendingDays(t *testing.T) {
	// GIVEN: 10 available days
	// WHEN: Reserving 4
	// THEN: Pending is 4, available 6, and the handle is held

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(10), "admin")
	require.NoError(t, err)

	res, err := ledger.Reserve(ctx, key, "req-1", days(4))
	require.NoError(t, err)
	assert.Equal(t, leave.ReservationHeld, res.Status)
	assert.Equal(t, leave.RequestID("req-1"), res.RequestID)

	snap, err := ledger.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.True(t, snap.Pending.Equal(days(4)))
	assert.True(t, snap.Available.Equal(days(6)))
	assert.True(t, snap.Used.IsZero())
}

func TestLedger_Reserve_Insufficient_LeavesRowUntouched(t *testing.T) {
	// GIVEN: 3 available days
	// WHEN: Reserving 5
	// THEN: The call fails with the shortfall and the row is unchanged

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(3), "admin")
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, key, "req-1", days(5))
	require.Error(t, err)

	var insufficient *leave.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(days(3)))
	assert.True(t, insufficient.Requested.Equal(days(5)))
	assert.True(t, insufficient.Shortfall.Equal(days(2)))

	snap, err := ledger.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.True(t, snap.Pending.IsZero())
	assert.Equal(t, int64(1), snap.Version, "failed reserve must not write")
}

func TestLedger_Reserve_ExactRemainder_Succeeds(t *testing.T) {
	// GIVEN: Exactly 5 available days
	// WHEN: Reserving all 5
	// THEN: The hold succeeds and available drops to zero

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(5), "admin")
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, key, "req-1", days(5))
	require.NoError(t, err)

	snap, err := ledger.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.True(t, snap.Available.IsZero())
}

func TestLedger_Reserve_HalfDays(t *testing.T) {
	// GIVEN: 1 available day
	// WHEN: Reserving 0.5 twice
	// THEN: Both holds fit exactly, the third fails

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(1), "admin")
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, key, "req-1", days(0.5))
	require.NoError(t, err)
	_, err = ledger.Reserve(ctx, key, "req-2", days(0.5))
	require.NoError(t, err)
	_, err = ledger.Reserve(ctx, key, "req-3", days(0.5))
	assert.ErrorIs(t, err, leave.ErrInsufficientBalance)
}

func TestLedger_ConcurrentReserves_ExactlyOneWinner(t *testing.T) {
	// GIVEN: 5 available days
	// WHEN: 8 goroutines race to reserve all 5 at once
	// THEN: Exactly one wins; the rest see insufficient balance, and the
	//       final row holds a single 5-day hold

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(5), "admin")
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = ledger.Reserve(ctx, key, leave.RequestID(fmt.Sprintf("req-%d", n)), days(5))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, leave.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, winners, "exactly one reservation should win")

	snap, err := ledger.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.True(t, snap.Pending.Equal(days(5)))
	assert.True(t, snap.Available.IsZero())
}

// =============================================================================
// COMMIT / RELEASE TESTS
// =============================================================================

func TestLedger_Commit_MovesPendingToUsed(t *testing.T) {
	// GIVEN: A held 4-day reservation
	// WHEN: Committing it
	// THEN: Pending drops to zero, used rises to 4, available is unchanged

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(10), "admin")
	require.NoError(t, err)
	res, err := ledger.Reserve(ctx, key, "req-1", days(4))
	require.NoError(t, err)

	before, err := ledger.Snapshot(ctx, key)
	require.NoError(t, err)

	require.NoError(t, ledger.Commit(ctx, res.ID))

	after, err := ledger.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.True(t, after.Pending.IsZero())
	assert.True(t, after.Used.Equal(days(4)))
	assert.True(t, after.Available.Equal(before.Available), "commit must not change available")
}

func TestLedger_Commit_Idempotent(t *testing.T) {
	// GIVEN: An already committed reservation
	// WHEN: Committing it again
	// THEN: No error and no double counting

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(10), "admin")
	require.NoError(t, err)
	res, err := ledger.Reserve(ctx, key, "req-1", days(4))
	require.NoError(t, err)

	require.NoError(t, ledger.Commit(ctx, res.ID))
	require.NoError(t, ledger.Commit(ctx, res.ID))

	snap, err := ledger.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.True(t, snap.Used.Equal(days(4)), "used must count the days once")
}

func TestLedger_Release_RestoresAvailability(t *testing.T) {
	// GIVEN: A held 4-day reservation
	// WHEN: Releasing it
	// THEN: The days flow back to available; releasing again is a no-op

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(10), "admin")
	require.NoError(t, err)
	res, err := ledger.Reserve(ctx, key, "req-1", days(4))
	require.NoError(t, err)

	require.NoError(t, ledger.Release(ctx, res.ID))
	require.NoError(t, ledger.Release(ctx, res.ID))

	snap, err := ledger.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.True(t, snap.Pending.IsZero())
	assert.True(t, snap.Available.Equal(days(10)))
}

func TestLedger_CommitAfterRelease_Fails(t *testing.T) {
	// GIVEN: A released reservation
	// WHEN: Committing it
	// THEN: The hold is gone; ErrUnknownReservation

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(10), "admin")
	require.NoError(t, err)
	res, err := ledger.Reserve(ctx, key, "req-1", days(4))
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, res.ID))

	err = ledger.Commit(ctx, res.ID)
	assert.ErrorIs(t, err, leave.ErrUnknownReservation)
}

func TestLedger_ReleaseAfterCommit_Fails(t *testing.T) {
	// GIVEN: A committed reservation
	// WHEN: Releasing it
	// THEN: ErrUnknownReservation; cancelling approved leave goes through
	//       RevertUsage instead

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(10), "admin")
	require.NoError(t, err)
	res, err := ledger.Reserve(ctx, key, "req-1", days(4))
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(ctx, res.ID))

	err = ledger.Release(ctx, res.ID)
	assert.ErrorIs(t, err, leave.ErrUnknownReservation)
}

func TestLedger_UnknownReservation_Fails(t *testing.T) {
	// GIVEN: A reservation id that was never created
	// WHEN: Committing or releasing it
	// THEN: ErrUnknownReservation

	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	assert.ErrorIs(t, ledger.Commit(ctx, "missing"), leave.ErrUnknownReservation)
	assert.ErrorIs(t, ledger.Release(ctx, "missing"), leave.ErrUnknownReservation)
}

// =============================================================================
// REVERT / EXPIRY TESTS
// =============================================================================

func TestLedger_RevertUsage_RestoresDays(t *testing.T) {
	// GIVEN: 4 used days out of 10
	// WHEN: Reverting 4
	// THEN: Used is zero and available back at 10

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(10), "admin")
	require.NoError(t, err)
	res, err := ledger.Reserve(ctx, key, "req-1", days(4))
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(ctx, res.ID))

	snap, err := ledger.RevertUsage(ctx, key, days(4))
	require.NoError(t, err)
	assert.True(t, snap.Used.IsZero())
	assert.True(t, snap.Available.Equal(days(10)))
}

func TestLedger_RevertUsage_ExceedingUsed_Rejected(t *testing.T) {
	// GIVEN: 2 used days
	// WHEN: Reverting 3
	// THEN: ErrInvalidAmount; used stays 2

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.Allocate(ctx, key, days(10), "admin")
	require.NoError(t, err)
	res, err := ledger.Reserve(ctx, key, "req-1", days(2))
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(ctx, res.ID))

	_, err = ledger.RevertUsage(ctx, key, days(3))
	assert.ErrorIs(t, err, leave.ErrInvalidAmount)

	snap, err := ledger.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.True(t, snap.Used.Equal(days(2)))
}

func TestLedger_ExpireCarriedIn_RemovesUnconsumedPart(t *testing.T) {
	// Carried-in days count as spent before allocated ones, so only the
	// part not covered by used+pending expires.
	cases := []struct {
		name      string
		carried   float64
		spent     float64 // committed usage
		expect    float64
		remaining float64
	}{
		{"nothing spent, all expires", 5, 0, 5, 0},
		{"partly spent", 5, 2, 3, 2},
		{"fully spent, nothing expires", 5, 5, 0, 5},
		{"overspent into allocation", 5, 8, 0, 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger, _ := newTestLedger(t)
			ctx := context.Background()
			key := testKey(2026)

			_, err := ledger.Allocate(ctx, key, days(20), "admin")
			require.NoError(t, err)
			_, err = ledger.CarryIn(ctx, key, days(tc.carried))
			require.NoError(t, err)

			if tc.spent > 0 {
				res, err := ledger.Reserve(ctx, key, "req-1", days(tc.spent))
				require.NoError(t, err)
				require.NoError(t, ledger.Commit(ctx, res.ID))
			}

			expired, err := ledger.ExpireCarriedIn(ctx, key)
			require.NoError(t, err)
			assert.True(t, expired.Equal(days(tc.expect)),
				"expected %v expired, got %s", tc.expect, expired)

			snap, err := ledger.Snapshot(ctx, key)
			require.NoError(t, err)
			assert.True(t, snap.CarriedIn.Equal(days(tc.remaining)),
				"expected %v carried-in left, got %s", tc.remaining, snap.CarriedIn)
		})
	}
}

func TestLedger_ExpireCarriedIn_CountsPendingAsConsumption(t *testing.T) {
	// GIVEN: 5 carried-in days with a 4-day hold outstanding
	// WHEN: Expiring
	// THEN: Only the 1 uncovered day expires, the hold stays honored

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	_, err := ledger.CarryIn(ctx, key, days(5))
	require.NoError(t, err)
	_, err = ledger.Reserve(ctx, key, "req-1", days(4))
	require.NoError(t, err)

	expired, err := ledger.ExpireCarriedIn(ctx, key)
	require.NoError(t, err)
	assert.True(t, expired.Equal(days(1)))

	snap, err := ledger.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.True(t, snap.CarriedIn.Equal(days(4)))
	assert.True(t, snap.Pending.Equal(days(4)))
	assert.True(t, snap.Available.IsZero())
	assert.False(t, snap.Available.IsNegative(), "expiry must never drive available negative")
}

func TestLedger_Snapshot_UnknownKey_ReadsZeroRow(t *testing.T) {
	// GIVEN: A key never written
	// WHEN: Taking a snapshot
	// THEN: A zero row at version 0, not an error

	ledger, _ := newTestLedger(t)

	snap, err := ledger.Snapshot(context.Background(), testKey(2031))
	require.NoError(t, err)
	assert.True(t, snap.Available.IsZero())
	assert.Equal(t, int64(0), snap.Version)
}

// =============================================================================
// CONSERVATION
// =============================================================================

func TestLedger_Lifecycle_ConservesDays(t *testing.T) {
	// GIVEN: A full reserve -> commit -> revert round trip
	// THEN: allocated + carriedIn - used - pending always equals available
	//       and ends where it started

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	key := testKey(2026)

	check := func(stage string) leave.BalanceSnapshot {
		snap, err := ledger.Snapshot(ctx, key)
		require.NoError(t, err)
		derived := snap.Allocated.Add(snap.CarriedIn).Sub(snap.Used).Sub(snap.Pending)
		assert.True(t, derived.Equal(snap.Available), "conservation broken at %s", stage)
		return snap
	}

	_, err := ledger.Allocate(ctx, key, days(12), "admin")
	require.NoError(t, err)
	check("allocate")

	res, err := ledger.Reserve(ctx, key, "req-1", days(3))
	require.NoError(t, err)
	check("reserve")

	require.NoError(t, ledger.Commit(ctx, res.ID))
	check("commit")

	_, err = ledger.RevertUsage(ctx, key, days(3))
	require.NoError(t, err)
	snap := check("revert")

	assert.True(t, snap.Available.Equal(days(12)), "round trip should restore the full balance")
}
