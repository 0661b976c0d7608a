package sqlite_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err, "in-memory store should open")
	t.Cleanup(func() { st.Close() })
	return st
}

func testBalance(version int64) leave.LeaveBalance {
	return leave.LeaveBalance{
		Key:       leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2026},
		Allocated: leave.NewDays(25),
		CarriedIn: leave.NewDays(2.5),
		Used:      leave.NewDays(4),
		Pending:   leave.NewDays(1),
		Version:   version,
		UpdatedAt: time.Now(),
	}
}

// =============================================================================
// BALANCES
// =============================================================================

func TestSQLite_Balance_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveBalance(ctx, testBalance(1)))

	got, err := st.GetBalance(ctx, testBalance(0).Key)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.True(t, got.Allocated.Equal(leave.NewDays(25)))
	assert.True(t, got.CarriedIn.Equal(leave.NewDays(2.5)), "half days must survive storage")
	assert.True(t, got.Used.Equal(leave.NewDays(4)))
	assert.True(t, got.Pending.Equal(leave.NewDays(1)))
	assert.Equal(t, int64(1), got.Version)
}

func TestSQLite_Balance_UnknownKey_ReturnsNil(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetBalance(context.Background(), leave.BalanceKey{EmployeeID: "x", LeaveTypeID: "y", Year: 2030})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_Balance_VersionGuard(t *testing.T) {
	// GIVEN: A row at version 2
	// WHEN: Replaying version 2 or skipping to version 4
	// THEN: Both writes lose with the observed versions attached

	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveBalance(ctx, testBalance(1)))
	require.NoError(t, st.SaveBalance(ctx, testBalance(2)))

	err := st.SaveBalance(ctx, testBalance(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, leave.ErrConcurrentModification)

	var conflict *leave.ConcurrentModificationError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.ExpectedVersion)
	assert.Equal(t, int64(2), conflict.ActualVersion)

	err = st.SaveBalance(ctx, testBalance(4))
	assert.ErrorIs(t, err, leave.ErrConcurrentModification)
}

func TestSQLite_Balance_DoubleInsert_Conflicts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveBalance(ctx, testBalance(1)))

	err := st.SaveBalance(ctx, testBalance(1))
	assert.ErrorIs(t, err, leave.ErrConcurrentModification, "a second version-1 insert must lose")
}

func TestSQLite_ListBalancesForYear(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, b := range []leave.LeaveBalance{
		{Key: leave.BalanceKey{EmployeeID: "emp-2", LeaveTypeID: "annual", Year: 2026}, Allocated: leave.NewDays(20), CarriedIn: leave.ZeroDays(), Used: leave.ZeroDays(), Pending: leave.ZeroDays(), Version: 1, UpdatedAt: time.Now()},
		{Key: leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2026}, Allocated: leave.NewDays(25), CarriedIn: leave.ZeroDays(), Used: leave.ZeroDays(), Pending: leave.ZeroDays(), Version: 1, UpdatedAt: time.Now()},
		{Key: leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025}, Allocated: leave.NewDays(25), CarriedIn: leave.ZeroDays(), Used: leave.ZeroDays(), Pending: leave.ZeroDays(), Version: 1, UpdatedAt: time.Now()},
	} {
		require.NoError(t, st.SaveBalance(ctx, b))
	}

	rows, err := st.ListBalancesForYear(ctx, 2026)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, leave.EmployeeID("emp-1"), rows[0].Key.EmployeeID, "listing is employee-ordered")
	assert.Equal(t, leave.EmployeeID("emp-2"), rows[1].Key.EmployeeID)
}

// =============================================================================
// REQUESTS
// =============================================================================

func testRequest(id leave.RequestID) leave.LeaveRequest {
	return leave.LeaveRequest{
		ID:             id,
		EmployeeID:     "emp-1",
		LeaveTypeID:    "annual",
		StartDate:      leave.NewDate(2026, time.March, 2),
		EndDate:        leave.NewDate(2026, time.March, 6),
		RequestedDays:  leave.NewDays(5),
		Status:         leave.RequestPending,
		Comments:       "spring break",
		ReservationIDs: []leave.ReservationID{"res-1", "res-2"},
		CreatedAt:      time.Now(),
	}
}

func TestSQLite_Request_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRequest(ctx, testRequest("req-1")))

	got, err := st.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, leave.EmployeeID("emp-1"), got.EmployeeID)
	assert.Equal(t, leave.NewDate(2026, time.March, 2), got.StartDate)
	assert.True(t, got.RequestedDays.Equal(leave.NewDays(5)))
	assert.Equal(t, "spring break", got.Comments)
	assert.Equal(t, []leave.ReservationID{"res-1", "res-2"}, got.ReservationIDs)
	assert.Nil(t, got.DecidedBy, "undecided request has no decider")
	assert.Nil(t, got.DecidedAt)
}

func TestSQLite_UpdateRequest_RecordsDecision(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveRequest(ctx, testRequest("req-1")))

	decided := testRequest("req-1")
	decided.Status = leave.RequestApproved
	approver := leave.EmployeeID("mgr-1")
	now := time.Now()
	decided.DecidedBy = &approver
	decided.DecidedAt = &now
	decided.DecisionComments = "enjoy"

	require.NoError(t, st.UpdateRequest(ctx, decided, leave.RequestPending))

	got, err := st.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.RequestApproved, got.Status)
	require.NotNil(t, got.DecidedBy)
	assert.Equal(t, approver, *got.DecidedBy)
	assert.NotNil(t, got.DecidedAt)
	assert.Equal(t, "enjoy", got.DecisionComments)
}

func TestSQLite_UpdateRequest_StatusGuard(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveRequest(ctx, testRequest("req-1")))

	approved := testRequest("req-1")
	approved.Status = leave.RequestApproved
	require.NoError(t, st.UpdateRequest(ctx, approved, leave.RequestPending))

	rejected := testRequest("req-1")
	rejected.Status = leave.RequestRejected
	err := st.UpdateRequest(ctx, rejected, leave.RequestPending)
	assert.ErrorIs(t, err, leave.ErrConcurrentModification)

	err = st.UpdateRequest(ctx, testRequest("ghost"), leave.RequestPending)
	assert.ErrorIs(t, err, leave.ErrUnknownRequest)
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func TestSQLite_Reservation_RoundTripAndResolve(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	res := leave.Reservation{
		ID:        "res-1",
		Key:       leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2026},
		RequestID: "req-1",
		Days:      leave.NewDays(4),
		Status:    leave.ReservationHeld,
		CreatedAt: time.Now(),
	}
	require.NoError(t, st.SaveReservation(ctx, res))

	got, err := st.GetReservation(ctx, "res-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, leave.ReservationHeld, got.Status)
	assert.Nil(t, got.ResolvedAt)

	// Saving the same id again resolves it in place.
	now := time.Now()
	res.Status = leave.ReservationCommitted
	res.ResolvedAt = &now
	require.NoError(t, st.SaveReservation(ctx, res))

	got, err = st.GetReservation(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, leave.ReservationCommitted, got.Status)
	assert.NotNil(t, got.ResolvedAt)
}

func TestSQLite_ListReservationsByRequest_CreationOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []leave.ReservationID{"res-a", "res-b"} {
		require.NoError(t, st.SaveReservation(ctx, leave.Reservation{
			ID:        id,
			Key:       leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2026 + i},
			RequestID: "req-1",
			Days:      leave.NewDays(2),
			Status:    leave.ReservationHeld,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	list, err := st.ListReservationsByRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, leave.ReservationID("res-a"), list[0].ID)
	assert.Equal(t, leave.ReservationID("res-b"), list[1].ID)
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func TestSQLite_LeaveType_PolicyRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	withPolicy := leave.LeaveType{
		ID:                "annual",
		Name:              "Annual Leave",
		Active:            true,
		DefaultAnnualDays: leave.NewDays(25),
		CarryForward:      &leave.CarryForwardPolicy{MaxDays: leave.NewDays(5), ExpiryMonths: 3},
		CreatedAt:         time.Now(),
	}
	withoutPolicy := leave.LeaveType{
		ID:                "sick",
		Name:              "Sick Leave",
		Active:            true,
		DefaultAnnualDays: leave.NewDays(10),
		CreatedAt:         time.Now(),
	}
	require.NoError(t, st.SaveLeaveType(ctx, withPolicy))
	require.NoError(t, st.SaveLeaveType(ctx, withoutPolicy))

	annual, err := st.GetLeaveType(ctx, "annual")
	require.NoError(t, err)
	require.NotNil(t, annual.CarryForward)
	assert.True(t, annual.CarryForward.MaxDays.Equal(leave.NewDays(5)))
	assert.Equal(t, 3, annual.CarryForward.ExpiryMonths)

	sick, err := st.GetLeaveType(ctx, "sick")
	require.NoError(t, err)
	assert.Nil(t, sick.CarryForward, "absent policy must read back as nil")
}

func TestSQLite_LeaveType_DuplicateAndDeactivate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	lt := leave.LeaveType{ID: "annual", Name: "Annual", Active: true, DefaultAnnualDays: leave.NewDays(25), CreatedAt: time.Now()}
	require.NoError(t, st.SaveLeaveType(ctx, lt))

	err := st.SaveLeaveType(ctx, lt)
	assert.ErrorIs(t, err, leave.ErrDuplicateLeaveType)

	require.NoError(t, st.SetLeaveTypeActive(ctx, "annual", false))
	got, err := st.GetLeaveType(ctx, "annual")
	require.NoError(t, err)
	assert.False(t, got.Active)

	err = st.SetLeaveTypeActive(ctx, "ghost", false)
	assert.ErrorIs(t, err, leave.ErrLeaveTypeNotFound)
}

// =============================================================================
// CARRY-FORWARD RECORDS
// =============================================================================

func TestSQLite_CarryForward_TupleUniqueness(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := leave.CarryForwardRecord{
		EmployeeID:      "emp-1",
		LeaveTypeID:     "annual",
		FromYear:        2025,
		ToYear:          2026,
		DaysTransferred: leave.NewDays(5),
		CreatedAt:       time.Now(),
	}
	require.NoError(t, st.SaveCarryForward(ctx, rec))

	err := st.SaveCarryForward(ctx, rec)
	assert.ErrorIs(t, err, leave.ErrDuplicateCarryForward)

	got, err := st.GetCarryForward(ctx, "emp-1", "annual", 2025, 2026)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.DaysTransferred.Equal(leave.NewDays(5)))

	missing, err := st.GetCarryForward(ctx, "emp-1", "annual", 2026, 2027)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// =============================================================================
// EMPLOYEES AND AUDIT
// =============================================================================

func TestSQLite_Employee_Upsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveEmployee(ctx, leave.Employee{ID: "emp-1", Name: "Alice", Email: "alice@example.com", JoinedAt: time.Now()}))
	require.NoError(t, st.SaveEmployee(ctx, leave.Employee{ID: "emp-1", Name: "Alice Johnson", Email: "alice@example.com", JoinedAt: time.Now()}))

	got, err := st.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alice Johnson", got.Name)

	all, err := st.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_Audit_FilterAndOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	key := leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2026}
	entries := []leave.AuditEntry{
		{ID: "a-1", At: base, ActorID: "admin", Action: leave.AuditAllocation, Key: &key, Detail: "allocated 25 days"},
		{ID: "a-2", At: base.Add(10 * time.Second), ActorID: "emp-1", Action: leave.AuditRequestSubmitted, RequestID: "req-1"},
		{ID: "a-3", At: base.Add(20 * time.Second), ActorID: "mgr-1", Action: leave.AuditRequestApproved, RequestID: "req-1"},
	}
	for _, e := range entries {
		require.NoError(t, st.AppendAudit(ctx, e))
	}

	byRequest := leave.RequestID("req-1")
	got, err := st.QueryAudit(ctx, leave.AuditFilter{RequestID: &byRequest})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, leave.AuditRequestApproved, got[0].Action, "newest first")

	actor := leave.EmployeeID("admin")
	got, err = st.QueryAudit(ctx, leave.AuditFilter{EmployeeID: &actor})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Key)
	assert.Equal(t, key, *got[0].Key)
}

// =============================================================================
// TRANSACTIONS AND RESET
// =============================================================================

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx leave.Store) error {
		if err := tx.SaveBalance(ctx, testBalance(1)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := st.GetBalance(ctx, testBalance(0).Key)
	require.NoError(t, err)
	assert.Nil(t, got, "rolled-back write must be gone")
}

func TestSQLite_WithTx_CommitsOnSuccess(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx leave.Store) error {
		return tx.SaveBalance(ctx, testBalance(1))
	})
	require.NoError(t, err)

	got, err := st.GetBalance(ctx, testBalance(0).Key)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSQLite_Reset_ClearsAllTables(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveBalance(ctx, testBalance(1)))
	require.NoError(t, st.SaveRequest(ctx, testRequest("req-1")))
	require.NoError(t, st.SaveEmployee(ctx, leave.Employee{ID: "emp-1", Name: "Alice", JoinedAt: time.Now()}))

	require.NoError(t, st.Reset(ctx))

	balance, err := st.GetBalance(ctx, testBalance(0).Key)
	require.NoError(t, err)
	assert.Nil(t, balance)

	request, err := st.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Nil(t, request)

	employees, err := st.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Empty(t, employees)
}

// =============================================================================
// FULL STACK SMOKE
// =============================================================================

func TestSQLite_LedgerLifecycle(t *testing.T) {
	// GIVEN: A ledger running on the SQLite store
	// WHEN: Allocating, reserving and committing
	// THEN: Every step lands and survives a re-read from disk pages

	st := newTestStore(t)
	ledger := leave.NewLedger(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	key := leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2026}

	_, err := ledger.Allocate(ctx, key, leave.NewDays(10), "admin")
	require.NoError(t, err)

	res, err := ledger.Reserve(ctx, key, "req-1", leave.NewDays(2.5))
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(ctx, res.ID))

	snap, err := ledger.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.True(t, snap.Used.Equal(leave.NewDays(2.5)))
	assert.True(t, snap.Available.Equal(leave.NewDays(7.5)))
	assert.Equal(t, int64(3), snap.Version, "allocate, reserve and commit each write once")
}
