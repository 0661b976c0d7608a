// Package store provides the in-memory Store implementation.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/leave-ledger/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every record in maps guarded by one RWMutex. Records carry an
// insertion sequence so listings are deterministic even when wall-clock
// timestamps collide.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	seq           int64
	balances      map[leave.BalanceKey]leave.LeaveBalance
	reservations  map[leave.ReservationID]seqReservation
	requests      map[leave.RequestID]seqRequest
	leaveTypes    map[leave.LeaveTypeID]leave.LeaveType
	carryForwards map[transferKey]seqTransfer
	employees     map[leave.EmployeeID]leave.Employee
	audit         []leave.AuditEntry
}

type transferKey struct {
	EmployeeID  leave.EmployeeID
	LeaveTypeID leave.LeaveTypeID
	FromYear    int
	ToYear      int
}

type seqReservation struct {
	res leave.Reservation
	seq int64
}

type seqRequest struct {
	req leave.LeaveRequest
	seq int64
}

type seqTransfer struct {
	rec leave.CarryForwardRecord
	seq int64
}

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newMemState()
	return nil
}

func newMemState() *memState {
	return &memState{
		balances:      make(map[leave.BalanceKey]leave.LeaveBalance),
		reservations:  make(map[leave.ReservationID]seqReservation),
		requests:      make(map[leave.RequestID]seqRequest),
		leaveTypes:    make(map[leave.LeaveTypeID]leave.LeaveType),
		carryForwards: make(map[transferKey]seqTransfer),
		employees:     make(map[leave.EmployeeID]leave.Employee),
	}
}

func (s *memState) nextSeq() int64 {
	s.seq++
	return s.seq
}

// cloneRequest detaches the reservation id slice so callers cannot reach the
// stored backing array.
func cloneRequest(r leave.LeaveRequest) leave.LeaveRequest {
	r.ReservationIDs = append([]leave.ReservationID(nil), r.ReservationIDs...)
	return r
}

// =============================================================================
// BALANCES
// =============================================================================

func (m *Memory) GetBalance(_ context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getBalance(key)
}

func (s *memState) getBalance(key leave.BalanceKey) (*leave.LeaveBalance, error) {
	b, ok := s.balances[key]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) SaveBalance(_ context.Context, balance leave.LeaveBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveBalance(balance)
}

// saveBalance enforces the version guard: the write lands only when it
// follows the stored version exactly.
func (s *memState) saveBalance(balance leave.LeaveBalance) error {
	current, exists := s.balances[balance.Key]
	switch {
	case !exists && balance.Version == 1:
	case exists && current.Version == balance.Version-1:
	default:
		actual := int64(0)
		if exists {
			actual = current.Version
		}
		return &leave.ConcurrentModificationError{
			Key:             balance.Key,
			ExpectedVersion: balance.Version - 1,
			ActualVersion:   actual,
		}
	}
	s.balances[balance.Key] = balance
	return nil
}

func (m *Memory) ListBalances(_ context.Context, employeeID leave.EmployeeID) ([]leave.LeaveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listBalances(employeeID)
}

func (s *memState) listBalances(employeeID leave.EmployeeID) ([]leave.LeaveBalance, error) {
	var out []leave.LeaveBalance
	for _, b := range s.balances {
		if b.Key.EmployeeID == employeeID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Year != out[j].Key.Year {
			return out[i].Key.Year < out[j].Key.Year
		}
		return out[i].Key.LeaveTypeID < out[j].Key.LeaveTypeID
	})
	return out, nil
}

func (m *Memory) ListBalancesForYear(_ context.Context, year int) ([]leave.LeaveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listBalancesForYear(year)
}

func (s *memState) listBalancesForYear(year int) ([]leave.LeaveBalance, error) {
	var out []leave.LeaveBalance
	for _, b := range s.balances {
		if b.Key.Year == year {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.EmployeeID != out[j].Key.EmployeeID {
			return out[i].Key.EmployeeID < out[j].Key.EmployeeID
		}
		return out[i].Key.LeaveTypeID < out[j].Key.LeaveTypeID
	})
	return out, nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (m *Memory) SaveReservation(_ context.Context, r leave.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveReservation(r)
}

func (s *memState) saveReservation(r leave.Reservation) error {
	seq := int64(0)
	if existing, ok := s.reservations[r.ID]; ok {
		seq = existing.seq
	} else {
		seq = s.nextSeq()
	}
	s.reservations[r.ID] = seqReservation{res: r, seq: seq}
	return nil
}

func (m *Memory) GetReservation(_ context.Context, id leave.ReservationID) (*leave.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getReservation(id)
}

func (s *memState) getReservation(id leave.ReservationID) (*leave.Reservation, error) {
	sr, ok := s.reservations[id]
	if !ok {
		return nil, nil
	}
	res := sr.res
	return &res, nil
}

func (m *Memory) ListReservationsByRequest(_ context.Context, requestID leave.RequestID) ([]leave.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listReservationsByRequest(requestID)
}

func (s *memState) listReservationsByRequest(requestID leave.RequestID) ([]leave.Reservation, error) {
	var matches []seqReservation
	for _, sr := range s.reservations {
		if sr.res.RequestID == requestID {
			matches = append(matches, sr)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq < matches[j].seq })
	out := make([]leave.Reservation, len(matches))
	for i, sr := range matches {
		out[i] = sr.res
	}
	return out, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func (m *Memory) SaveRequest(_ context.Context, r leave.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveRequest(r)
}

func (s *memState) saveRequest(r leave.LeaveRequest) error {
	if _, exists := s.requests[r.ID]; exists {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	s.requests[r.ID] = seqRequest{req: cloneRequest(r), seq: s.nextSeq()}
	return nil
}

func (m *Memory) UpdateRequest(_ context.Context, r leave.LeaveRequest, expectStatus leave.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateRequest(r, expectStatus)
}

func (s *memState) updateRequest(r leave.LeaveRequest, expectStatus leave.RequestStatus) error {
	current, exists := s.requests[r.ID]
	if !exists {
		return fmt.Errorf("%w: %s", leave.ErrUnknownRequest, r.ID)
	}
	if current.req.Status != expectStatus {
		return fmt.Errorf("%w: request %s is %s, expected %s",
			leave.ErrConcurrentModification, r.ID, current.req.Status, expectStatus)
	}
	s.requests[r.ID] = seqRequest{req: cloneRequest(r), seq: current.seq}
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id leave.RequestID) (*leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getRequest(id)
}

func (s *memState) getRequest(id leave.RequestID) (*leave.LeaveRequest, error) {
	sr, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	req := cloneRequest(sr.req)
	return &req, nil
}

func (m *Memory) ListRequestsByEmployee(_ context.Context, employeeID leave.EmployeeID, statuses ...leave.RequestStatus) ([]leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listRequestsByEmployee(employeeID, statuses...)
}

func (s *memState) listRequestsByEmployee(employeeID leave.EmployeeID, statuses ...leave.RequestStatus) ([]leave.LeaveRequest, error) {
	wanted := func(status leave.RequestStatus) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, st := range statuses {
			if st == status {
				return true
			}
		}
		return false
	}

	var matches []seqRequest
	for _, sr := range s.requests {
		if sr.req.EmployeeID == employeeID && wanted(sr.req.Status) {
			matches = append(matches, sr)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq > matches[j].seq }) // newest first
	out := make([]leave.LeaveRequest, len(matches))
	for i, sr := range matches {
		out[i] = cloneRequest(sr.req)
	}
	return out, nil
}

func (m *Memory) ListRequestsByStatus(_ context.Context, status leave.RequestStatus) ([]leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listRequestsByStatus(status)
}

func (s *memState) listRequestsByStatus(status leave.RequestStatus) ([]leave.LeaveRequest, error) {
	var matches []seqRequest
	for _, sr := range s.requests {
		if sr.req.Status == status {
			matches = append(matches, sr)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq < matches[j].seq }) // oldest first
	out := make([]leave.LeaveRequest, len(matches))
	for i, sr := range matches {
		out[i] = cloneRequest(sr.req)
	}
	return out, nil
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func (m *Memory) SaveLeaveType(_ context.Context, lt leave.LeaveType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveLeaveType(lt)
}

func (s *memState) saveLeaveType(lt leave.LeaveType) error {
	if _, exists := s.leaveTypes[lt.ID]; exists {
		return fmt.Errorf("%w: %s", leave.ErrDuplicateLeaveType, lt.ID)
	}
	s.leaveTypes[lt.ID] = lt
	return nil
}

func (m *Memory) GetLeaveType(_ context.Context, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getLeaveType(id)
}

func (s *memState) getLeaveType(id leave.LeaveTypeID) (*leave.LeaveType, error) {
	lt, ok := s.leaveTypes[id]
	if !ok {
		return nil, nil
	}
	return &lt, nil
}

func (m *Memory) ListLeaveTypes(_ context.Context) ([]leave.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listLeaveTypes()
}

func (s *memState) listLeaveTypes() ([]leave.LeaveType, error) {
	out := make([]leave.LeaveType, 0, len(s.leaveTypes))
	for _, lt := range s.leaveTypes {
		out = append(out, lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetLeaveTypeActive(_ context.Context, id leave.LeaveTypeID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.setLeaveTypeActive(id, active)
}

func (s *memState) setLeaveTypeActive(id leave.LeaveTypeID, active bool) error {
	lt, ok := s.leaveTypes[id]
	if !ok {
		return fmt.Errorf("%w: %s", leave.ErrLeaveTypeNotFound, id)
	}
	lt.Active = active
	s.leaveTypes[id] = lt
	return nil
}

// =============================================================================
// CARRY-FORWARD RECORDS
// =============================================================================

func (m *Memory) SaveCarryForward(_ context.Context, rec leave.CarryForwardRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveCarryForward(rec)
}

func (s *memState) saveCarryForward(rec leave.CarryForwardRecord) error {
	k := transferKey{
		EmployeeID:  rec.EmployeeID,
		LeaveTypeID: rec.LeaveTypeID,
		FromYear:    rec.FromYear,
		ToYear:      rec.ToYear,
	}
	if _, exists := s.carryForwards[k]; exists {
		return fmt.Errorf("%w: %s/%s %d->%d",
			leave.ErrDuplicateCarryForward, rec.EmployeeID, rec.LeaveTypeID, rec.FromYear, rec.ToYear)
	}
	s.carryForwards[k] = seqTransfer{rec: rec, seq: s.nextSeq()}
	return nil
}

func (m *Memory) GetCarryForward(_ context.Context, employeeID leave.EmployeeID, typeID leave.LeaveTypeID, fromYear, toYear int) (*leave.CarryForwardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getCarryForward(employeeID, typeID, fromYear, toYear)
}

func (s *memState) getCarryForward(employeeID leave.EmployeeID, typeID leave.LeaveTypeID, fromYear, toYear int) (*leave.CarryForwardRecord, error) {
	st, ok := s.carryForwards[transferKey{EmployeeID: employeeID, LeaveTypeID: typeID, FromYear: fromYear, ToYear: toYear}]
	if !ok {
		return nil, nil
	}
	rec := st.rec
	return &rec, nil
}

func (m *Memory) ListCarryForwards(_ context.Context, employeeID leave.EmployeeID) ([]leave.CarryForwardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listCarryForwards(employeeID)
}

func (s *memState) listCarryForwards(employeeID leave.EmployeeID) ([]leave.CarryForwardRecord, error) {
	var matches []seqTransfer
	for _, st := range s.carryForwards {
		if st.rec.EmployeeID == employeeID {
			matches = append(matches, st)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq > matches[j].seq }) // newest first
	out := make([]leave.CarryForwardRecord, len(matches))
	for i, st := range matches {
		out[i] = st.rec
	}
	return out, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e leave.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveEmployee(e)
}

func (s *memState) saveEmployee(e leave.Employee) error {
	s.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id leave.EmployeeID) (*leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getEmployee(id)
}

func (s *memState) getEmployee(id leave.EmployeeID) (*leave.Employee, error) {
	e, ok := s.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listEmployees()
}

func (s *memState) listEmployees() ([]leave.Employee, error) {
	out := make([]leave.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry leave.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.appendAudit(entry)
}

func (s *memState) appendAudit(entry leave.AuditEntry) error {
	s.audit = append(s.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.queryAudit(filter)
}

func (s *memState) queryAudit(filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	var out []leave.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- { // newest first
		if filter.Matches(s.audit[i]) {
			out = append(out, s.audit[i])
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a snapshot
// of the whole state and a rollback on error. The write lock is held for the
// duration of fn, so the view it receives does no locking of its own.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(_ context.Context, fn func(leave.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()
	if err := fn(&txMemoryView{state: tm.state}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

func (s *memState) clone() *memState {
	c := newMemState()
	c.seq = s.seq
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.requests {
		v.req = cloneRequest(v.req)
		c.requests[k] = v
	}
	for k, v := range s.leaveTypes {
		c.leaveTypes[k] = v
	}
	for k, v := range s.carryForwards {
		c.carryForwards[k] = v
	}
	for k, v := range s.employees {
		c.employees[k] = v
	}
	c.audit = append([]leave.AuditEntry(nil), s.audit...)
	return c
}

// txMemoryView is the Store handed to WithTx callbacks. It works on the live
// state without locking; WithTx already holds the write lock.
type txMemoryView struct {
	state *memState
}

func (tv *txMemoryView) GetBalance(_ context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	return tv.state.getBalance(key)
}

func (tv *txMemoryView) SaveBalance(_ context.Context, balance leave.LeaveBalance) error {
	return tv.state.saveBalance(balance)
}

func (tv *txMemoryView) ListBalances(_ context.Context, employeeID leave.EmployeeID) ([]leave.LeaveBalance, error) {
	return tv.state.listBalances(employeeID)
}

func (tv *txMemoryView) ListBalancesForYear(_ context.Context, year int) ([]leave.LeaveBalance, error) {
	return tv.state.listBalancesForYear(year)
}

func (tv *txMemoryView) SaveReservation(_ context.Context, r leave.Reservation) error {
	return tv.state.saveReservation(r)
}

func (tv *txMemoryView) GetReservation(_ context.Context, id leave.ReservationID) (*leave.Reservation, error) {
	return tv.state.getReservation(id)
}

func (tv *txMemoryView) ListReservationsByRequest(_ context.Context, requestID leave.RequestID) ([]leave.Reservation, error) {
	return tv.state.listReservationsByRequest(requestID)
}

func (tv *txMemoryView) SaveRequest(_ context.Context, r leave.LeaveRequest) error {
	return tv.state.saveRequest(r)
}

func (tv *txMemoryView) UpdateRequest(_ context.Context, r leave.LeaveRequest, expectStatus leave.RequestStatus) error {
	return tv.state.updateRequest(r, expectStatus)
}

func (tv *txMemoryView) GetRequest(_ context.Context, id leave.RequestID) (*leave.LeaveRequest, error) {
	return tv.state.getRequest(id)
}

func (tv *txMemoryView) ListRequestsByEmployee(_ context.Context, employeeID leave.EmployeeID, statuses ...leave.RequestStatus) ([]leave.LeaveRequest, error) {
	return tv.state.listRequestsByEmployee(employeeID, statuses...)
}

func (tv *txMemoryView) ListRequestsByStatus(_ context.Context, status leave.RequestStatus) ([]leave.LeaveRequest, error) {
	return tv.state.listRequestsByStatus(status)
}

func (tv *txMemoryView) SaveLeaveType(_ context.Context, lt leave.LeaveType) error {
	return tv.state.saveLeaveType(lt)
}

func (tv *txMemoryView) GetLeaveType(_ context.Context, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	return tv.state.getLeaveType(id)
}

func (tv *txMemoryView) ListLeaveTypes(_ context.Context) ([]leave.LeaveType, error) {
	return tv.state.listLeaveTypes()
}

func (tv *txMemoryView) SetLeaveTypeActive(_ context.Context, id leave.LeaveTypeID, active bool) error {
	return tv.state.setLeaveTypeActive(id, active)
}

func (tv *txMemoryView) SaveCarryForward(_ context.Context, rec leave.CarryForwardRecord) error {
	return tv.state.saveCarryForward(rec)
}

func (tv *txMemoryView) GetCarryForward(_ context.Context, employeeID leave.EmployeeID, typeID leave.LeaveTypeID, fromYear, toYear int) (*leave.CarryForwardRecord, error) {
	return tv.state.getCarryForward(employeeID, typeID, fromYear, toYear)
}

func (tv *txMemoryView) ListCarryForwards(_ context.Context, employeeID leave.EmployeeID) ([]leave.CarryForwardRecord, error) {
	return tv.state.listCarryForwards(employeeID)
}

func (tv *txMemoryView) SaveEmployee(_ context.Context, e leave.Employee) error {
	return tv.state.saveEmployee(e)
}

func (tv *txMemoryView) GetEmployee(_ context.Context, id leave.EmployeeID) (*leave.Employee, error) {
	return tv.state.getEmployee(id)
}

func (tv *txMemoryView) ListEmployees(_ context.Context) ([]leave.Employee, error) {
	return tv.state.listEmployees()
}

func (tv *txMemoryView) AppendAudit(_ context.Context, entry leave.AuditEntry) error {
	return tv.state.appendAudit(entry)
}

func (tv *txMemoryView) QueryAudit(_ context.Context, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	return tv.state.queryAudit(filter)
}
