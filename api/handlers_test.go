/*
handlers_test.go - HTTP-level tests for the API handlers

Requests go through the real router (middleware included) against a system
assembled over the in-memory store, so these tests cover routing, JSON
codecs, and the domain-error-to-status mapping in one pass. Domain rules
themselves are tested in the leave package.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/factory"
	"github.com/warp/leave-ledger/leave"
	memstore "github.com/warp/leave-ledger/leave/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T) (http.Handler, *Handler) {
	t.Helper()
	h := NewHandler(factory.NewForStore(memstore.NewTxMemory(), quietLogger()))
	router := NewRouter(h, quietLogger(), config.Config{})
	return router, h
}

// seedEmployeeWithBalance registers the annual type, creates emp-1 and
// credits the given number of days for 2026.
func seedEmployeeWithBalance(t *testing.T, h *Handler, days float64) {
	t.Helper()
	ctx := context.Background()

	if _, err := h.Registry.Register(ctx, leave.LeaveType{
		ID:                "annual",
		Name:              "Annual Leave",
		DefaultAnnualDays: leave.NewDays(25),
	}); err != nil {
		t.Fatalf("Failed to register leave type: %v", err)
	}

	if err := h.Store.SaveEmployee(ctx, leave.Employee{
		ID:       "emp-1",
		Name:     "Alice Johnson",
		Email:    "alice@example.com",
		JoinedAt: time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("Failed to save employee: %v", err)
	}

	key := leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2026}
	if _, err := h.Ledger.Allocate(ctx, key, leave.NewDays(days), "admin"); err != nil {
		t.Fatalf("Failed to allocate: %v", err)
	}
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// submitWeek files a Monday-to-Friday request for emp-1 and returns the DTO.
func submitWeek(t *testing.T, router http.Handler) RequestDTO {
	t.Helper()

	rec := doRequest(t, router, http.MethodPost, "/api/requests", SubmitLeaveRequest{
		EmployeeID:  "emp-1",
		LeaveTypeID: "annual",
		StartDate:   "2026-03-02",
		EndDate:     "2026-03-06",
		Comments:    "Spring break",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201 from submit, got %d: %s", rec.Code, rec.Body.String())
	}

	var dto RequestDTO
	if err := json.NewDecoder(rec.Body).Decode(&dto); err != nil {
		t.Fatalf("Failed to decode request DTO: %v", err)
	}
	return dto
}

func getBalances(t *testing.T, router http.Handler, employeeID string, year int) []BalanceDTO {
	t.Helper()

	rec := doRequest(t, router, http.MethodGet,
		"/api/employees/"+employeeID+"/balances?year="+strconv.Itoa(year), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from balances, got %d: %s", rec.Code, rec.Body.String())
	}

	var dtos []BalanceDTO
	if err := json.NewDecoder(rec.Body).Decode(&dtos); err != nil {
		t.Fatalf("Failed to decode balances: %v", err)
	}
	return dtos
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	return resp
}

// =============================================================================
// REQUEST WORKFLOW ENDPOINTS
// =============================================================================

func TestSubmitRequest_CreatesPendingRequest(t *testing.T) {
	// GIVEN: An employee with 25 days available
	// WHEN: Submitting a Monday-to-Friday request
	// THEN: The request is pending, one reservation holds 5 days

	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)

	dto := submitWeek(t, router)

	if dto.Status != "pending" {
		t.Errorf("Expected status 'pending', got '%s'", dto.Status)
	}
	if dto.RequestedDays != 5 {
		t.Errorf("Expected 5 requested days, got %.1f", dto.RequestedDays)
	}
	if len(dto.ReservationIDs) != 1 {
		t.Errorf("Expected 1 reservation, got %d", len(dto.ReservationIDs))
	}

	balances := getBalances(t, router, "emp-1", 2026)
	if len(balances) != 1 {
		t.Fatalf("Expected 1 balance row, got %d", len(balances))
	}
	if balances[0].Pending != 5 {
		t.Errorf("Expected 5 pending days, got %.1f", balances[0].Pending)
	}
	if balances[0].Available != 20 {
		t.Errorf("Expected 20 available days, got %.1f", balances[0].Available)
	}
	if balances[0].LeaveTypeName != "Annual Leave" {
		t.Errorf("Expected type name 'Annual Leave', got '%s'", balances[0].LeaveTypeName)
	}
}

func TestApproveRequest_CommitsDays(t *testing.T) {
	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)
	submitted := submitWeek(t, router)

	rec := doRequest(t, router, http.MethodPost, "/api/requests/"+submitted.ID+"/approve",
		DecisionRequest{ApproverID: "mgr-1", Comments: "Enjoy"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from approve, got %d: %s", rec.Code, rec.Body.String())
	}

	var dto RequestDTO
	if err := json.NewDecoder(rec.Body).Decode(&dto); err != nil {
		t.Fatalf("Failed to decode decided request: %v", err)
	}
	if dto.Status != "approved" {
		t.Errorf("Expected status 'approved', got '%s'", dto.Status)
	}
	if dto.DecidedBy == nil || *dto.DecidedBy != "mgr-1" {
		t.Errorf("Expected decided_by 'mgr-1', got %v", dto.DecidedBy)
	}

	balances := getBalances(t, router, "emp-1", 2026)
	if balances[0].Used != 5 {
		t.Errorf("Expected 5 used days after approval, got %.1f", balances[0].Used)
	}
	if balances[0].Pending != 0 {
		t.Errorf("Expected 0 pending days after approval, got %.1f", balances[0].Pending)
	}
	if balances[0].Available != 20 {
		t.Errorf("Expected 20 available days, got %.1f", balances[0].Available)
	}
}

func TestRejectRequest_RestoresBalance(t *testing.T) {
	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)
	submitted := submitWeek(t, router)

	rec := doRequest(t, router, http.MethodPost, "/api/requests/"+submitted.ID+"/reject",
		DecisionRequest{ApproverID: "mgr-1", Comments: "Release week"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from reject, got %d: %s", rec.Code, rec.Body.String())
	}

	balances := getBalances(t, router, "emp-1", 2026)
	if balances[0].Available != 25 {
		t.Errorf("Expected full 25 days back after rejection, got %.1f", balances[0].Available)
	}
	if balances[0].Pending != 0 {
		t.Errorf("Expected 0 pending days after rejection, got %.1f", balances[0].Pending)
	}
}

func TestCancelRequest_EmptyBodyDefaultsToOwner(t *testing.T) {
	// GIVEN: A pending request
	// WHEN: Cancelling without naming an actor
	// THEN: The owner is assumed and recorded in the audit trail

	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)
	submitted := submitWeek(t, router)

	rec := doRequest(t, router, http.MethodPost, "/api/requests/"+submitted.ID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from cancel, got %d: %s", rec.Code, rec.Body.String())
	}

	var dto RequestDTO
	if err := json.NewDecoder(rec.Body).Decode(&dto); err != nil {
		t.Fatalf("Failed to decode cancelled request: %v", err)
	}
	if dto.Status != "cancelled" {
		t.Errorf("Expected status 'cancelled', got '%s'", dto.Status)
	}

	audit := doRequest(t, router, http.MethodGet, "/api/audit?request_id="+submitted.ID+"&action=request_cancelled", nil)
	if audit.Code != http.StatusOK {
		t.Fatalf("Expected 200 from audit query, got %d", audit.Code)
	}
	var body struct {
		Entries []AuditEntryDTO `json:"entries"`
	}
	if err := json.NewDecoder(audit.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode audit response: %v", err)
	}
	if len(body.Entries) != 1 {
		t.Fatalf("Expected 1 cancellation entry, got %d", len(body.Entries))
	}
	if body.Entries[0].ActorID != "emp-1" {
		t.Errorf("Expected the owner as cancellation actor, got '%s'", body.Entries[0].ActorID)
	}
}

func TestGetRequest_IncludesReservationLegs(t *testing.T) {
	// GIVEN: A request spanning the December/January boundary
	// WHEN: Fetching its detail
	// THEN: Both per-year reservations come back

	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)
	key2027 := leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2027}
	if _, err := h.Ledger.Allocate(context.Background(), key2027, leave.NewDays(25), "admin"); err != nil {
		t.Fatalf("Failed to allocate for 2027: %v", err)
	}

	rec := doRequest(t, router, http.MethodPost, "/api/requests", SubmitLeaveRequest{
		EmployeeID:  "emp-1",
		LeaveTypeID: "annual",
		StartDate:   "2026-12-28",
		EndDate:     "2027-01-05",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201 from cross-year submit, got %d: %s", rec.Code, rec.Body.String())
	}
	var submitted RequestDTO
	if err := json.NewDecoder(rec.Body).Decode(&submitted); err != nil {
		t.Fatalf("Failed to decode submitted request: %v", err)
	}
	if submitted.RequestedDays != 7 {
		t.Errorf("Expected 7 working days across the boundary, got %.1f", submitted.RequestedDays)
	}

	detail := doRequest(t, router, http.MethodGet, "/api/requests/"+submitted.ID, nil)
	if detail.Code != http.StatusOK {
		t.Fatalf("Expected 200 from request detail, got %d", detail.Code)
	}
	var dto RequestDetailDTO
	if err := json.NewDecoder(detail.Body).Decode(&dto); err != nil {
		t.Fatalf("Failed to decode request detail: %v", err)
	}
	if len(dto.Reservations) != 2 {
		t.Fatalf("Expected 2 reservations, got %d", len(dto.Reservations))
	}
	if dto.Reservations[0].Year != 2026 || dto.Reservations[1].Year != 2027 {
		t.Errorf("Expected reservations in 2026 and 2027, got %d and %d",
			dto.Reservations[0].Year, dto.Reservations[1].Year)
	}
	if dto.Reservations[0].Days+dto.Reservations[1].Days != submitted.RequestedDays {
		t.Errorf("Reservation legs should sum to the requested days")
	}
}

func TestPendingQueue_EnrichesEmployeeNames(t *testing.T) {
	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)
	submitWeek(t, router)

	rec := doRequest(t, router, http.MethodGet, "/api/requests/pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from pending queue, got %d", rec.Code)
	}

	var body struct {
		Requests []RequestDTO `json:"requests"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode pending queue: %v", err)
	}
	if len(body.Requests) != 1 {
		t.Fatalf("Expected 1 pending request, got %d", len(body.Requests))
	}
	if body.Requests[0].EmployeeName != "Alice Johnson" {
		t.Errorf("Expected employee name enriched, got '%s'", body.Requests[0].EmployeeName)
	}
}

func TestRequestHistory_StatusFilter(t *testing.T) {
	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)
	submitted := submitWeek(t, router)
	doRequest(t, router, http.MethodPost, "/api/requests/"+submitted.ID+"/approve", DecisionRequest{ApproverID: "mgr-1"})

	rec := doRequest(t, router, http.MethodGet, "/api/employees/emp-1/requests?status=approved", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from history, got %d", rec.Code)
	}
	var dtos []RequestDTO
	if err := json.NewDecoder(rec.Body).Decode(&dtos); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(dtos) != 1 || dtos[0].Status != "approved" {
		t.Errorf("Expected exactly the approved request, got %+v", dtos)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/employees/emp-1/requests?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown status filter, got %d", rec.Code)
	}
}

// =============================================================================
// ERROR RESPONSES
// =============================================================================

func TestSubmitRequest_UnknownEmployee_NotFound(t *testing.T) {
	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)

	rec := doRequest(t, router, http.MethodPost, "/api/requests", SubmitLeaveRequest{
		EmployeeID:  "ghost",
		LeaveTypeID: "annual",
		StartDate:   "2026-03-02",
		EndDate:     "2026-03-06",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.Code != "not_found" {
		t.Errorf("Expected code 'not_found', got '%s'", resp.Code)
	}
}

func TestSubmitRequest_InsufficientBalance_Conflict(t *testing.T) {
	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 3) // 3 days cannot cover a 5-day week

	rec := doRequest(t, router, http.MethodPost, "/api/requests", SubmitLeaveRequest{
		EmployeeID:  "emp-1",
		LeaveTypeID: "annual",
		StartDate:   "2026-03-02",
		EndDate:     "2026-03-06",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.Code != "insufficient_balance" {
		t.Errorf("Expected code 'insufficient_balance', got '%s'", resp.Code)
	}
}

func TestSubmitRequest_Overlap_NamesBlockingRequest(t *testing.T) {
	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)
	first := submitWeek(t, router)

	rec := doRequest(t, router, http.MethodPost, "/api/requests", SubmitLeaveRequest{
		EmployeeID:  "emp-1",
		LeaveTypeID: "annual",
		StartDate:   "2026-03-06",
		EndDate:     "2026-03-09",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeError(t, rec)
	if resp.Code != "overlapping_request" {
		t.Errorf("Expected code 'overlapping_request', got '%s'", resp.Code)
	}
	details, ok := resp.Details.(map[string]any)
	if !ok {
		t.Fatalf("Expected structured details, got %T", resp.Details)
	}
	if details["conflicting_request_id"] != first.ID {
		t.Errorf("Expected conflicting request %s, got %v", first.ID, details["conflicting_request_id"])
	}
}

func TestSubmitRequest_MalformedInput_BadRequest(t *testing.T) {
	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)

	// Unparseable JSON
	req := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d", rec.Code)
	}

	// Bad date format
	bad := doRequest(t, router, http.MethodPost, "/api/requests", SubmitLeaveRequest{
		EmployeeID:  "emp-1",
		LeaveTypeID: "annual",
		StartDate:   "02/03/2026",
		EndDate:     "2026-03-06",
	})
	if bad.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad date, got %d", bad.Code)
	}

	// Missing ids
	missing := doRequest(t, router, http.MethodPost, "/api/requests", SubmitLeaveRequest{
		StartDate: "2026-03-02",
		EndDate:   "2026-03-06",
	})
	if missing.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing ids, got %d", missing.Code)
	}
}

func TestApproveRequest_Twice_Conflict(t *testing.T) {
	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)
	submitted := submitWeek(t, router)

	first := doRequest(t, router, http.MethodPost, "/api/requests/"+submitted.ID+"/approve", DecisionRequest{ApproverID: "mgr-1"})
	if first.Code != http.StatusOK {
		t.Fatalf("Expected 200 from first approve, got %d", first.Code)
	}

	second := doRequest(t, router, http.MethodPost, "/api/requests/"+submitted.ID+"/approve", DecisionRequest{ApproverID: "mgr-2"})
	if second.Code != http.StatusConflict {
		t.Fatalf("Expected 409 from second approve, got %d", second.Code)
	}
	if resp := decodeError(t, second); resp.Code != "invalid_transition" {
		t.Errorf("Expected code 'invalid_transition', got '%s'", resp.Code)
	}
}

func TestGetRequest_Unknown_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/requests/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown request, got %d", rec.Code)
	}
}

// =============================================================================
// LEAVE TYPE ENDPOINTS
// =============================================================================

func TestLeaveTypes_RegisterGetDeactivate(t *testing.T) {
	router, _ := newTestRouter(t)

	created := doRequest(t, router, http.MethodPost, "/api/leave-types", CreateLeaveTypeRequest{
		ID:                "annual",
		Name:              "Annual Leave",
		DefaultAnnualDays: 25,
		CarryForward:      &CarryForwardPolicyDTO{MaxDays: 5, ExpiryMonths: 3},
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("Expected 201 from register, got %d: %s", created.Code, created.Body.String())
	}

	dup := doRequest(t, router, http.MethodPost, "/api/leave-types", CreateLeaveTypeRequest{
		ID: "annual", Name: "Annual Again", DefaultAnnualDays: 20,
	})
	if dup.Code != http.StatusConflict {
		t.Fatalf("Expected 409 from duplicate register, got %d", dup.Code)
	}
	if resp := decodeError(t, dup); resp.Code != "duplicate" {
		t.Errorf("Expected code 'duplicate', got '%s'", resp.Code)
	}

	got := doRequest(t, router, http.MethodGet, "/api/leave-types/annual", nil)
	if got.Code != http.StatusOK {
		t.Fatalf("Expected 200 from get, got %d", got.Code)
	}
	var dto LeaveTypeDTO
	if err := json.NewDecoder(got.Body).Decode(&dto); err != nil {
		t.Fatalf("Failed to decode leave type: %v", err)
	}
	if !dto.Active {
		t.Error("Freshly registered type should be active")
	}
	if dto.CarryForward == nil || dto.CarryForward.MaxDays != 5 {
		t.Errorf("Expected carry-forward cap of 5, got %+v", dto.CarryForward)
	}

	del := doRequest(t, router, http.MethodDelete, "/api/leave-types/annual", nil)
	if del.Code != http.StatusOK {
		t.Fatalf("Expected 200 from deactivate, got %d", del.Code)
	}
	got = doRequest(t, router, http.MethodGet, "/api/leave-types/annual", nil)
	var after LeaveTypeDTO
	if err := json.NewDecoder(got.Body).Decode(&after); err != nil {
		t.Fatalf("Failed to decode leave type: %v", err)
	}
	if after.Active {
		t.Error("Deactivated type should read back inactive")
	}
}

func TestSubmitRequest_InactiveType_BadRequest(t *testing.T) {
	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)

	if rec := doRequest(t, router, http.MethodDelete, "/api/leave-types/annual", nil); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from deactivate, got %d", rec.Code)
	}

	rec := doRequest(t, router, http.MethodPost, "/api/requests", SubmitLeaveRequest{
		EmployeeID:  "emp-1",
		LeaveTypeID: "annual",
		StartDate:   "2026-03-02",
		EndDate:     "2026-03-06",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for an inactive type, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.Code != "invalid_input" {
		t.Errorf("Expected code 'invalid_input', got '%s'", resp.Code)
	}
}

// =============================================================================
// HOLIDAY AND ADMIN ENDPOINTS
// =============================================================================

func TestHolidays_ShrinkRequestedDays(t *testing.T) {
	// GIVEN: A holiday on the Wednesday of the requested week
	// WHEN: Submitting Monday through Friday
	// THEN: Only four days are charged

	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)

	created := doRequest(t, router, http.MethodPost, "/api/holidays", CreateHolidayRequest{
		Date: "2026-03-04",
		Name: "Founders Day",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("Expected 201 from holiday create, got %d", created.Code)
	}

	dto := submitWeek(t, router)
	if dto.RequestedDays != 4 {
		t.Errorf("Expected 4 working days with the holiday skipped, got %.1f", dto.RequestedDays)
	}

	list := doRequest(t, router, http.MethodGet, "/api/holidays?year=2026", nil)
	var body struct {
		Holidays []HolidayDTO `json:"holidays"`
	}
	if err := json.NewDecoder(list.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode holidays: %v", err)
	}
	if len(body.Holidays) != 1 || body.Holidays[0].Name != "Founders Day" {
		t.Errorf("Expected the created holiday listed, got %+v", body.Holidays)
	}

	if rec := doRequest(t, router, http.MethodDelete, "/api/holidays/2026-03-04", nil); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from holiday delete, got %d", rec.Code)
	}
	list = doRequest(t, router, http.MethodGet, "/api/holidays?year=2026", nil)
	body.Holidays = nil
	if err := json.NewDecoder(list.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode holidays: %v", err)
	}
	if len(body.Holidays) != 0 {
		t.Errorf("Expected no holidays after delete, got %+v", body.Holidays)
	}
}

func TestAllocateEndpoint_CreditsBalance(t *testing.T) {
	router, h := newTestRouter(t)
	seedEmployeeWithBalance(t, h, 25)

	rec := doRequest(t, router, http.MethodPost, "/api/admin/allocate", AllocateRequest{
		EmployeeID:  "emp-1",
		LeaveTypeID: "annual",
		Year:        2026,
		Days:        10,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from allocate, got %d: %s", rec.Code, rec.Body.String())
	}

	var snap BalanceDTO
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snap.Allocated != 35 {
		t.Errorf("Expected allocation topped up to 35, got %.1f", snap.Allocated)
	}
	if snap.Version != 2 {
		t.Errorf("Expected version 2 after two allocations, got %d", snap.Version)
	}

	ghost := doRequest(t, router, http.MethodPost, "/api/admin/allocate", AllocateRequest{
		EmployeeID:  "ghost",
		LeaveTypeID: "annual",
		Year:        2026,
		Days:        10,
	})
	if ghost.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown employee, got %d", ghost.Code)
	}
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestWriteDomainError_StatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"employee not found", leave.ErrEmployeeNotFound, http.StatusNotFound, "not_found"},
		{"unknown request", leave.ErrUnknownRequest, http.StatusNotFound, "not_found"},
		{"unknown reservation", leave.ErrUnknownReservation, http.StatusNotFound, "not_found"},
		{"insufficient balance", &leave.InsufficientBalanceError{
			Key:       leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2026},
			Available: leave.NewDays(3), Requested: leave.NewDays(5), Shortfall: leave.NewDays(2),
		}, http.StatusConflict, "insufficient_balance"},
		{"overlap", &leave.OverlapError{EmployeeID: "emp-1", ConflictingID: "req-9"}, http.StatusConflict, "overlapping_request"},
		{"invalid transition", leave.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{"version race", leave.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
		{"duplicate type", leave.ErrDuplicateLeaveType, http.StatusConflict, "duplicate"},
		{"duplicate carry-forward", leave.ErrDuplicateCarryForward, http.StatusConflict, "duplicate"},
		{"invalid amount", leave.ErrInvalidAmount, http.StatusBadRequest, "invalid_input"},
		{"invalid period", leave.ErrInvalidPeriod, http.StatusBadRequest, "invalid_input"},
		{"inactive type", leave.ErrLeaveTypeInactive, http.StatusBadRequest, "invalid_input"},
		{"partial failure", leave.ErrPartialFailure, http.StatusInternalServerError, "partial_failure"},
		{"unclassified", errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tc.err)

			if rec.Code != tc.wantStatus {
				t.Errorf("Expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if resp := decodeError(t, rec); resp.Code != tc.wantCode {
				t.Errorf("Expected code '%s', got '%s'", tc.wantCode, resp.Code)
			}
		})
	}
}

func TestWriteDomainError_WrappedErrorsKeepTheirStatus(t *testing.T) {
	// Handlers wrap with context before the mapping runs; errors.Is must
	// still see through.
	err := fmt.Errorf("submit request: %w", leave.ErrInsufficientBalance)
	rec := httptest.NewRecorder()
	writeDomainError(rec, err)

	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for a wrapped shortage, got %d", rec.Code)
	}
}

func TestParseStatuses(t *testing.T) {
	got, err := parseStatuses("")
	if err != nil || got != nil {
		t.Errorf("Expected no filter for empty input, got %v, %v", got, err)
	}

	got, err = parseStatuses("pending, approved")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != leave.RequestPending || got[1] != leave.RequestApproved {
		t.Errorf("Expected pending and approved, got %v", got)
	}

	if _, err := parseStatuses("bogus"); err == nil {
		t.Error("Expected an error for an unknown status")
	}
}
