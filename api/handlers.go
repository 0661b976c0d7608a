/*
handlers.go - HTTP API handlers for the leave management system

PURPOSE:
  Exposes the leave ledger and request workflow via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Employees:
    GET    /api/employees                List all employees
    POST   /api/employees                Create employee
    GET    /api/employees/{id}           Get employee details
    GET    /api/employees/{id}/balances  Balances for a year
    GET    /api/employees/{id}/requests  Request history
    GET    /api/employees/{id}/transfers Carry-forward history

  Requests:
    POST   /api/requests                 Submit leave request
    GET    /api/requests/pending         Approval queue
    GET    /api/requests/{id}            Request with reservations
    POST   /api/requests/{id}/approve    Approve
    POST   /api/requests/{id}/reject     Reject
    POST   /api/requests/{id}/cancel     Cancel

  Leave types:
    GET    /api/leave-types              List catalog
    POST   /api/leave-types              Register type
    GET    /api/leave-types/{id}         Get type
    DELETE /api/leave-types/{id}         Deactivate type

  Admin:
    POST   /api/admin/allocate           Credit an allocation
    POST   /api/admin/carry-forward      Single year transfer
    POST   /api/admin/year-end           Batch carry-forward
    POST   /api/admin/annual-grant       Seed a year from defaults
    POST   /api/admin/expire             Expire carried-in days

  Audit:
    GET    /api/audit                    Query the audit log

  Holidays:
    GET    /api/holidays                 List holidays for a year
    POST   /api/holidays                 Add holiday
    DELETE /api/holidays/{date}          Remove holiday

ERROR HANDLING:
  Domain errors map onto HTTP statuses via writeDomainError:
  - 400: invalid input, business-rule violations
  - 404: unknown employee, type, request, or reservation
  - 409: insufficient balance, overlap, version race, illegal transition,
         duplicate registration
  - 500: internal errors, partially applied cross-year operations

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public;
  actor ids are taken from request bodies at face value.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/leave-ledger/factory"
	"github.com/warp/leave-ledger/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	*factory.System

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler over an assembled system.
func NewHandler(sys *factory.System) *Handler {
	return &Handler{System: sys}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}

	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := leave.EmployeeID(chi.URLParam(r, "id"))

	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates a new employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "ID and name are required", nil)
		return
	}

	joinedAt, err := time.Parse(leave.DateLayout, req.JoinedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid joined_at format (use YYYY-MM-DD)", err)
		return
	}

	emp := leave.Employee{
		ID:       leave.EmployeeID(req.ID),
		Name:     req.Name,
		Email:    req.Email,
		JoinedAt: joinedAt,
	}

	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create employee", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetBalances returns an employee's balances for one year.
// GET /api/employees/{id}/balances?year=2026
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	id := leave.EmployeeID(chi.URLParam(r, "id"))

	year := time.Now().Year()
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = y
	}

	views, err := h.Projection.BalanceOverview(r.Context(), id, year)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]BalanceDTO, len(views))
	for i, v := range views {
		dtos[i] = toBalanceDTO(v)
	}

	writeJSON(w, http.StatusOK, dtos)
}

// GetRequestHistory returns an employee's requests, newest first.
// GET /api/employees/{id}/requests?status=pending,approved
func (h *Handler) GetRequestHistory(w http.ResponseWriter, r *http.Request) {
	id := leave.EmployeeID(chi.URLParam(r, "id"))

	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status filter", err)
		return
	}

	requests, err := h.Projection.EmployeeHistory(r.Context(), id, statuses...)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRequestDTOs(requests))
}

// GetTransfers returns an employee's carry-forward records, newest first.
func (h *Handler) GetTransfers(w http.ResponseWriter, r *http.Request) {
	id := leave.EmployeeID(chi.URLParam(r, "id"))

	records, err := h.Projection.TransferHistory(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]TransferDTO, len(records))
	for i, rec := range records {
		dtos[i] = toTransferDTO(rec)
	}

	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEAVE TYPE HANDLERS
// =============================================================================

// ListLeaveTypes returns the whole catalog, active and inactive.
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list leave types", err)
		return
	}

	dtos := make([]LeaveTypeDTO, len(types))
	for i, lt := range types {
		dtos[i] = toLeaveTypeDTO(lt)
	}

	writeJSON(w, http.StatusOK, dtos)
}

// GetLeaveType returns a single leave type.
func (h *Handler) GetLeaveType(w http.ResponseWriter, r *http.Request) {
	id := leave.LeaveTypeID(chi.URLParam(r, "id"))

	lt, err := h.Registry.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLeaveTypeDTO(lt))
}

// CreateLeaveType registers a new leave type.
func (h *Handler) CreateLeaveType(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaveTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "ID and name are required", nil)
		return
	}
	if req.DefaultAnnualDays < 0 {
		writeError(w, http.StatusBadRequest, "default_annual_days cannot be negative", nil)
		return
	}

	lt := leave.LeaveType{
		ID:                leave.LeaveTypeID(req.ID),
		Name:              req.Name,
		DefaultAnnualDays: leave.NewDays(req.DefaultAnnualDays),
	}
	if req.CarryForward != nil {
		if req.CarryForward.MaxDays < 0 || req.CarryForward.ExpiryMonths < 0 {
			writeError(w, http.StatusBadRequest, "carry_forward bounds cannot be negative", nil)
			return
		}
		lt.CarryForward = &leave.CarryForwardPolicy{
			MaxDays:      leave.NewDays(req.CarryForward.MaxDays),
			ExpiryMonths: req.CarryForward.ExpiryMonths,
		}
	}

	created, err := h.Registry.Register(r.Context(), lt)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toLeaveTypeDTO(created))
}

// DeactivateLeaveType retires a leave type. Types are never deleted; history
// keeps referring to them.
func (h *Handler) DeactivateLeaveType(w http.ResponseWriter, r *http.Request) {
	id := leave.LeaveTypeID(chi.URLParam(r, "id"))

	if err := h.Registry.Deactivate(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequest files a new leave request.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitLeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.EmployeeID == "" || req.LeaveTypeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id and leave_type_id are required", nil)
		return
	}

	start, err := leave.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	end, err := leave.ParseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date", err)
		return
	}

	created, err := h.Workflow.Submit(r.Context(),
		leave.EmployeeID(req.EmployeeID), leave.LeaveTypeID(req.LeaveTypeID),
		start, end, req.Comments)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRequestDTO(*created))
}

// ListPendingRequests returns the approval queue, oldest first.
// GET /api/requests/pending
func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requests, err := h.Projection.PendingQueue(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get pending requests", err)
		return
	}

	// Enrich with employee names
	dtos := make([]RequestDTO, 0, len(requests))
	for _, req := range requests {
		dto := toRequestDTO(req)
		if emp, err := h.Store.GetEmployee(ctx, req.EmployeeID); err == nil && emp != nil {
			dto.EmployeeName = emp.Name
		}
		dtos = append(dtos, dto)
	}

	writeJSON(w, http.StatusOK, map[string]any{"requests": dtos})
}

// GetRequest returns one request with its reservations.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := leave.RequestID(chi.URLParam(r, "id"))

	detail, err := h.Projection.RequestDetail(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := RequestDetailDTO{
		Request:      toRequestDTO(detail.Request),
		Reservations: make([]ReservationDTO, len(detail.Reservations)),
	}
	for i, res := range detail.Reservations {
		dto.Reservations[i] = toReservationDTO(res)
	}

	writeJSON(w, http.StatusOK, dto)
}

// ApproveRequest approves a pending request.
// POST /api/requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	id := leave.RequestID(chi.URLParam(r, "id"))

	var req DecisionRequest
	json.NewDecoder(r.Body).Decode(&req)
	if req.ApproverID == "" {
		req.ApproverID = "admin"
	}

	decided, err := h.Workflow.Approve(r.Context(), id, leave.EmployeeID(req.ApproverID), req.Comments)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRequestDTO(*decided))
}

// RejectRequest rejects a pending request.
// POST /api/requests/{id}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	id := leave.RequestID(chi.URLParam(r, "id"))

	var req DecisionRequest
	json.NewDecoder(r.Body).Decode(&req)
	if req.ApproverID == "" {
		req.ApproverID = "admin"
	}

	decided, err := h.Workflow.Reject(r.Context(), id, leave.EmployeeID(req.ApproverID), req.Comments)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRequestDTO(*decided))
}

// CancelRequest cancels a pending or not-yet-started approved request. With
// no actor in the body the request's owner is assumed (self-cancellation).
// POST /api/requests/{id}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := leave.RequestID(chi.URLParam(r, "id"))

	var req CancelRequest
	json.NewDecoder(r.Body).Decode(&req)

	actorID := leave.EmployeeID(req.ActorID)
	if actorID == "" {
		existing, err := h.Workflow.GetRequest(ctx, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		actorID = existing.EmployeeID
	}

	cancelled, err := h.Workflow.Cancel(ctx, id, actorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRequestDTO(*cancelled))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Allocate credits days to a balance, creating the row if absent.
// POST /api/admin/allocate
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.EmployeeID == "" || req.LeaveTypeID == "" || req.Year == 0 {
		writeError(w, http.StatusBadRequest, "employee_id, leave_type_id and year are required", nil)
		return
	}
	if req.ActorID == "" {
		req.ActorID = "admin"
	}

	emp, err := h.Store.GetEmployee(ctx, leave.EmployeeID(req.EmployeeID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}
	if _, err := h.Registry.Get(ctx, leave.LeaveTypeID(req.LeaveTypeID)); err != nil {
		writeDomainError(w, err)
		return
	}

	key := leave.BalanceKey{
		EmployeeID:  leave.EmployeeID(req.EmployeeID),
		LeaveTypeID: leave.LeaveTypeID(req.LeaveTypeID),
		Year:        req.Year,
	}
	snap, err := h.Ledger.Allocate(ctx, key, leave.NewDays(req.Days), leave.EmployeeID(req.ActorID))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// TriggerCarryForward applies one (employee, type, fromYear) transfer.
// POST /api/admin/carry-forward
func (h *Handler) TriggerCarryForward(w http.ResponseWriter, r *http.Request) {
	var req CarryForwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.EmployeeID == "" || req.LeaveTypeID == "" || req.FromYear == 0 {
		writeError(w, http.StatusBadRequest, "employee_id, leave_type_id and from_year are required", nil)
		return
	}

	res, err := h.Engine.ApplyCarryForward(r.Context(),
		leave.EmployeeID(req.EmployeeID), leave.LeaveTypeID(req.LeaveTypeID),
		req.FromYear, req.FromYear+1)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CarryForwardResultDTO{
		Record:  toTransferDTO(res.Record),
		Applied: res.Applied,
	})
}

// RunYearEnd runs the carry-forward for every employee and type.
// POST /api/admin/year-end
func (h *Handler) RunYearEnd(w http.ResponseWriter, r *http.Request) {
	var req YearEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.FromYear == 0 {
		req.FromYear = time.Now().Year() - 1
	}

	report, err := h.Engine.RunYearEnd(r.Context(), req.FromYear)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, YearEndReportDTO{
		FromYear:  report.FromYear,
		ToYear:    report.ToYear,
		Processed: report.Processed,
		Applied:   report.Applied,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
		TotalDays: report.TotalDays.Float64(),
	})
}

// GrantAnnual seeds a year's allocations from each active type's default.
// POST /api/admin/annual-grant
func (h *Handler) GrantAnnual(w http.ResponseWriter, r *http.Request) {
	var req AnnualGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Year == 0 {
		req.Year = time.Now().Year()
	}

	granted, err := h.Engine.GrantAnnual(r.Context(), req.Year)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"year":    req.Year,
		"granted": granted,
	})
}

// ExpireCarriedIn sweeps a year's carried-in days past their expiry window.
// POST /api/admin/expire
func (h *Handler) ExpireCarriedIn(w http.ResponseWriter, r *http.Request) {
	var req ExpireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Year == 0 {
		req.Year = time.Now().Year()
	}

	asOf := leave.Today()
	if req.AsOf != "" {
		d, err := leave.ParseDate(req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
			return
		}
		asOf = d
	}

	expired, err := h.Engine.ExpireYear(r.Context(), req.Year, asOf)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"year":         req.Year,
		"as_of":        asOf.String(),
		"expired_days": expired.Float64(),
	})
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// QueryAudit returns audit entries matching the query filters, newest first.
// GET /api/audit?actor_id=&request_id=&action=&from=&to=
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter leave.AuditFilter

	if v := q.Get("actor_id"); v != "" {
		id := leave.EmployeeID(v)
		filter.EmployeeID = &id
	}
	if v := q.Get("request_id"); v != "" {
		id := leave.RequestID(v)
		filter.RequestID = &id
	}
	if v := q.Get("action"); v != "" {
		for _, a := range strings.Split(v, ",") {
			filter.Actions = append(filter.Actions, leave.AuditAction(strings.TrimSpace(a)))
		}
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from timestamp (use RFC 3339)", err)
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to timestamp (use RFC 3339)", err)
			return
		}
		filter.To = &t
	}

	entries, err := h.Projection.AuditTrail(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": dtos})
}

// =============================================================================
// HOLIDAY HANDLERS
// =============================================================================

// ListHolidays returns the holidays of one year.
// GET /api/holidays?year=2026
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	year := time.Now().Year()
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = y
	}

	holidays := h.Calendar.Holidays(year)
	dtos := make([]HolidayDTO, len(holidays))
	for i, hol := range holidays {
		dtos[i] = HolidayDTO{Date: hol.Date.String(), Name: hol.Name}
	}

	writeJSON(w, http.StatusOK, map[string]any{"holidays": dtos})
}

// CreateHoliday adds a holiday to the working-day calendar.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Date == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Date and name are required", nil)
		return
	}

	date, err := leave.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	h.Calendar.Add(leave.Holiday{Date: date, Name: req.Name})

	writeJSON(w, http.StatusCreated, HolidayDTO{Date: date.String(), Name: req.Name})
}

// DeleteHoliday removes a holiday by date.
// DELETE /api/holidays/{date}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	date, err := leave.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	h.Calendar.Remove(date)

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps core errors onto HTTP statuses. Order matters: the
// conflict sentinels are also client errors, so they are matched first.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case leave.IsNotFound(err):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, leave.ErrInsufficientBalance):
		status = http.StatusConflict
		code = "insufficient_balance"
	case errors.Is(err, leave.ErrOverlappingRequest):
		status = http.StatusConflict
		code = "overlapping_request"
	case errors.Is(err, leave.ErrInvalidTransition):
		status = http.StatusConflict
		code = "invalid_transition"
	case errors.Is(err, leave.ErrConcurrentModification):
		status = http.StatusConflict
		code = "concurrent_modification"
	case errors.Is(err, leave.ErrDuplicateLeaveType),
		errors.Is(err, leave.ErrDuplicateCarryForward):
		status = http.StatusConflict
		code = "duplicate"
	case leave.IsClientError(err):
		status = http.StatusBadRequest
		code = "invalid_input"
	case errors.Is(err, leave.ErrPartialFailure):
		code = "partial_failure"
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}

	// Overlaps name the blocking request so clients can link to it.
	var overlap *leave.OverlapError
	if errors.As(err, &overlap) {
		resp.Details = map[string]string{
			"conflicting_request_id": string(overlap.ConflictingID),
		}
	}

	writeJSON(w, status, resp)
}

// parseStatuses converts a comma-separated status filter. Empty input means
// no filter.
func parseStatuses(s string) ([]leave.RequestStatus, error) {
	if s == "" {
		return nil, nil
	}
	var statuses []leave.RequestStatus
	for _, part := range strings.Split(s, ",") {
		switch st := leave.RequestStatus(strings.TrimSpace(part)); st {
		case leave.RequestPending, leave.RequestApproved, leave.RequestRejected, leave.RequestCancelled:
			statuses = append(statuses, st)
		default:
			return nil, fmt.Errorf("unknown status %q", part)
		}
	}
	return statuses, nil
}
