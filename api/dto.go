/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DAY AMOUNTS:
  Day quantities are decimal internally and float64 on the wire. Leave
  amounts are small (half-day granularity, two-digit totals), so the
  float conversion is loss-free for every value the system produces.

DATES AND TIMES:
  Calendar dates (start_date, holidays) use YYYY-MM-DD. Wall-clock
  instants (created_at, decided_at) use RFC 3339.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - leave/projection.go: the views these DTOs serialize
*/
package api

import (
	"time"

	"github.com/warp/leave-ledger/leave"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	JoinedAt string `json:"joined_at"`
}

// CreateEmployeeRequest is the request to create an employee.
type CreateEmployeeRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	JoinedAt string `json:"joined_at"`
}

// CarryForwardPolicyDTO bounds the year-to-year transfer of a leave type.
type CarryForwardPolicyDTO struct {
	MaxDays      float64 `json:"max_days"`
	ExpiryMonths int     `json:"expiry_months"`
}

// LeaveTypeDTO represents a leave type in API responses.
type LeaveTypeDTO struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	Active            bool                   `json:"active"`
	DefaultAnnualDays float64                `json:"default_annual_days"`
	CarryForward      *CarryForwardPolicyDTO `json:"carry_forward,omitempty"`
	CreatedAt         string                 `json:"created_at,omitempty"`
}

// CreateLeaveTypeRequest is the request to register a leave type.
type CreateLeaveTypeRequest struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	DefaultAnnualDays float64                `json:"default_annual_days"`
	CarryForward      *CarryForwardPolicyDTO `json:"carry_forward,omitempty"`
}

// BalanceDTO is one ledger row with the derived available amount.
type BalanceDTO struct {
	EmployeeID    string  `json:"employee_id"`
	LeaveTypeID   string  `json:"leave_type_id"`
	LeaveTypeName string  `json:"leave_type_name,omitempty"`
	Year          int     `json:"year"`
	Allocated     float64 `json:"allocated"`
	CarriedIn     float64 `json:"carried_in"`
	Used          float64 `json:"used"`
	Pending       float64 `json:"pending"`
	Available     float64 `json:"available"`
	Version       int64   `json:"version"`
}

// RequestDTO represents a leave request.
type RequestDTO struct {
	ID               string   `json:"id"`
	EmployeeID       string   `json:"employee_id"`
	EmployeeName     string   `json:"employee_name,omitempty"`
	LeaveTypeID      string   `json:"leave_type_id"`
	StartDate        string   `json:"start_date"`
	EndDate          string   `json:"end_date"`
	RequestedDays    float64  `json:"requested_days"`
	Status           string   `json:"status"`
	Comments         string   `json:"comments,omitempty"`
	ReservationIDs   []string `json:"reservation_ids"`
	DecidedBy        *string  `json:"decided_by,omitempty"`
	DecidedAt        *string  `json:"decided_at,omitempty"`
	DecisionComments string   `json:"decision_comments,omitempty"`
	CreatedAt        string   `json:"created_at"`
}

// ReservationDTO represents a provisional hold against one year's balance.
type ReservationDTO struct {
	ID          string  `json:"id"`
	EmployeeID  string  `json:"employee_id"`
	LeaveTypeID string  `json:"leave_type_id"`
	Year        int     `json:"year"`
	RequestID   string  `json:"request_id"`
	Days        float64 `json:"days"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	ResolvedAt  *string `json:"resolved_at,omitempty"`
}

// RequestDetailDTO is a request together with its reservations, so clients
// can see how a cross-year request splits.
type RequestDetailDTO struct {
	Request      RequestDTO       `json:"request"`
	Reservations []ReservationDTO `json:"reservations"`
}

// SubmitLeaveRequest is the request body to file a leave request.
type SubmitLeaveRequest struct {
	EmployeeID  string `json:"employee_id"`
	LeaveTypeID string `json:"leave_type_id"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Comments    string `json:"comments,omitempty"`
}

// DecisionRequest is the request body for approve and reject.
type DecisionRequest struct {
	ApproverID string `json:"approver_id"`
	Comments   string `json:"comments,omitempty"`
}

// CancelRequest is the request body for cancellation.
type CancelRequest struct {
	ActorID string `json:"actor_id"`
}

// TransferDTO represents one year-to-year carry-forward record.
type TransferDTO struct {
	EmployeeID      string  `json:"employee_id"`
	LeaveTypeID     string  `json:"leave_type_id"`
	FromYear        int     `json:"from_year"`
	ToYear          int     `json:"to_year"`
	DaysTransferred float64 `json:"days_transferred"`
	CreatedAt       string  `json:"created_at"`
}

// CarryForwardResultDTO reports one transfer. Applied is false when the
// tuple had already been processed and the call changed nothing.
type CarryForwardResultDTO struct {
	Record  TransferDTO `json:"record"`
	Applied bool        `json:"applied"`
}

// YearEndReportDTO summarizes a batch carry-forward run.
type YearEndReportDTO struct {
	FromYear  int     `json:"from_year"`
	ToYear    int     `json:"to_year"`
	Processed int     `json:"processed"`
	Applied   int     `json:"applied"`
	Skipped   int     `json:"skipped"`
	Failed    int     `json:"failed"`
	TotalDays float64 `json:"total_days"`
}

// AllocateRequest is the admin request to credit an allocation.
type AllocateRequest struct {
	EmployeeID  string  `json:"employee_id"`
	LeaveTypeID string  `json:"leave_type_id"`
	Year        int     `json:"year"`
	Days        float64 `json:"days"`
	ActorID     string  `json:"actor_id,omitempty"`
}

// CarryForwardRequest is the admin request for a single year transfer.
type CarryForwardRequest struct {
	EmployeeID  string `json:"employee_id"`
	LeaveTypeID string `json:"leave_type_id"`
	FromYear    int    `json:"from_year"`
}

// YearEndRequest triggers the batch carry-forward for everyone.
type YearEndRequest struct {
	FromYear int `json:"from_year"`
}

// AnnualGrantRequest seeds a year's allocations from type defaults.
type AnnualGrantRequest struct {
	Year int `json:"year"`
}

// ExpireRequest sweeps carried-in days past their expiry window.
type ExpireRequest struct {
	Year int    `json:"year"`
	AsOf string `json:"as_of,omitempty"` // YYYY-MM-DD, defaults to today
}

// AuditEntryDTO represents one audit log entry.
type AuditEntryDTO struct {
	ID          string `json:"id"`
	At          string `json:"at"`
	ActorID     string `json:"actor_id"`
	Action      string `json:"action"`
	RequestID   string `json:"request_id,omitempty"`
	EmployeeID  string `json:"employee_id,omitempty"`
	LeaveTypeID string `json:"leave_type_id,omitempty"`
	Year        int    `json:"year,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// HolidayDTO represents a company holiday.
type HolidayDTO struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

// CreateHolidayRequest is the request to add a holiday.
type CreateHolidayRequest struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toEmployeeDTO(e leave.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:       string(e.ID),
		Name:     e.Name,
		Email:    e.Email,
		JoinedAt: e.JoinedAt.Format(leave.DateLayout),
	}
}

func toLeaveTypeDTO(lt leave.LeaveType) LeaveTypeDTO {
	dto := LeaveTypeDTO{
		ID:                string(lt.ID),
		Name:              lt.Name,
		Active:            lt.Active,
		DefaultAnnualDays: lt.DefaultAnnualDays.Float64(),
		CreatedAt:         lt.CreatedAt.Format(time.RFC3339),
	}
	if lt.CarryForward != nil {
		dto.CarryForward = &CarryForwardPolicyDTO{
			MaxDays:      lt.CarryForward.MaxDays.Float64(),
			ExpiryMonths: lt.CarryForward.ExpiryMonths,
		}
	}
	return dto
}

func toBalanceDTO(v leave.BalanceView) BalanceDTO {
	return BalanceDTO{
		EmployeeID:    string(v.Key.EmployeeID),
		LeaveTypeID:   string(v.Key.LeaveTypeID),
		LeaveTypeName: v.LeaveTypeName,
		Year:          v.Key.Year,
		Allocated:     v.Allocated.Float64(),
		CarriedIn:     v.CarriedIn.Float64(),
		Used:          v.Used.Float64(),
		Pending:       v.Pending.Float64(),
		Available:     v.Available.Float64(),
		Version:       v.Version,
	}
}

func toSnapshotDTO(s leave.BalanceSnapshot) BalanceDTO {
	return BalanceDTO{
		EmployeeID:  string(s.Key.EmployeeID),
		LeaveTypeID: string(s.Key.LeaveTypeID),
		Year:        s.Key.Year,
		Allocated:   s.Allocated.Float64(),
		CarriedIn:   s.CarriedIn.Float64(),
		Used:        s.Used.Float64(),
		Pending:     s.Pending.Float64(),
		Available:   s.Available.Float64(),
		Version:     s.Version,
	}
}

func toRequestDTO(r leave.LeaveRequest) RequestDTO {
	dto := RequestDTO{
		ID:               string(r.ID),
		EmployeeID:       string(r.EmployeeID),
		LeaveTypeID:      string(r.LeaveTypeID),
		StartDate:        r.StartDate.String(),
		EndDate:          r.EndDate.String(),
		RequestedDays:    r.RequestedDays.Float64(),
		Status:           string(r.Status),
		Comments:         r.Comments,
		ReservationIDs:   make([]string, len(r.ReservationIDs)),
		DecisionComments: r.DecisionComments,
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
	}
	for i, id := range r.ReservationIDs {
		dto.ReservationIDs[i] = string(id)
	}
	if r.DecidedBy != nil {
		s := string(*r.DecidedBy)
		dto.DecidedBy = &s
	}
	if r.DecidedAt != nil {
		s := r.DecidedAt.Format(time.RFC3339)
		dto.DecidedAt = &s
	}
	return dto
}

func toRequestDTOs(reqs []leave.LeaveRequest) []RequestDTO {
	dtos := make([]RequestDTO, len(reqs))
	for i, r := range reqs {
		dtos[i] = toRequestDTO(r)
	}
	return dtos
}

func toReservationDTO(r leave.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:          string(r.ID),
		EmployeeID:  string(r.Key.EmployeeID),
		LeaveTypeID: string(r.Key.LeaveTypeID),
		Year:        r.Key.Year,
		RequestID:   string(r.RequestID),
		Days:        r.Days.Float64(),
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
	}
	if r.ResolvedAt != nil {
		s := r.ResolvedAt.Format(time.RFC3339)
		dto.ResolvedAt = &s
	}
	return dto
}

func toTransferDTO(rec leave.CarryForwardRecord) TransferDTO {
	return TransferDTO{
		EmployeeID:      string(rec.EmployeeID),
		LeaveTypeID:     string(rec.LeaveTypeID),
		FromYear:        rec.FromYear,
		ToYear:          rec.ToYear,
		DaysTransferred: rec.DaysTransferred.Float64(),
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
	}
}

func toAuditEntryDTO(e leave.AuditEntry) AuditEntryDTO {
	dto := AuditEntryDTO{
		ID:        e.ID,
		At:        e.At.Format(time.RFC3339),
		ActorID:   string(e.ActorID),
		Action:    string(e.Action),
		RequestID: string(e.RequestID),
		Detail:    e.Detail,
	}
	if e.Key != nil {
		dto.EmployeeID = string(e.Key.EmployeeID)
		dto.LeaveTypeID = string(e.Key.LeaveTypeID)
		dto.Year = e.Key.Year
	}
	return dto
}
