/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates employees, leave types,
	allocations, and requests that demonstrate specific features.

AVAILABLE SCENARIOS:

	standard-team:      Small team with mixed request history
	approval-queue:     Pending requests waiting for a decision
	year-end:           Carry-forward with the policy cap applied
	cross-year:         December-to-January request, reserved in both years
	expiring-carryover: Carried-in days past their expiry window

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Register leave types
 3. Create employees
 4. Grant annual allocations
 5. Submit and decide requests, run year-end jobs as needed

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "standard-team"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
	Request dates are anchored to Mondays so seeded requests never start on
	a weekend, whatever the current year's calendar looks like.

SEE ALSO:
  - handlers.go: writeJSON/writeError helpers
  - leave/carryforward.go: GrantAnnual, RunYearEnd, ExpireYear
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/leave-ledger/leave"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-team",
		Name:        "Standard Team",
		Description: "Three employees with annual and sick leave, mixed request history",
	},
	{
		ID:          "approval-queue",
		Name:        "Approval Queue",
		Description: "Several pending requests waiting for a decision",
	},
	{
		ID:          "year-end",
		Name:        "Year-End Carry-Forward",
		Description: "Unused days carried into the new year, capped by policy",
	},
	{
		ID:          "cross-year",
		Name:        "Cross-Year Request",
		Description: "A December-to-January request with one reservation per year",
	},
	{
		ID:          "expiring-carryover",
		Name:        "Expiring Carryover",
		Description: "Carried-in days past their expiry window, including a partial expiry",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	// Find the scenario details
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	// Scenario ID exists but not in list (shouldn't happen)
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.System.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = "" // Clear current scenario on reset

	var err error
	switch req.ScenarioID {
	case "standard-team":
		err = h.loadStandardTeamScenario(ctx)
	case "approval-queue":
		err = h.loadApprovalQueueScenario(ctx)
	case "year-end":
		err = h.loadYearEndScenario(ctx)
	case "cross-year":
		err = h.loadCrossYearScenario(ctx)
	case "expiring-carryover":
		err = h.loadExpiringCarryoverScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	// Track the loaded scenario
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// SeedDemo loads the standard-team scenario into an empty store. Called at
// startup when SEED_DEMO is set; a store with employees is left alone.
func (h *Handler) SeedDemo(ctx context.Context) error {
	employees, err := h.Store.ListEmployees(ctx)
	if err != nil {
		return err
	}
	if len(employees) > 0 {
		return nil
	}

	if err := h.loadStandardTeamScenario(ctx); err != nil {
		return err
	}
	h.currentScenario = "standard-team"
	return nil
}

// ResetDatabase clears all data (for testing/demos).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.System.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadStandardTeamScenario(ctx context.Context) error {
	year := time.Now().Year()

	if err := h.seedTypes(ctx,
		leave.LeaveType{
			ID:                "annual",
			Name:              "Annual Leave",
			DefaultAnnualDays: leave.NewDays(25),
			CarryForward:      &leave.CarryForwardPolicy{MaxDays: leave.NewDays(5), ExpiryMonths: 3},
		},
		leave.LeaveType{
			ID:                "sick",
			Name:              "Sick Leave",
			DefaultAnnualDays: leave.NewDays(10),
		},
	); err != nil {
		return err
	}

	if err := h.seedEmployees(ctx,
		leave.Employee{ID: "emp-001", Name: "Alice Johnson", Email: "alice@example.com",
			JoinedAt: time.Date(year-3, time.March, 15, 0, 0, 0, 0, time.UTC)},
		leave.Employee{ID: "emp-002", Name: "Ben Carter", Email: "ben@example.com",
			JoinedAt: time.Date(year-1, time.September, 1, 0, 0, 0, 0, time.UTC)},
		leave.Employee{ID: "emp-003", Name: "Carol Davis", Email: "carol@example.com",
			JoinedAt: time.Date(year-2, time.June, 20, 0, 0, 0, 0, time.UTC)},
		leave.Employee{ID: "mgr-001", Name: "Dana Lee", Email: "dana@example.com",
			JoinedAt: time.Date(year-5, time.January, 10, 0, 0, 0, 0, time.UTC)},
	); err != nil {
		return err
	}

	h.Calendar.Add(leave.Holiday{Date: leave.NewDate(year, time.January, 1), Name: "New Year's Day"})
	h.Calendar.Add(leave.Holiday{Date: leave.NewDate(year, time.December, 25), Name: "Christmas Day"})

	if _, err := h.Engine.GrantAnnual(ctx, year); err != nil {
		return err
	}

	// Alice took a week in March
	start := firstMonday(year, time.March)
	req, err := h.Workflow.Submit(ctx, "emp-001", "annual", start, start.AddDays(4), "Spring break")
	if err != nil {
		return err
	}
	if _, err := h.Workflow.Approve(ctx, req.ID, "mgr-001", ""); err != nil {
		return err
	}

	// Ben is waiting on an October request
	start = firstMonday(year, time.October)
	if _, err := h.Workflow.Submit(ctx, "emp-002", "annual", start, start.AddDays(2), "Hiking trip"); err != nil {
		return err
	}

	// Carol's June request was rejected
	start = firstMonday(year, time.June)
	req, err = h.Workflow.Submit(ctx, "emp-003", "annual", start, start.AddDays(1), "Long weekend")
	if err != nil {
		return err
	}
	if _, err := h.Workflow.Reject(ctx, req.ID, "mgr-001", "Release week, need coverage"); err != nil {
		return err
	}

	return nil
}

func (h *Handler) loadApprovalQueueScenario(ctx context.Context) error {
	year := time.Now().Year()

	if err := h.seedTypes(ctx, leave.LeaveType{
		ID:                "annual",
		Name:              "Annual Leave",
		DefaultAnnualDays: leave.NewDays(25),
		CarryForward:      &leave.CarryForwardPolicy{MaxDays: leave.NewDays(5), ExpiryMonths: 3},
	}); err != nil {
		return err
	}

	if err := h.seedEmployees(ctx,
		leave.Employee{ID: "emp-001", Name: "Alice Johnson", Email: "alice@example.com",
			JoinedAt: time.Date(year-3, time.March, 15, 0, 0, 0, 0, time.UTC)},
		leave.Employee{ID: "emp-002", Name: "Ben Carter", Email: "ben@example.com",
			JoinedAt: time.Date(year-1, time.September, 1, 0, 0, 0, 0, time.UTC)},
		leave.Employee{ID: "emp-003", Name: "Carol Davis", Email: "carol@example.com",
			JoinedAt: time.Date(year-2, time.June, 20, 0, 0, 0, 0, time.UTC)},
	); err != nil {
		return err
	}

	if _, err := h.Engine.GrantAnnual(ctx, year); err != nil {
		return err
	}

	pending := []struct {
		employee leave.EmployeeID
		month    time.Month
		days     int
		comments string
	}{
		{"emp-001", time.September, 5, "Wedding anniversary trip"},
		{"emp-002", time.September, 1, "Moving day"},
		{"emp-003", time.October, 3, "Family visit"},
		{"emp-001", time.November, 2, "Conference travel"},
	}
	for _, p := range pending {
		start := firstMonday(year, p.month)
		if _, err := h.Workflow.Submit(ctx, p.employee, "annual", start, start.AddDays(p.days-1), p.comments); err != nil {
			return err
		}
	}

	return nil
}

func (h *Handler) loadYearEndScenario(ctx context.Context) error {
	year := time.Now().Year()
	prevYear := year - 1

	if err := h.seedTypes(ctx, leave.LeaveType{
		ID:                "annual",
		Name:              "Annual Leave",
		DefaultAnnualDays: leave.NewDays(25),
		CarryForward:      &leave.CarryForwardPolicy{MaxDays: leave.NewDays(10), ExpiryMonths: 3},
	}); err != nil {
		return err
	}

	if err := h.seedEmployees(ctx,
		leave.Employee{ID: "emp-001", Name: "Alice Johnson", Email: "alice@example.com",
			JoinedAt: time.Date(prevYear-2, time.April, 1, 0, 0, 0, 0, time.UTC)},
	); err != nil {
		return err
	}

	// Last year: 25 granted, 13 taken, 12 left over
	if _, err := h.Engine.GrantAnnual(ctx, prevYear); err != nil {
		return err
	}

	start := firstMonday(prevYear, time.July)
	if err := h.approvedLeave(ctx, "emp-001", "annual", start, start.AddDays(11), "Summer vacation"); err != nil {
		return err
	}
	start = firstMonday(prevYear, time.November)
	if err := h.approvedLeave(ctx, "emp-001", "annual", start, start.AddDays(2), "Thanksgiving"); err != nil {
		return err
	}

	// New year: fresh grant plus the capped carryover, min(12, 10) = 10
	if _, err := h.Engine.GrantAnnual(ctx, year); err != nil {
		return err
	}
	if _, err := h.Engine.ApplyCarryForward(ctx, "emp-001", "annual", prevYear, year); err != nil {
		return err
	}

	return nil
}

func (h *Handler) loadCrossYearScenario(ctx context.Context) error {
	year := time.Now().Year()

	if err := h.seedTypes(ctx, leave.LeaveType{
		ID:                "annual",
		Name:              "Annual Leave",
		DefaultAnnualDays: leave.NewDays(25),
		CarryForward:      &leave.CarryForwardPolicy{MaxDays: leave.NewDays(5), ExpiryMonths: 3},
	}); err != nil {
		return err
	}

	if err := h.seedEmployees(ctx,
		leave.Employee{ID: "emp-001", Name: "Alice Johnson", Email: "alice@example.com",
			JoinedAt: time.Date(year-3, time.March, 15, 0, 0, 0, 0, time.UTC)},
	); err != nil {
		return err
	}

	for _, y := range []int{year, year + 1} {
		if _, err := h.Engine.GrantAnnual(ctx, y); err != nil {
			return err
		}
	}

	// Spans December and January, so the ledger holds one reservation in
	// each year's balance
	start := leave.NewDate(year, time.December, 29)
	end := leave.NewDate(year+1, time.January, 9)
	req, err := h.Workflow.Submit(ctx, "emp-001", "annual", start, end, "Year-end holidays")
	if err != nil {
		return err
	}
	if _, err := h.Workflow.Approve(ctx, req.ID, "admin", ""); err != nil {
		return err
	}

	return nil
}

func (h *Handler) loadExpiringCarryoverScenario(ctx context.Context) error {
	year := time.Now().Year()
	prevYear := year - 1

	if err := h.seedTypes(ctx, leave.LeaveType{
		ID:                "annual",
		Name:              "Annual Leave",
		DefaultAnnualDays: leave.NewDays(25),
		CarryForward:      &leave.CarryForwardPolicy{MaxDays: leave.NewDays(8), ExpiryMonths: 3},
	}); err != nil {
		return err
	}

	if err := h.seedEmployees(ctx,
		leave.Employee{ID: "emp-001", Name: "Alice Johnson", Email: "alice@example.com",
			JoinedAt: time.Date(prevYear-3, time.March, 15, 0, 0, 0, 0, time.UTC)},
		leave.Employee{ID: "emp-002", Name: "Ben Carter", Email: "ben@example.com",
			JoinedAt: time.Date(prevYear-1, time.September, 1, 0, 0, 0, 0, time.UTC)},
	); err != nil {
		return err
	}

	// Last year: Alice left 5 unused days, Ben left all 25
	if _, err := h.Engine.GrantAnnual(ctx, prevYear); err != nil {
		return err
	}
	start := firstMonday(prevYear, time.August)
	if err := h.approvedLeave(ctx, "emp-001", "annual", start, start.AddDays(25), "Sabbatical month"); err != nil {
		return err
	}

	// Carry into the new year: Alice 5, Ben capped at 8
	if _, err := h.Engine.GrantAnnual(ctx, year); err != nil {
		return err
	}
	if _, err := h.Engine.RunYearEnd(ctx, prevYear); err != nil {
		return err
	}

	// Ben consumes 3 of his 8 carried days before the cutoff
	start = firstMonday(year, time.February)
	if err := h.approvedLeave(ctx, "emp-002", "annual", start, start.AddDays(2), "Ski trip"); err != nil {
		return err
	}

	// Sweep as of July 1st, past the April 1st cutoff. Alice spent nothing
	// and loses all 5 carried days; Ben loses the 5 he did not use in time
	asOf := leave.StartOfYear(year).AddMonths(6)
	if _, err := h.Engine.ExpireYear(ctx, year, asOf); err != nil {
		return err
	}

	return nil
}

// =============================================================================
// SEEDING HELPERS
// =============================================================================

func (h *Handler) seedTypes(ctx context.Context, types ...leave.LeaveType) error {
	for _, lt := range types {
		if _, err := h.Registry.Register(ctx, lt); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedEmployees(ctx context.Context, employees ...leave.Employee) error {
	for _, emp := range employees {
		if err := h.Store.SaveEmployee(ctx, emp); err != nil {
			return err
		}
	}
	return nil
}

// approvedLeave submits a request and immediately approves it.
func (h *Handler) approvedLeave(ctx context.Context, employeeID leave.EmployeeID, typeID leave.LeaveTypeID, start, end leave.Date, comments string) error {
	req, err := h.Workflow.Submit(ctx, employeeID, typeID, start, end, comments)
	if err != nil {
		return err
	}
	_, err = h.Workflow.Approve(ctx, req.ID, "admin", "")
	return err
}

// firstMonday returns the first Monday of the given month.
func firstMonday(year int, month time.Month) leave.Date {
	d := leave.NewDate(year, month, 1)
	for d.Weekday() != time.Monday {
		d = d.AddDays(1)
	}
	return d
}
