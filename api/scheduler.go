/*
scheduler.go - Background job scheduler

PURPOSE:
  Runs the recurring ledger jobs on cron schedules:
  - Annual grant: seeds the new year's allocations (January 1st)
  - Year-end carry-forward: moves unused days into the new year
  - Expiry sweep: removes carried-in days past their window (monthly)

DESIGN:
  - robfig/cron with standard 5-field specs, evaluated in UTC
  - All three jobs are idempotent, so a repeated or overlapping run is a
    no-op: the grant skips already-allocated balances and the transfer
    keeps one record per (employee, type, year)
  - Job failures are logged and retried on the next tick, never fatal

CONFIGURATION:
  Specs come from SCHEDULE_* environment variables, see config/config.go.

USAGE:
  sched := NewScheduler(sys.Engine, cfg.Scheduler, logger)
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - leave/carryforward.go: GrantAnnual, RunYearEnd, ExpireYear
  - config/config.go: Schedule configuration
*/
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/leave"
)

// Scheduler runs the recurring ledger jobs.
type Scheduler struct {
	cron   *cron.Cron
	engine *leave.CarryForwardEngine
	log    *slog.Logger
}

// NewScheduler creates a scheduler with all jobs registered. An invalid
// spec is logged and skipped so one bad entry cannot block the others.
func NewScheduler(engine *leave.CarryForwardEngine, cfg config.SchedulerConfig, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}

	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		engine: engine,
		log:    log,
	}
	s.registerJobs(cfg)
	return s
}

func (s *Scheduler) registerJobs(cfg config.SchedulerConfig) {
	if _, err := s.cron.AddFunc(cfg.AnnualGrantSpec, s.runAnnualGrant); err != nil {
		s.log.Error("failed to register annual grant job", "spec", cfg.AnnualGrantSpec, "error", err)
	}
	if _, err := s.cron.AddFunc(cfg.CarryForwardSpec, s.runCarryForward); err != nil {
		s.log.Error("failed to register carry-forward job", "spec", cfg.CarryForwardSpec, "error", err)
	}
	if _, err := s.cron.AddFunc(cfg.ExpirySweepSpec, s.runExpirySweep); err != nil {
		s.log.Error("failed to register expiry sweep job", "spec", cfg.ExpirySweepSpec, "error", err)
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

// IsRunning reports whether any jobs are registered.
func (s *Scheduler) IsRunning() bool {
	return len(s.cron.Entries()) > 0
}

// runAnnualGrant seeds the current year's allocations from type defaults.
func (s *Scheduler) runAnnualGrant() {
	ctx := context.Background()
	year := time.Now().UTC().Year()

	granted, err := s.engine.GrantAnnual(ctx, year)
	if err != nil {
		s.log.Error("annual grant failed", "year", year, "error", err)
		return
	}
	s.log.Info("annual grant completed", "year", year, "granted", granted)
}

// runCarryForward moves the previous year's unused days forward.
func (s *Scheduler) runCarryForward() {
	ctx := context.Background()
	fromYear := time.Now().UTC().Year() - 1

	report, err := s.engine.RunYearEnd(ctx, fromYear)
	if err != nil {
		s.log.Error("year-end carry-forward failed", "from_year", fromYear, "error", err)
		return
	}
	s.log.Info("year-end carry-forward completed",
		"from_year", report.FromYear,
		"to_year", report.ToYear,
		"applied", report.Applied,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"days", report.TotalDays.Float64())
}

// runExpirySweep expires carried-in days whose retention window has closed.
func (s *Scheduler) runExpirySweep() {
	ctx := context.Background()
	year := time.Now().UTC().Year()

	expired, err := s.engine.ExpireYear(ctx, year, leave.Today())
	if err != nil {
		s.log.Error("expiry sweep failed", "year", year, "error", err)
		return
	}
	if !expired.IsZero() {
		s.log.Info("expiry sweep completed", "year", year, "expired_days", expired.Float64())
	}
}
