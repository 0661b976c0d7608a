/*
Package factory wires the leave system together.

PURPOSE:
  Builds the full service graph (store, ledger, registry, workflow,
  carry-forward engine, projections, holiday calendar) from configuration.
  Every entry point that needs the system assembled (the HTTP server, the
  scheduler, integration tests) goes through factory.New instead of wiring
  constructors by hand.

STORE DRIVERS:
  memory   - in-process maps, no durability. Tests and throwaway demos.
  sqlite   - embedded file database, the default. Single-node deployments.
  postgres - shared server database for multi-instance deployments.

USAGE:
  cfg, err := config.Load()
  ...
  sys, err := factory.New(ctx, cfg, logger)
  if err != nil {
      ...
  }
  defer sys.Close()

  req, err := sys.Workflow.Submit(ctx, employeeID, typeID, start, end, "")

SEE ALSO:
  - config/config.go: environment-driven configuration
  - cmd/server/main.go: production wiring
  - api/handlers.go: HTTP layer over the System
*/
package factory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/leave"
	memstore "github.com/warp/leave-ledger/leave/store"
	"github.com/warp/leave-ledger/store/postgres"
	"github.com/warp/leave-ledger/store/sqlite"
)

// =============================================================================
// SYSTEM
// =============================================================================

// System bundles every service the HTTP layer and the scheduler depend on.
type System struct {
	Store      leave.Store
	Ledger     *leave.Ledger
	Registry   *leave.Registry
	Workflow   *leave.Workflow
	Engine     *leave.CarryForwardEngine
	Projection *leave.Projection
	Calendar   *leave.StaticHolidays

	closer func() error
}

// New builds a System from configuration. The caller owns Close.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*System, error) {
	if log == nil {
		log = slog.Default()
	}

	st, closer, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	calendar := leave.NewStaticHolidays()
	ledger := leave.NewLedger(st, log)
	registry := leave.NewRegistry(st)

	return &System{
		Store:      st,
		Ledger:     ledger,
		Registry:   registry,
		Workflow:   leave.NewWorkflow(ledger, st, registry, &leave.WeekdayResolver{Holidays: calendar}, log),
		Engine:     leave.NewCarryForwardEngine(ledger, st, registry, log),
		Projection: leave.NewProjection(st, registry),
		Calendar:   calendar,
		closer:     closer,
	}, nil
}

// NewForStore builds a System over an already-open store. Tests use it to
// inject memory or failing stores without going through configuration.
func NewForStore(st leave.Store, log *slog.Logger) *System {
	if log == nil {
		log = slog.Default()
	}

	calendar := leave.NewStaticHolidays()
	ledger := leave.NewLedger(st, log)
	registry := leave.NewRegistry(st)

	return &System{
		Store:      st,
		Ledger:     ledger,
		Registry:   registry,
		Workflow:   leave.NewWorkflow(ledger, st, registry, &leave.WeekdayResolver{Holidays: calendar}, log),
		Engine:     leave.NewCarryForwardEngine(ledger, st, registry, log),
		Projection: leave.NewProjection(st, registry),
		Calendar:   calendar,
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (leave.Store, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return memstore.NewTxMemory(), nil, nil

	case "sqlite":
		if cfg.SQLitePath != ":memory:" {
			if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, nil, fmt.Errorf("create database directory: %w", err)
				}
			}
		}
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil

	case "postgres":
		st, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return st, func() error { st.Close(); return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Close releases the underlying store connection.
func (s *System) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// resetter is implemented by all three store backends.
type resetter interface {
	Reset(ctx context.Context) error
}

// Reset clears all persisted data. Scenario loading uses it; never expose it
// outside development environments.
func (s *System) Reset(ctx context.Context) error {
	r, ok := s.Store.(resetter)
	if !ok {
		return fmt.Errorf("store %T does not support reset", s.Store)
	}
	return r.Reset(ctx)
}
