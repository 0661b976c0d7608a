/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from environment (.env supported)
  2. Build the structured logger
  3. Assemble the system (store, ledger, workflow, engine)
  4. Optionally seed demo data
  5. Start the job scheduler and HTTP server

ENVIRONMENT:
  APP_PORT               HTTP server port (default: 8080)
  APP_ENV                development | production
  LOG_LEVEL              debug | info | warn | error
  STORE_DRIVER           memory | sqlite | postgres (default: sqlite)
  SQLITE_PATH            SQLite database path, ":memory:" for in-memory
  DATABASE_URL           Postgres DSN (postgres driver only)
  SCHEDULER_ENABLED      Run the cron jobs (default: true)
  SCHEDULE_*             Cron specs, see config/config.go
  SEED_DEMO              Load the standard-team scenario into an empty store
  CORS_ALLOWED_ORIGINS   Comma-separated origins, empty allows all

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, wait for running jobs
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with file database
  SQLITE_PATH=./data/leave.db ./server

  # Run against Postgres
  STORE_DRIVER=postgres DATABASE_URL=postgres://... ./server

  # Run with demo data on a different port
  APP_PORT=3000 SEED_DEMO=true ./server

SEE ALSO:
  - api/server.go: Router configuration
  - factory/system.go: Dependency wiring
  - config/config.go: Configuration loading
*/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/httplog/v3"

	"github.com/warp/leave-ledger/api"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/factory"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys, err := factory.New(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to assemble system", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(sys)

	if cfg.App.SeedDemo {
		if err := handler.SeedDemo(ctx); err != nil {
			logger.Warn("demo seed failed", "error", err)
		}
	}

	var sched *api.Scheduler
	if cfg.Scheduler.Enabled {
		sched = api.NewScheduler(sys.Engine, cfg.Scheduler, logger)
		sched.Start()
	}

	router := api.NewRouter(handler, logger, *cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			"port", cfg.App.Port,
			"driver", cfg.Store.Driver,
			"env", cfg.App.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if sched != nil {
		sched.Stop()
	}
	if err := sys.Close(); err != nil {
		logger.Error("store close failed", "error", err)
	}

	logger.Info("server stopped")
}

// newLogger builds the application-wide slog logger. The ECS field mapping
// is shared with the HTTP request logger so log lines stay uniform.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.App.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	logFormat := httplog.SchemaECS.Concise(false)
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", "leave-ledger"),
		slog.String("env", cfg.App.Env),
	)
}
