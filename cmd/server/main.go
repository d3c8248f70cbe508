/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment
  2. Parse command-line flags (override the environment)
  3. Open the configured store (sqlite, bolt or memory)
  4. Create the leave service and API handler
  5. Start the grant scheduler when enabled
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: $PORT or 8080)
  -db       Database path (default: $DB_PATH or leave.db)
            Use ":memory:" with sqlite for an in-memory database
  -store    Store driver: sqlite, bolt or memory (default: $STORE_DRIVER)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (SERVER_SHUTDOWN_TIMEOUT)
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/leave.db"

  # Run with BoltDB
  ./server -store=bolt -db="./data/leave.bolt"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"

	"github.com/warp/leave-ledger/api"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/leave/store"
	"github.com/warp/leave-ledger/store/bolt"
	"github.com/warp/leave-ledger/store/sqlite"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}

	// Flags
	flag.IntVar(&cfg.Server.Port, "port", cfg.Server.Port, "HTTP server port")
	flag.StringVar(&cfg.Store.Path, "db", cfg.Store.Path, "database path")
	flag.StringVar(&cfg.Store.Driver, "store", cfg.Store.Driver, "store driver: sqlite, bolt or memory")
	flag.Parse()

	logger := config.NewLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	repo, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	noLeaveDay, err := cfg.Leave.Weekday()
	if err != nil {
		return err
	}
	svc := leave.NewService(repo, logger)
	svc.Validator = leave.NewRequestValidator(noLeaveDay)

	handler := api.NewHandler(svc, repo, logger)
	router := api.NewRouter(handler, cfg.CORS)

	scheduler := api.NewGrantScheduler(svc, repo, logger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Interval = cfg.Scheduler.Interval
	scheduler.Start()
	// Covers the listen-error path; Stop is idempotent.
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", server.Addr, "store", cfg.Store.Driver, "no_leave_day", noLeaveDay.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := shutdown(ctx, scheduler, server); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

type stopper interface{ Stop() }

type drainer interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops the scheduler, then drains HTTP connections.
func shutdown(ctx context.Context, scheduler stopper, server drainer) error {
	scheduler.Stop()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}
	return nil
}

func openStore(c config.StoreConfig) (leave.Repository, func() error, error) {
	switch c.Driver {
	case "sqlite":
		s, err := sqlite.New(c.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "bolt":
		s, err := bolt.New(c.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "memory":
		return store.NewMemory(), func() error { return nil }, nil
	}
	return nil, nil, errors.Newf("unknown store driver %q", c.Driver)
}
