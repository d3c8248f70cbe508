/*
scheduler.go - Automated yearly grant issuance

PURPOSE:
  Periodically makes sure every active user holds a grant for the current
  year. Once the calendar rolls over, the first tick issues the new year's
  grant sized by years of service.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Issuance is idempotent: users who already hold the year's grant are
    skipped by the service
  - Users who join after the current year ends are skipped

CONFIGURATION:
  - Interval: How often to check (GRANT_SCHEDULER_INTERVAL, default 1h)
  - Enabled: Whether scheduler is active (GRANT_SCHEDULER_ENABLED)

USAGE:
  scheduler := NewGrantScheduler(svc, repo, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: IssueGrant endpoint (manual issuance)
  - leave/entitlement.go: AnnualGrant
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/leave-ledger/leave"
)

// GrantScheduler issues the current year's grants in the background.
type GrantScheduler struct {
	Service  *leave.Service
	Users    leave.UserStore
	Interval time.Duration
	Enabled  bool
	Logger   *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// GrantRun summarizes one pass.
type GrantRun struct {
	Year    int
	Issued  int
	Skipped int
	Failed  int
}

// NewGrantScheduler creates a scheduler. The service clock decides the year.
func NewGrantScheduler(svc *leave.Service, users leave.UserStore, logger *slog.Logger) *GrantScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantScheduler{
		Service:  svc,
		Users:    users,
		Interval: 1 * time.Hour,
		Enabled:  true,
		Logger:   logger.With("component", "grant_scheduler"),
	}
}

// Start begins the scheduler.
func (gs *GrantScheduler) Start() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if !gs.Enabled {
		gs.Logger.Info("disabled, not starting")
		return
	}
	if gs.ticker != nil {
		return
	}

	gs.ticker = time.NewTicker(gs.Interval)
	gs.stop = make(chan struct{})
	gs.wg.Add(1)

	go gs.run()

	gs.Logger.Info("started", "interval", gs.Interval.String())
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (gs *GrantScheduler) Stop() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if gs.ticker != nil {
		gs.ticker.Stop()
		close(gs.stop)
		gs.wg.Wait()
		gs.ticker = nil
		gs.Logger.Info("stopped")
	}
}

func (gs *GrantScheduler) run() {
	defer gs.wg.Done()

	// Run immediately on start
	gs.RunNow(context.Background())

	for {
		select {
		case <-gs.ticker.C:
			gs.RunNow(context.Background())
		case <-gs.stop:
			return
		}
	}
}

// RunNow performs one pass synchronously.
func (gs *GrantScheduler) RunNow(ctx context.Context) GrantRun {
	year := leave.Today(gs.Service.Clock).Year()
	run := GrantRun{Year: year}

	users, err := gs.Users.ListUsers(ctx)
	if err != nil {
		gs.Logger.ErrorContext(ctx, "list users failed", "error", err.Error())
		return run
	}

	for _, u := range users {
		if u.Status != leave.UserActive || u.JoinDate.After(leave.EndOfYear(year)) {
			run.Skipped++
			continue
		}
		_, created, err := gs.Service.IssueGrant(ctx, leave.AnnualGrant(u, year))
		switch {
		case err != nil:
			run.Failed++
			gs.Logger.ErrorContext(ctx, "issue grant failed", "user_id", u.ID, "year", year, "error", err.Error())
		case created:
			run.Issued++
		default:
			run.Skipped++
		}
	}

	if run.Issued > 0 || run.Failed > 0 {
		gs.Logger.InfoContext(ctx, "pass completed",
			"year", year, "issued", run.Issued, "skipped", run.Skipped, "failed", run.Failed)
	}
	return run
}
