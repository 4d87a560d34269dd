/*
scheduler.go - Automated monthly refresh scheduler

PURPOSE:
  Periodically runs the free-tier refresh so free accounts get their
  monthly allotment without an external cron. Each tick delegates to
  credits.Refresher, which is idempotent per calendar month, so the
  interval only needs to be comfortably shorter than a month.

CONFIGURATION:
  - CheckInterval: How often to run (default: 6 hours)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRefreshScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRefresh endpoint (manual trigger)
  - credits/refresh.go: Refresher
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"
)

// RefreshScheduler handles automated monthly free-tier refreshes.
type RefreshScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRefreshScheduler creates a new scheduler.
func NewRefreshScheduler(handler *Handler) *RefreshScheduler {
	return &RefreshScheduler{
		Handler:       handler,
		CheckInterval: 6 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *RefreshScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	log.Printf("[Scheduler] Started with check interval: %v", rs.CheckInterval)
}

// Stop stops the scheduler.
func (rs *RefreshScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *RefreshScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.refresh()

	for {
		select {
		case <-rs.ticker.C:
			rs.refresh()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RefreshScheduler) refresh() {
	ctx := context.Background()
	now := time.Now().UTC()

	summary, err := rs.Handler.Refresher.Run(ctx, now)
	if err != nil {
		log.Printf("[Scheduler] Refresh run failed: %v", err)
		return
	}

	if summary.Refreshed > 0 || summary.Failed > 0 {
		log.Printf("[Scheduler] Completed: scanned=%d refreshed=%d skipped=%d failed=%d",
			summary.Scanned, summary.Refreshed, summary.Skipped, summary.Failed)
	}
}

// RunNow triggers an immediate refresh (for testing/admin).
func (rs *RefreshScheduler) RunNow() {
	rs.refresh()
}

// GetNextRunTime returns when the next scheduled run will occur.
func (rs *RefreshScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(rs.CheckInterval)
}
