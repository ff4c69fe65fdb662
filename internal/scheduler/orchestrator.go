package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/grimm00/pokedex-sub002/internal/generation"
	"github.com/grimm00/pokedex-sub002/internal/jobs"
)

// Enqueuer accepts seed jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req jobs.Request) (*jobs.Job, error)
}

// CompletenessChecker lists generations with missing species.
type CompletenessChecker interface {
	Incomplete(ctx context.Context) ([]generation.Status, error)
}

// StaleLister lists species ids not refreshed since a cutoff.
type StaleLister interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]int, error)
}

// Orchestrator manages the periodic refresh tasks: topping up incomplete
// generations and re-fetching stale records.
type Orchestrator struct {
	queue  Enqueuer
	checks CompletenessChecker
	stale  StaleLister
	config *Config
	log    *slog.Logger

	mu               sync.Mutex
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	running          bool
	lastCompleteness time.Time
	lastStale        time.Time
}

// Config holds scheduler configuration
type Config struct {
	CompletenessInterval time.Duration // Default: 6h
	StaleRefreshHour     int           // Default: 3 (3 AM)
	StaleAfter           time.Duration // Default: 7 days
	StaleBatchLimit      int           // Default: 200
	EnableCompleteness   bool          // Default: true
	EnableStaleRefresh   bool          // Default: true
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() *Config {
	return &Config{
		CompletenessInterval: 6 * time.Hour,
		StaleRefreshHour:     3,
		StaleAfter:           7 * 24 * time.Hour,
		StaleBatchLimit:      200,
		EnableCompleteness:   true,
		EnableStaleRefresh:   true,
	}
}

// NewOrchestrator creates a new scheduler orchestrator
func NewOrchestrator(queue Enqueuer, checks CompletenessChecker, stale StaleLister, config *Config, logger *slog.Logger) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		queue:  queue,
		checks: checks,
		stale:  stale,
		config: config,
		log:    logger.With("component", "scheduler"),
	}
}

// Start launches the enabled tasks and returns immediately.
func (o *Orchestrator) Start(ctx context.Context) {
	o.log.Info("scheduler starting",
		"completeness", o.config.EnableCompleteness,
		"completeness_interval", o.config.CompletenessInterval,
		"stale_refresh", o.config.EnableStaleRefresh,
		"stale_refresh_hour", o.config.StaleRefreshHour,
		"stale_after", o.config.StaleAfter)

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.running = true
	o.mu.Unlock()

	if o.config.EnableCompleteness && o.config.CompletenessInterval > 0 {
		o.wg.Add(1)
		go o.runCompletenessChecks(ctx)
	}

	if o.config.EnableStaleRefresh && o.config.StaleAfter > 0 {
		o.wg.Add(1)
		go o.runStaleRefresh(ctx)
	}
}

// Stop cancels all tasks and waits for them to return.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.running = false
	o.mu.Unlock()

	o.wg.Wait()
	o.log.Info("✓ scheduler stopped")
}

func (o *Orchestrator) runCompletenessChecks(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.config.CompletenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.CheckCompleteness(ctx)
		}
	}
}

// CheckCompleteness queues a seed job for every incomplete generation and
// reports how many were queued.
func (o *Orchestrator) CheckCompleteness(ctx context.Context) int {
	o.mark(&o.lastCompleteness)
	incomplete, err := o.checks.Incomplete(ctx)
	if err != nil {
		o.log.Error("completeness check failed", "error", err)
		return 0
	}

	queued := 0
	for _, g := range incomplete {
		_, err := o.queue.Enqueue(ctx, jobs.Request{Generation: g.Index, Source: "scheduler"})
		if err != nil {
			o.log.Warn("failed to queue generation", "generation", g.Index, "error", err)
			continue
		}
		queued++
		o.log.Info("queued incomplete generation",
			"generation", g.Index,
			"observed", g.ObservedCount,
			"expected", g.ExpectedCount)
	}
	return queued
}

func (o *Orchestrator) runStaleRefresh(ctx context.Context) {
	defer o.wg.Done()

	for {
		now := time.Now()
		nextRun := time.Date(now.Year(), now.Month(), now.Day(), o.config.StaleRefreshHour, 0, 0, 0, now.Location())
		if now.After(nextRun) {
			nextRun = nextRun.Add(24 * time.Hour)
		}
		o.log.Debug("next stale refresh", "at", nextRun.Format(time.DateTime), "in", time.Until(nextRun).Round(time.Second))

		timer := time.NewTimer(time.Until(nextRun))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			o.RefreshStale(ctx)
		}
	}
}

// RefreshStale queues a forced refresh of records older than StaleAfter and
// returns the number of ids queued.
func (o *Orchestrator) RefreshStale(ctx context.Context) int {
	o.mark(&o.lastStale)
	cutoff := time.Now().Add(-o.config.StaleAfter)
	ids, err := o.stale.ListStale(ctx, cutoff, o.config.StaleBatchLimit)
	if err != nil {
		o.log.Error("stale lookup failed", "error", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	if _, err := o.queue.Enqueue(ctx, jobs.Request{IDs: ids, Force: true, Source: "scheduler"}); err != nil {
		o.log.Warn("failed to queue stale refresh", "count", len(ids), "error", err)
		return 0
	}
	o.log.Info("✓ queued stale refresh", "count", len(ids), "cutoff", cutoff.Format(time.RFC3339))
	return len(ids)
}

func (o *Orchestrator) mark(at *time.Time) {
	o.mu.Lock()
	*at = time.Now().UTC()
	o.mu.Unlock()
}

// Status is a snapshot of the scheduler for the admin API.
type Status struct {
	Running               bool       `json:"running"`
	CompletenessEnabled   bool       `json:"completeness_enabled"`
	CompletenessInterval  string     `json:"completeness_interval"`
	LastCompletenessCheck *time.Time `json:"last_completeness_check,omitempty"`
	StaleRefreshEnabled   bool       `json:"stale_refresh_enabled"`
	StaleRefreshHour      int        `json:"stale_refresh_hour"`
	StaleAfter            string     `json:"stale_after"`
	LastStaleRefresh      *time.Time `json:"last_stale_refresh,omitempty"`
}

// GetStatus returns current scheduler status
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		Running:              o.running,
		CompletenessEnabled:  o.config.EnableCompleteness,
		CompletenessInterval: o.config.CompletenessInterval.String(),
		StaleRefreshEnabled:  o.config.EnableStaleRefresh,
		StaleRefreshHour:     o.config.StaleRefreshHour,
		StaleAfter:           o.config.StaleAfter.String(),
	}
	if !o.lastCompleteness.IsZero() {
		at := o.lastCompleteness
		st.LastCompletenessCheck = &at
	}
	if !o.lastStale.IsZero() {
		at := o.lastStale
		st.LastStaleRefresh = &at
	}
	return st
}
