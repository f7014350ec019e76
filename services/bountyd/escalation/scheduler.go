// Package escalation drives periodic bounty escalations. The scheduler is a
// single-flight loop: a tick that arrives while the previous scan is still
// running is skipped, so concurrent escalation attempts stay bounded no
// matter how slow the rails get.
package escalation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"bountybot/observability"
	"bountybot/services/bountyd/engine"
	"bountybot/services/bountyd/models"
)

// Escalator is the slice of the engine the scheduler depends on.
type Escalator interface {
	EscalateBounty(ctx context.Context, bountyID uint64, minInterval time.Duration) (*engine.EscalateResult, error)
}

// Lister is the slice of the ledger the scan depends on.
type Lister interface {
	ListEscalationEligible(ctx context.Context, cutoff time.Time, limit int) ([]models.Bounty, error)
}

// Config assembles a scheduler.
type Config struct {
	Engine   Escalator
	Store    Lister
	Interval time.Duration
	// BatchLimit caps how many bounties one scan escalates. Zero means no cap.
	BatchLimit int
	Logger     *slog.Logger
	Metrics    *observability.BountydMetrics
	Now        func() time.Time
}

// Scheduler escalates eligible bounties on a fixed cadence.
type Scheduler struct {
	engine     Escalator
	store      Lister
	interval   time.Duration
	batchLimit int
	logger     *slog.Logger
	metrics    *observability.BountydMetrics
	now        func() time.Time
	running    atomic.Bool
}

// DefaultInterval is the escalation cadence when none is configured.
const DefaultInterval = time.Hour

// NewScheduler constructs a scheduler with sane defaults.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.Bountyd()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Scheduler{
		engine:     cfg.Engine,
		store:      cfg.Store,
		interval:   interval,
		batchLimit: cfg.BatchLimit,
		logger:     logger,
		metrics:    metrics,
		now:        nowFn,
	}
}

// Run executes the scheduling loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s == nil || s.engine == nil || s.store == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single scan. Overlapping invocations are rejected; per-
// bounty failures are logged and do not abort the rest of the scan. Returns
// the number of bounties escalated.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("escalation scan still running, skipping tick")
		return 0
	}
	defer s.running.Store(false)

	start := s.now()
	cutoff := start.Add(-s.interval)
	bounties, err := s.store.ListEscalationEligible(ctx, cutoff, s.batchLimit)
	if err != nil {
		s.logger.Error("escalation scan query failed", "error", err)
		return 0
	}

	escalated := 0
	for _, bounty := range bounties {
		if ctx.Err() != nil {
			break
		}
		// The engine re-checks the interval under its own read, closing the
		// race between this scan's query and the escalation itself.
		result, err := s.engine.EscalateBounty(ctx, bounty.ID, s.interval)
		if err != nil {
			s.logger.Error("escalation failed",
				"bounty_id", bounty.ID,
				"repository", bounty.Repository,
				"error", err)
			continue
		}
		if result.Escalated {
			escalated++
		}
	}

	s.metrics.ObserveScan(s.now().Sub(start))
	s.logger.Info("escalation scan complete",
		"eligible", len(bounties),
		"escalated", escalated,
		"duration", s.now().Sub(start).String())
	return escalated
}
