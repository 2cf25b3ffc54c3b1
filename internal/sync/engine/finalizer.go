package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/campuskit/feedersync/internal/sync/executor"
	"github.com/campuskit/feedersync/internal/sync/run"
)

// Finalize reconciles the latest active run for a tenant and kind against
// the executor's authoritative batch counters. No active run is a no-op.
func (e *Engine) Finalize(ctx context.Context, tenantID, kind string) error {
	r, err := e.runs.LatestActive(ctx, tenantID, kind)
	if err != nil {
		if errors.Is(err, run.ErrRunNotFound) {
			return nil
		}
		return err
	}
	return e.finalizeRun(ctx, r)
}

func (e *Engine) finalizeRun(ctx context.Context, r *run.Run) error {
	logger := e.logger.With("tenant", r.TenantID, "kind", r.SyncKind, "run", r.RunID)

	// No handle yet means fetch or dispatch is still in flight
	if r.BatchHandle == "" {
		return nil
	}

	status, err := e.exec.Status(r.BatchHandle)
	if err != nil {
		if errors.Is(err, executor.ErrBatchNotFound) {
			return e.failLostBatch(ctx, r, logger)
		}
		return fmt.Errorf("failed to query batch status: %w", err)
	}

	if !status.Finished {
		logger.Debug("batch still running, reconciliation skipped",
			"handle", r.BatchHandle)
		return nil
	}

	// The executor's counters are authoritative: they cover records that
	// settled without reaching the progress row, skips included.
	totals := run.FinalTotals{
		Processed: status.TotalJobs,
		Succeeded: status.TotalJobs - status.FailedJobs,
		Failed:    status.FailedJobs,
	}
	terminal := run.StatusCompleted
	errMsg := ""
	if status.FailedJobs > 0 {
		terminal = run.StatusFailed
		errMsg = fmt.Sprintf("%d of %d records failed", status.FailedJobs, status.TotalJobs)
	}
	summary := run.Summary{
		"total":   status.TotalJobs,
		"failed":  status.FailedJobs,
		"skipped": status.SkippedJobs,
	}

	committed, err := e.runs.Finalize(ctx, r.RunID, terminal, totals, errMsg, summary)
	if err != nil {
		return err
	}
	if !committed {
		// Another finalize pass, or a cancellation, won the transition
		return nil
	}

	e.metrics.RunFinished(ctx, r.TenantID, r.SyncKind, terminal == run.StatusCompleted, elapsedSince(r.StartedAt))
	logger.Info("run reconciled",
		"status", terminal, "processed", totals.Processed,
		"failed", totals.Failed, "skipped", status.SkippedJobs)
	return nil
}

// failLostBatch terminates a run whose batch bookkeeping no longer exists,
// typically after a process restart. Pollers must still reach a terminal
// state; the live counters are kept as the best available totals.
func (e *Engine) failLostBatch(ctx context.Context, r *run.Run, logger *slog.Logger) error {
	totals := run.FinalTotals{
		Processed: r.Processed,
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
	}
	committed, err := e.runs.Finalize(ctx, r.RunID, run.StatusFailed, totals,
		"batch bookkeeping lost, run cannot be reconciled", nil)
	if err != nil {
		return err
	}
	if committed {
		e.metrics.RunFinished(ctx, r.TenantID, r.SyncKind, false, elapsedSince(r.StartedAt))
		logger.Warn("run failed: batch handle unknown", "handle", r.BatchHandle)
	}
	return nil
}

// Sweeper periodically reconciles every active run. The interval is
// jittered so multiple instances do not finalize in lockstep.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
	stopped  chan struct{}
}

// NewSweeper creates a sweeper over the engine's run store
func NewSweeper(e *Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:   e,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the sweep loop
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.stopped)
		s.logger.Info("finalizer sweeper started", "interval", s.interval)

		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case <-time.After(s.jitteredInterval()):
				s.sweep(ctx)
			}
		}
	}()
}

// Stop ends the sweep loop and waits for the current pass to finish
func (s *Sweeper) Stop() {
	close(s.done)
	<-s.stopped
}

func (s *Sweeper) sweep(ctx context.Context) {
	active, err := s.engine.runs.ListActive(ctx)
	if err != nil {
		s.logger.Error("failed to list active runs", "error", err)
		return
	}

	for _, r := range active {
		if err := s.engine.finalizeRun(ctx, r); err != nil {
			s.logger.Error("failed to reconcile run",
				"tenant", r.TenantID, "kind", r.SyncKind, "run", r.RunID, "error", err)
		}
	}
}

// jitteredInterval spreads ticks across ±20% of the base interval
func (s *Sweeper) jitteredInterval() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(s.interval) / 5))
	if rand.Intn(2) == 0 {
		return s.interval - jitter
	}
	return s.interval + jitter
}
