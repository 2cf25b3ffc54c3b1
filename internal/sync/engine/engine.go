package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/feedersync/internal/feeder"
	"github.com/campuskit/feedersync/internal/store"
	"github.com/campuskit/feedersync/internal/sync/executor"
	"github.com/campuskit/feedersync/internal/sync/run"
	"github.com/campuskit/feedersync/internal/telemetry"
)

// Engine coordinates sync runs: fetch, dispatch, and reconciliation
type Engine struct {
	registry Registry
	clients  feeder.ClientFactory
	runs     run.Store
	entities store.EntityStore
	exec     executor.Executor
	metrics  *telemetry.SyncMetrics
	logger   *slog.Logger

	pageSize     int
	fetchCeiling int
	fetchTimeout time.Duration
}

// Option configures an Engine
type Option func(*Engine)

// WithPageSize sets the fetch page size
func WithPageSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.pageSize = size
		}
	}
}

// WithFetchCeiling sets the hard cap on records fetched per run
func WithFetchCeiling(ceiling int) Option {
	return func(e *Engine) {
		if ceiling > 0 {
			e.fetchCeiling = ceiling
		}
	}
}

// WithFetchTimeout bounds the whole fetch stage of one run
func WithFetchTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.fetchTimeout = timeout
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithEngineLogger sets the engine's logger
func WithEngineLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates a sync engine
func New(
	registry Registry,
	clients feeder.ClientFactory,
	runs run.Store,
	entities store.EntityStore,
	exec executor.Executor,
	opts ...Option,
) (*Engine, error) {
	if registry == nil || clients == nil || runs == nil || entities == nil || exec == nil {
		return nil, fmt.Errorf("registry, client factory, run store, entity store, and executor are required")
	}

	e := &Engine{
		registry:     registry,
		clients:      clients,
		runs:         runs,
		entities:     entities,
		exec:         exec,
		logger:       slog.Default(),
		pageSize:     500,
		fetchCeiling: 50000,
		fetchTimeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		metrics, err := telemetry.NewSyncMetrics(nil)
		if err != nil {
			return nil, err
		}
		e.metrics = metrics
	}
	return e, nil
}

// Validate checks that a run for the tenant and kind could start: the kind
// is registered and the tenant has a usable source client. Submission paths
// call this synchronously before dispatching Run.
func (e *Engine) Validate(tenantID, kind string) error {
	if _, err := e.registry.Resolve(kind); err != nil {
		return err
	}
	if _, err := e.clients.ClientFor(tenantID); err != nil {
		return &SourceError{TenantID: tenantID, Kind: kind, Err: err}
	}
	return nil
}

// Run executes one sync run to the point of dispatch: fetch every record,
// create or resume the progress row, and submit the batch. Processing
// continues asynchronously on the executor; the finalizer commits the
// terminal state.
func (e *Engine) Run(ctx context.Context, tenantID, kind string, params Params) (string, error) {
	domain, err := e.registry.Resolve(kind)
	if err != nil {
		return "", err
	}

	client, err := e.clients.ClientFor(tenantID)
	if err != nil {
		return "", &SourceError{TenantID: tenantID, Kind: kind, Err: err}
	}

	filter, err := feeder.SanitizeFilter(params.Filter)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	runID := params.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	logger := e.logger.With("tenant", tenantID, "kind", kind, "run", runID)

	records, err := e.fetchAll(ctx, client, domain, filter)
	if err != nil {
		logger.Error("fetch stage failed", "error", err)
		return "", &FetchError{TenantID: tenantID, Kind: kind, Offset: len(records), Err: err}
	}

	if len(records) == 0 {
		logger.Info("no records to sync, completing run immediately")
		stored, err := e.runs.CreateCompleted(ctx, runID, tenantID, kind)
		if err != nil {
			return "", err
		}
		// A retried run may reuse a row left active by a crashed attempt.
		// Settle it through the guarded transition so it can't stay pending.
		// A row with a batch handle is still owned by the finalizer.
		if !stored.Status.Terminal() && stored.BatchHandle == "" {
			if _, err := e.runs.Finalize(ctx, runID, run.StatusCompleted, run.FinalTotals{}, "", nil); err != nil {
				return "", err
			}
		}
		return runID, nil
	}

	stored, created, err := e.runs.FindOrCreate(ctx, &run.Run{
		RunID:    runID,
		TenantID: tenantID,
		SyncKind: kind,
		Total:    len(records),
	})
	if err != nil {
		return "", err
	}
	if !created {
		if stored.Status.Terminal() {
			logger.Info("run already terminal, nothing to resume", "status", stored.Status)
			return runID, nil
		}
		if stored.BatchHandle != "" {
			logger.Info("run already dispatched, resuming by polling", "status", stored.Status)
			return runID, nil
		}
		// The row survived a crashed attempt that never dispatched. The
		// refetched record set is authoritative for this retry.
		if stored.Total != len(records) {
			if err := e.runs.UpdateTotal(ctx, runID, len(records)); err != nil {
				return "", err
			}
		}
	}

	jobs := make([]executor.Job, 0, len(records))
	for _, rec := range records {
		jobs = append(jobs, e.recordJob(tenantID, runID, domain, rec))
	}

	handle, err := e.exec.Submit(ctx, jobs)
	if err != nil {
		return "", fmt.Errorf("failed to submit sync batch: %w", err)
	}

	if err := e.runs.MarkProcessing(ctx, runID, handle); err != nil {
		return "", err
	}

	e.metrics.RunStarted(ctx, tenantID, kind)
	logger.Info("sync batch dispatched", "records", len(records), "handle", handle)
	return runID, nil
}

// fetchAll pages through the source until a short page, hasMore false, the
// configured ceiling, or the fetch timeout.
func (e *Engine) fetchAll(
	ctx context.Context, client feeder.Client, domain *Domain, filter string,
) ([]feeder.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	var records []feeder.Record
	offset := 0

	for {
		page, err := client.FetchPage(ctx, feeder.PageRequest{
			Resource: domain.Resource,
			Filter:   filter,
			Order:    domain.Order,
			Limit:    e.pageSize,
			Offset:   offset,
		})
		if err != nil {
			return records, err
		}

		records = append(records, page.Records...)
		offset += len(page.Records)

		if len(records) >= e.fetchCeiling {
			e.logger.Warn("fetch ceiling reached, stopping pagination",
				"resource", domain.Resource, "ceiling", e.fetchCeiling)
			return records[:e.fetchCeiling], nil
		}
		if !page.HasMore || len(page.Records) < e.pageSize {
			return records, nil
		}
	}
}

// Cancel flags the run's batch and commits the cancelled transition. The
// returned bool reports whether the run was still active.
func (e *Engine) Cancel(ctx context.Context, runID string) (bool, error) {
	r, err := e.runs.Get(ctx, runID)
	if err != nil {
		return false, err
	}
	if r.Status.Terminal() {
		return false, nil
	}

	if r.BatchHandle != "" {
		if err := e.exec.Cancel(r.BatchHandle); err != nil && !errors.Is(err, executor.ErrBatchNotFound) {
			return false, fmt.Errorf("failed to cancel batch: %w", err)
		}
	}

	cancelled, err := e.runs.MarkCancelled(ctx, runID)
	if err != nil {
		return false, err
	}
	if cancelled {
		e.metrics.RunFinished(ctx, r.TenantID, r.SyncKind, false, elapsedSince(r.StartedAt))
		e.logger.Info("run cancelled", "tenant", r.TenantID, "kind", r.SyncKind, "run", runID)
	}
	return cancelled, nil
}

func elapsedSince(startedAt *time.Time) time.Duration {
	if startedAt == nil {
		return 0
	}
	return time.Since(*startedAt)
}
