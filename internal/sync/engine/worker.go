package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/campuskit/feedersync/internal/feeder"
	"github.com/campuskit/feedersync/internal/store"
	"github.com/campuskit/feedersync/internal/sync/executor"
)

// recordJob builds the executor job for one fetched record. The job maps,
// resolves dependencies, and upserts; its outcome settles the run counters.
func (e *Engine) recordJob(tenantID, runID string, domain *Domain, rec feeder.Record) executor.Job {
	return func(ctx context.Context) executor.Result {
		return e.processRecord(ctx, tenantID, runID, domain, rec)
	}
}

func (e *Engine) processRecord(
	ctx context.Context, tenantID, runID string, domain *Domain, rec feeder.Record,
) (result executor.Result) {
	logger := e.logger.With("tenant", tenantID, "kind", domain.Kind, "run", runID)
	errMsg := ""

	// Settle success and failure against the progress row even when the
	// record panics mid-flight. Skips never advance the counters.
	defer func() {
		if r := recover(); r != nil {
			errMsg = fmt.Sprintf("record processing panicked: %v", r)
			result = executor.ResultFailed
			logger.Error("record processing panicked", "panic", r)
		}
		if result == executor.ResultSkipped {
			return
		}

		success := result == executor.ResultSuccess
		reportCtx := context.WithoutCancel(ctx)
		if err := e.runs.Increment(reportCtx, runID, success, errMsg); err != nil {
			logger.Error("failed to report record outcome", "error", err)
		}
		e.metrics.RecordProcessed(reportCtx, tenantID, domain.Kind, success)
	}()

	entity, err := domain.Mapper.MapRecord(rec)
	if err != nil {
		if errors.Is(err, ErrSkipRecord) {
			logger.Warn("skipping record", "reason", err.Error())
			return executor.ResultSkipped
		}
		errMsg = err.Error()
		logger.Error("failed to map record", "error", err)
		return executor.ResultFailed
	}

	for _, dep := range entity.Dependencies {
		id, err := e.entities.ResolveID(ctx, tenantID, dep)
		if err != nil {
			if errors.Is(err, store.ErrDependencyNotFound) {
				if dep.Required {
					logger.Warn("skipping record with unresolved dependency",
						"table", dep.Table, "external_id", dep.ExternalID)
					return executor.ResultSkipped
				}
				continue
			}
			errMsg = err.Error()
			logger.Error("failed to resolve dependency", "table", dep.Table, "error", err)
			return executor.ResultFailed
		}
		entity.Columns[dep.LocalColumn] = id
	}

	outcome, err := e.entities.Upsert(ctx, tenantID, entity)
	if err != nil {
		errMsg = err.Error()
		logger.Error("failed to upsert record",
			"table", entity.Table, "key", entity.KeyValue, "error", err)
		return executor.ResultFailed
	}

	if outcome.Created || outcome.Updated {
		logger.Debug("record applied",
			"table", entity.Table, "key", entity.KeyValue,
			"created", outcome.Created, "updated", outcome.Updated)
	}
	return executor.ResultSuccess
}
