// Package service exposes the caller-facing sync operations: asynchronous
// submission, polling, and cancellation.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/campuskit/feedersync/internal/feeder"
	"github.com/campuskit/feedersync/internal/logger"
	"github.com/campuskit/feedersync/internal/sync/engine"
	"github.com/campuskit/feedersync/internal/sync/run"
)

// SyncService is the interface consumed by the HTTP layer
type SyncService interface {
	// Submit validates the request, dispatches the run asynchronously, and
	// returns the run identifier immediately. Validation failures are
	// synchronous; no run row exists when Submit returns an error.
	Submit(ctx context.Context, tenantID, kind string, params engine.Params) (string, error)

	// GetRun returns the run snapshot for polling
	GetRun(ctx context.Context, runID string) (*run.Run, error)

	// Cancel stops an active run. The returned bool is false when the run
	// was already terminal.
	Cancel(ctx context.Context, runID string) (bool, error)

	// Kinds lists the sync kinds accepted by Submit
	Kinds() []string
}

type defaultService struct {
	engine   *engine.Engine
	runs     run.Store
	registry engine.Registry
}

// New creates the sync service
func New(e *engine.Engine, runs run.Store, registry engine.Registry) SyncService {
	return &defaultService{engine: e, runs: runs, registry: registry}
}

func (s *defaultService) Submit(ctx context.Context, tenantID, kind string, params engine.Params) (string, error) {
	if err := s.engine.Validate(tenantID, kind); err != nil {
		return "", err
	}

	// Reject a bad filter here, while the caller is still on the line. The
	// engine re-checks, but by then the submission has already been accepted.
	filter, err := feeder.SanitizeFilter(params.Filter)
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrInvalidFilter, err)
	}
	params.Filter = filter

	if params.RunID == "" {
		params.RunID = uuid.NewString()
	}
	runID := params.RunID

	// Dispatch detached from the request context: the run outlives the
	// HTTP request that submitted it.
	go func() {
		runCtx := context.WithoutCancel(ctx)
		if _, err := s.engine.Run(runCtx, tenantID, kind, params); err != nil {
			logger.Errorf("sync run failed: tenant=%s kind=%s run=%s: %v", tenantID, kind, runID, err)
		}
	}()

	logger.Infof("sync run submitted: tenant=%s kind=%s run=%s", tenantID, kind, runID)
	return runID, nil
}

func (s *defaultService) GetRun(ctx context.Context, runID string) (*run.Run, error) {
	return s.runs.Get(ctx, runID)
}

func (s *defaultService) Cancel(ctx context.Context, runID string) (bool, error) {
	return s.engine.Cancel(ctx, runID)
}

func (s *defaultService) Kinds() []string {
	return s.registry.Kinds()
}
