package run

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store used by tests and single-node development
// mode. It applies the same conditional transition rules as the database
// implementation, guarded by a mutex instead of row-level atomicity.
type memStore struct {
	mu   sync.Mutex
	runs map[string]*Run
}

// NewMemoryStore creates an in-memory run store
func NewMemoryStore() Store {
	return &memStore{runs: make(map[string]*Run)}
}

func (m *memStore) FindOrCreate(_ context.Context, r *Run) (*Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.runs[r.RunID]; ok {
		return copyRun(existing), false, nil
	}

	now := time.Now()
	stored := &Run{
		ID:        uuid.New(),
		RunID:     r.RunID,
		TenantID:  r.TenantID,
		SyncKind:  r.SyncKind,
		Status:    StatusPending,
		Total:     r.Total,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.runs[r.RunID] = stored
	return copyRun(stored), true, nil
}

func (m *memStore) CreateCompleted(_ context.Context, runID, tenantID, syncKind string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.runs[runID]; ok {
		return copyRun(existing), nil
	}

	now := time.Now()
	stored := &Run{
		ID:          uuid.New(),
		RunID:       runID,
		TenantID:    tenantID,
		SyncKind:    syncKind,
		Status:      StatusCompleted,
		StartedAt:   &now,
		CompletedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.runs[runID] = stored
	return copyRun(stored), nil
}

func (m *memStore) MarkProcessing(_ context.Context, runID, batchHandle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok || r.Status != StatusPending {
		return ErrRunNotFound
	}

	now := time.Now()
	r.Status = StatusProcessing
	r.BatchHandle = batchHandle
	r.StartedAt = &now
	r.UpdatedAt = now
	return nil
}

func (m *memStore) UpdateTotal(_ context.Context, runID string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok || r.Status != StatusPending {
		return ErrRunNotFound
	}

	r.Total = total
	r.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) Increment(_ context.Context, runID string, success bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}

	r.Processed++
	if success {
		r.Succeeded++
	} else {
		r.Failed++
	}
	if errMsg != "" {
		r.ErrorMsg = errMsg
	}
	r.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) Finalize(
	_ context.Context, runID string, terminal Status, totals FinalTotals, errMsg string, summary Summary,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok {
		return false, ErrRunNotFound
	}
	if r.Status.Terminal() {
		return false, nil
	}

	now := time.Now()
	r.Status = terminal
	r.Processed = totals.Processed
	r.Succeeded = totals.Succeeded
	r.Failed = totals.Failed
	r.ErrorMsg = errMsg
	r.Summary = summary
	r.CompletedAt = &now
	r.UpdatedAt = now
	return true, nil
}

func (m *memStore) MarkCancelled(_ context.Context, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok {
		return false, ErrRunNotFound
	}
	if r.Status.Terminal() {
		return false, nil
	}

	now := time.Now()
	r.Status = StatusCancelled
	r.CompletedAt = &now
	r.UpdatedAt = now
	return true, nil
}

func (m *memStore) Get(_ context.Context, runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return copyRun(r), nil
}

func (m *memStore) LatestActive(_ context.Context, tenantID, syncKind string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *Run
	for _, r := range m.runs {
		if r.TenantID != tenantID || r.SyncKind != syncKind || r.Status.Terminal() {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrRunNotFound
	}
	return copyRun(latest), nil
}

func (m *memStore) ListActive(_ context.Context) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Run
	for _, r := range m.runs {
		if !r.Status.Terminal() {
			result = append(result, copyRun(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func copyRun(r *Run) *Run {
	clone := *r
	if r.Summary != nil {
		clone.Summary = make(Summary, len(r.Summary))
		for k, v := range r.Summary {
			clone.Summary[k] = v
		}
	}
	return &clone
}
