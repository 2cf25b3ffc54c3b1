package v0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/feedersync/internal/sync/engine"
	"github.com/campuskit/feedersync/internal/sync/run"
)

// fakeService is a hand-rolled SyncService double
type fakeService struct {
	submitErr error
	runs      map[string]*run.Run
	cancelled map[string]bool
}

func newFakeService() *fakeService {
	return &fakeService{
		runs:      make(map[string]*run.Run),
		cancelled: make(map[string]bool),
	}
}

func (f *fakeService) Submit(_ context.Context, tenantID, kind string, params engine.Params) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	runID := params.RunID
	if runID == "" {
		runID = "generated-run"
	}
	f.runs[runID] = &run.Run{
		RunID: runID, TenantID: tenantID, SyncKind: kind, Status: run.StatusPending,
	}
	return runID, nil
}

func (f *fakeService) GetRun(_ context.Context, runID string) (*run.Run, error) {
	r, ok := f.runs[runID]
	if !ok {
		return nil, run.ErrRunNotFound
	}
	return r, nil
}

func (f *fakeService) Cancel(_ context.Context, runID string) (bool, error) {
	r, ok := f.runs[runID]
	if !ok {
		return false, run.ErrRunNotFound
	}
	if r.Status.Terminal() {
		return false, nil
	}
	f.cancelled[runID] = true
	return true, nil
}

func (f *fakeService) Kinds() []string {
	return []string{"dosen", "prodi"}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitSync(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	router := Router(svc)

	rec := postJSON(t, router, "/tenants/tenant-a/syncs", submitRequest{Kind: "dosen"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "generated-run", resp.RunID)
	assert.Equal(t, "tenant-a", svc.runs["generated-run"].TenantID)
}

func TestSubmitSyncPinnedRunID(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	router := Router(svc)

	rec := postJSON(t, router, "/tenants/tenant-a/syncs",
		submitRequest{Kind: "dosen", RunID: "retry-1"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "retry-1", resp.RunID)
}

func TestSubmitSyncValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       any
		submitErr  error
		wantStatus int
	}{
		{
			name:       "missing kind",
			body:       submitRequest{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown kind",
			body:       submitRequest{Kind: "nope"},
			submitErr:  fmt.Errorf("%w: nope", engine.ErrUnknownKind),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid filter",
			body:       submitRequest{Kind: "dosen", Filter: "id_prodi = '1'\x00"},
			submitErr:  fmt.Errorf("%w: filter contains control character", engine.ErrInvalidFilter),
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "source unavailable",
			body: submitRequest{Kind: "dosen"},
			submitErr: &engine.SourceError{
				TenantID: "tenant-a", Kind: "dosen", Err: fmt.Errorf("no credentials"),
			},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "internal error",
			body:       submitRequest{Kind: "dosen"},
			submitErr:  fmt.Errorf("database down"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := newFakeService()
			svc.submitErr = tt.submitErr
			rec := postJSON(t, Router(svc), "/tenants/tenant-a/syncs", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	started := time.Now().Add(-time.Minute)
	svc.runs["run-1"] = &run.Run{
		RunID:     "run-1",
		TenantID:  "tenant-a",
		SyncKind:  "dosen",
		Status:    run.StatusProcessing,
		Total:     200,
		Processed: 50,
		Succeeded: 48,
		Failed:    2,
		StartedAt: &started,
	}

	req := httptest.NewRequest(http.MethodGet, "/syncs/run-1", nil)
	rec := httptest.NewRecorder()
	Router(svc).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "PROCESSING", resp.Status)
	assert.Equal(t, 25, resp.ProgressPercentage)
	assert.Equal(t, 2, resp.FailedRecords)
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/syncs/missing", nil)
	rec := httptest.NewRecorder()
	Router(newFakeService()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelRun(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.runs["run-1"] = &run.Run{RunID: "run-1", Status: run.StatusProcessing}

	rec := postJSON(t, Router(svc), "/syncs/run-1/cancel", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, svc.cancelled["run-1"])
}

func TestCancelRunAlreadyTerminal(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.runs["run-1"] = &run.Run{RunID: "run-1", Status: run.StatusCompleted}

	rec := postJSON(t, Router(svc), "/syncs/run-1/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelRunNotFound(t *testing.T) {
	t.Parallel()

	rec := postJSON(t, Router(newFakeService()), "/syncs/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListKinds(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/kinds", nil)
	rec := httptest.NewRecorder()
	Router(newFakeService()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"dosen", "prodi"}, resp["kinds"])
}
