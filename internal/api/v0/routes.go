// Package v0 contains the version 0 sync API routes
package v0

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campuskit/feedersync/internal/logger"
	"github.com/campuskit/feedersync/internal/service"
	"github.com/campuskit/feedersync/internal/sync/engine"
	"github.com/campuskit/feedersync/internal/sync/run"
)

type routes struct {
	svc service.SyncService
}

// Router creates the v0 sync API router
func Router(svc service.SyncService) http.Handler {
	routes := routes{svc: svc}

	r := chi.NewRouter()
	r.Get("/kinds", routes.listKinds)
	r.Post("/tenants/{tenantID}/syncs", routes.submitSync)
	r.Get("/syncs/{runID}", routes.getRun)
	r.Post("/syncs/{runID}/cancel", routes.cancelRun)
	return r
}

type submitRequest struct {
	Kind   string `json:"kind"`
	Filter string `json:"filter,omitempty"`
	RunID  string `json:"run_id,omitempty"`
}

type submitResponse struct {
	RunID string `json:"run_id"`
}

type runResponse struct {
	RunID              string      `json:"run_id"`
	TenantID           string      `json:"tenant_id"`
	Kind               string      `json:"kind"`
	Status             string      `json:"status"`
	TotalRecords       int         `json:"total_records"`
	ProcessedRecords   int         `json:"processed_records"`
	SuccessCount       int         `json:"success_count"`
	FailedRecords      int         `json:"failed_records"`
	ProgressPercentage int         `json:"progress_percentage"`
	ErrorMsg           string      `json:"error_msg,omitempty"`
	Summary            run.Summary `json:"summary,omitempty"`
	StartedAt          *time.Time  `json:"started_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (rt routes) listKinds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"kinds": rt.svc.Kinds()})
}

func (rt routes) submitSync(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}

	runID, err := rt.svc.Submit(r.Context(), tenantID, req.Kind, engine.Params{
		Filter: req.Filter,
		RunID:  req.RunID,
	})
	if err != nil {
		var srcErr *engine.SourceError
		switch {
		case errors.Is(err, engine.ErrUnknownKind), errors.Is(err, engine.ErrInvalidFilter):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &srcErr):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			logger.Errorf("failed to submit sync: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to submit sync")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{RunID: runID})
}

func (rt routes) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	syncRun, err := rt.svc.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, run.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "sync run not found")
			return
		}
		logger.Errorf("failed to fetch sync run %s: %v", runID, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch sync run")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(syncRun))
}

func (rt routes) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	cancelled, err := rt.svc.Cancel(r.Context(), runID)
	if err != nil {
		if errors.Is(err, run.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "sync run not found")
			return
		}
		logger.Errorf("failed to cancel sync run %s: %v", runID, err)
		writeError(w, http.StatusInternalServerError, "failed to cancel sync run")
		return
	}
	if !cancelled {
		writeError(w, http.StatusConflict, "sync run is already terminal")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func toRunResponse(r *run.Run) runResponse {
	return runResponse{
		RunID:              r.RunID,
		TenantID:           r.TenantID,
		Kind:               r.SyncKind,
		Status:             string(r.Status),
		TotalRecords:       r.Total,
		ProcessedRecords:   r.Processed,
		SuccessCount:       r.Succeeded,
		FailedRecords:      r.Failed,
		ProgressPercentage: r.ProgressPercentage(),
		ErrorMsg:           r.ErrorMsg,
		Summary:            r.Summary,
		StartedAt:          r.StartedAt,
		CompletedAt:        r.CompletedAt,
		CreatedAt:          r.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
