// Package run contains the durable progress record of synchronization runs.
package run

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a synchronization run
type Status string

// Run lifecycle states. Terminal states are never left again; the
// conditional transitions in the store enforce this.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether the status is a terminal state
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Summary carries structured, human-facing details of a finished run
type Summary map[string]any

// Run is the durable progress record of one synchronization run.
// Counters are mutated concurrently by record workers via atomic increments
// and overwritten once by the finalizer; rows are never deleted.
type Run struct {
	ID          uuid.UUID
	RunID       string
	TenantID    string
	SyncKind    string
	Status      Status
	Total       int
	Processed   int
	Succeeded   int
	Failed      int
	ErrorMsg    string
	Summary     Summary
	BatchHandle string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProgressPercentage derives the advisory progress value for polling UIs.
// It is exact only after reconciliation; during the run it may trail the
// true progress because worker increments race with reads.
func (r *Run) ProgressPercentage() int {
	switch r.Status {
	case StatusCompleted, StatusFailed:
		return 100
	case StatusPending:
		return 0
	}
	if r.Total <= 0 {
		return 0
	}
	pct := r.Processed * 100 / r.Total
	if pct > 100 {
		pct = 100
	}
	return pct
}
