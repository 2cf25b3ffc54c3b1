// Package engine implements the batch synchronization engine: one generic
// coordinator, record worker, and finalizer parameterized by per-domain
// mappers instead of duplicated per entity kind.
package engine

import (
	"errors"
	"fmt"

	"github.com/campuskit/feedersync/internal/feeder"
	"github.com/campuskit/feedersync/internal/store"
)

// ErrSkipRecord marks a record the worker declines without failing it:
// missing mandatory fields or an unresolved required dependency. Skipped
// records do not advance the progress counters and may succeed on a later
// run. Wrap it with context via fmt.Errorf and %w.
var ErrSkipRecord = errors.New("record skipped")

// ErrUnknownKind is returned when no domain is registered for a sync kind
var ErrUnknownKind = errors.New("unknown sync kind")

// ErrInvalidFilter marks a caller-supplied filter that failed sanitization.
// Submission paths reject it before a run row exists.
var ErrInvalidFilter = errors.New("invalid filter")

// SourceError reports that the external source cannot be used for a tenant:
// missing tenant, missing credentials, or failed precondition. No run row
// exists when a SourceError is returned.
type SourceError struct {
	TenantID string
	Kind     string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source unavailable for tenant %s kind %s: %v", e.TenantID, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// FetchError reports a failure in the fetch stage of a run. The run row, if
// one was created, stays in place so a retry with the same run ID resumes.
type FetchError struct {
	TenantID string
	Kind     string
	Offset   int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for tenant %s kind %s at offset %d: %v", e.TenantID, e.Kind, e.Offset, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// EntityMapper turns one raw source record into a local entity. Mandatory
// field validation happens here; a missing mandatory field returns an error
// wrapping ErrSkipRecord. Declared dependencies carry the external IDs to
// resolve; the worker fills the resolved local IDs into the entity columns.
type EntityMapper interface {
	MapRecord(rec feeder.Record) (*store.Entity, error)
}

// Domain binds a sync kind to its source resource and mapper
type Domain struct {
	// Kind is the sync kind callers submit
	Kind string

	// Resource is the source API action that lists this kind's records
	Resource string

	// Order is the source-side ordering applied to paginated fetches
	Order string

	// Mapper maps raw records for this kind
	Mapper EntityMapper
}

// Registry resolves sync kinds to their domain bindings
type Registry interface {
	// Resolve returns the domain for a kind or ErrUnknownKind
	Resolve(kind string) (*Domain, error)

	// Kinds lists the registered sync kinds
	Kinds() []string
}

// Params are the caller-supplied knobs of one run
type Params struct {
	// Filter is a source-side predicate fragment, sanitized before use
	Filter string

	// RunID pins the run identifier; empty means generate one. Resubmitting
	// an identifier resumes the run instead of duplicating it.
	RunID string
}
