// Package store provides the local entity store: idempotent, change-detected
// upserts of mirrored records keyed by tenant and domain key.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDependencyNotFound is returned when a declared dependency entity has not
// been mirrored yet. Callers treat this as a skip, not a failure: the record
// may become resolvable once the dependency's own sync has run.
var ErrDependencyNotFound = errors.New("dependency entity not found")

// Dependency declares a local entity that must already exist before the
// mapped record can be written.
type Dependency struct {
	// Table is the dependency entity's table
	Table string

	// KeyColumn is the column in Table holding the external identifier
	KeyColumn string

	// ExternalID is the external identifier to resolve
	ExternalID string

	// LocalColumn is the mapped entity's column receiving the resolved ID
	LocalColumn string

	// Required marks dependencies whose absence skips the record
	Required bool
}

// Entity is one mapped record ready for upsert. KeyColumn/KeyValue form the
// domain-correct unique key together with the tenant; Columns carries the
// remaining mapped fields.
type Entity struct {
	Table        string
	KeyColumn    string
	KeyValue     string
	Columns      map[string]any
	Dependencies []Dependency
}

// UpsertResult reports what an upsert did
type UpsertResult struct {
	ID uuid.UUID

	// Created is true when a new row was inserted
	Created bool

	// Updated is true when an existing row had at least one differing field.
	// Created and Updated both false means the row was already up to date.
	Updated bool
}

// EntityStore is the local store interface used by record workers
type EntityStore interface {
	// ResolveID looks up a local entity's surrogate ID by external identifier
	ResolveID(ctx context.Context, tenantID string, dep Dependency) (uuid.UUID, error)

	// Upsert creates or updates one entity inside its own transaction.
	// Updates are written only when at least one mapped column differs.
	Upsert(ctx context.Context, tenantID string, entity *Entity) (*UpsertResult, error)
}
