package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type memRow struct {
	id        uuid.UUID
	keyColumn string
	keyValue  string
	columns   map[string]any
}

// memEntityStore is an in-memory EntityStore used by tests and single-node
// development mode. Rows are grouped per (tenant, table).
type memEntityStore struct {
	mu     sync.Mutex
	tables map[string][]*memRow
}

// NewMemoryEntityStore creates an in-memory entity store
func NewMemoryEntityStore() EntityStore {
	return &memEntityStore{tables: make(map[string][]*memRow)}
}

func tableKey(tenantID, table string) string {
	return tenantID + "/" + table
}

func (m *memEntityStore) ResolveID(_ context.Context, tenantID string, dep Dependency) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.tables[tableKey(tenantID, dep.Table)] {
		if row.matches(dep.KeyColumn, dep.ExternalID) {
			return row.id, nil
		}
	}
	return uuid.Nil, fmt.Errorf("%w: %s %s=%s", ErrDependencyNotFound, dep.Table, dep.KeyColumn, dep.ExternalID)
}

func (m *memEntityStore) Upsert(_ context.Context, tenantID string, entity *Entity) (*UpsertResult, error) {
	if entity == nil {
		return nil, fmt.Errorf("entity is required")
	}
	if entity.KeyValue == "" {
		return nil, fmt.Errorf("entity key value is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := tableKey(tenantID, entity.Table)
	for _, row := range m.tables[key] {
		if row.keyColumn != entity.KeyColumn || row.keyValue != entity.KeyValue {
			continue
		}

		changed := false
		for col, v := range entity.Columns {
			newText, newNull := renderValue(v)
			oldText, oldNull := renderValue(row.columns[col])
			if newNull != oldNull || newText != oldText {
				changed = true
				break
			}
		}
		if !changed {
			return &UpsertResult{ID: row.id}, nil
		}

		row.columns = copyColumns(entity.Columns)
		return &UpsertResult{ID: row.id, Updated: true}, nil
	}

	row := &memRow{
		id:        uuid.New(),
		keyColumn: entity.KeyColumn,
		keyValue:  entity.KeyValue,
		columns:   copyColumns(entity.Columns),
	}
	m.tables[key] = append(m.tables[key], row)
	return &UpsertResult{ID: row.id, Created: true}, nil
}

// Count returns the number of rows stored for a tenant's table. Test helper.
func (m *memEntityStore) Count(tenantID, table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[tableKey(tenantID, table)])
}

func (r *memRow) matches(keyColumn, externalID string) bool {
	if r.keyColumn == keyColumn {
		return r.keyValue == externalID
	}
	text, isNull := renderValue(r.columns[keyColumn])
	return !isNull && text == externalID
}

func copyColumns(columns map[string]any) map[string]any {
	clone := make(map[string]any, len(columns))
	for k, v := range columns {
		clone[k] = v
	}
	return clone
}
