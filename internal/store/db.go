package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbEntityStore is the PostgreSQL-backed EntityStore implementation
type dbEntityStore struct {
	pool *pgxpool.Pool
}

// NewDBEntityStore creates a database-backed entity store.
// The caller is responsible for closing the pool when done.
func NewDBEntityStore(pool *pgxpool.Pool) (EntityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &dbEntityStore{pool: pool}, nil
}

func (d *dbEntityStore) ResolveID(ctx context.Context, tenantID string, dep Dependency) (uuid.UUID, error) {
	query := fmt.Sprintf(
		"SELECT id FROM %s WHERE tenant_id = $1 AND %s = $2",
		sanitizeIdent(dep.Table), sanitizeIdent(dep.KeyColumn),
	)

	var id uuid.UUID
	err := d.pool.QueryRow(ctx, query, tenantID, dep.ExternalID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("%w: %s %s=%s", ErrDependencyNotFound, dep.Table, dep.KeyColumn, dep.ExternalID)
		}
		return uuid.Nil, fmt.Errorf("failed to resolve %s dependency: %w", dep.Table, err)
	}
	return id, nil
}

// Upsert creates or updates one entity. The whole operation runs in one
// transaction scoped to this single record; a failure here never affects
// sibling records of the same run.
func (d *dbEntityStore) Upsert(ctx context.Context, tenantID string, entity *Entity) (*UpsertResult, error) {
	if entity == nil {
		return nil, fmt.Errorf("entity is required")
	}
	if entity.KeyValue == "" {
		return nil, fmt.Errorf("entity key value is required")
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			_ = rollbackErr
		}
	}()

	cols := sortedColumns(entity.Columns)

	result, err := d.upsertInTx(ctx, tx, tenantID, entity, cols)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return result, nil
}

func (d *dbEntityStore) upsertInTx(
	ctx context.Context, tx pgx.Tx, tenantID string, entity *Entity, cols []string,
) (*UpsertResult, error) {
	table := sanitizeIdent(entity.Table)
	keyCol := sanitizeIdent(entity.KeyColumn)

	// Fetch the existing row with every mapped column rendered as text so
	// change detection is a plain string comparison. The row lock keeps a
	// concurrent worker on the same key from writing between our read and
	// our update.
	selectParts := make([]string, 0, len(cols))
	for _, col := range cols {
		selectParts = append(selectParts, fmt.Sprintf("%s::text", sanitizeIdent(col)))
	}
	selectList := "id"
	if len(selectParts) > 0 {
		selectList += ", " + strings.Join(selectParts, ", ")
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE tenant_id = $1 AND %s = $2 FOR UPDATE",
		selectList, table, keyCol,
	)

	var (
		id       uuid.UUID
		existing = make([]*string, len(cols))
	)
	dests := make([]any, 0, len(cols)+1)
	dests = append(dests, &id)
	for i := range existing {
		dests = append(dests, &existing[i])
	}

	err := tx.QueryRow(ctx, query, tenantID, entity.KeyValue).Scan(dests...)
	if errors.Is(err, pgx.ErrNoRows) {
		return d.insert(ctx, tx, tenantID, entity, cols)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s row: %w", entity.Table, err)
	}

	changed := changedColumns(entity.Columns, cols, existing)
	if len(changed) == 0 {
		return &UpsertResult{ID: id}, nil
	}

	setParts := make([]string, 0, len(changed)+1)
	args := make([]any, 0, len(changed)+1)
	for i, col := range changed {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", sanitizeIdent(col), i+1))
		args = append(args, entity.Columns[col])
	}
	setParts = append(setParts, "updated_at = now()")
	args = append(args, id)

	updateQuery := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d",
		table, strings.Join(setParts, ", "), len(args),
	)
	if _, err := tx.Exec(ctx, updateQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to update %s row: %w", entity.Table, err)
	}

	return &UpsertResult{ID: id, Updated: true}, nil
}

func (d *dbEntityStore) insert(
	ctx context.Context, tx pgx.Tx, tenantID string, entity *Entity, cols []string,
) (*UpsertResult, error) {
	names := []string{"tenant_id", sanitizeIdent(entity.KeyColumn)}
	placeholders := []string{"$1", "$2"}
	args := []any{tenantID, entity.KeyValue}

	for _, col := range cols {
		names = append(names, sanitizeIdent(col))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		args = append(args, entity.Columns[col])
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		sanitizeIdent(entity.Table), strings.Join(names, ", "), strings.Join(placeholders, ", "),
	)

	var id uuid.UUID
	if err := tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("failed to insert %s row: %w", entity.Table, err)
	}
	return &UpsertResult{ID: id, Created: true}, nil
}

// changedColumns compares mapped values against the existing row and returns
// the columns that differ.
func changedColumns(columns map[string]any, cols []string, existing []*string) []string {
	var changed []string
	for i, col := range cols {
		mappedText, mappedNull := renderValue(columns[col])
		if existing[i] == nil {
			if !mappedNull {
				changed = append(changed, col)
			}
			continue
		}
		if mappedNull || mappedText != *existing[i] {
			changed = append(changed, col)
		}
	}
	return changed
}

// renderValue normalizes a mapped column value to the text form Postgres
// produces for the ::text cast, so both sides of the comparison agree.
func renderValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return t, false
	case *string:
		if t == nil {
			return "", true
		}
		return *t, false
	case uuid.UUID:
		return t.String(), false
	case *uuid.UUID:
		if t == nil {
			return "", true
		}
		return t.String(), false
	case time.Time:
		return t.Format(time.RFC3339), false
	case bool:
		if t {
			return "true", false
		}
		return "false", false
	default:
		return fmt.Sprintf("%v", t), false
	}
}

func sortedColumns(columns map[string]any) []string {
	cols := make([]string, 0, len(columns))
	for col := range columns {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// sanitizeIdent quotes an identifier for interpolation into dynamic SQL.
// Table and column names come from compile-time mapper definitions, never
// from user input; quoting is still applied uniformly.
func sanitizeIdent(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}
