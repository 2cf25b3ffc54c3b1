package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRunNotFound is returned when a run can't be found.
var ErrRunNotFound = errors.New("sync run not found")

// FinalTotals are the authoritative counters written at reconciliation
type FinalTotals struct {
	Processed int
	Succeeded int
	Failed    int
}

// Store is the durable interface of the progress record
type Store interface {
	// FindOrCreate inserts the run if its runID is new and returns the stored
	// row either way. The second return value reports whether a row was created.
	FindOrCreate(ctx context.Context, r *Run) (*Run, bool, error)

	// CreateCompleted records a zero-record run that is terminal on arrival
	CreateCompleted(ctx context.Context, runID, tenantID, syncKind string) (*Run, error)

	// MarkProcessing transitions a pending run to processing and stores the
	// execution substrate's batch handle.
	MarkProcessing(ctx context.Context, runID, batchHandle string) error

	// UpdateTotal overwrites a pending run's total. A retried run reuses its
	// row, but the refetched record set is authoritative for the retry.
	UpdateTotal(ctx context.Context, runID string, total int) error

	// Increment advances the live counters for one settled record. The
	// implementation must be a single atomic statement; concurrent callers
	// must never lose updates.
	Increment(ctx context.Context, runID string, success bool, errMsg string) error

	// Finalize overwrites the counters with authoritative totals and commits
	// the terminal transition. Returns false when another finalize (or a
	// cancellation) already committed a terminal state.
	Finalize(ctx context.Context, runID string, terminal Status, totals FinalTotals, errMsg string, summary Summary) (bool, error)

	// MarkCancelled transitions an active run to cancelled. Returns false
	// when the run was already terminal.
	MarkCancelled(ctx context.Context, runID string) (bool, error)

	// Get returns the run snapshot for polling
	Get(ctx context.Context, runID string) (*Run, error)

	// LatestActive returns the most recent non-terminal run for a tenant and
	// kind, or ErrRunNotFound.
	LatestActive(ctx context.Context, tenantID, syncKind string) (*Run, error)

	// ListActive returns all non-terminal runs across tenants
	ListActive(ctx context.Context) ([]*Run, error)
}

const runColumns = `id, run_id, tenant_id, sync_kind, status, total_records,
	processed_records, success_count, failed_records, error_msg, summary,
	batch_handle, started_at, completed_at, created_at, updated_at`

// dbStore is the PostgreSQL-backed Store implementation
type dbStore struct {
	pool *pgxpool.Pool
}

// NewDBStore creates a database-backed run store
func NewDBStore(pool *pgxpool.Pool) Store {
	return &dbStore{pool: pool}
}

func (d *dbStore) FindOrCreate(ctx context.Context, r *Run) (*Run, bool, error) {
	tag, err := d.pool.Exec(ctx, `
		INSERT INTO sync_runs (run_id, tenant_id, sync_kind, status, total_records)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO NOTHING`,
		r.RunID, r.TenantID, r.SyncKind, string(StatusPending), r.Total,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create sync run: %w", err)
	}

	stored, err := d.Get(ctx, r.RunID)
	if err != nil {
		return nil, false, err
	}
	return stored, tag.RowsAffected() > 0, nil
}

func (d *dbStore) CreateCompleted(ctx context.Context, runID, tenantID, syncKind string) (*Run, error) {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO sync_runs (run_id, tenant_id, sync_kind, status, started_at, completed_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (run_id) DO NOTHING`,
		runID, tenantID, syncKind, string(StatusCompleted),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create completed sync run: %w", err)
	}
	return d.Get(ctx, runID)
}

func (d *dbStore) MarkProcessing(ctx context.Context, runID, batchHandle string) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE sync_runs
		SET status = $2, batch_handle = $3, started_at = now(), updated_at = now()
		WHERE run_id = $1 AND status = $4`,
		runID, string(StatusProcessing), batchHandle, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark run processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (d *dbStore) UpdateTotal(ctx context.Context, runID string, total int) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE sync_runs
		SET total_records = $2, updated_at = now()
		WHERE run_id = $1 AND status = $3`,
		runID, total, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to update run total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Increment is a single-statement atomic counter advance. Read-modify-write
// at the application layer would lose updates under concurrent workers.
func (d *dbStore) Increment(ctx context.Context, runID string, success bool, errMsg string) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE sync_runs
		SET processed_records = processed_records + 1,
		    success_count = success_count + CASE WHEN $2 THEN 1 ELSE 0 END,
		    failed_records = failed_records + CASE WHEN $2 THEN 0 ELSE 1 END,
		    error_msg = CASE WHEN $3 <> '' THEN $3 ELSE error_msg END,
		    updated_at = now()
		WHERE run_id = $1`,
		runID, success, errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to increment run counters: %w", err)
	}
	return nil
}

func (d *dbStore) Finalize(
	ctx context.Context, runID string, terminal Status, totals FinalTotals, errMsg string, summary Summary,
) (bool, error) {
	if !terminal.Terminal() {
		return false, fmt.Errorf("finalize requires a terminal status, got %s", terminal)
	}

	summaryJSON, err := marshalSummary(summary)
	if err != nil {
		return false, err
	}

	// The status guard makes the terminal transition single-writer: of any
	// number of concurrent finalize passes, exactly one commits.
	tag, err := d.pool.Exec(ctx, `
		UPDATE sync_runs
		SET status = $2,
		    processed_records = $3,
		    success_count = $4,
		    failed_records = $5,
		    error_msg = NULLIF($6, ''),
		    summary = $7,
		    completed_at = now(),
		    updated_at = now()
		WHERE run_id = $1 AND status IN ($8, $9)`,
		runID, string(terminal), totals.Processed, totals.Succeeded, totals.Failed,
		errMsg, summaryJSON, string(StatusPending), string(StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("failed to finalize run: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (d *dbStore) MarkCancelled(ctx context.Context, runID string) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE sync_runs
		SET status = $2, completed_at = now(), updated_at = now()
		WHERE run_id = $1 AND status IN ($3, $4)`,
		runID, string(StatusCancelled), string(StatusPending), string(StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel run: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (d *dbStore) Get(ctx context.Context, runID string) (*Run, error) {
	row := d.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM sync_runs WHERE run_id = $1`, runID)
	return scanRun(row)
}

func (d *dbStore) LatestActive(ctx context.Context, tenantID, syncKind string) (*Run, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM sync_runs
		WHERE tenant_id = $1 AND sync_kind = $2 AND status IN ($3, $4)
		ORDER BY created_at DESC
		LIMIT 1`,
		tenantID, syncKind, string(StatusPending), string(StatusProcessing),
	)
	return scanRun(row)
}

func (d *dbStore) ListActive(ctx context.Context) ([]*Run, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM sync_runs
		WHERE status IN ($1, $2)
		ORDER BY created_at`,
		string(StatusPending), string(StatusProcessing),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active runs: %w", err)
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanRun(row pgx.Row) (*Run, error) {
	var (
		r           Run
		status      string
		errorMsg    *string
		summaryJSON []byte
		batchHandle *string
	)

	err := row.Scan(
		&r.ID, &r.RunID, &r.TenantID, &r.SyncKind, &status, &r.Total,
		&r.Processed, &r.Succeeded, &r.Failed, &errorMsg, &summaryJSON,
		&batchHandle, &r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}

	r.Status = Status(status)
	if errorMsg != nil {
		r.ErrorMsg = *errorMsg
	}
	if batchHandle != nil {
		r.BatchHandle = *batchHandle
	}
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &r.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode run summary: %w", err)
		}
	}
	return &r, nil
}

func marshalSummary(summary Summary) ([]byte, error) {
	if summary == nil {
		return nil, nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run summary: %w", err)
	}
	return data, nil
}
