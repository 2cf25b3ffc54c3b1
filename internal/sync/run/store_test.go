package run

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/feedersync/database"
)

func setupStore(t *testing.T) Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)
	return NewDBStore(pool)
}

func TestDBStoreLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	created, wasNew, err := s.FindOrCreate(ctx, &Run{
		RunID: "run-1", TenantID: "tenant-a", SyncKind: "mahasiswa", Total: 42,
	})
	require.NoError(t, err)
	assert.True(t, wasNew)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, 42, created.Total)

	_, wasNew, err = s.FindOrCreate(ctx, &Run{
		RunID: "run-1", TenantID: "tenant-a", SyncKind: "mahasiswa", Total: 99,
	})
	require.NoError(t, err)
	assert.False(t, wasNew)

	require.NoError(t, s.MarkProcessing(ctx, "run-1", "handle-1"))

	r, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, r.Status)
	assert.Equal(t, "handle-1", r.BatchHandle)
	assert.NotNil(t, r.StartedAt)

	// Only a pending run can transition to processing
	assert.ErrorIs(t, s.MarkProcessing(ctx, "run-1", "handle-2"), ErrRunNotFound)

	committed, err := s.Finalize(ctx, "run-1", StatusCompleted,
		FinalTotals{Processed: 42, Succeeded: 42}, "", Summary{"skipped": 0})
	require.NoError(t, err)
	assert.True(t, committed)

	committed, err = s.Finalize(ctx, "run-1", StatusFailed, FinalTotals{}, "late", nil)
	require.NoError(t, err)
	assert.False(t, committed, "terminal transition commits exactly once")

	r, err = s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, 42, r.Processed)
	assert.NotNil(t, r.CompletedAt)
	assert.EqualValues(t, 0, r.Summary["skipped"])
}

func TestDBStoreUpdateTotal(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.UpdateTotal(ctx, "no-such-run", 5), ErrRunNotFound)

	_, _, err := s.FindOrCreate(ctx, &Run{
		RunID: "run-total", TenantID: "tenant-a", SyncKind: "prodi", Total: 2,
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateTotal(ctx, "run-total", 5))
	r, err := s.Get(ctx, "run-total")
	require.NoError(t, err)
	assert.Equal(t, 5, r.Total)

	// Only a pending run may have its total rewritten
	require.NoError(t, s.MarkProcessing(ctx, "run-total", "h"))
	assert.ErrorIs(t, s.UpdateTotal(ctx, "run-total", 9), ErrRunNotFound)
}

func TestDBStoreConcurrentIncrements(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, _, err := s.FindOrCreate(ctx, &Run{
		RunID: "run-inc", TenantID: "tenant-a", SyncKind: "dosen", Total: 200,
	})
	require.NoError(t, err)

	const workers = 20
	const perWorker = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				assert.NoError(t, s.Increment(ctx, "run-inc", w%4 != 0, ""))
			}
		}(w)
	}
	wg.Wait()

	r, err := s.Get(ctx, "run-inc")
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, r.Processed, "no increment may be lost under concurrency")
	assert.Equal(t, r.Processed, r.Succeeded+r.Failed)
	assert.Equal(t, 5*perWorker, r.Failed)
}

func TestDBStoreGetUnknownRun(t *testing.T) {
	s := setupStore(t)

	_, err := s.Get(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestDBStoreActiveQueries(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, _, err := s.FindOrCreate(ctx, &Run{RunID: "a-1", TenantID: "tenant-a", SyncKind: "prodi", Total: 1})
	require.NoError(t, err)
	_, _, err = s.FindOrCreate(ctx, &Run{RunID: "a-2", TenantID: "tenant-a", SyncKind: "prodi", Total: 1})
	require.NoError(t, err)
	_, err = s.CreateCompleted(ctx, "a-3", "tenant-a", "prodi")
	require.NoError(t, err)

	latest, err := s.LatestActive(ctx, "tenant-a", "prodi")
	require.NoError(t, err)
	assert.False(t, latest.Status.Terminal())
	assert.Contains(t, []string{"a-1", "a-2"}, latest.RunID)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = s.LatestActive(ctx, "tenant-b", "prodi")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestDBStoreMarkCancelled(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, _, err := s.FindOrCreate(ctx, &Run{RunID: "c-1", TenantID: "tenant-a", SyncKind: "dosen", Total: 5})
	require.NoError(t, err)

	cancelled, err := s.MarkCancelled(ctx, "c-1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = s.MarkCancelled(ctx, "c-1")
	require.NoError(t, err)
	assert.False(t, cancelled)

	committed, err := s.Finalize(ctx, "c-1", StatusCompleted, FinalTotals{}, "", nil)
	require.NoError(t, err)
	assert.False(t, committed, "cancelled run must stay cancelled")
}
