package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/feedersync/internal/feeder"
	"github.com/campuskit/feedersync/internal/store"
	"github.com/campuskit/feedersync/internal/sync/executor"
	"github.com/campuskit/feedersync/internal/sync/run"
)

// depMapper maps student-like records carrying a mandatory parent reference
type depMapper struct{}

func (depMapper) MapRecord(rec feeder.Record) (*store.Entity, error) {
	if !rec.Has("reg") {
		return nil, fmt.Errorf("%w: missing reg", ErrSkipRecord)
	}
	return &store.Entity{
		Table:     "mahasiswa",
		KeyColumn: "registration_id",
		KeyValue:  rec.Str("reg"),
		Columns:   map[string]any{"name": rec.Str("name")},
		Dependencies: []store.Dependency{
			{
				Table:       "prodi",
				KeyColumn:   "external_id",
				ExternalID:  rec.Str("prodi"),
				LocalColumn: "prodi_id",
				Required:    true,
			},
		},
	}, nil
}

type depRegistry struct{}

func (depRegistry) Resolve(kind string) (*Domain, error) {
	if kind != "mahasiswa" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return &Domain{Kind: "mahasiswa", Resource: "GetListMahasiswa", Mapper: depMapper{}}, nil
}

func (depRegistry) Kinds() []string { return []string{"mahasiswa"} }

func TestWorkerResolvesDependencies(t *testing.T) {
	t.Parallel()

	entities := store.NewMemoryEntityStore()
	runs := run.NewMemoryStore()
	pool := executor.NewPool(executor.WithPoolSize(2))
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	ctx := context.Background()

	// Mirror the parent prodi first so the dependency resolves
	parent, err := entities.Upsert(ctx, "tenant-a", &store.Entity{
		Table: "prodi", KeyColumn: "external_id", KeyValue: "p-1",
		Columns: map[string]any{"name": "Informatika"},
	})
	require.NoError(t, err)

	client := &fakeClient{records: []feeder.Record{
		{"reg": "reg-1", "name": "Mahasiswa Satu", "prodi": "p-1"},
		{"reg": "reg-2", "name": "Mahasiswa Dua", "prodi": "p-missing"},
	}}

	e, err := New(
		depRegistry{},
		&fakeFactory{clients: map[string]feeder.Client{"tenant-a": client}},
		runs, entities, pool,
		WithPageSize(10),
	)
	require.NoError(t, err)

	runID, err := e.Run(ctx, "tenant-a", "mahasiswa", Params{})
	require.NoError(t, err)

	deadline := func() *run.Run {
		for i := 0; i < 1000; i++ {
			require.NoError(t, e.Finalize(ctx, "tenant-a", "mahasiswa"))
			r, err := runs.Get(ctx, runID)
			require.NoError(t, err)
			if r.Status.Terminal() {
				return r
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatal("run did not finish")
		return nil
	}
	r := deadline()

	// Resolvable record landed with the parent's local id; the other skipped
	assert.Equal(t, run.StatusCompleted, r.Status)
	assert.EqualValues(t, 1, r.Summary["skipped"])

	id, err := entities.ResolveID(ctx, "tenant-a", store.Dependency{
		Table: "mahasiswa", KeyColumn: "registration_id", ExternalID: "reg-1",
	})
	require.NoError(t, err)
	assert.NotEqual(t, parent.ID, id)

	_, err = entities.ResolveID(ctx, "tenant-a", store.Dependency{
		Table: "mahasiswa", KeyColumn: "registration_id", ExternalID: "reg-2",
	})
	assert.ErrorIs(t, err, store.ErrDependencyNotFound, "skipped record must not be written")
}
