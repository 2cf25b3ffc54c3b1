package domains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/feedersync/internal/feeder"
	"github.com/campuskit/feedersync/internal/sync/engine"
)

func TestRegistryResolvesAllKinds(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Equal(t,
		[]string{KindDosen, KindMahasiswa, KindProdi, KindRiwayatPendidikan},
		r.Kinds(),
	)

	for _, kind := range r.Kinds() {
		d, err := r.Resolve(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, d.Kind)
		assert.NotEmpty(t, d.Resource)
		assert.NotNil(t, d.Mapper)
	}

	_, err := r.Resolve("perpustakaan")
	assert.ErrorIs(t, err, engine.ErrUnknownKind)
}

func TestProdiMapper(t *testing.T) {
	t.Parallel()

	entity, err := prodiMapper{}.MapRecord(feeder.Record{
		"id_prodi":              "p-1",
		"kode_program_studi":    "55201",
		"nama_program_studi":    "Informatika",
		"id_jenjang_pendidikan": float64(30),
		"status":                "A",
	})
	require.NoError(t, err)

	assert.Equal(t, "prodi", entity.Table)
	assert.Equal(t, "external_id", entity.KeyColumn)
	assert.Equal(t, "p-1", entity.KeyValue)
	assert.Equal(t, "Informatika", entity.Columns["name"])
	assert.Equal(t, "30", entity.Columns["education_level"], "numeric source values normalize to text")
	assert.Empty(t, entity.Dependencies)

	_, err = prodiMapper{}.MapRecord(feeder.Record{"nama_program_studi": "Informatika"})
	assert.ErrorIs(t, err, engine.ErrSkipRecord)
}

func TestDosenMapperOptionalProdi(t *testing.T) {
	t.Parallel()

	entity, err := dosenMapper{}.MapRecord(feeder.Record{
		"id_dosen":   "d-1",
		"nama_dosen": "Dosen Satu",
		"nidn":       "0012345678",
	})
	require.NoError(t, err)
	assert.Empty(t, entity.Dependencies, "dosen without homebase has no dependency")

	entity, err = dosenMapper{}.MapRecord(feeder.Record{
		"id_dosen":   "d-2",
		"nama_dosen": "Dosen Dua",
		"id_prodi":   "p-1",
	})
	require.NoError(t, err)
	require.Len(t, entity.Dependencies, 1)
	assert.False(t, entity.Dependencies[0].Required)
	assert.Equal(t, "prodi_id", entity.Dependencies[0].LocalColumn)
}

func TestMahasiswaMapperKeyedByEnrollment(t *testing.T) {
	t.Parallel()

	base := feeder.Record{
		"id_registrasi_mahasiswa": "reg-1",
		"id_mahasiswa":            "person-1",
		"nim":                     "2024001",
		"nama_mahasiswa":          "Mahasiswa Satu",
		"id_prodi":                "p-1",
	}

	entity, err := mahasiswaMapper{}.MapRecord(base)
	require.NoError(t, err)

	assert.Equal(t, "registration_id", entity.KeyColumn)
	assert.Equal(t, "reg-1", entity.KeyValue)
	assert.Equal(t, "person-1", entity.Columns["person_id"])
	require.Len(t, entity.Dependencies, 1)
	assert.True(t, entity.Dependencies[0].Required)

	// The same person under a second enrollment maps to a distinct key, so
	// concurrent enrollments never collapse into one row.
	second := feeder.Record{
		"id_registrasi_mahasiswa": "reg-2",
		"id_mahasiswa":            "person-1",
		"nim":                     "2024002",
		"nama_mahasiswa":          "Mahasiswa Satu",
		"id_prodi":                "p-2",
	}
	other, err := mahasiswaMapper{}.MapRecord(second)
	require.NoError(t, err)
	assert.NotEqual(t, entity.KeyValue, other.KeyValue)
	assert.Equal(t, entity.Columns["person_id"], other.Columns["person_id"])
}

func TestMahasiswaMapperMandatoryFields(t *testing.T) {
	t.Parallel()

	for _, missing := range []string{"id_registrasi_mahasiswa", "id_mahasiswa", "nama_mahasiswa", "id_prodi"} {
		rec := feeder.Record{
			"id_registrasi_mahasiswa": "reg-1",
			"id_mahasiswa":            "person-1",
			"nama_mahasiswa":          "Mahasiswa Satu",
			"id_prodi":                "p-1",
		}
		delete(rec, missing)

		_, err := mahasiswaMapper{}.MapRecord(rec)
		assert.ErrorIs(t, err, engine.ErrSkipRecord, "missing %s must skip", missing)
	}
}

func TestRiwayatMapperComposedKey(t *testing.T) {
	t.Parallel()

	entity, err := riwayatMapper{}.MapRecord(feeder.Record{
		"id_registrasi_mahasiswa": "reg-1",
		"id_semester":             "20241",
		"id_prodi":                "p-1",
		"sks_semester":            float64(20),
		"sks_total":               float64(40),
		"ipk":                     "3.52",
	})
	require.NoError(t, err)

	assert.Equal(t, "riwayat_pendidikan", entity.Table)
	assert.Equal(t, "reg-1:20241", entity.KeyValue)
	require.Len(t, entity.Dependencies, 2)
	assert.Equal(t, "mahasiswa", entity.Dependencies[0].Table)
	assert.Equal(t, "registration_id", entity.Dependencies[0].KeyColumn)
	assert.True(t, entity.Dependencies[0].Required)
	assert.Equal(t, "prodi", entity.Dependencies[1].Table)
}
