package domains

import (
	"fmt"

	"github.com/campuskit/feedersync/internal/feeder"
	"github.com/campuskit/feedersync/internal/store"
	"github.com/campuskit/feedersync/internal/sync/engine"
)

func missingField(field string) error {
	return fmt.Errorf("%w: missing mandatory field %s", engine.ErrSkipRecord, field)
}

// nullable renders an optional source field as a NULL-able column value
func nullable(rec feeder.Record, key string) any {
	if !rec.Has(key) {
		return nil
	}
	return rec.Str(key)
}

type prodiMapper struct{}

func (prodiMapper) MapRecord(rec feeder.Record) (*store.Entity, error) {
	if !rec.Has("id_prodi") {
		return nil, missingField("id_prodi")
	}
	if !rec.Has("nama_program_studi") {
		return nil, missingField("nama_program_studi")
	}

	return &store.Entity{
		Table:     "prodi",
		KeyColumn: "external_id",
		KeyValue:  rec.Str("id_prodi"),
		Columns: map[string]any{
			"code":            rec.Str("kode_program_studi"),
			"name":            rec.Str("nama_program_studi"),
			"education_level": nullable(rec, "id_jenjang_pendidikan"),
			"status":          nullable(rec, "status"),
		},
	}, nil
}

type dosenMapper struct{}

func (dosenMapper) MapRecord(rec feeder.Record) (*store.Entity, error) {
	if !rec.Has("id_dosen") {
		return nil, missingField("id_dosen")
	}
	if !rec.Has("nama_dosen") {
		return nil, missingField("nama_dosen")
	}

	entity := &store.Entity{
		Table:     "dosen",
		KeyColumn: "external_id",
		KeyValue:  rec.Str("id_dosen"),
		Columns: map[string]any{
			"nidn":              nullable(rec, "nidn"),
			"name":              rec.Str("nama_dosen"),
			"gender":            nullable(rec, "jenis_kelamin"),
			"birth_date":        nullable(rec, "tanggal_lahir"),
			"employment_status": nullable(rec, "id_status_aktif"),
		},
	}

	// Homebase link is optional: a dosen without a resolvable prodi is
	// still mirrored, with the link left NULL.
	if rec.Has("id_prodi") {
		entity.Dependencies = append(entity.Dependencies, store.Dependency{
			Table:       "prodi",
			KeyColumn:   "external_id",
			ExternalID:  rec.Str("id_prodi"),
			LocalColumn: "prodi_id",
			Required:    false,
		})
	}
	return entity, nil
}

type mahasiswaMapper struct{}

// MapRecord keys mahasiswa rows by the enrollment identifier. One person may
// hold several concurrent enrollments; the person identifier is stored as a
// plain column and must never serve as the unique key.
func (mahasiswaMapper) MapRecord(rec feeder.Record) (*store.Entity, error) {
	if !rec.Has("id_registrasi_mahasiswa") {
		return nil, missingField("id_registrasi_mahasiswa")
	}
	if !rec.Has("id_mahasiswa") {
		return nil, missingField("id_mahasiswa")
	}
	if !rec.Has("nama_mahasiswa") {
		return nil, missingField("nama_mahasiswa")
	}
	if !rec.Has("id_prodi") {
		return nil, missingField("id_prodi")
	}

	return &store.Entity{
		Table:     "mahasiswa",
		KeyColumn: "registration_id",
		KeyValue:  rec.Str("id_registrasi_mahasiswa"),
		Columns: map[string]any{
			"person_id":         rec.Str("id_mahasiswa"),
			"nim":               rec.Str("nim"),
			"name":              rec.Str("nama_mahasiswa"),
			"gender":            nullable(rec, "jenis_kelamin"),
			"entry_period":      nullable(rec, "id_periode_masuk"),
			"enrollment_status": nullable(rec, "nama_status_mahasiswa"),
		},
		Dependencies: []store.Dependency{
			{
				Table:       "prodi",
				KeyColumn:   "external_id",
				ExternalID:  rec.Str("id_prodi"),
				LocalColumn: "prodi_id",
				Required:    true,
			},
		},
	}, nil
}

type riwayatMapper struct{}

// MapRecord handles per-semester academic activity. The source exposes no
// single identifier, so the enrollment and semester ids compose the key.
func (riwayatMapper) MapRecord(rec feeder.Record) (*store.Entity, error) {
	if !rec.Has("id_registrasi_mahasiswa") {
		return nil, missingField("id_registrasi_mahasiswa")
	}
	if !rec.Has("id_semester") {
		return nil, missingField("id_semester")
	}
	if !rec.Has("id_prodi") {
		return nil, missingField("id_prodi")
	}

	externalID := rec.Str("id_registrasi_mahasiswa") + ":" + rec.Str("id_semester")

	return &store.Entity{
		Table:     "riwayat_pendidikan",
		KeyColumn: "external_id",
		KeyValue:  externalID,
		Columns: map[string]any{
			"period":           rec.Str("id_semester"),
			"semester_credits": nullable(rec, "sks_semester"),
			"total_credits":    nullable(rec, "sks_total"),
			"gpa":              nullable(rec, "ipk"),
		},
		Dependencies: []store.Dependency{
			{
				Table:       "mahasiswa",
				KeyColumn:   "registration_id",
				ExternalID:  rec.Str("id_registrasi_mahasiswa"),
				LocalColumn: "mahasiswa_id",
				Required:    true,
			},
			{
				Table:       "prodi",
				KeyColumn:   "external_id",
				ExternalID:  rec.Str("id_prodi"),
				LocalColumn: "prodi_id",
				Required:    true,
			},
		},
	}, nil
}
