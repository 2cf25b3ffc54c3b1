// Package domains binds sync kinds to their source resources and record
// mappers. Adding a kind means writing a mapper and registering it here;
// the engine itself stays untouched.
package domains

import (
	"fmt"
	"sort"

	"github.com/campuskit/feedersync/internal/sync/engine"
)

// Kind names accepted by the submit API
const (
	KindProdi             = "prodi"
	KindDosen             = "dosen"
	KindMahasiswa         = "mahasiswa"
	KindRiwayatPendidikan = "riwayat_pendidikan"
)

type registry struct {
	domains map[string]*engine.Domain
}

// NewRegistry creates the registry with every shipped domain
func NewRegistry() engine.Registry {
	r := &registry{domains: make(map[string]*engine.Domain)}

	r.register(&engine.Domain{
		Kind:     KindProdi,
		Resource: "GetProdi",
		Order:    "kode_program_studi",
		Mapper:   prodiMapper{},
	})
	r.register(&engine.Domain{
		Kind:     KindDosen,
		Resource: "GetListDosen",
		Order:    "nidn",
		Mapper:   dosenMapper{},
	})
	r.register(&engine.Domain{
		Kind:     KindMahasiswa,
		Resource: "GetListMahasiswa",
		Order:    "nim",
		Mapper:   mahasiswaMapper{},
	})
	r.register(&engine.Domain{
		Kind:     KindRiwayatPendidikan,
		Resource: "GetAktivitasKuliahMahasiswa",
		Order:    "id_semester",
		Mapper:   riwayatMapper{},
	})
	return r
}

func (r *registry) register(d *engine.Domain) {
	r.domains[d.Kind] = d
}

func (r *registry) Resolve(kind string) (*engine.Domain, error) {
	d, ok := r.domains[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownKind, kind)
	}
	return d, nil
}

func (r *registry) Kinds() []string {
	kinds := make([]string, 0, len(r.domains))
	for kind := range r.domains {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
