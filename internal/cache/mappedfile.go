package cache

import (
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"
)

// MappedFile is a single memory-mapped text file living inside a
// CodebaseCache. The mapping is read-only and remains valid for the
// lifetime of the owning cache; the file descriptor used to create it is
// closed immediately after mapping.
type MappedFile struct {
	// Path is the absolute, symlink-resolved path recorded at bind time.
	Path string

	// FastHash is xxhash.Sum64 of the mapped content, computed once at
	// bind time. There is no incremental reload in this daemon, so it is
	// never recomputed; it exists purely as a cheap per-file fingerprint
	// for the operator-introspection dump (internal/tenant.Snapshot),
	// letting an operator notice a tenant's on-disk repo has drifted
	// since allocation without the daemon doing any filesystem polling.
	FastHash uint64

	region mmap.MMap // nil for a zero-length (empty file) sentinel
	size   int64
}

// newMappedFile opens path, maps its full contents read-only, and closes
// the descriptor. A zero-length file is recorded without ever calling
// mmap, since mapping a zero-length region is undefined on most
// platforms — it gets the empty-sentinel treatment the spec calls for.
func newMappedFile(path string, size int64) (*MappedFile, error) {
	if size == 0 {
		return &MappedFile{Path: path, region: nil, size: 0, FastHash: xxhash.Sum64(nil)}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	region, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}

	return &MappedFile{Path: path, region: region, size: size, FastHash: xxhash.Sum64(region)}, nil
}

// Bytes returns the mapped contents. Valid until Close is called on the
// owning cache; callers must never retain it beyond the cache's lifetime.
func (m *MappedFile) Bytes() []byte {
	if m.region == nil {
		return nil
	}
	return m.region
}

// Size returns the file's length in bytes.
func (m *MappedFile) Size() int64 {
	return m.size
}

func (m *MappedFile) close() error {
	if m.region == nil {
		return nil
	}
	return m.region.Unmap()
}
