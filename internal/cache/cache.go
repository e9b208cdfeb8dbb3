// Package cache implements the mmap-backed, immutable-after-construction
// view of a single codebase root: the directory walk, binary/text
// classification, and the mapping lifecycle. Once built, a
// CodebaseCache is shared read-only across concurrent searches.
package cache

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/standardbeagle/memsearchd/internal/debug"
	mserrors "github.com/standardbeagle/memsearchd/internal/errors"
)

// Options configures cache construction. Zero values fall back to the
// spec's defaults.
type Options struct {
	// MaxFileBytes is the hard per-file size ceiling; files larger than
	// this are skipped. Defaults to 16 MiB.
	MaxFileBytes int64

	// MapWorkers bounds how many files are opened and mapped
	// concurrently during construction. Defaults to hardware
	// parallelism.
	MapWorkers int
}

const defaultMaxFileBytes = 16 << 20

func (o Options) resolve() Options {
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = defaultMaxFileBytes
	}
	if o.MapWorkers <= 0 {
		o.MapWorkers = runtime.NumCPU()
		if o.MapWorkers < 1 {
			o.MapWorkers = 1
		}
	}
	return o
}

// Stats aggregates counters over a cache's file set.
type Stats struct {
	FileCount  int
	TotalBytes int64
	// Fingerprint XORs every mapped file's FastHash into one
	// order-independent value, giving operators a cheap way to tell two
	// allocations of the "same" root apart (see MappedFile.FastHash).
	Fingerprint uint64
}

// CodebaseCache is the immutable, in-memory-mapped view of a codebase
// root. It owns every MappedFile beneath root that survived the walk's
// ignore rules, size limit, and binary classification. Once New
// returns, the cache is not mutated until Close: multiple searches run
// against it concurrently with no locking.
type CodebaseCache struct {
	Root  string
	files []*MappedFile
	stats Stats
}

// New walks root, mmaps every qualifying text file, and returns the
// frozen cache. Construction fails only when root itself does not
// exist, is not a directory, or cannot be read — per-file failures
// (permission denied, transient I/O) are logged and the file is simply
// omitted from the cache. Files rejected for NUL-byte binary content
// are omitted without a log line.
func New(root string, opts Options) (*CodebaseCache, error) {
	opts = opts.resolve()

	candidates, err := walkRoot(root, opts.MaxFileBytes)
	if err != nil {
		return nil, err
	}

	files, skipErrs := mapCandidates(candidates, opts.MapWorkers)
	if len(skipErrs) > 0 {
		debug.Warnf("cache", "%v", mserrors.NewMultiError(skipErrs))
	}

	stats := Stats{FileCount: len(files)}
	for _, f := range files {
		stats.TotalBytes += f.Size()
		stats.Fingerprint ^= f.FastHash
	}

	return &CodebaseCache{Root: root, files: files, stats: stats}, nil
}

// mapCandidates maps each candidate in parallel, bounded by workers,
// while preserving the walker's order in the returned slice: a
// scanner-then-bounded-mapper-pool-then-collector pipeline, the mapper
// stage fanning out over a semaphore instead of the scanner stage (the
// walk itself is cheap and sequential; mapping is the expensive part).
func mapCandidates(candidates []candidate, workers int) ([]*MappedFile, []error) {
	slots := make([]*MappedFile, len(candidates))
	sem := semaphore.NewWeighted(int64(workers))

	var wg sync.WaitGroup
	var errsMu sync.Mutex
	var errs []error
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c candidate) {
			defer wg.Done()
			if err := sem.Acquire(context.Background(), 1); err != nil {
				return
			}
			defer sem.Release(1)

			mf, err := mapOne(c)
			if err != nil {
				fileErr := mserrors.NewFileError(c.relPath, "mmap failed", err)
				debug.Debugf("cache", "%v", fileErr)
				errsMu.Lock()
				errs = append(errs, fileErr)
				errsMu.Unlock()
				return
			}
			if mf == nil {
				return // classified binary by content, not an error
			}
			slots[i] = mf
		}(i, c)
	}
	wg.Wait()

	out := make([]*MappedFile, 0, len(slots))
	for _, mf := range slots {
		if mf != nil {
			out = append(out, mf)
		}
	}
	return out, errs
}

// mapOne opens and maps a single candidate, returning (nil, nil) if the
// content-based binary heuristic (NUL byte in the first 8 KiB) rejects
// it after mapping.
func mapOne(c candidate) (*MappedFile, error) {
	mf, err := newMappedFile(c.absPath, c.size)
	if err != nil {
		return nil, err
	}

	window := mf.Bytes()
	if len(window) > binarySniffWindow {
		window = window[:binarySniffWindow]
	}
	if looksBinaryByContent(window) {
		mf.close()
		return nil, nil
	}
	return mf, nil
}

// Files returns the cache's file list in walker order. The slice and
// its MappedFile elements must not be retained past the cache's Close.
func (c *CodebaseCache) Files() []*MappedFile {
	return c.files
}

// Stats returns the cache's aggregate counters.
func (c *CodebaseCache) Stats() Stats {
	return c.stats
}

// Close unmaps every file the cache owns and empties its file list.
// Called on tenant release.
func (c *CodebaseCache) Close() error {
	var firstErr error
	for _, f := range c.files {
		if err := f.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unmapping %s: %w", f.Path, err)
		}
	}
	c.files = nil
	return firstErr
}
