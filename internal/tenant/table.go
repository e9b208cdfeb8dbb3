// Package tenant implements memsearchd's TenantTable: the map from a
// client's pid to its bound codebase cache and response-socket writer.
//
// The table itself never performs I/O. Dialing a tenant's response
// socket and writing replies to it is the caller's (internal/server's)
// job, expressed here only as the Writer interface so this package stays
// free of net dependencies and easy to test in isolation.
package tenant

import (
	"sync"
	"time"

	"github.com/standardbeagle/memsearchd/internal/cache"
)

// Writer delivers a reply to one tenant's response socket. Implementations
// must serialize concurrent writes themselves (the daemon's locking
// design gives each tenant's writer its own sync.Mutex) since the table
// does not hold any lock across a Write call.
type Writer interface {
	Write(reply interface{}) error
	Close() error
}

// Entry is one tenant's binding: its mapped codebase and the writer used
// to deliver replies to its response socket.
type Entry struct {
	Pid       uint32
	Root      string
	Cache     *cache.CodebaseCache
	Writer    Writer
	AllocTime time.Time
}

// Table is the daemon's pid -> Entry map. One Table is shared by every
// worker; the RWMutex is held only around map access, never across the
// I/O (cache build, socket dial, response write) that allocating or
// releasing a tenant entails — those happen before the entry is inserted
// or after it is removed.
type Table struct {
	mu      sync.RWMutex
	entries map[uint32]*Entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[uint32]*Entry)}
}

// Lookup returns the entry bound to pid, or (nil, false) if no such
// tenant is currently allocated.
func (t *Table) Lookup(pid uint32) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[pid]
	return e, ok
}

// Allocate binds pid to the given entry, replacing (releasing) any prior
// binding for that pid first. This resolves re-alloc_pid on an
// already-bound pid as release-then-allocate: the old entry's cache and
// writer are closed before the new one takes its place, rather than
// rejecting the request or leaking the old binding.
//
// The caller is expected to have already built entry.Cache and
// entry.Writer for the new root; Allocate's only job is the table
// mutation plus releasing whatever it replaces.
func (t *Table) Allocate(pid uint32, entry *Entry) {
	entry.Pid = pid
	if entry.AllocTime.IsZero() {
		entry.AllocTime = time.Now()
	}

	t.mu.Lock()
	prior := t.entries[pid]
	t.entries[pid] = entry
	t.mu.Unlock()

	if prior != nil {
		closeEntry(prior)
	}
}

// Release removes pid's binding, if any, and closes its cache and
// writer. Releasing an unknown pid is not an error; the caller is
// responsible for reporting that separately (spec's release-idempotence
// requirement: release_pid on a never-allocated pid still replies
// response_status:1).
func (t *Table) Release(pid uint32) {
	t.mu.Lock()
	e, ok := t.entries[pid]
	if ok {
		delete(t.entries, pid)
	}
	t.mu.Unlock()

	if ok {
		closeEntry(e)
	}
}

func closeEntry(e *Entry) {
	if e.Cache != nil {
		e.Cache.Close()
	}
	if e.Writer != nil {
		e.Writer.Close()
	}
}

// Snapshot is one tenant's state as reported by Dump, for operator
// introspection (SIGUSR1).
type Snapshot struct {
	Pid         uint32
	Root        string
	FileCount   int
	TotalBytes  int64
	Fingerprint uint64
	Age         time.Duration
}

// Dump returns a snapshot of every currently allocated tenant, for the
// SIGUSR1 operator-introspection handler. It takes the read lock only
// long enough to copy the entry pointers; the per-entry Stats() calls
// below happen outside the lock.
func (t *Table) Dump() []Snapshot {
	t.mu.RLock()
	entries := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	now := time.Now()
	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		stats := e.Cache.Stats()
		out = append(out, Snapshot{
			Pid:         e.Pid,
			Root:        e.Root,
			FileCount:   stats.FileCount,
			TotalBytes:  stats.TotalBytes,
			Fingerprint: stats.Fingerprint,
			Age:         now.Sub(e.AllocTime),
		})
	}
	return out
}

// Len reports the number of currently allocated tenants.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
