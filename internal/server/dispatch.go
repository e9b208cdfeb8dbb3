package server

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/standardbeagle/memsearchd/internal/cache"
	"github.com/standardbeagle/memsearchd/internal/config"
	msdebug "github.com/standardbeagle/memsearchd/internal/debug"
	mserrors "github.com/standardbeagle/memsearchd/internal/errors"
	"github.com/standardbeagle/memsearchd/internal/protocol"
	"github.com/standardbeagle/memsearchd/internal/search"
	"github.com/standardbeagle/memsearchd/internal/tenant"
	"github.com/standardbeagle/memsearchd/internal/version"
)

// Dialer opens the outbound connection to one tenant's response socket.
// Production code dials a real unix socket (see dialResponseSocket in
// writer.go); tests substitute an in-memory tenant.Writer.
type Dialer func(pid uint32) (tenant.Writer, error)

// Dispatcher executes parsed requests against the tenant table and search
// engine. It never touches request-socket I/O itself — Server's workers
// own framing and hand Dispatcher already-decoded request structs.
type Dispatcher struct {
	cfg     *config.Config
	tenants *tenant.Table
	engine  *search.Engine
	dial    Dialer
}

// NewDispatcher builds a Dispatcher. dial is called once per alloc_pid,
// and once per release_pid or request_ripgrep naming an unbound pid, to
// reach the client's response socket.
func NewDispatcher(cfg *config.Config, tenants *tenant.Table, engine *search.Engine, dial Dialer) *Dispatcher {
	return &Dispatcher{cfg: cfg, tenants: tenants, engine: engine, dial: dial}
}

// HandleAllocPid builds the tenant's codebase cache, dials its response
// socket, and stores the (cache, writer) pair in the tenant table. A
// prior binding for the same pid is released first, per
// tenant.Table.Allocate's release-then-allocate semantics.
func (d *Dispatcher) HandleAllocPid(req protocol.AllocPidRequest) {
	w, err := d.dial(req.Pid)
	if err != nil {
		msdebug.Warnf("server", "alloc_pid %d: dialing response socket: %v", req.Pid, err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logPanic(req.Pid, "alloc_pid", r)
			deliver(w, protocol.Fail(fmt.Sprintf("internal error allocating pid %d", req.Pid)))
			w.Close()
		}
	}()

	c, err := cache.New(req.RepoDirPath, cache.Options{MaxFileBytes: d.cfg.MaxFileBytes})
	if err != nil {
		tenantErr := mserrors.NewTenantError(mserrors.KindResource, req.Pid, err.Error())
		deliver(w, protocol.Fail(tenantErr.Error()))
		w.Close()
		return
	}

	d.tenants.Allocate(req.Pid, &tenant.Entry{Root: req.RepoDirPath, Cache: c, Writer: w})
	deliver(w, protocol.OK(fmt.Sprintf("Allocated %d files (build %s)", c.Stats().FileCount, version.BuildID())))
}

// HandleReleasePid tears down pid's binding, if any. A bound tenant gets
// its reply on its persistent response writer before that writer is
// closed. Releasing an unknown pid is not an error: a fresh dial delivers
// a response_status:1 reply (spec's release-idempotence requirement).
func (d *Dispatcher) HandleReleasePid(req protocol.ReleasePidRequest) {
	if entry, ok := d.tenants.Lookup(req.Pid); ok {
		deliver(entry.Writer, protocol.OK("Released"))
		d.tenants.Release(req.Pid)
		return
	}

	w, err := d.dial(req.Pid)
	if err != nil {
		msdebug.Warnf("server", "release_pid %d: dialing response socket: %v", req.Pid, err)
		return
	}
	defer w.Close()
	defer func() {
		if r := recover(); r != nil {
			logPanic(req.Pid, "release_pid", r)
			deliver(w, protocol.Fail(fmt.Sprintf("internal error releasing pid %d", req.Pid)))
		}
	}()
	deliver(w, protocol.OK("Released"))
}

// HandleRequestRipgrep looks up pid's tenant and runs the search against
// its cache, replying on the tenant's persistent response writer. An
// unknown pid gets a fresh, short-lived dial just to deliver the
// "unknown pid" failure.
func (d *Dispatcher) HandleRequestRipgrep(ctx context.Context, req protocol.RequestRipgrepRequest) {
	entry, ok := d.tenants.Lookup(req.Pid)
	if !ok {
		w, err := d.dial(req.Pid)
		if err != nil {
			msdebug.Warnf("server", "request_ripgrep %d: dialing response socket: %v", req.Pid, err)
			return
		}
		defer w.Close()
		deliver(w, protocol.Fail("unknown pid"))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logPanic(req.Pid, "request_ripgrep", r)
			deliver(entry.Writer, protocol.Fail(fmt.Sprintf("internal error searching pid %d", req.Pid)))
		}
	}()

	timeout := time.Duration(d.cfg.QueryTimeoutSec) * time.Second
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	searchReq := search.Request{
		Pattern: req.Pattern,
		Paths:   req.Paths,
		Options: optionsFromWire(req.Options),
	}
	limits := search.Limits{MaxMatches: d.cfg.MaxQueryMatches, MaxBytes: int(d.cfg.MaxQueryBytes)}

	res, err := d.engine.Search(qctx, entry.Cache, searchReq, limits)
	if err != nil {
		queryErr := mserrors.NewQueryError(mserrors.KindRegexCompile, req.Pattern, err)
		deliverWithRelease(d.tenants, req.Pid, entry.Writer, protocol.Fail(queryErr.Error()))
		return
	}
	deliverWithRelease(d.tenants, req.Pid, entry.Writer, protocol.OK(res.Text))
}

func optionsFromWire(o protocol.SearchOptions) search.Options {
	return search.Options{
		LineNumber:   o.LineNumber,
		Column:       o.Column,
		ByteOffset:   o.ByteOffset,
		IgnoreCase:   o.IgnoreCase,
		FixedStrings: o.FixedStrings,
		WordRegexp:   o.WordRegexp,
		Multiline:    o.Multiline,
		Before:       int(o.Before),
		After:        int(o.After),
		Context:      int(o.Context),
		MaxCount:     int(o.MaxCount),
		Threads:      int(o.Threads),
		IncludeGlobs: o.IncludeGlobs,
		ExcludeGlobs: o.ExcludeGlobs,
	}
}

// logPanic reports a panic recovered at a handler boundary. Each caller
// still delivers its own response_status:0 reply — this only logs.
func logPanic(pid uint32, op string, r interface{}) {
	msdebug.Errorf("server", "panic handling %s for pid %d: %v\n%s", op, pid, r, debug.Stack())
}

func deliver(w tenant.Writer, reply protocol.Reply) {
	if err := w.Write(reply); err != nil {
		msdebug.Warnf("server", "writing reply: %v", err)
	}
}

// deliverWithRelease writes reply on w, and lazily releases pid's tenant
// binding if the write fails — the spec's "response socket detected
// closed (EPIPE on write) triggers lazy release" rule.
func deliverWithRelease(tenants *tenant.Table, pid uint32, w tenant.Writer, reply protocol.Reply) {
	if err := w.Write(reply); err != nil {
		msdebug.Warnf("server", "writing reply to pid %d, releasing: %v", pid, err)
		tenants.Release(pid)
	}
}
