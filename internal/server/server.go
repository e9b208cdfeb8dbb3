// Package server implements memsearchd's IPC daemon: the request-socket
// listener, the bounded worker pool that dequeues and executes requests,
// and the per-tenant response-socket writers. Grounded on the teacher's
// internal/server.IndexServer lifecycle (Start/Wait/Shutdown, socket
// removal on startup and clean shutdown), adapted from an HTTP-over-unix
// RPC server to the spec's raw length-prefixed framing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	msdebug "github.com/standardbeagle/memsearchd/internal/debug"

	"github.com/standardbeagle/memsearchd/internal/config"
	"github.com/standardbeagle/memsearchd/internal/protocol"
	"github.com/standardbeagle/memsearchd/internal/search"
	"github.com/standardbeagle/memsearchd/internal/tenant"
)

// job is one decoded request pulled off the request queue by a worker.
type job struct {
	envelope protocol.Envelope
	raw      []byte
}

// Server owns the request-socket listener, the bounded request queue,
// and the worker pool that drains it. One Server runs for the daemon's
// entire lifetime.
type Server struct {
	cfg        *config.Config
	tenants    *tenant.Table
	dispatcher *Dispatcher

	listener  net.Listener
	queue     chan job
	acceptWg  sync.WaitGroup
	workerWg  sync.WaitGroup
	startTime time.Time

	mu      sync.Mutex
	running bool
}

// New builds a Server around cfg. The search engine's default worker
// count follows cfg.Workers, matching the per-query "threads" option's
// own fallback.
func New(cfg *config.Config) *Server {
	tenants := tenant.New()
	engine := search.NewEngine(cfg.Workers)
	dispatcher := NewDispatcher(cfg, tenants, engine, func(pid uint32) (tenant.Writer, error) {
		return dialResponseSocket(cfg.ResponseSocketPath(pid))
	})

	return &Server{
		cfg:        cfg,
		tenants:    tenants,
		dispatcher: dispatcher,
		queue:      make(chan job, cfg.RequestQueueSize),
	}
}

// Tenants exposes the tenant table for the SIGUSR1 introspection handler.
func (s *Server) Tenants() *tenant.Table { return s.tenants }

// Start removes any stale request socket, binds a fresh one at mode
// 0770, and launches the listener and worker-pool goroutines. It returns
// once the socket is ready to accept connections.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	path := s.cfg.RequestSocketPath
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("binding request socket %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o770); err != nil {
		ln.Close()
		return fmt.Errorf("chmod request socket %s: %w", path, err)
	}
	s.listener = ln
	s.startTime = time.Now()

	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWg.Add(1)
		go s.runWorker()
	}

	s.acceptWg.Add(1)
	go s.acceptLoop()

	msdebug.Infof("server", "listening on %s (pid %d, %d workers)", path, os.Getpid(), s.cfg.Workers)
	return nil
}

// acceptLoop is the listener thread: it blocks on Accept, reads exactly
// one frame per connection, and closes the connection (the request
// socket is connectionless per request — every reply travels over the
// tenant's own response socket instead). A full queue blocks the accept
// loop, which is the daemon's admission-control backpressure.
func (s *Server) acceptLoop() {
	defer s.acceptWg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed during shutdown
		}
		s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	raw, err := protocol.ReadRawFrame(conn)
	if err != nil {
		msdebug.Warnf("server", "reading request frame: %v", err)
		return
	}

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		msdebug.Warnf("server", "malformed request (no type field): %v", err)
		return
	}

	s.queue <- job{envelope: env, raw: raw}
}

// runWorker dequeues jobs and dispatches them. Each Dispatcher handler
// recovers its own panics and still delivers a response_status:0 reply
// (see dispatch.go); the recover here is only a backstop for a panic
// during request decoding, before any response writer has been dialed,
// where no reply is possible.
func (s *Server) runWorker() {
	defer s.workerWg.Done()
	for j := range s.queue {
		s.dispatchJob(j)
	}
}

func (s *Server) dispatchJob(j job) {
	defer func() {
		if r := recover(); r != nil {
			msdebug.Errorf("server", "panic handling %s request: %v\n%s", j.envelope.Type, r, debug.Stack())
		}
	}()

	switch j.envelope.Type {
	case protocol.TypeAllocPid:
		var req protocol.AllocPidRequest
		if err := json.Unmarshal(j.raw, &req); err != nil {
			msdebug.Warnf("server", "malformed alloc_pid: %v", err)
			return
		}
		s.dispatcher.HandleAllocPid(req)

	case protocol.TypeReleasePid:
		var req protocol.ReleasePidRequest
		if err := json.Unmarshal(j.raw, &req); err != nil {
			msdebug.Warnf("server", "malformed release_pid: %v", err)
			return
		}
		s.dispatcher.HandleReleasePid(req)

	case protocol.TypeRequestRipgrep:
		var req protocol.RequestRipgrepRequest
		if err := json.Unmarshal(j.raw, &req); err != nil {
			msdebug.Warnf("server", "malformed request_ripgrep: %v", err)
			return
		}
		s.dispatcher.HandleRequestRipgrep(context.Background(), req)

	default:
		msdebug.Warnf("server", "unknown request type %q", j.envelope.Type)
	}
}

// Shutdown stops accepting new connections, drains in-flight workers,
// and removes the request socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}

	acceptDone := make(chan struct{})
	go func() {
		s.acceptWg.Wait()
		close(acceptDone)
	}()
	select {
	case <-acceptDone:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out waiting for listener: %w", ctx.Err())
	}

	close(s.queue)

	workersDone := make(chan struct{})
	go func() {
		s.workerWg.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out waiting for workers: %w", ctx.Err())
	}

	os.Remove(s.cfg.RequestSocketPath)
	msdebug.Infof("server", "shut down cleanly")
	return nil
}

// Uptime reports how long the server has been accepting connections.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
