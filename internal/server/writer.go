package server

import (
	"fmt"
	"net"
	"sync"

	"github.com/standardbeagle/memsearchd/internal/protocol"
	"github.com/standardbeagle/memsearchd/internal/tenant"
)

// socketWriter is the production tenant.Writer: a persistent connection
// to one tenant's response socket, guarded by its own mutex so the
// worker pool can write concurrently without racing the same
// connection's underlying fd.
type socketWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func dialResponseSocket(path string) (tenant.Writer, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dialing response socket %s: %w", path, err)
	}
	return &socketWriter{conn: conn}, nil
}

func (w *socketWriter) Write(reply interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return protocol.WriteFrame(w.conn, reply)
}

func (w *socketWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Close()
}
