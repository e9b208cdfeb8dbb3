//go:build leaktests
// +build leaktests

package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/memsearchd/internal/protocol"
)

// TestServer_AllocReleaseCycleLeavesNoGoroutines repeatedly allocates and
// releases the same tenant and verifies the worker pool and listener
// leave no goroutines running once the server shuts down.
func TestServer_AllocReleaseCycleLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := newTestServerConfig(t)
	srv := New(cfg)
	require.NoError(t, srv.Start())

	const pid = uint32(42001)
	replies := startResponseListener(t, cfg, pid)
	repo := writeRepo(t, map[string]string{"a.txt": "hello\n"})

	for i := 0; i < 5; i++ {
		sendRequest(t, cfg.RequestSocketPath, protocol.AllocPidRequest{
			Type: protocol.TypeAllocPid, Pid: pid, RepoDirPath: repo,
		})
		awaitReply(t, replies)

		sendRequest(t, cfg.RequestSocketPath, protocol.ReleasePidRequest{
			Type: protocol.TypeReleasePid, Pid: pid,
		})
		awaitReply(t, replies)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	time.Sleep(200 * time.Millisecond)
}
