package protocol

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := AllocPidRequest{Type: TypeAllocPid, Pid: 1001, RepoDirPath: "/tmp/repo"}

	require.NoError(t, WriteFrame(&buf, req))

	var got AllocPidRequest
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, req, got)
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 4)
	header[0], header[1], header[2], header[3] = 0xff, 0xff, 0xff, 0x7f
	buf.Write(header)

	var v Envelope
	err := ReadFrame(&buf, &v)
	assert.Error(t, err)
}

func TestReadRawFrame_PeekType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, ReleasePidRequest{Type: TypeReleasePid, Pid: 42}))

	raw, err := ReadRawFrame(&buf)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, TypeReleasePid, env.Type)

	var full ReleasePidRequest
	require.NoError(t, json.Unmarshal(raw, &full))
	assert.Equal(t, uint32(42), full.Pid)
}

func TestOKAndFail(t *testing.T) {
	ok := OK("a.txt:1:hello\n")
	assert.Equal(t, 1, ok.ResponseStatus)
	assert.Empty(t, ok.Error)

	fail := Fail("unknown pid")
	assert.Equal(t, 0, fail.ResponseStatus)
	assert.Equal(t, "unknown pid", fail.Error)
}
