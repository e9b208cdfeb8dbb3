package debug

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// saveAndRestoreState saves the debug package state and returns a cleanup function.
func saveAndRestoreState() func() {
	mu.Lock()
	originalOutput := output
	originalLevel := minLevel
	mu.Unlock()
	return func() {
		mu.Lock()
		output = originalOutput
		minLevel = originalLevel
		mu.Unlock()
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestLogRespectsLevel(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)

	Log(LevelInfo, "cache", "should not appear")
	assert.Empty(t, buf.String())

	Log(LevelWarn, "cache", "should appear %d", 1)
	assert.Contains(t, buf.String(), "[WARN:cache]")
	assert.Contains(t, buf.String(), "should appear 1")
}

func TestLevelHelpers(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelDebug)

	Debugf("cache", "debug %s", "msg")
	Infof("server", "info %s", "msg")
	Warnf("server", "warn %s", "msg")
	Errorf("server", "error %s", "msg")

	out := buf.String()
	assert.Contains(t, out, "[DEBUG:cache]")
	assert.Contains(t, out, "[INFO:server]")
	assert.Contains(t, out, "[WARN:server]")
	assert.Contains(t, out, "[ERROR:server]")
}

func TestSetOutputNilSilences(t *testing.T) {
	defer saveAndRestoreState()()

	SetOutput(nil)
	SetLevel(LevelDebug)

	// Should not panic even though output is nil.
	Infof("cache", "nothing should happen")
}

func TestConcurrentLogging(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelDebug)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			Infof("worker", "message from goroutine %d", id)
		}(i)
	}
	wg.Wait()

	assert.True(t, strings.Contains(buf.String(), "message from goroutine"))
}
