package procrun

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shell = "/bin/sh"

func TestRunExitZero(t *testing.T) {
	out := New().Run(context.Background(), shell, "-c", "echo first; echo second")

	require.Equal(t, StatusExited, out.Status)
	assert.Equal(t, 0, out.ExitCode)
	assert.True(t, out.Succeeded())
	assert.Equal(t, []string{"first", "second"}, out.Stdout)
	assert.Empty(t, out.Stderr)
	assert.NoError(t, out.Err)
}

func TestRunSurfacesExitCode(t *testing.T) {
	for _, code := range []int{1, 2, 3, 4, 42} {
		out := New().Run(context.Background(), shell, "-c", "exit "+strconv.Itoa(code))

		assert.Equal(t, StatusExited, out.Status)
		assert.Equal(t, code, out.ExitCode)
		assert.False(t, out.Succeeded())
	}
}

func TestRunExecutableNotFound(t *testing.T) {
	for _, exe := range []string{"/nonexistent/bin/python", "indexflow-no-such-runtime"} {
		out := New().Run(context.Background(), exe, "script.py")

		assert.Equal(t, StatusNotFound, out.Status, exe)
		assert.Error(t, out.Err)
		assert.False(t, out.Succeeded())
	}
}

func TestRunTimeoutKillsChild(t *testing.T) {
	r := New(WithTimeout(200*time.Millisecond), WithWaitDelay(500*time.Millisecond))

	start := time.Now()
	out := r.Run(context.Background(), shell, "-c", "exec sleep 30")

	assert.Equal(t, StatusTimeout, out.Status)
	assert.False(t, out.Succeeded())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	out := New().Run(ctx, shell, "-c", "exec sleep 30")

	assert.Equal(t, StatusExecError, out.Status)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestRunDrainsLargeStderrWithoutDeadlock(t *testing.T) {
	// Roughly 250 KiB on stderr, well past a pipe buffer, nothing on stdout.
	script := `i=0; while [ $i -lt 20000 ]; do echo "diagnostic line $i" >&2; i=$((i+1)); done`
	r := New(WithTimeout(20 * time.Second))

	out := r.Run(context.Background(), shell, "-c", script)

	require.Equal(t, StatusExited, out.Status)
	assert.Equal(t, 0, out.ExitCode)
	assert.Empty(t, out.Stdout)
	require.Len(t, out.Stderr, 20000)
	assert.Equal(t, "diagnostic line 0", out.Stderr[0])
	assert.Equal(t, "diagnostic line 19999", out.Stderr[19999])
}

func TestRunWithSharedSink(t *testing.T) {
	var buf bytes.Buffer

	out := New().RunWithSinks(context.Background(), &buf, &buf, shell, "-c", "echo to-out; echo to-err >&2; printf tail")

	require.True(t, out.Succeeded())
	assert.Equal(t, []string{"to-out", "tail"}, out.Stdout)
	assert.Equal(t, []string{"to-err"}, out.Stderr)
	combined := buf.String()
	assert.Contains(t, combined, "to-out\n")
	assert.Contains(t, combined, "to-err\n")
	assert.Contains(t, combined, "tail\n")
}

func TestRunOmitsEmptyScript(t *testing.T) {
	out := New().Run(context.Background(), "/bin/echo", "", "rule.mapping", "in.json")

	require.True(t, out.Succeeded())
	assert.Equal(t, []string{"rule.mapping in.json"}, out.Stdout)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "exited", StatusExited.String())
	assert.Equal(t, "not_found", StatusNotFound.String())
	assert.Equal(t, "timeout", StatusTimeout.String())
	assert.Equal(t, "exec_error", StatusExecError.String())
	assert.Equal(t, "unknown", Status(99).String())
}

func TestLineCollectorHandlesSplitWrites(t *testing.T) {
	var sink strings.Builder
	var mu sync.Mutex
	c := newLineCollector(&sink, &mu)

	_, _ = c.Write([]byte("par"))
	_, _ = c.Write([]byte("tial\r\nnext"))

	assert.Equal(t, []string{"partial", "next"}, c.finish())
	assert.Equal(t, "partial\nnext\n", sink.String())
}
