// Package procrun executes external programs under a hard timeout while
// draining their output streams concurrently.
package procrun

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/indexflow/pkg/logger"
)

// DefaultTimeout bounds a single invocation when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Status tags how an invocation ended.
type Status int

const (
	// StatusExited means the child ran to completion; ExitCode holds its code.
	StatusExited Status = iota
	// StatusNotFound means the executable could not be located.
	StatusNotFound
	// StatusTimeout means the child was killed after the timeout elapsed.
	StatusTimeout
	// StatusExecError covers every other launch or I/O failure.
	StatusExecError
)

func (s Status) String() string {
	switch s {
	case StatusExited:
		return "exited"
	case StatusNotFound:
		return "not_found"
	case StatusTimeout:
		return "timeout"
	case StatusExecError:
		return "exec_error"
	default:
		return "unknown"
	}
}

// Outcome is the normalized result of one invocation. ExitCode is only
// meaningful when Status is StatusExited.
type Outcome struct {
	Status   Status
	ExitCode int
	Stdout   []string
	Stderr   []string
	Err      error
}

// Succeeded reports whether the child exited with code 0.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusExited && o.ExitCode == 0
}

// Runner spawns one child process per call.
type Runner struct {
	timeout   time.Duration
	waitDelay time.Duration
	logger    *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithWaitDelay bounds how long output pipes are drained after the child has
// exited or been killed, e.g. when a grandchild keeps them open.
func WithWaitDelay(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.waitDelay = d
		}
	}
}

// WithLogger sets the logger for failed runs. Output of streams without a sink
// is logged through it at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// New constructs a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		timeout:   DefaultTimeout,
		waitDelay: 2 * time.Second,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timeout returns the per-invocation limit.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Run executes `executable script args...`, logging captured output at debug level.
func (r *Runner) Run(ctx context.Context, executable, script string, args ...string) Outcome {
	return r.RunWithSinks(ctx, nil, nil, executable, script, args...)
}

// RunWithSinks executes `executable script args...` and copies every captured
// line to the matching sink. A nil sink sends the lines to the debug log.
// The same writer may be passed for both streams. An empty script is omitted
// from the argument vector.
func (r *Runner) RunWithSinks(ctx context.Context, stdout, stderr io.Writer, executable, script string, args ...string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	argv := make([]string, 0, len(args)+1)
	if script != "" {
		argv = append(argv, script)
	}
	argv = append(argv, args...)

	var sinkMu sync.Mutex
	outLines := newLineCollector(r.sink(stdout, "stdout"), &sinkMu)
	errLines := newLineCollector(r.sink(stderr, "stderr"), &sinkMu)

	cmd := exec.CommandContext(ctx, executable, argv...)
	cmd.Stdout = outLines
	cmd.Stderr = errLines
	cmd.WaitDelay = r.waitDelay

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			r.logger.Error("executable not found", zap.String("executable", executable), zap.Error(err))
			return Outcome{Status: StatusNotFound, ExitCode: -1, Err: err}
		}
		r.logger.Error("failed to start process", zap.String("executable", executable), zap.Error(err))
		return Outcome{Status: StatusExecError, ExitCode: -1, Err: err}
	}

	waitErr := cmd.Wait()
	outcome := Outcome{
		Stdout: outLines.finish(),
		Stderr: errLines.finish(),
		Err:    waitErr,
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		outcome.Status = StatusExited
		outcome.ExitCode = 0
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.logger.Error("process did not finish in time",
			zap.String("executable", executable),
			zap.Duration("timeout", r.timeout),
		)
		outcome.Status = StatusTimeout
		outcome.ExitCode = -1
	case ctx.Err() != nil:
		outcome.Status = StatusExecError
		outcome.ExitCode = -1
		outcome.Err = ctx.Err()
	case errors.As(waitErr, &exitErr):
		outcome.Status = StatusExited
		outcome.ExitCode = exitErr.ExitCode()
		outcome.Err = nil
	default:
		r.logger.Error("process failed", zap.String("executable", executable), zap.Error(waitErr))
		outcome.Status = StatusExecError
		outcome.ExitCode = -1
	}
	return outcome
}

func (r *Runner) sink(w io.Writer, stream string) io.Writer {
	if w != nil {
		return w
	}
	return logger.LineWriter{Logger: r.logger, Stream: stream}
}

// lineCollector splits a byte stream into lines, keeps them, and forwards
// each one to a sink. sinkMu is shared between the stdout and stderr
// collectors of one call since both may point at the same writer.
type lineCollector struct {
	mu     sync.Mutex
	sinkMu *sync.Mutex
	sink   io.Writer
	buf    []byte
	lines  []string
}

func newLineCollector(sink io.Writer, sinkMu *sync.Mutex) *lineCollector {
	return &lineCollector{sink: sink, sinkMu: sinkMu}
}

func (c *lineCollector) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = append(c.buf, p...)
	for {
		i := bytes.IndexByte(c.buf, '\n')
		if i < 0 {
			break
		}
		c.emit(c.buf[:i])
		c.buf = c.buf[i+1:]
	}
	return len(p), nil
}

// finish flushes a trailing unterminated line and returns everything seen.
func (c *lineCollector) finish() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) > 0 {
		c.emit(c.buf)
		c.buf = nil
	}
	return c.lines
}

func (c *lineCollector) emit(raw []byte) {
	line := string(bytes.TrimSuffix(raw, []byte{'\r'}))
	c.lines = append(c.lines, line)

	c.sinkMu.Lock()
	// Sink output is diagnostic only; a failing sink never fails the run.
	_, _ = io.WriteString(c.sink, line+"\n")
	c.sinkMu.Unlock()
}
