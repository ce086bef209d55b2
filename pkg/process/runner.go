package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/tfdriver/pkg/telemetry"
)

// ExecRunner runs requests with os/exec.
type ExecRunner struct {
	logger *telemetry.Logger
}

// NewExecRunner creates a runner. A nil logger discards output.
func NewExecRunner(logger *telemetry.Logger) *ExecRunner {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &ExecRunner{logger: logger.NewComponentLogger("process")}
}

type stopReason int

const (
	stopNone stopReason = iota
	stopTimeout
	stopCanceled
)

// Run spawns the child with stdin on the null device, captures both
// streams and waits for exit. It never panics and always returns a Result.
func (r *ExecRunner) Run(ctx context.Context, req Request) (res *Result) {
	start := time.Now()
	res = &Result{ExitCode: -1}
	defer func() {
		res.Duration = time.Since(start)
	}()

	logger := r.logger.With(func(c zerolog.Context) zerolog.Context {
		return c.Str("binary", req.Binary).Str("dir", req.Dir).Str("mode", req.Mode.String())
	})

	if err := ctx.Err(); err != nil {
		res.Err = err
		res.Canceled = true
		return res
	}

	cmd := exec.Command(req.Binary, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = mergeEnv(os.Environ(), req.Env)
	setProcessGroup(cmd)

	var outEcho, errEcho io.Writer
	if req.Mode == Streaming {
		outEcho, errEcho = req.Stdout, req.Stderr
		if outEcho == nil {
			outEcho = os.Stdout
		}
		if errEcho == nil {
			errEcho = os.Stderr
		}
	}

	// Stdin stays nil: the child reads from the null device.
	var mu sync.Mutex
	stdout := &sink{r: r, name: "stdout", mu: &mu, echo: outEcho}
	stderr := &sink{r: r, name: "stderr", mu: &mu, echo: errEcho}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// A grandchild that inherited the pipes must not hold Wait open after
	// the child has exited.
	cmd.WaitDelay = OutputDrainDelay

	logger.DebugEvent().Strs("args", req.Args).Msg("starting process")
	if err := cmd.Start(); err != nil {
		logger.WithError(err).Error("failed to start process")
		res.Err = fmt.Errorf("failed to start %s: %w", req.Binary, err)
		return res
	}

	done := make(chan struct{})
	stopped := r.watch(ctx, cmd, req, done)

	waitErr := cmd.Wait()
	close(done)
	reason := <-stopped

	res.Stdout = stdout.finish()
	res.Stderr = stderr.finish()

	switch reason {
	case stopTimeout:
		res.TimedOut = true
		res.Err = fmt.Errorf("process timed out after %s", effectiveTimeout(req))
		logger.WarnEvent().Dur("timeout", effectiveTimeout(req)).Msg("process timed out")
		return res
	case stopCanceled:
		res.Canceled = true
		res.Err = ctx.Err()
		logger.Warn("process canceled")
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.ExitCode = 0
	case errors.Is(waitErr, exec.ErrWaitDelay):
		logger.Debug("output still held open after exit, stopped reading")
		res.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		// ExitCode is -1 when the child died from a signal.
		res.ExitCode = exitErr.ExitCode()
	default:
		res.Err = fmt.Errorf("failed to read process output: %w", waitErr)
		return res
	}

	logger.DebugEvent().
		Int("exit_code", res.ExitCode).
		Dur("duration", time.Since(start)).
		Msg("process exited")
	return res
}

// watch terminates the child's process group when the timeout expires or
// ctx is cancelled: SIGTERM first, SIGKILL after the grace period. The
// returned channel yields why the child was stopped once done is closed.
func (r *ExecRunner) watch(ctx context.Context, cmd *exec.Cmd, req Request, done <-chan struct{}) <-chan stopReason {
	out := make(chan stopReason, 1)

	go func() {
		var expired <-chan time.Time
		if timeout := effectiveTimeout(req); timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			expired = timer.C
		}

		var reason stopReason
		select {
		case <-done:
			out <- stopNone
			return
		case <-expired:
			reason = stopTimeout
		case <-ctx.Done():
			reason = stopCanceled
		}

		if err := terminateProcessGroup(cmd); err != nil {
			r.logger.WithError(err).Debug("failed to terminate process group")
		}

		grace := req.GracePeriod
		if grace <= 0 {
			grace = DefaultGracePeriod
		}
		kill := time.NewTimer(grace)
		defer kill.Stop()

		select {
		case <-done:
		case <-kill.C:
			r.logger.Warn("process ignored SIGTERM, killing process group")
			if err := killProcessGroup(cmd); err != nil {
				r.logger.WithError(err).Debug("failed to kill process group")
			}
			<-done
		}
		out <- reason
	}()

	return out
}

// sink accumulates one stream of the child and echoes every write when
// echo is set. Both sinks of a run share mu so echoes to a common
// writer never interleave mid-write.
type sink struct {
	r    *ExecRunner
	name string
	mu   *sync.Mutex
	echo io.Writer

	buf     strings.Builder
	partial []byte
}

// Write never fails: an echo error is logged and capture goes on.
func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Write(p)
	if s.echo != nil {
		if _, err := s.echo.Write(p); err != nil {
			s.r.logger.WithError(err).Debug("failed to echo process output")
		}
	}
	if s.r.logger.ProcessOutputEnabled() {
		s.partial = append(s.partial, p...)
		for {
			i := bytes.IndexByte(s.partial, '\n')
			if i < 0 {
				break
			}
			s.r.logLine(s.name, string(s.partial[:i]))
			s.partial = s.partial[i+1:]
		}
	}
	return len(p), nil
}

// finish logs a trailing line that had no newline and returns everything
// written.
func (s *sink) finish() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.partial) > 0 {
		s.r.logLine(s.name, string(s.partial))
		s.partial = nil
	}
	return s.buf.String()
}

func (r *ExecRunner) logLine(stream, line string) {
	if !r.logger.ProcessOutputEnabled() {
		return
	}
	r.logger.InfoEvent().Str("stream", stream).Msg(strings.TrimRight(line, "\r\n"))
}

func effectiveTimeout(req Request) time.Duration {
	switch {
	case req.Timeout == 0:
		return DefaultTimeout
	case req.Timeout < 0:
		return 0
	default:
		return req.Timeout
	}
}

// mergeEnv overlays extra onto base, replacing existing keys.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}

	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := extra[key]; ok {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
