// Package process runs the external tool as a child process and captures
// its output.
package process

import (
	"context"
	"io"
	"time"
)

// Mode selects how child output is captured.
type Mode int

const (
	// Buffered accumulates both streams in memory. Use it only for
	// commands with bounded output.
	Buffered Mode = iota
	// Streaming echoes output to the caller's writers as it arrives while
	// also accumulating it.
	Streaming
)

func (m Mode) String() string {
	if m == Streaming {
		return "streaming"
	}
	return "buffered"
}

const (
	// DefaultTimeout bounds a single child process.
	DefaultTimeout = time.Hour
	// DefaultGracePeriod is how long a terminated child gets before SIGKILL.
	DefaultGracePeriod = 10 * time.Second
	// OutputDrainDelay is how long Run keeps reading after the child has
	// exited while something else still holds its stdout or stderr.
	OutputDrainDelay = time.Second
)

// Request describes one child process invocation.
type Request struct {
	Binary string
	Args   []string
	Dir    string
	// Env is merged over the parent environment.
	Env  map[string]string
	Mode Mode

	// Timeout of zero means DefaultTimeout; negative disables it.
	Timeout     time.Duration
	GracePeriod time.Duration

	// Streaming echo targets; nil means os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// Result is the outcome of one invocation. It is always non-nil and never
// carries a panic or raw fault; spawn and I/O failures are reported through
// Err with ExitCode -1.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	TimedOut bool
	Canceled bool
	Duration time.Duration
}

// Combined returns stdout followed by stderr.
func (r *Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes a child process.
type Runner interface {
	Run(ctx context.Context, req Request) *Result
}
