package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger that also remembers whether child process
// output should be logged.
type Logger struct {
	zlog          zerolog.Logger
	processOutput bool
}

type loggerContextKey struct{}

// NewLogger opens cfg.Output ("stdout", "stderr" or a file path appended
// to) and builds a logger writing to it.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	w, err := openLogOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewLoggerWithWriter(cfg, w), nil
}

func openLogOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log output: %w", err)
	}
	return f, nil
}

// NewLoggerWithWriter builds a logger writing to w. Unknown levels fall
// back to info.
func NewLoggerWithWriter(cfg LoggingConfig, w io.Writer) *Logger {
	zerolog.TimeFieldFormat = timeFieldFormat(cfg.TimeFormat)
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat(cfg.TimeFormat)}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	return &Logger{zlog: zctx.Logger(), processOutput: cfg.ProcessOutput}
}

func timeFieldFormat(format string) string {
	switch format {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	}
	return time.RFC3339
}

func consoleTimeFormat(format string) string {
	if format == "unix" {
		return zerolog.TimeFormatUnix
	}
	return time.Kitchen
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Zerolog returns the underlying logger for packages that take a
// zerolog.Logger directly.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// ProcessOutputEnabled reports whether child output is logged line by line.
func (l *Logger) ProcessOutputEnabled() bool {
	return l.processOutput
}

// With returns a child logger with the fields added by fn.
func (l *Logger) With(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zlog: fn(l.zlog.With()).Logger(), processOutput: l.processOutput}
}

// NewComponentLogger tags every entry with component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.With(func(c zerolog.Context) zerolog.Context {
		return c.Str("component", component)
	})
}

func (l *Logger) WithExecutionID(id string) *Logger {
	return l.With(func(c zerolog.Context) zerolog.Context {
		return c.Str("execution_id", id)
	})
}

func (l *Logger) WithOperation(operation, workDir string) *Logger {
	return l.With(func(c zerolog.Context) zerolog.Context {
		return c.Str("operation", operation).Str("workdir", workDir)
	})
}

func (l *Logger) WithError(err error) *Logger {
	return l.With(func(c zerolog.Context) zerolog.Context {
		return c.Err(err)
	})
}

// WithContext stores the logger in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext returns the logger stored in ctx, or a logger that discards
// everything.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return NopLogger()
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

func (l *Logger) DebugEvent() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) InfoEvent() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) WarnEvent() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) ErrorEvent() *zerolog.Event { return l.zlog.Error() }
