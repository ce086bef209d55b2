package telemetry

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config selects and configures each telemetry component.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Environment is attached to spans as a resource attribute.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

type LoggingConfig struct {
	Level  string // trace, debug, info, warn, error or fatal
	Format string // console or json
	// Output is stdout, stderr or a file path to append to.
	Output       string
	TimeFormat   string // rfc3339, unix or unixms
	EnableCaller bool

	// ProcessOutput logs every line the child process writes.
	ProcessOutput bool
}

// TracingConfig configures OpenTelemetry. A disabled tracer still hands out
// spans; they are never sampled.
type TracingConfig struct {
	Enabled      bool
	Exporter     string // otlp, stdout or none
	Endpoint     string
	SamplingRate float64
	Insecure     bool
	Headers      map[string]string

	BatchSize     int
	ExportTimeout time.Duration
}

type MetricsConfig struct {
	Enabled       bool
	ListenAddress string
	Path          string
	Namespace     string
	// Buckets for the execution duration histogram, in seconds.
	Buckets []float64
}

// EventsConfig configures the in-process event publisher. Async delivery
// runs subscribers on a background goroutine fed by a buffer of
// BufferSize events.
type EventsConfig struct {
	Enabled      bool
	BufferSize   int
	MaxBatchSize int
	EnableAsync  bool
}

var (
	logLevels     = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	logFormats    = []string{"console", "json"}
	traceExporter = []string{"otlp", "stdout", "none"}
)

// DefaultConfig logs to stderr and leaves tracing and metrics off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "tfdriver",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			Insecure:      true,
			BatchSize:     512,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "tfdriver",
			// Tool runs take anywhere from a second to half an hour.
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		Events: EventsConfig{
			Enabled:      true,
			BufferSize:   256,
			MaxBatchSize: 32,
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.ServiceName != "", "service name is required")
	check(slices.Contains(logLevels, c.Logging.Level), "invalid log level %q", c.Logging.Level)
	check(slices.Contains(logFormats, c.Logging.Format), "invalid log format %q", c.Logging.Format)
	check(!c.Tracing.Enabled || slices.Contains(traceExporter, c.Tracing.Exporter),
		"invalid trace exporter %q", c.Tracing.Exporter)
	check(c.Tracing.SamplingRate >= 0 && c.Tracing.SamplingRate <= 1,
		"trace sampling rate %g is outside [0, 1]", c.Tracing.SamplingRate)
	check(!c.Metrics.Enabled || c.Metrics.ListenAddress != "",
		"metrics listen address is required when metrics are enabled")
	check(!c.Events.Enabled || c.Events.BufferSize > 0,
		"event buffer size must be positive, got %d", c.Events.BufferSize)

	if len(errs) > 0 {
		return fmt.Errorf("invalid telemetry config: %w", errors.Join(errs...))
	}
	return nil
}
