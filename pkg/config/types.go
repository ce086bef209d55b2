package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the tfdriver configuration.
type Config struct {
	// Binary is the Terraform-compatible tool, a path or a name looked up on PATH.
	Binary string `yaml:"binary" json:"binary" validate:"required"`

	// BaseDir holds the workspaces directory and, by default, the history database.
	BaseDir string `yaml:"base_dir" json:"base_dir" validate:"required"`

	// Timeout bounds each child process; zero disables it.
	Timeout Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`

	// GracePeriod is the time between SIGTERM and SIGKILL on timeout.
	GracePeriod Duration `yaml:"grace_period" json:"grace_period" validate:"gte=0"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`

	// RetryBaseDelay is the exponent base in seconds: delay = base^retry.
	RetryBaseDelay float64 `yaml:"retry_base_delay" json:"retry_base_delay" validate:"gt=0"`

	// RetryMaxDelay caps a single backoff delay; zero means no cap.
	RetryMaxDelay Duration `yaml:"retry_max_delay" json:"retry_max_delay" validate:"gte=0"`

	// StreamOutput echoes the tool's output while it runs.
	StreamOutput bool `yaml:"stream_output" json:"stream_output"`

	// Verbose logs every line the tool prints.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Debug enables debug logging.
	Debug bool `yaml:"debug" json:"debug"`

	// HistoryDB is the SQLite execution history; empty means <base_dir>/history.db.
	HistoryDB string `yaml:"history_db" json:"history_db"`

	// Env is passed to every child process.
	Env map[string]string `yaml:"env" json:"env"`

	Policy  PolicyConfig  `yaml:"policy" json:"policy"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// PolicyConfig configures the plan policy gate.
type PolicyConfig struct {
	// Enabled runs policies before every apply.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Paths lists policy files and directories.
	Paths []string `yaml:"paths" json:"paths"`

	// Environment is exposed to policies as input.context.environment.
	Environment string `yaml:"environment" json:"environment"`

	// MaxChanges is exposed as input.context.max_changes; zero disables the budget.
	MaxChanges int `yaml:"max_changes" json:"max_changes" validate:"gte=0"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" json:"format" validate:"oneof=console json"`
	// Output is stderr (default), stdout or a file to append to.
	Output string `yaml:"output" json:"output"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint" json:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate" validate:"gte=0,lte=1"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" validate:"required_if=Enabled true"`
}

// Duration is a time.Duration written as "90s" or "1h30m". A bare number
// is read as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// ParseDuration parses "90s" style durations or plain seconds.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(d), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var secs float64
		if err := json.Unmarshal(data, &secs); err != nil {
			return fmt.Errorf("duration must be a string or a number of seconds")
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = parsed
	return nil
}
