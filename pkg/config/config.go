package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/tfdriver/pkg/telemetry"
)

// Environment variables that override file settings.
const (
	EnvBinary     = "TFDRIVER_BINARY"
	EnvBaseDir    = "TFDRIVER_BASE_DIR"
	EnvTimeout    = "TFDRIVER_TIMEOUT"
	EnvMaxRetries = "TFDRIVER_MAX_RETRIES"
	EnvVerbose    = "TFDRIVER_VERBOSE"
	EnvDebug      = "TFDRIVER_DEBUG"
	EnvHistoryDB  = "TFDRIVER_HISTORY_DB"
	EnvLogLevel   = "LOG_LEVEL"
)

// DefaultHistoryFile is the history database name inside BaseDir.
const DefaultHistoryFile = "history.db"

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Binary:         "terraform",
		BaseDir:        ".tfdriver",
		Timeout:        Duration(time.Hour),
		GracePeriod:    Duration(10 * time.Second),
		MaxRetries:     3,
		RetryBaseDelay: 2.0,
		StreamOutput:   true,
		Env:            map[string]string{},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			SamplingRate: 1.0,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
		},
	}
}

// Load reads the file at path (if any), applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays the file onto cfg. The format follows the extension:
// .yaml/.yml for YAML, .cue and .json for CUE (JSON is valid CUE).
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case ".cue", ".json":
		if err := c.decodeCUE(path, data); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported config format %q: use .yaml, .yml, .cue or .json", ext)
	}
	return nil
}

// decodeCUE checks the file against the #Config schema and decodes the
// concrete result through JSON.
func (c *Config) decodeCUE(path string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(configSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}

	val := ctx.CompileBytes(data, cue.Filename(path))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to parse config %s: %s", path, cueErrorDetails(err))
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config %s: %s", path, cueErrorDetails(err))
	}

	js, err := unified.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to export config %s: %w", path, err)
	}
	if err := json.Unmarshal(js, c); err != nil {
		return fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return nil
}

// cueErrorDetails flattens a CUE error list into one line per error.
func cueErrorDetails(err error) string {
	var parts []string
	for _, e := range cueerrors.Errors(err) {
		msg := e.Error()
		if pos := e.Position(); pos.IsValid() {
			msg = fmt.Sprintf("%s:%d:%d: %s", filepath.Base(pos.Filename()), pos.Line(), pos.Column(), msg)
		}
		parts = append(parts, msg)
	}
	if len(parts) == 0 {
		return err.Error()
	}
	return strings.Join(parts, "; ")
}

// ApplyEnv applies the TFDRIVER_* and LOG_LEVEL overrides.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	if v, ok := lookup(EnvBinary); ok && v != "" {
		c.Binary = v
	}
	if v, ok := lookup(EnvBaseDir); ok && v != "" {
		c.BaseDir = v
	}
	if v, ok := lookup(EnvHistoryDB); ok && v != "" {
		c.HistoryDB = v
	}
	if v, ok := lookup(EnvTimeout); ok && v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		c.Timeout = d
	}
	if v, ok := lookup(EnvMaxRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvMaxRetries, v)
		}
		c.MaxRetries = n
	}
	if v, ok := lookup(EnvVerbose); ok {
		c.Verbose = truthy(v)
	}
	if v, ok := lookup(EnvDebug); ok {
		c.Debug = truthy(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return v == "yes" || v == "on"
	}
	return b
}

// ValidationError lists every invalid field.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Fields, "; ")
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			out.Fields = append(out.Fields, fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			out.Fields = append(out.Fields, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return out
}

// HistoryPath returns the execution history database path.
func (c *Config) HistoryPath() string {
	if c.HistoryDB != "" {
		return c.HistoryDB
	}
	return filepath.Join(c.BaseDir, DefaultHistoryFile)
}

// LogLevel returns the effective log level; Debug wins over Logging.Level.
func (c *Config) LogLevel() string {
	if c.Debug && c.Logging.Level != "trace" {
		return "debug"
	}
	return c.Logging.Level
}

// Telemetry builds the telemetry configuration for this config.
func (c *Config) Telemetry(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	if c.Policy.Environment != "" {
		tc.Environment = c.Policy.Environment
	}

	tc.Logging.Level = c.LogLevel()
	tc.Logging.Format = c.Logging.Format
	if c.Logging.Output != "" {
		tc.Logging.Output = c.Logging.Output
	}
	tc.Logging.ProcessOutput = c.Verbose

	tc.Tracing.Enabled = c.Tracing.Enabled
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Tracing.SamplingRate

	tc.Metrics.Enabled = c.Metrics.Enabled
	tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	return tc
}
