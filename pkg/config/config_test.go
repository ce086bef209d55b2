package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() is invalid: %v", err)
	}
	if cfg.Binary != "terraform" || cfg.MaxRetries != 3 || cfg.RetryBaseDelay != 2.0 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Timeout.Std() != time.Hour || cfg.GracePeriod.Std() != 10*time.Second {
		t.Errorf("timeout = %v, grace = %v", cfg.Timeout, cfg.GracePeriod)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "tfdriver.yaml", `
binary: tofu
base_dir: /tmp/tfd
timeout: 90s
grace_period: 5
max_retries: 5
env:
  TF_LOG: debug
policy:
  enabled: true
  environment: production
  max_changes: 10
  paths:
    - /etc/policies
logging:
  format: json
`)

	cfg, err := LoadWithEnv(path, env(nil))
	if err != nil {
		t.Fatalf("LoadWithEnv() error = %v", err)
	}
	if cfg.Binary != "tofu" || cfg.BaseDir != "/tmp/tfd" {
		t.Errorf("binary = %q, base_dir = %q", cfg.Binary, cfg.BaseDir)
	}
	if cfg.Timeout.Std() != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", cfg.Timeout)
	}
	if cfg.GracePeriod.Std() != 5*time.Second {
		t.Errorf("GracePeriod = %v, want 5s", cfg.GracePeriod)
	}
	if cfg.MaxRetries != 5 || cfg.Env["TF_LOG"] != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.Policy.Enabled || cfg.Policy.MaxChanges != 10 || len(cfg.Policy.Paths) != 1 {
		t.Errorf("Policy = %+v", cfg.Policy)
	}
	// Untouched keys keep their defaults.
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad duration", "timeout: soon\n"},
		{"too many retries", "max_retries: 20\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"otlp without endpoint", "tracing:\n  exporter: otlp\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "c.yaml", tt.content)
			if _, err := LoadWithEnv(path, env(nil)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadCUE(t *testing.T) {
	path := writeConfig(t, "tfdriver.cue", `
binary:      "tofu"
timeout:     "2m"
max_retries: 1
env: TF_IN_AUTOMATION: "1"
tracing: {
	enabled:  true
	exporter: "stdout"
}
`)

	cfg, err := LoadWithEnv(path, env(nil))
	if err != nil {
		t.Fatalf("LoadWithEnv() error = %v", err)
	}
	if cfg.Binary != "tofu" || cfg.Timeout.Std() != 2*time.Minute || cfg.MaxRetries != 1 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Env["TF_IN_AUTOMATION"] != "1" {
		t.Errorf("Env = %v", cfg.Env)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "stdout" {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
}

func TestLoadCUESchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"retries out of range", "max_retries: 20\n"},
		{"unknown field", "bogus: true\n"},
		{"bad exporter", "tracing: exporter: \"zipkin\"\n"},
		{"syntax error", "binary: \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "c.cue", tt.content)
			_, err := LoadWithEnv(path, env(nil))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "c.cue") {
				t.Errorf("error should name the file: %v", err)
			}
		})
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "tfdriver.json", `{
		"binary": "/usr/local/bin/terraform",
		"timeout": 600,
		"retry_max_delay": "30s",
		"stream_output": false
	}`)

	cfg, err := LoadWithEnv(path, env(nil))
	if err != nil {
		t.Fatalf("LoadWithEnv() error = %v", err)
	}
	if cfg.Timeout.Std() != 10*time.Minute {
		t.Errorf("Timeout = %v, want 10m", cfg.Timeout)
	}
	if cfg.RetryMaxDelay.Std() != 30*time.Second || cfg.StreamOutput {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"), env(nil)); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeConfig(t, "tfdriver.toml", "binary = 'x'\n")
	_, err := LoadWithEnv(path, env(nil))
	if err == nil || !strings.Contains(err.Error(), "unsupported config format") {
		t.Errorf("err = %v, want unsupported format", err)
	}
}

func TestApplyEnv(t *testing.T) {
	path := writeConfig(t, "c.yaml", "binary: tofu\nmax_retries: 2\n")

	cfg, err := LoadWithEnv(path, env(map[string]string{
		EnvBinary:     "terraform-1.9",
		EnvTimeout:    "45s",
		EnvMaxRetries: "0",
		EnvVerbose:    "true",
		EnvDebug:      "yes",
		EnvHistoryDB:  "/tmp/h.db",
		EnvLogLevel:   "WARN",
	}))
	if err != nil {
		t.Fatalf("LoadWithEnv() error = %v", err)
	}
	if cfg.Binary != "terraform-1.9" {
		t.Errorf("Binary = %q, environment should win over the file", cfg.Binary)
	}
	if cfg.Timeout.Std() != 45*time.Second || cfg.MaxRetries != 0 {
		t.Errorf("Timeout = %v, MaxRetries = %d", cfg.Timeout, cfg.MaxRetries)
	}
	if !cfg.Verbose || !cfg.Debug {
		t.Errorf("Verbose = %v, Debug = %v", cfg.Verbose, cfg.Debug)
	}
	if cfg.HistoryPath() != "/tmp/h.db" {
		t.Errorf("HistoryPath() = %q", cfg.HistoryPath())
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	tests := map[string]string{
		EnvTimeout:    "forever",
		EnvMaxRetries: "many",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := LoadWithEnv("", env(map[string]string{key: value}))
			if err == nil || !strings.Contains(err.Error(), key) {
				t.Errorf("err = %v, want error naming %s", err, key)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Binary = ""
	cfg.MaxRetries = -1
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddress = ""

	err := cfg.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(verr.Fields) != 3 {
		t.Errorf("Fields = %v, want 3 entries", verr.Fields)
	}
	if !strings.Contains(verr.Error(), "Binary failed required") {
		t.Errorf("Error() = %q", verr.Error())
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"90s", 90 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"30", 30 * time.Second, false},
		{"1.5", 1500 * time.Millisecond, false},
		{"", 0, true},
		{"later", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got.Std() != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHistoryPathAndLogLevel(t *testing.T) {
	cfg := Default()
	cfg.BaseDir = "/srv/tfd"
	if got := cfg.HistoryPath(); got != filepath.Join("/srv/tfd", DefaultHistoryFile) {
		t.Errorf("HistoryPath() = %q", got)
	}

	if cfg.LogLevel() != "info" {
		t.Errorf("LogLevel() = %q", cfg.LogLevel())
	}
	cfg.Debug = true
	if cfg.LogLevel() != "debug" {
		t.Errorf("LogLevel() with Debug = %q", cfg.LogLevel())
	}
	cfg.Logging.Level = "trace"
	if cfg.LogLevel() != "trace" {
		t.Errorf("trace should not be lowered to debug, got %q", cfg.LogLevel())
	}
}

func TestTelemetry(t *testing.T) {
	cfg := Default()
	cfg.Verbose = true
	cfg.Policy.Environment = "staging"
	cfg.Logging.Format = "json"
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddress = ":9999"

	tc := cfg.Telemetry("1.2.3")
	if err := tc.Validate(); err != nil {
		t.Fatalf("telemetry config invalid: %v", err)
	}
	if tc.ServiceVersion != "1.2.3" || tc.Environment != "staging" {
		t.Errorf("service = %q/%q", tc.ServiceVersion, tc.Environment)
	}
	if !tc.Logging.ProcessOutput || tc.Logging.Format != "json" {
		t.Errorf("Logging = %+v", tc.Logging)
	}
	if !tc.Metrics.Enabled || tc.Metrics.ListenAddress != ":9999" {
		t.Errorf("Metrics = %+v", tc.Metrics)
	}
}
