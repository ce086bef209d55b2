package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tfdriver/pkg/config"
	"github.com/openfroyo/tfdriver/pkg/engine"
	"github.com/openfroyo/tfdriver/pkg/retry"
	"github.com/openfroyo/tfdriver/pkg/stores"
	"github.com/openfroyo/tfdriver/pkg/telemetry"
	"github.com/openfroyo/tfdriver/pkg/workspace"
)

const shutdownTimeout = 5 * time.Second

// app holds everything a command needs for one invocation.
type app struct {
	cfg        *config.Config
	tel        *telemetry.Telemetry
	logger     *telemetry.Logger
	workspaces *workspace.Manager
	store      *stores.SQLiteStore
	out        io.Writer
}

// withApp loads the configuration, starts telemetry and opens the history
// database, runs fn and tears everything down again.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a.tel.WithContext(ctx), a)
}

func newApp(ctx context.Context, out io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Verbose = true
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsAddr
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry(buildVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if cfg.Metrics.Enabled {
		tel.StartMetricsServer()
	}

	a := &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("cli"),
		out:    out,
	}

	a.workspaces, err = workspace.NewManager(cfg.BaseDir, tel.Logger)
	if err != nil {
		a.close()
		return nil, err
	}

	// History is best effort: a broken database must not block the tool.
	historyPath := cfg.HistoryPath()
	if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
		a.logger.WarnEvent().Err(err).Str("path", historyPath).Msg("execution history disabled")
	} else if store, err := stores.Open(ctx, historyPath); err != nil {
		a.logger.WarnEvent().Err(err).Str("path", historyPath).Msg("execution history disabled")
	} else {
		a.store = store
	}

	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WarnEvent().Err(err).Msg("failed to close history database")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.WarnEvent().Err(err).Msg("telemetry shutdown failed")
	}
}

// executor builds an Executor for dir from the configuration.
func (a *app) executor(dir string) *engine.Executor {
	policy := retry.NewPolicy(a.tel.Logger)
	policy.MaxRetries = a.cfg.MaxRetries
	policy.BaseDelay = a.cfg.RetryBaseDelay
	policy.MaxDelay = a.cfg.RetryMaxDelay.Std()

	opts := []engine.Option{
		engine.WithBinary(a.cfg.Binary),
		engine.WithTelemetry(a.tel),
		engine.WithRetryPolicy(policy),
		engine.WithTimeout(a.cfg.Timeout.Std()),
		engine.WithGracePeriod(a.cfg.GracePeriod.Std()),
		engine.WithEnv(a.cfg.Env),
	}
	switch {
	case !a.cfg.StreamOutput:
		opts = append(opts, engine.WithOutput(io.Discard, io.Discard))
	case jsonOutput:
		// Keep stdout for the JSON document.
		opts = append(opts, engine.WithOutput(os.Stderr, os.Stderr))
	}
	if a.store != nil {
		opts = append(opts, engine.WithRecorder(a.store))
	}
	return engine.New(dir, opts...)
}

// managed reports whether the target directory comes from the workspace
// flags rather than --workdir or the current directory.
func managed() bool {
	return namespace != ""
}

// resolveDir returns the directory the tool runs in: --workdir, the
// workspace named by --namespace/--site/--project (created on demand) or
// the current directory.
func (a *app) resolveDir() (string, error) {
	switch {
	case workDir != "":
		return filepath.Abs(workDir)
	case managed():
		return a.workspaces.WorkspaceFor(namespace, project, site)
	case site != "" || project != "":
		return "", fmt.Errorf("--site and --project require --namespace")
	default:
		return os.Getwd()
	}
}

// touch records the last operation in the workspace metadata.
func (a *app) touch(dir string, res *engine.ExecutionResult) {
	if !managed() || res == nil {
		return
	}
	_, err := a.workspaces.UpdateMetadata(dir, workspace.Metadata{
		"last_operation":    res.Operation.String(),
		"last_status":       res.Status(),
		"last_execution_id": res.ID,
	})
	if err != nil {
		a.logger.WarnEvent().Err(err).Str("path", dir).Msg("failed to update workspace metadata")
	}
}

// audit stores an audit entry when history is available.
func (a *app) audit(ctx context.Context, action, target string, details map[string]interface{}) {
	if a.store == nil {
		return
	}
	entry := &stores.AuditEntry{
		Action: action,
		Actor:  actor(),
	}
	if target != "" {
		entry.TargetID = &target
	}
	if len(details) > 0 {
		if s, err := marshalDetails(details); err == nil {
			entry.Details = &s
		}
	}
	if err := a.store.CreateAuditEntry(ctx, entry); err != nil {
		a.logger.WarnEvent().Err(err).Str("action", action).Msg("failed to write audit entry")
	}
}

func actor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "tfdriver"
}

// run executes one operation in the resolved directory and renders the
// result.
func (a *app) run(ctx context.Context, fn func(ctx context.Context, ex *engine.Executor) (*engine.ExecutionResult, error)) error {
	dir, err := a.resolveDir()
	if err != nil {
		return err
	}
	res, err := fn(ctx, a.executor(dir))
	a.touch(dir, res)
	return a.finish(res, err)
}

// finish renders res and turns a failed result into an error so the
// process exits non-zero.
func (a *app) finish(res *engine.ExecutionResult, err error) error {
	if res != nil {
		if rerr := renderResult(a.out, res); rerr != nil {
			return rerr
		}
	}
	if err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("%s failed: %s", res.Operation, firstNonEmpty(res.Error, res.Message))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
