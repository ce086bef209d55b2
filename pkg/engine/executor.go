package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/tfdriver/pkg/command"
	"github.com/openfroyo/tfdriver/pkg/process"
	"github.com/openfroyo/tfdriver/pkg/retry"
	"github.com/openfroyo/tfdriver/pkg/telemetry"
)

// Executor runs tool operations against one working directory with one
// binary. Operations on the same Executor must not overlap: the tool's
// lock and cache files are not safe for concurrent use. Executors bound to
// different directories are independent.
type Executor struct {
	workDir     string
	binary      string
	runner      process.Runner
	retry       *retry.Policy
	tel         *telemetry.Telemetry
	logger      *telemetry.Logger
	recorder    Recorder
	timeout     time.Duration
	gracePeriod time.Duration
	env         map[string]string
	stdout      io.Writer
	stderr      io.Writer
}

// Option configures an Executor.
type Option func(*Executor)

// WithBinary sets the tool binary path or name.
func WithBinary(binary string) Option {
	return func(e *Executor) {
		if binary != "" {
			e.binary = binary
		}
	}
}

// WithRunner replaces the process runner.
func WithRunner(r process.Runner) Option {
	return func(e *Executor) { e.runner = r }
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(e *Executor) { e.retry = p }
}

// WithTelemetry wires logging, tracing, metrics and events.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(e *Executor) {
		if t != nil {
			e.tel = t
		}
	}
}

// WithRecorder stores every finished execution.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithTimeout bounds each child process.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithGracePeriod sets how long a timed out child gets between SIGTERM and SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Executor) { e.gracePeriod = d }
}

// WithEnv adds environment variables for the child process.
func WithEnv(env map[string]string) Option {
	return func(e *Executor) {
		for k, v := range env {
			e.env[k] = v
		}
	}
}

// WithOutput sets where streamed output is echoed.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(e *Executor) {
		e.stdout = stdout
		e.stderr = stderr
	}
}

// New creates an Executor bound to workDir.
func New(workDir string, opts ...Option) *Executor {
	e := &Executor{
		workDir:     workDir,
		binary:      command.DefaultBinary,
		tel:         telemetry.NopTelemetry(),
		timeout:     process.DefaultTimeout,
		gracePeriod: process.DefaultGracePeriod,
		env: map[string]string{
			"TF_IN_AUTOMATION": "1",
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.tel.Logger.NewComponentLogger("executor")
	if e.runner == nil {
		e.runner = process.NewExecRunner(e.tel.Logger)
	}
	if e.retry == nil {
		e.retry = retry.NewPolicy(e.tel.Logger)
	}
	return e
}

// WorkingDir returns the directory the executor is bound to.
func (e *Executor) WorkingDir() string { return e.workDir }

// Binary returns the tool binary.
func (e *Executor) Binary() string { return e.binary }

// Execute runs the named operation. An unknown name is the only way,
// besides invalid options and exhausted retries, to get a non-nil error.
func (e *Executor) Execute(ctx context.Context, name string, opts command.Options) (*ExecutionResult, error) {
	op, err := command.ParseOperation(name)
	if err != nil {
		return nil, NewInvalidError(ErrCodeUnknownOperation, "unknown operation", err).WithOperation(name)
	}
	return e.run(ctx, op, opts)
}

// attemptOutcome is what the retry loop learned from the last attempt.
type attemptOutcome struct {
	proc     *process.Result
	attempts int
}

func (e *Executor) run(ctx context.Context, op command.Operation, opts command.Options) (*ExecutionResult, error) {
	if err := validateOptions(op, opts); err != nil {
		return nil, err
	}
	req, err := command.NewRequest(op, opts, e.workDir, e.binary)
	if err != nil {
		code := ErrCodeInvalidOptions
		if errors.Is(err, command.ErrUnknownOperation) {
			code = ErrCodeUnknownOperation
		}
		return nil, NewInvalidError(code, "cannot build command", err).WithOperation(op.String())
	}

	result := &ExecutionResult{
		ID:         uuid.New().String(),
		Operation:  op,
		Binary:     req.Binary(),
		Args:       req.Args(),
		WorkingDir: e.workDir,
		StartedAt:  time.Now().UTC(),
		ExitCode:   -1,
	}

	logger := e.logger.WithExecutionID(result.ID).WithOperation(op.String(), e.workDir)
	ctx = logger.WithContext(ctx)
	ctx, span := e.tel.Tracer.StartExecutionSpan(ctx, result.ID, op.String(), e.workDir)
	defer span.End()

	e.tel.Metrics.RecordExecutionStarted()
	_ = e.tel.Events.PublishExecutionStarted(result.ID, op.String(), e.workDir, result.Args)
	logger.InfoEvent().Strs("args", result.Args).Msg("running " + op.String())

	outcome := &attemptOutcome{}
	attempt := func(ctx context.Context) error {
		outcome.attempts++
		actx, aspan := e.tel.Tracer.StartAttemptSpan(ctx, op.String(), outcome.attempts)
		defer aspan.End()

		proc := e.runner.Run(actx, process.Request{
			Binary:      req.Binary(),
			Args:        req.Args(),
			Dir:         req.WorkingDir(),
			Env:         e.env,
			Mode:        modeFor(op),
			Timeout:     e.timeout,
			GracePeriod: e.gracePeriod,
			Stdout:      e.stdout,
			Stderr:      e.stderr,
		})
		outcome.proc = proc
		aspan.SetAttributes(telemetry.AttrExitCode.Int(proc.ExitCode))

		err := attemptError(op, proc)
		if err != nil {
			telemetry.RecordError(aspan, err)
		}
		return err
	}

	var runErr error
	if retryable(op, opts) {
		policy := *e.retry
		policy.OnRetry = func(a retry.Attempt) {
			e.tel.Metrics.RecordRetry(op.String(), string(a.Class))
			_ = e.tel.Events.PublishExecutionRetry(result.ID, op.String(), a.Retry, a.Delay, string(a.Class))
		}
		runErr = policy.Do(ctx, op.String(), attempt)
	} else {
		runErr = attempt(ctx)
	}

	e.finish(ctx, result, opts, outcome, runErr)

	span.SetAttributes(
		telemetry.AttrExitCode.Int(result.ExitCode),
		telemetry.AttrHasChanges.Bool(result.HasChanges),
	)
	if result.Success {
		telemetry.RecordSuccess(span)
	} else {
		span.SetAttributes(telemetry.AttrErrorClass.String(string(result.ErrorClass)))
		telemetry.RecordFailure(span, result.Error)
	}

	e.report(ctx, logger, result)

	var exhausted *retry.ExhaustedError
	if errors.As(runErr, &exhausted) {
		return result, NewExhaustedError(
			fmt.Sprintf("%s failed after %d attempts", op, exhausted.Attempts),
			exhausted,
		).WithOperation(op.String()).WithDetail("class", string(exhausted.Class))
	}
	return result, nil
}

// attemptError turns a process result into the error the retry policy
// classifies. Timeouts, cancellation and spawn failures are never retried.
func attemptError(op command.Operation, proc *process.Result) error {
	switch {
	case proc.TimedOut:
		return retry.Permanent(NewTimeoutError("process timed out", proc.Err).WithOperation(op.String()))
	case proc.Canceled:
		return retry.Permanent(newError(ErrorClassCanceled, ErrCodeCanceled, "operation canceled", proc.Err).WithOperation(op.String()))
	case proc.Err != nil:
		return retry.Permanent(NewSpawnError("failed to run tool", proc.Err).WithOperation(op.String()))
	case op.AcceptsExitCode(proc.ExitCode):
		return nil
	}
	return &retry.OutputError{
		Output:   proc.Combined(),
		ExitCode: proc.ExitCode,
		Err:      fmt.Errorf("%s exited with code %d", op, proc.ExitCode),
	}
}

// finish fills result from the final attempt and the retry outcome.
func (e *Executor) finish(ctx context.Context, result *ExecutionResult, opts command.Options, outcome *attemptOutcome, runErr error) {
	result.Attempts = outcome.attempts
	result.Duration = time.Since(result.StartedAt)

	if proc := outcome.proc; proc != nil {
		result.Stdout = proc.Stdout
		result.Stderr = proc.Stderr
		result.ExitCode = proc.ExitCode
	}

	if runErr == nil {
		result.Success = true
	} else {
		result.Error = runErr.Error()
		result.ErrorClass = classOf(runErr)
		result.Retryable = result.ErrorClass.Retryable()
		result.Message = failureMessage(result)
	}

	// Parsing runs on failures too: validate and fmt -check report their
	// findings with a non-zero exit code.
	if outcome.proc != nil && outcome.proc.Err == nil {
		parseOutput(result, opts)
	}
}

// classOf maps a retry loop error onto an ErrorClass.
func classOf(err error) ErrorClass {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return ErrorClassExhausted
	}
	if class := ClassOf(err); class != "" {
		return class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassCanceled
	}
	switch retry.Classify(err) {
	case retry.ClassTransient:
		return ErrorClassTransient
	case retry.ClassThrottled:
		return ErrorClassThrottled
	}
	return ErrorClassPermanent
}

// report emits logs, metrics, events and history for a finished result.
func (e *Executor) report(ctx context.Context, logger *telemetry.Logger, result *ExecutionResult) {
	e.tel.Metrics.RecordExecutionCompleted(result.Operation.String(), result.Status(), result.Attempts, result.Duration)

	if result.Success {
		logger.InfoEvent().
			Int("exit_code", result.ExitCode).
			Int("attempts", result.Attempts).
			Dur("duration", result.Duration).
			Msg(result.Operation.String() + " succeeded")
		_ = e.tel.Events.PublishExecutionCompleted(result.ID, result.Operation.String(), result.ExitCode, result.Attempts, result.Duration)
	} else {
		logger.ErrorEvent().
			Int("exit_code", result.ExitCode).
			Int("attempts", result.Attempts).
			Str("class", string(result.ErrorClass)).
			Str("error", result.Error).
			Msg(result.Operation.String() + " failed")
		e.tel.Metrics.RecordError(string(result.ErrorClass))
		_ = e.tel.Events.PublishExecutionFailed(result.ID, result.Operation.String(), string(result.ErrorClass), result.Message)
	}

	if result.Changes != nil {
		c := result.Changes
		e.tel.Metrics.RecordPlannedChanges(len(c.Create), len(c.Update), len(c.Delete), len(c.Replace))
	}

	if e.recorder != nil {
		// Record even when the caller's context is already cancelled.
		if err := e.recorder.RecordExecution(context.WithoutCancel(ctx), result); err != nil {
			logger.WithError(err).Warn("failed to record execution")
		}
	}
}

// validateOptions rejects option combinations the tool would refuse or
// misinterpret.
func validateOptions(op command.Operation, opts command.Options) error {
	var msg string
	switch op {
	case command.OpImport:
		if opts.Address == "" || opts.ID == "" {
			msg = "import requires a resource address and id"
		}
	case command.OpApply:
		if opts.PlanFile != "" && opts.Target != "" {
			msg = "a saved plan cannot be combined with a target"
		}
	case command.OpPlan:
		if opts.PlanFile != "" {
			msg = "plan writes a plan file with Out, it does not read one"
		}
	}
	if msg == "" {
		return nil
	}
	return NewInvalidError(ErrCodeInvalidOptions, msg, nil).WithOperation(op.String())
}

// retryable reports whether op may be retried. A saved plan cannot be
// re-applied after partial progress, and fmt only touches local files.
func retryable(op command.Operation, opts command.Options) bool {
	switch op {
	case command.OpFmt:
		return false
	case command.OpApply:
		return opts.PlanFile == ""
	}
	return true
}

// modeFor streams long-running operations and buffers those with bounded output.
func modeFor(op command.Operation) process.Mode {
	switch op {
	case command.OpInit, command.OpPlan, command.OpApply, command.OpDestroy,
		command.OpRefresh, command.OpImport:
		return process.Streaming
	}
	return process.Buffered
}
