package engine

import (
	"time"

	"github.com/openfroyo/tfdriver/pkg/command"
	"github.com/openfroyo/tfdriver/pkg/parser"
)

// ExecutionResult is the outcome of one Executor operation, retries
// included. The executor does not touch it after returning it.
//
// Success follows the exit code: zero, or two for plan. A parse failure
// of output the caller depends on (validate, version, output -json)
// downgrades an otherwise successful result.
type ExecutionResult struct {
	// ID uniquely identifies this execution.
	ID string `json:"id"`

	// Operation is the tool operation that was run.
	Operation command.Operation `json:"operation"`

	// Binary and Args are the invoked command line.
	Binary string   `json:"binary"`
	Args   []string `json:"args"`

	// WorkingDir is the directory the tool ran in.
	WorkingDir string `json:"working_dir"`

	// Success is true when the final attempt exited with an accepted code
	// and its output parsed.
	Success bool `json:"success"`

	// Stdout and Stderr are the raw output of the final attempt.
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`

	// ExitCode is -1 when the process could not be spawned or was killed.
	ExitCode int `json:"exit_code"`

	// Retryable is true when the final failure looked transient.
	Retryable bool `json:"retryable"`

	// Message is a human-readable summary of the outcome.
	Message string `json:"message,omitempty"`

	// Error describes the failure, empty on success.
	Error string `json:"error,omitempty"`

	// ErrorClass classifies the failure, empty on success.
	ErrorClass ErrorClass `json:"error_class,omitempty"`

	// Attempts is how many times the process was started.
	Attempts int `json:"attempts"`

	// StartedAt and Duration cover all attempts and backoff sleeps.
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// HasChanges is set by plan when the tool reported a diff (exit code 2).
	HasChanges bool `json:"has_changes,omitempty"`

	// Changes are the per-action resource addresses parsed from plan output.
	Changes *parser.PlanChanges `json:"changes,omitempty"`

	// Summary holds the plan's "N to add, N to change, N to destroy" line.
	Summary *parser.PlanSummary `json:"summary,omitempty"`

	// Counts are the apply or destroy totals, nil when the tool did not print them.
	Counts *parser.Counts `json:"counts,omitempty"`

	// Resources is the state list, in order.
	Resources []string `json:"resources,omitempty"`

	// Data is the decoded output value(s).
	Data interface{} `json:"data,omitempty"`

	// Validation is the decoded validate document.
	Validation *parser.Validation `json:"validation,omitempty"`

	// Version describes the tool binary.
	Version *parser.Version `json:"version,omitempty"`

	// Files lists the files fmt rewrote or would rewrite.
	Files []string `json:"files,omitempty"`
}

// Failed reports whether the execution did not succeed.
func (r *ExecutionResult) Failed() bool {
	return !r.Success
}

// Status returns "success" or "failed" for metrics and history.
func (r *ExecutionResult) Status() string {
	if r.Success {
		return "success"
	}
	return "failed"
}
