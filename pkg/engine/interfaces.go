package engine

import (
	"context"

	"github.com/openfroyo/tfdriver/pkg/command"
)

// Recorder persists finished executions, for example as audit history.
// Recording failures are logged and never fail the execution.
type Recorder interface {
	RecordExecution(ctx context.Context, result *ExecutionResult) error
}

// Operations is the tool surface of an Executor. It lets callers swap in
// fakes for the executor in their own tests.
type Operations interface {
	Init(ctx context.Context, opts command.Options) (*ExecutionResult, error)
	Plan(ctx context.Context, opts command.Options) (*ExecutionResult, error)
	Apply(ctx context.Context, opts command.Options) (*ExecutionResult, error)
	Destroy(ctx context.Context, opts command.Options) (*ExecutionResult, error)
	Output(ctx context.Context, name string) (*ExecutionResult, error)
	StateList(ctx context.Context) (*ExecutionResult, error)
	Validate(ctx context.Context) (*ExecutionResult, error)
	Import(ctx context.Context, address, id string) (*ExecutionResult, error)
	Refresh(ctx context.Context, opts command.Options) (*ExecutionResult, error)
	Fmt(ctx context.Context, opts command.Options) (*ExecutionResult, error)
	Version(ctx context.Context) (*ExecutionResult, error)
}

var _ Operations = (*Executor)(nil)
