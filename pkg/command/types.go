// Package command maps tfdriver operations onto argument vectors for the
// Terraform-compatible binary. It performs no I/O and holds no state.
package command

import (
	"errors"
	"fmt"
)

// Operation is a named operation of the IaC tool.
type Operation string

const (
	OpInit      Operation = "init"
	OpPlan      Operation = "plan"
	OpApply     Operation = "apply"
	OpDestroy   Operation = "destroy"
	OpOutput    Operation = "output"
	OpStateList Operation = "state_list"
	OpValidate  Operation = "validate"
	OpImport    Operation = "import"
	OpRefresh   Operation = "refresh"
	OpFmt       Operation = "fmt"
	OpVersion   Operation = "version"
)

// DefaultBinary is the tool looked up on PATH when no binary is configured.
const DefaultBinary = "terraform"

// PlanChangesExitCode is the detailed exit code reported by plan when a diff is present.
const PlanChangesExitCode = 2

// ErrUnknownOperation is returned for operation names the builder does not know.
var ErrUnknownOperation = errors.New("unknown operation")

// Operations lists every supported operation in a stable order.
func Operations() []Operation {
	return []Operation{
		OpInit, OpPlan, OpApply, OpDestroy, OpOutput, OpStateList,
		OpValidate, OpImport, OpRefresh, OpFmt, OpVersion,
	}
}

// ParseOperation converts a string into an Operation.
func ParseOperation(s string) (Operation, error) {
	for _, op := range Operations() {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// String implements fmt.Stringer.
func (o Operation) String() string {
	return string(o)
}

// AcceptsExitCode reports whether code counts as success for the operation.
// Only plan has an alternate success code (2, changes present).
func (o Operation) AcceptsExitCode(code int) bool {
	if code == 0 {
		return true
	}
	return o == OpPlan && code == PlanChangesExitCode
}

// Options configures a single invocation. Fields that do not apply to an
// operation are ignored.
type Options struct {
	// Out is the plan artifact path written by plan.
	Out string

	// PlanFile is a previously produced plan artifact consumed by apply.
	// It is mutually exclusive with AutoApprove and Target.
	PlanFile string

	// Destroy requests a destroy plan.
	Destroy bool

	// Target is an opaque resource address passed through unvalidated.
	Target string

	// AutoApprove skips the interactive approval of apply and destroy.
	AutoApprove bool

	// JSON requests machine-readable output (output).
	JSON bool

	// Name selects a single output value.
	Name string

	// Upgrade upgrades modules and providers during init.
	Upgrade bool

	// Check makes fmt report instead of rewrite.
	Check bool

	// Recursive makes fmt descend into subdirectories.
	Recursive bool

	// Address and ID are the positional arguments of import.
	Address string
	ID      string
}

// Request is a fully built invocation. It is immutable once constructed:
// argument slices are copied in and out.
type Request struct {
	operation  Operation
	args       []string
	workingDir string
	binary     string
}

// NewRequest builds the argument vector for op and binds it to a binary and
// working directory.
func NewRequest(op Operation, opts Options, workingDir, binary string) (Request, error) {
	args, err := Build(op, opts)
	if err != nil {
		return Request{}, err
	}
	if binary == "" {
		binary = DefaultBinary
	}
	return Request{
		operation:  op,
		args:       args,
		workingDir: workingDir,
		binary:     binary,
	}, nil
}

// Operation returns the requested operation.
func (r Request) Operation() Operation { return r.operation }

// Args returns a copy of the argument vector.
func (r Request) Args() []string {
	out := make([]string, len(r.args))
	copy(out, r.args)
	return out
}

// WorkingDir returns the directory the binary runs in.
func (r Request) WorkingDir() string { return r.workingDir }

// Binary returns the binary path or name.
func (r Request) Binary() string { return r.binary }
