package command

import "fmt"

// Flag spellings understood by Terraform and OpenTofu.
const (
	flagNoColor          = "-no-color"
	flagNoInput          = "-input=false"
	flagDetailedExitCode = "-detailed-exitcode"
	flagAutoApprove      = "-auto-approve"
	flagDestroy          = "-destroy"
	flagJSON             = "-json"
	flagUpgrade          = "-upgrade"
	flagCheck            = "-check"
	flagRecursive        = "-recursive"
)

// Build returns the argument vector for op, beginning with the operation's
// subcommand. Combinations that make no sense (a plan file together with
// a target) are the caller's responsibility and are not rejected here.
func Build(op Operation, opts Options) ([]string, error) {
	switch op {
	case OpInit:
		args := []string{"init", flagNoColor, flagNoInput}
		if opts.Upgrade {
			args = append(args, flagUpgrade)
		}
		return args, nil

	case OpPlan:
		args := []string{"plan", flagNoColor, flagNoInput, flagDetailedExitCode}
		if opts.Destroy {
			args = append(args, flagDestroy)
		}
		if opts.Out != "" {
			args = append(args, "-out="+opts.Out)
		}
		return appendTarget(args, opts.Target), nil

	case OpApply:
		args := []string{"apply", flagNoColor, flagNoInput}
		if opts.PlanFile != "" {
			// The plan artifact is positional and must come last.
			return append(args, opts.PlanFile), nil
		}
		if opts.AutoApprove {
			args = append(args, flagAutoApprove)
		}
		return appendTarget(args, opts.Target), nil

	case OpDestroy:
		args := []string{"destroy", flagNoColor, flagNoInput}
		if opts.AutoApprove {
			args = append(args, flagAutoApprove)
		}
		return appendTarget(args, opts.Target), nil

	case OpOutput:
		args := []string{"output", flagNoColor}
		if opts.JSON {
			args = append(args, flagJSON)
		}
		if opts.Name != "" {
			args = append(args, opts.Name)
		}
		return args, nil

	case OpStateList:
		return []string{"state", "list"}, nil

	case OpValidate:
		return []string{"validate", flagNoColor, flagJSON}, nil

	case OpImport:
		args := []string{"import", flagNoColor, flagNoInput}
		if opts.Address != "" {
			args = append(args, opts.Address)
		}
		if opts.ID != "" {
			args = append(args, opts.ID)
		}
		return args, nil

	case OpRefresh:
		args := []string{"refresh", flagNoColor, flagNoInput}
		return appendTarget(args, opts.Target), nil

	case OpFmt:
		args := []string{"fmt"}
		if opts.Check {
			args = append(args, flagCheck)
		}
		if opts.Recursive {
			args = append(args, flagRecursive)
		}
		return args, nil

	case OpVersion:
		return []string{"version", flagJSON}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, string(op))
}

func appendTarget(args []string, target string) []string {
	if target == "" {
		return args
	}
	return append(args, "-target="+target)
}
