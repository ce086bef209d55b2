package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/tfdriver/pkg/command"
	"github.com/openfroyo/tfdriver/pkg/parser"
)

// Init runs init.
func (e *Executor) Init(ctx context.Context, opts command.Options) (*ExecutionResult, error) {
	return e.run(ctx, command.OpInit, opts)
}

// Plan runs plan with detailed exit codes. Exit code 2 is a success with
// HasChanges set.
func (e *Executor) Plan(ctx context.Context, opts command.Options) (*ExecutionResult, error) {
	return e.run(ctx, command.OpPlan, opts)
}

// Apply runs apply, either from a saved plan file or with auto-approve.
func (e *Executor) Apply(ctx context.Context, opts command.Options) (*ExecutionResult, error) {
	return e.run(ctx, command.OpApply, opts)
}

// Destroy runs destroy.
func (e *Executor) Destroy(ctx context.Context, opts command.Options) (*ExecutionResult, error) {
	return e.run(ctx, command.OpDestroy, opts)
}

// Output reads all outputs, or one when name is set, as JSON.
func (e *Executor) Output(ctx context.Context, name string) (*ExecutionResult, error) {
	return e.run(ctx, command.OpOutput, command.Options{JSON: true, Name: name})
}

// StateList lists the resource addresses in state.
func (e *Executor) StateList(ctx context.Context) (*ExecutionResult, error) {
	return e.run(ctx, command.OpStateList, command.Options{})
}

// Validate validates the configuration and decodes the diagnostics.
func (e *Executor) Validate(ctx context.Context) (*ExecutionResult, error) {
	return e.run(ctx, command.OpValidate, command.Options{})
}

// Import imports an existing object into state.
func (e *Executor) Import(ctx context.Context, address, id string) (*ExecutionResult, error) {
	return e.run(ctx, command.OpImport, command.Options{Address: address, ID: id})
}

// Refresh refreshes state against real infrastructure.
func (e *Executor) Refresh(ctx context.Context, opts command.Options) (*ExecutionResult, error) {
	return e.run(ctx, command.OpRefresh, opts)
}

// Fmt formats configuration files. With Check set it only reports them.
func (e *Executor) Fmt(ctx context.Context, opts command.Options) (*ExecutionResult, error) {
	return e.run(ctx, command.OpFmt, opts)
}

// Version reports the tool version.
func (e *Executor) Version(ctx context.Context) (*ExecutionResult, error) {
	return e.run(ctx, command.OpVersion, command.Options{})
}

// parseOutput attaches operation-specific fields. Parse failures of output
// the caller depends on downgrade the result; text scans never fail.
func parseOutput(result *ExecutionResult, opts command.Options) {
	switch result.Operation {
	case command.OpPlan:
		if !result.Success {
			return
		}
		plan := parser.ParsePlan(result.Stdout)
		result.HasChanges = result.ExitCode == command.PlanChangesExitCode
		result.Changes = &plan.Changes
		result.Summary = plan.Summary
		if result.HasChanges {
			result.Message = planMessage(plan)
		} else {
			result.Message = "No changes."
		}

	case command.OpApply:
		if result.Success {
			result.Counts = parser.ParseApply(result.Stdout)
			result.Message = countsMessage("Apply complete", result.Counts)
		}

	case command.OpDestroy:
		if result.Success {
			result.Counts = parser.ParseDestroy(result.Stdout)
			result.Message = countsMessage("Destroy complete", result.Counts)
		}

	case command.OpStateList:
		if result.Success {
			result.Resources = parser.ParseStateList(result.Stdout)
		}

	case command.OpOutput:
		if !result.Success {
			return
		}
		data, err := parser.ParseOutput(result.Stdout, opts.JSON)
		if err != nil {
			downgrade(result, "failed to parse output values", err)
			return
		}
		result.Data = data

	case command.OpValidate:
		// validate -json prints a document for invalid configurations too.
		v, err := parser.ParseValidate(result.Stdout)
		if err != nil {
			if result.Success || strings.TrimSpace(result.Stdout) != "" {
				downgrade(result, parser.ValidateParseFailure, err)
			}
			return
		}
		result.Validation = v
		if !v.Valid {
			result.Success = false
			if result.ErrorClass == "" {
				result.ErrorClass = ErrorClassPermanent
			}
			result.Message = validationMessage(v)
			if result.Error == "" {
				result.Error = result.Message
			}
		} else if result.Success {
			result.Message = "The configuration is valid."
		}

	case command.OpVersion:
		if !result.Success {
			return
		}
		v, err := parser.ParseVersion(result.Stdout)
		if err != nil {
			downgrade(result, "failed to parse tool version", err)
			return
		}
		result.Version = v
		result.Message = v.Version

	case command.OpFmt:
		// fmt -check exits 3 and lists the files that need formatting.
		result.Files = parser.ParseFmt(result.Stdout)
	}
}

// downgrade marks a result failed because its output could not be parsed.
func downgrade(result *ExecutionResult, message string, err error) {
	result.Success = false
	result.ErrorClass = ErrorClassParse
	result.Retryable = false
	result.Message = message
	result.Error = NewParseError(message, err).WithOperation(result.Operation.String()).Error()
}

// failureMessage picks the most useful line for a human: the tool's own
// "Error:" line when there is one, otherwise the error text.
func failureMessage(result *ExecutionResult) string {
	for _, text := range []string{result.Stderr, result.Stdout} {
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(strings.TrimLeft(line, "│╷╵ "))
			if strings.HasPrefix(line, "Error:") {
				return line
			}
		}
	}
	return result.Error
}

func planMessage(plan parser.PlanResult) string {
	if s := plan.Summary; s != nil {
		return fmt.Sprintf("Plan: %d to add, %d to change, %d to destroy.", s.Add, s.Change, s.Destroy)
	}
	c := plan.Changes
	return fmt.Sprintf("Changes: %d create, %d update, %d delete, %d replace.",
		len(c.Create), len(c.Update), len(c.Delete), len(c.Replace))
}

func countsMessage(prefix string, c *parser.Counts) string {
	if c == nil {
		return prefix + "."
	}
	return fmt.Sprintf("%s! Resources: %d added, %d changed, %d destroyed.", prefix, c.Added, c.Changed, c.Destroyed)
}

func validationMessage(v *parser.Validation) string {
	errs := v.Errors()
	if len(errs) == 0 {
		return fmt.Sprintf("configuration is invalid (%d errors)", v.ErrorCount)
	}
	msg := "Error: " + errs[0].Summary
	if errs[0].Detail != "" {
		msg += ": " + errs[0].Detail
	}
	if len(errs) > 1 {
		msg += fmt.Sprintf(" (and %d more)", len(errs)-1)
	}
	return msg
}
