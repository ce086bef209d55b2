package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tfdriver/pkg/command"
	"github.com/openfroyo/tfdriver/pkg/engine"
	"github.com/openfroyo/tfdriver/pkg/policy"
)

// errPolicyDenied is returned when a blocking policy violation stops apply.
var errPolicyDenied = errors.New("apply denied by policy")

func newApplyCommand() *cobra.Command {
	var (
		planFile    string
		target      string
		autoApprove bool
		usePolicy   bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply changes",
		Long: `Apply changes, either from a plan file produced by 'plan --out' or directly
with --auto-approve.

With --policy (or policy.enabled in the configuration) apply first runs a
plan, evaluates the policies against the planned changes and only applies
the saved plan when no blocking violation was found.

Applying a saved plan is never retried: the plan cannot be re-applied after
partial progress.`,
		Example: `  # Apply a saved plan
  tfdriver apply --plan-file tfplan

  # Plan, check policies and apply
  tfdriver apply --policy

  # Apply without a plan file
  tfdriver apply --auto-approve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				gate := a.cfg.Policy.Enabled
				if cmd.Flags().Changed("policy") {
					gate = usePolicy
				}
				if gate {
					if planFile != "" {
						return fmt.Errorf("--policy plans itself and cannot be combined with --plan-file")
					}
					return a.gatedApply(ctx, target)
				}
				if planFile == "" && !autoApprove {
					return fmt.Errorf("apply requires --plan-file, --policy or --auto-approve")
				}

				return a.run(ctx, func(ctx context.Context, ex *engine.Executor) (*engine.ExecutionResult, error) {
					return ex.Apply(ctx, command.Options{
						PlanFile:    planFile,
						Target:      target,
						AutoApprove: autoApprove,
					})
				})
			})
		},
	}

	cmd.Flags().StringVar(&planFile, "plan-file", "", "apply this saved plan")
	cmd.Flags().StringVarP(&target, "target", "t", "", "limit apply to one resource address")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip interactive approval")
	cmd.Flags().BoolVar(&usePolicy, "policy", false, "plan and check policies before applying")

	return cmd
}

// gatedApply plans into a plan file, evaluates the policies and applies the
// plan file when they allow it.
func (a *app) gatedApply(ctx context.Context, target string) error {
	dir, err := a.resolveDir()
	if err != nil {
		return err
	}
	ex := a.executor(dir)

	planRes, err := ex.Plan(ctx, command.Options{Out: defaultPlanFile, Target: target})
	a.touch(dir, planRes)
	if err != nil || planRes.Failed() {
		return a.finish(planRes, err)
	}
	if err := renderResult(a.out, planRes); err != nil {
		return err
	}
	if !planRes.HasChanges {
		return nil
	}

	result, err := a.evaluatePolicies(ctx, dir, planRes)
	if err != nil {
		return err
	}
	if err := renderPolicyResult(a.out, result); err != nil {
		return err
	}
	if !result.Allowed {
		a.audit(ctx, "policy.denied", planRes.ID, map[string]interface{}{
			"workdir":    dir,
			"violations": len(result.Violations),
		})
		return errPolicyDenied
	}

	applyRes, err := ex.Apply(ctx, command.Options{PlanFile: filepath.Join(dir, defaultPlanFile)})
	a.touch(dir, applyRes)
	return a.finish(applyRes, err)
}

// evaluatePolicies runs the built-in and configured policies against the
// changes of a plan and publishes every violation as an event.
func (a *app) evaluatePolicies(ctx context.Context, dir string, planRes *engine.ExecutionResult) (*policy.PolicyResult, error) {
	eng, err := a.policyEngine(ctx)
	if err != nil {
		return nil, err
	}

	result, err := eng.EvaluatePlan(ctx, planRes.Changes, &policy.PolicyContext{
		User:        actor(),
		Environment: a.cfg.Policy.Environment,
		WorkDir:     dir,
		MaxChanges:  a.cfg.Policy.MaxChanges,
	})
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}

	for _, v := range result.All() {
		_ = a.tel.Events.PublishPolicyViolation(v.Address, v.Policy, v.Message)
	}
	return result, nil
}

func (a *app) policyEngine(ctx context.Context) (*policy.Engine, error) {
	eng, err := policy.NewEngine(a.tel.Logger.Zerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(a.cfg.Policy.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, a.cfg.Policy.Paths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	return eng, nil
}
