package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tfdriver/pkg/command"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test plan policies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List built-in and configured policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				eng, err := a.policyEngine(ctx)
				if err != nil {
					return err
				}
				policies := eng.ListPolicies()
				if jsonOutput {
					return writeJSON(a.out, policies)
				}
				for _, p := range policies {
					origin := "custom"
					if p.Builtin {
						origin = "built-in"
					}
					fmt.Fprintf(a.out, "%-20s %-9s %-8s %s\n", headerStyle.Render(p.Name), p.Severity, origin, p.Description)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Plan and evaluate the policies without applying",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				dir, err := a.resolveDir()
				if err != nil {
					return err
				}
				planRes, err := a.executor(dir).Plan(ctx, command.Options{})
				a.touch(dir, planRes)
				if err != nil || planRes.Failed() {
					return a.finish(planRes, err)
				}

				result, err := a.evaluatePolicies(ctx, dir, planRes)
				if err != nil {
					return err
				}
				if err := renderPolicyResult(a.out, result); err != nil {
					return err
				}
				if !result.Allowed {
					return errPolicyDenied
				}
				return nil
			})
		},
	})

	return cmd
}
