package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tfdriver/pkg/command"
	"github.com/openfroyo/tfdriver/pkg/engine"
)

// defaultPlanFile is the plan artifact apply --policy writes and consumes.
const defaultPlanFile = "tfplan"

func newPlanCommand() *cobra.Command {
	var (
		outFile string
		target  string
		destroy bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the changes the tool would make",
		Long: `Run plan with detailed exit codes and list the resources that would be
created, updated, replaced or deleted.

A plan with changes is still a success. The plan artifact can be saved with
--out and applied later with 'apply --plan-file'.`,
		Example: `  # Plan and save the artifact
  tfdriver plan --out tfplan

  # Plan a single resource
  tfdriver plan --target aws_instance.web

  # Plan a destroy
  tfdriver plan --destroy --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.run(ctx, func(ctx context.Context, ex *engine.Executor) (*engine.ExecutionResult, error) {
					return ex.Plan(ctx, command.Options{Out: outFile, Target: target, Destroy: destroy})
				})
			})
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "save the plan artifact to this file")
	cmd.Flags().StringVarP(&target, "target", "t", "", "limit the plan to one resource address")
	cmd.Flags().BoolVar(&destroy, "destroy", false, "plan a destroy")

	return cmd
}
