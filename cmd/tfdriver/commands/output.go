package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tfdriver/pkg/engine"
)

func newOutputCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "output [name]",
		Short: "Read output values",
		Long:  `Read all output values, or a single one, decoded from the tool's JSON output.`,
		Example: `  tfdriver output
  tfdriver output instance_ip --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.run(ctx, func(ctx context.Context, ex *engine.Executor) (*engine.ExecutionResult, error) {
					return ex.Output(ctx, name)
				})
			})
		},
	}
}

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect state",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List resource addresses in state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.run(ctx, func(ctx context.Context, ex *engine.Executor) (*engine.ExecutionResult, error) {
					return ex.StateList(ctx)
				})
			})
		},
	})

	return cmd
}
