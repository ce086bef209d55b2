package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tfdriver/pkg/command"
	"github.com/openfroyo/tfdriver/pkg/engine"
)

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import ADDRESS ID",
		Short: "Import an existing object into state",
		Example: `  tfdriver import aws_instance.web i-0abc123`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.run(ctx, func(ctx context.Context, ex *engine.Executor) (*engine.ExecutionResult, error) {
					return ex.Import(ctx, args[0], args[1])
				})
			})
		},
	}
}

func newRefreshCommand() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Update state from real infrastructure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.run(ctx, func(ctx context.Context, ex *engine.Executor) (*engine.ExecutionResult, error) {
					return ex.Refresh(ctx, command.Options{Target: target})
				})
			})
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "refresh only this resource address")

	return cmd
}
