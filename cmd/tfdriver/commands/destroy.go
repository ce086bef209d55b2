package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tfdriver/pkg/command"
	"github.com/openfroyo/tfdriver/pkg/engine"
)

func newDestroyCommand() *cobra.Command {
	var (
		target      string
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy all managed resources",
		Long: `Destroy every resource in state, or one resource with --target.

The tool cannot prompt when driven by tfdriver, so --auto-approve is required.`,
		Example: `  tfdriver destroy --namespace acme --project web --auto-approve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !autoApprove {
				return fmt.Errorf("destroy requires --auto-approve")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.run(ctx, func(ctx context.Context, ex *engine.Executor) (*engine.ExecutionResult, error) {
					return ex.Destroy(ctx, command.Options{Target: target, AutoApprove: true})
				})
			})
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "destroy only this resource address")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "confirm the destroy")

	return cmd
}
