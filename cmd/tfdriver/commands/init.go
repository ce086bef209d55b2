package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tfdriver/pkg/command"
	"github.com/openfroyo/tfdriver/pkg/engine"
)

func newInitCommand() *cobra.Command {
	var upgrade bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the working directory",
		Long: `Run the tool's init in the working directory: download providers and
modules and configure the backend. Network failures are retried.`,
		Example: `  # Initialize a managed workspace
  tfdriver init --namespace acme --site eu-west --project web

  # Initialize and upgrade providers
  tfdriver init --workdir ./infra --upgrade`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.run(ctx, func(ctx context.Context, ex *engine.Executor) (*engine.ExecutionResult, error) {
					return ex.Init(ctx, command.Options{Upgrade: upgrade})
				})
			})
		},
	}

	cmd.Flags().BoolVar(&upgrade, "upgrade", false, "upgrade modules and providers")

	return cmd
}
