package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tfdriver/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Validate the configuration in the working directory and print the
diagnostics. The tool's JSON diagnostics are decoded even when validation
fails.`,
		Example: `  tfdriver validate --workdir ./infra
  tfdriver validate --namespace acme --project web --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.run(ctx, func(ctx context.Context, ex *engine.Executor) (*engine.ExecutionResult, error) {
					return ex.Validate(ctx)
				})
			})
		},
	}
}
