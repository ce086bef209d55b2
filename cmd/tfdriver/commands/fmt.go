package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tfdriver/pkg/command"
	"github.com/openfroyo/tfdriver/pkg/engine"
)

func newFmtCommand() *cobra.Command {
	var (
		check     bool
		recursive bool
	)

	cmd := &cobra.Command{
		Use:   "fmt",
		Short: "Format configuration files",
		Long: `Rewrite configuration files to the canonical format and list them. With
--check nothing is rewritten and the command fails when a file needs
formatting.`,
		Example: `  tfdriver fmt --recursive
  tfdriver fmt --check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.run(ctx, func(ctx context.Context, ex *engine.Executor) (*engine.ExecutionResult, error) {
					return ex.Fmt(ctx, command.Options{Check: check, Recursive: recursive})
				})
			})
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "only report files that need formatting")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend into subdirectories")

	return cmd
}
