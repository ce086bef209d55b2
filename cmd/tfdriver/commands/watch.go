package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tfdriver/pkg/command"
	"github.com/openfroyo/tfdriver/pkg/workspace"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-plan whenever the rendered configuration changes",
		Long: `Watch the workspace's main.tf.json and run plan after every change until
interrupted. Bursts of writes are collapsed into a single plan.`,
		Example: `  tfdriver watch --namespace acme --project web`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				dir, err := a.resolveDir()
				if err != nil {
					return err
				}
				w, err := workspace.NewWatcher(dir, workspace.DefaultDebounce, a.tel.Logger)
				if err != nil {
					return err
				}
				ex := a.executor(dir)

				// The callback runs on a timer goroutine; plans must not overlap.
				var mu sync.Mutex
				onChange := func(file string) {
					if file != workspace.ConfigFile {
						return
					}
					mu.Lock()
					defer mu.Unlock()

					_ = a.tel.Events.PublishWorkspaceChanged(dir, file)
					fmt.Fprintf(a.out, "%s changed, planning\n", file)
					res, err := ex.Plan(ctx, command.Options{})
					a.touch(dir, res)
					if err := a.finish(res, err); err != nil {
						a.logger.WithError(err).Warn("plan failed")
					}
				}

				fmt.Fprintf(a.out, "watching %s\n", dir)
				err = w.Run(ctx, onChange)
				// Wait for a plan that is still running.
				mu.Lock()
				mu.Unlock()
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}

	return cmd
}
