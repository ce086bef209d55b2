package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/tfdriver/pkg/stores"
)

var errNoHistory = errors.New("execution history is not available")

func newHistoryCommand() *cobra.Command {
	var (
		limit     int
		operation string
		failed    bool
		since     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded executions",
		Long: `List executions recorded in the history database, newest first. With
--workdir or --namespace only executions in that directory are listed.`,
		Example: `  # Last 20 executions
  tfdriver history --limit 20

  # Failed applies of the last day in one workspace
  tfdriver history --namespace acme --project web --operation apply --failed --since 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.store == nil {
					return errNoHistory
				}
				filter := stores.ExecutionFilter{
					Operation:  operation,
					FailedOnly: failed,
					Limit:      limit,
				}
				if since > 0 {
					filter.Since = time.Now().Add(-since)
				}
				if workDir != "" || managed() {
					dir, err := a.resolveDir()
					if err != nil {
						return err
					}
					filter.WorkDir = dir
				}

				execs, err := a.store.ListExecutions(ctx, filter)
				if err != nil {
					return err
				}
				return renderExecutions(a.out, execs)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", stores.DefaultListLimit, "maximum number of executions")
	cmd.Flags().StringVar(&operation, "operation", "", "only this operation")
	cmd.Flags().BoolVar(&failed, "failed", false, "only failed executions")
	cmd.Flags().DurationVar(&since, "since", 0, "only executions started within this duration")

	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())
	cmd.AddCommand(newHistoryAuditCommand())

	return cmd
}

func renderExecutions(w io.Writer, execs []*stores.Execution) error {
	if jsonOutput {
		if execs == nil {
			execs = []*stores.Execution{}
		}
		return writeJSON(w, execs)
	}
	if len(execs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no executions recorded"))
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "OPERATION", "STATUS", "ATTEMPTS", "DURATION", "STARTED", "WORKDIR")
	for _, e := range execs {
		t.Row(
			shortID(e.ID),
			e.Operation,
			e.Status(),
			fmt.Sprint(e.Attempts),
			e.Duration.Round(time.Millisecond).String(),
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			e.WorkDir,
		)
	}
	fmt.Fprintln(w, t.String())
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one recorded execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.store == nil {
					return errNoHistory
				}
				e, err := a.store.GetExecution(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(a.out, e)
				}

				fmt.Fprintf(a.out, "%s %s\n", headerStyle.Render("ID:"), e.ID)
				fmt.Fprintf(a.out, "%s %s %s\n", headerStyle.Render("Command:"), e.Binary, strings.Join(e.Args, " "))
				fmt.Fprintf(a.out, "%s %s\n", headerStyle.Render("Workdir:"), e.WorkDir)
				fmt.Fprintf(a.out, "%s %s (exit code %d, %d attempts)\n", headerStyle.Render("Status:"), e.Status(), e.ExitCode, e.Attempts)
				fmt.Fprintf(a.out, "%s %s for %s\n", headerStyle.Render("Started:"), e.StartedAt.Local().Format(time.RFC3339), e.Duration.Round(time.Millisecond))
				if e.Message != "" {
					fmt.Fprintf(a.out, "%s %s\n", headerStyle.Render("Message:"), e.Message)
				}
				if e.Error != nil {
					fmt.Fprintf(a.out, "%s %s [%s]\n", headerStyle.Render("Error:"), *e.Error, e.ErrorClass)
				}
				if e.Changes != nil {
					fmt.Fprintf(a.out, "%s %s\n", headerStyle.Render("Changes:"), *e.Changes)
				}
				return nil
			})
		},
	}
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete executions older than a duration",
		Example: `  tfdriver history prune --older-than 720h`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.store == nil {
					return errNoHistory
				}
				n, err := a.store.PruneExecutions(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				a.audit(ctx, "history.pruned", "", map[string]interface{}{
					"older_than": olderThan.String(),
					"deleted":    n,
				})
				fmt.Fprintf(a.out, "deleted %d executions\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete executions started before now minus this duration")

	return cmd
}

func newHistoryAuditCommand() *cobra.Command {
	var (
		action string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.store == nil {
					return errNoHistory
				}
				var filter *string
				if action != "" {
					filter = &action
				}
				entries, err := a.store.ListAuditEntries(ctx, filter, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					if entries == nil {
						entries = []*stores.AuditEntry{}
					}
					return writeJSON(a.out, entries)
				}
				for _, e := range entries {
					target := ""
					if e.TargetID != nil {
						target = *e.TargetID
					}
					fmt.Fprintf(a.out, "%s  %-18s %-10s %s\n",
						e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Action, e.Actor, target)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "only this action, e.g. workspace.removed")
	cmd.Flags().IntVarP(&limit, "limit", "l", stores.DefaultListLimit, "maximum number of entries")

	return cmd
}
