package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	jsonOutput  bool
	workDir     string
	namespace   string
	site        string
	project     string
	metricsAddr string

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tfdriver",
		Short: "tfdriver - drive Terraform-compatible tools from automation",
		Long: `tfdriver runs a Terraform-compatible binary (terraform, tofu) on behalf of
automation: it builds the command line, supervises the child process, retries
transient failures and turns the tool's output into structured results.

Features:
  - Workspaces derived from namespace, site and project
  - Retries with exponential backoff for network and throttling errors
  - Timeouts that terminate the whole process group
  - Plan policy gate based on Open Policy Agent
  - Execution history in SQLite
  - Prometheus metrics and OpenTelemetry tracing`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	buildVersion = version

	// Persistent flags available to all commands
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file path (.yaml, .yml, .cue or .json)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log every line the tool prints")
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")
	flags.StringVarP(&workDir, "workdir", "w", "", "run the tool in this directory")
	flags.StringVarP(&namespace, "namespace", "n", "", "workspace namespace")
	flags.StringVar(&site, "site", "", "workspace site")
	flags.StringVarP(&project, "project", "p", "", "workspace project")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.MarkFlagsMutuallyExclusive("workdir", "namespace")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newOutputCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newImportCommand())
	rootCmd.AddCommand(newRefreshCommand())
	rootCmd.AddCommand(newFmtCommand())
	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newWorkspaceCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
