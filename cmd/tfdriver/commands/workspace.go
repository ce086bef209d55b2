package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/tfdriver/pkg/workspace"
)

func newWorkspaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage workspaces",
		Long: `Workspaces live below <base_dir>/workspaces/<namespace>[/<site>][/<project>].
Each holds the rendered configuration (main.tf.json), a metadata.json sidecar
and whatever the tool creates while running.`,
	}

	cmd.AddCommand(newWorkspacePathCommand())
	cmd.AddCommand(newWorkspaceListCommand())
	cmd.AddCommand(newWorkspaceCleanCommand())
	cmd.AddCommand(newWorkspaceRemoveCommand())
	cmd.AddCommand(newWorkspaceWriteConfigCommand())

	return cmd
}

func requireNamespace() error {
	if namespace == "" {
		return fmt.Errorf("--namespace is required")
	}
	return nil
}

func newWorkspacePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the workspace path without creating it",
		Example: `  tfdriver workspace path --namespace acme --site eu-west --project web`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireNamespace(); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				dir, err := a.workspaces.Path(namespace, project, site)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(a.out, map[string]string{"path": dir})
				}
				fmt.Fprintln(a.out, dir)
				return nil
			})
		},
	}
}

func newWorkspaceListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List existing workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				infos, err := a.workspaces.List()
				if err != nil {
					return err
				}
				return renderWorkspaces(a.out, infos)
			})
		},
	}
}

func renderWorkspaces(w io.Writer, infos []workspace.Info) error {
	if jsonOutput {
		if infos == nil {
			infos = []workspace.Info{}
		}
		return writeJSON(w, infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no workspaces"))
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("WORKSPACE", "INITIALIZED", "LAST UPDATED")
	for _, info := range infos {
		updated := "-"
		if !info.LastUpdated.IsZero() {
			updated = info.LastUpdated.Local().Format("2006-01-02 15:04:05")
		}
		initialized := "no"
		if info.Initialized {
			initialized = "yes"
		}
		t.Row(info.Name, initialized, updated)
	}
	fmt.Fprintln(w, t.String())
	return nil
}

func newWorkspaceCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove tool caches, lock files and plan files",
		Long: `Remove the .terraform cache, lock files, saved plans and crash logs from a
workspace. The rendered configuration, metadata and local state are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireNamespace(); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				dir, err := a.workspaces.Path(namespace, project, site)
				if err != nil {
					return err
				}
				removed, err := a.workspaces.Clean(dir)
				if err != nil {
					return err
				}
				a.audit(ctx, "workspace.cleaned", dir, map[string]interface{}{"removed": removed})

				if jsonOutput {
					if removed == nil {
						removed = []string{}
					}
					return writeJSON(a.out, map[string]interface{}{"path": dir, "removed": removed})
				}
				if len(removed) == 0 {
					fmt.Fprintln(a.out, mutedStyle.Render("nothing to clean"))
					return nil
				}
				for _, name := range removed {
					fmt.Fprintf(a.out, "removed %s\n", name)
				}
				return nil
			})
		},
	}
}

func newWorkspaceRemoveCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete a workspace, local state included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireNamespace(); err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("remove deletes local state too; confirm with --yes")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				dir, err := a.workspaces.Path(namespace, project, site)
				if err != nil {
					return err
				}
				if err := a.workspaces.Remove(dir); err != nil {
					return err
				}
				a.audit(ctx, "workspace.removed", dir, nil)
				fmt.Fprintf(a.out, "%s removed %s\n", okStyle.Render(iconCheck), dir)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the removal")

	return cmd
}

func newWorkspaceWriteConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "write-config FILE",
		Short: "Write the rendered configuration into a workspace",
		Long: `Read a JSON or YAML document (or JSON from stdin with "-") and write it
as the workspace's main.tf.json. The workspace is created when missing.`,
		Example: `  render-infra | tfdriver workspace write-config - --namespace acme --project web
  tfdriver workspace write-config stack.yaml --namespace acme`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireNamespace(); err != nil {
				return err
			}
			doc, err := readDocument(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				dir, err := a.workspaces.WorkspaceFor(namespace, project, site)
				if err != nil {
					return err
				}
				path, err := a.workspaces.WriteRenderedConfig(dir, doc)
				if err != nil {
					return err
				}
				if _, err := a.workspaces.UpdateMetadata(dir, workspace.Metadata{
					"namespace": namespace,
					"site":      site,
					"project":   project,
					"source":    args[0],
				}); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s wrote %s\n", okStyle.Render(iconCheck), path)
				return nil
			})
		},
	}
}

// readDocument decodes a JSON or YAML object from a file, or JSON from
// stdin when name is "-".
func readDocument(name string, stdin io.Reader) (map[string]interface{}, error) {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	var doc map[string]interface{}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%s is empty", name)
	}
	return doc, nil
}
