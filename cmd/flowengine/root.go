package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsdeck/flowengine/internal/config"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "flowengine",
		Short: "Workflow orchestration engine",
		Long: `flowengine runs multi-step workflows started by signed webhooks,
cron schedules, domain events, or manual calls.

Examples:
  # Serve webhooks and the management API
  flowengine serve --config config.yaml

  # Check definition files without starting anything
  flowengine validate ./definitions

  # Run one workflow now and print its execution log
  flowengine invoke wf-ticket-intake --data '{"ticket":{"id":7}}'`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newValidateCmd(&configPath))
	root.AddCommand(newInvokeCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

// parseConfig reads the configuration without validating it. A missing
// default config file falls back to built-in defaults; an explicitly named
// one must exist.
func parseConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Parse("")
		}
	}
	return config.Parse(path)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flowengine %s (commit %s)\n", version, commit)
		},
	}
}
