package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/evalsa/sandbox-worker/sandbox"
)

// runChildCmd is never invoked by a user directly — the Child Launcher
// re-execs this same binary under this hidden subcommand inside fresh user
// and network namespaces (see sandbox.buildRunCmd). Hidden so it doesn't
// show up in --help or shell completion.
var runChildCmd = &cobra.Command{
	Use:    "run-child",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(sandbox.RunChildEntrypoint())
	},
}

func init() {
	rootCmd.AddCommand(runChildCmd)
}
