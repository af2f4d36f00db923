package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the PermitDesk admin CLI. Subcommands (auth, bootstrap, etc.) are attached here.
var rootCmd = &cobra.Command{
	Use:           "permitdesk",
	Short:         "PermitDesk admin CLI",
	Long:          "Administrative utilities for PermitDesk (dev tokens, schema bootstrap, certificate hashes, audit log reads).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
