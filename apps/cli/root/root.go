package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the ops CLI. Subcommands (pool, shard) are
// attached here.
var rootCmd = &cobra.Command{
	Use:           "pwb",
	Short:         "Property Web Builder ops CLI",
	Long:          "Operational utilities for the provisioning control plane (subdomain pool upkeep, shard health and migration).",
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
