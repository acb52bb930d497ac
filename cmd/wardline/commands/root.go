// Package commands implements the wardline CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wardline",
		Short: "Wardline - Reassurance call orchestration",
		Long: `Wardline places recurring automated check-in calls, holds a short
spoken conversation and flags anything that needs a human follow-up.

Examples:
  wardline serve
  wardline schedule add --phone +15550100 --name "Margaret H." --time 09:30
  wardline schedule list
  wardline setup`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newScheduleCmd(),
		newSetupCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
