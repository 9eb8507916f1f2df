package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pulse-cli",
	Short: "Pulse gateway CLI tool",
	Long: `pulse-cli runs and inspects the Pulse real-time gateway.

Available commands:
  serve     Run the gateway with configuration from the environment
  token     Mint a development bearer token for a user
  topics    List the internal pub/sub topics
  version   Print the CLI version

Use "pulse-cli [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
