package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stocksim",
	Short: "A paper-trading stock simulator",
	Long: `Stocksim runs simulated stock accounts against live or recorded prices.

It provides tools for:
  - Serving the trading API and websocket price stream
  - Opening accounts and placing market orders from the shell
  - Managing the instrument catalog and its price history
  - Exporting an account's transaction history
  - Migrating the SQLite or Postgres schema

Settings come from an optional YAML/JSON file, then .env and the environment.`,
	SilenceUsage: true,
}

var cfgFile string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON)")
}
