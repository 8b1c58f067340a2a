package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stream-registry",
	Short: "Stream registry: discovery and brokered negotiation of data streams",
	Long:  `HTTP API + NATS negotiation broker. Commands: api, migrate, seed.`,
	RunE:  runAPI, // default: run API (same as "stream-registry api")
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}
