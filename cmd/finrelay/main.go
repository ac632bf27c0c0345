package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/finrelay/finrelay/internal/interfaces/cli/server"
	"github.com/finrelay/finrelay/internal/interfaces/cli/worker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "finrelay",
		Short: "Stripe to Salesforce batch sync relay",
		Long:  `Finrelay receives Stripe webhook events, accumulates them into batches, and syncs them to Salesforce through the Bulk API.`,
	}

	rootCmd.AddCommand(
		server.NewCommand(),
		worker.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
