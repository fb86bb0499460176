package main

import (
	"github.com/spf13/cobra"
)

// Root builds the worker command tree.
func Root() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "worker",
		Short:         "asynchronous job worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(runCmd(), sweepCmd(), migrateCmd(), apikeyCmd())
	return rootCmd
}
