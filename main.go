package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "itable",
		Short:        "Schema-validated record tables with injection-safe query assembly",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd(), newValidateCmd(), newBuildQueryCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
