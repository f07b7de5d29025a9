package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "adapt-engine",
		Short:         "Adaptive host anomaly detection and recovery",
		Long:          `Samples host resources, scores them with an isolation forest, classifies severity and drives recovery actions that adapt to their outcomes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (or MIRADOR_ADAPT_CONFIG)")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newSimulateCmd(&configPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "adapt-engine", version)
		},
	})
	return root
}
