package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "faultsim",
		Short:         "Synthetic robot telemetry with scheduled fault injection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file (defaults to $FAULTSIM_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		newServeCommand(opts),
		newSimulateCommand(opts),
		newTemplatesCommand(opts),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "faultsim:", err)
		os.Exit(1)
	}
}
