package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "defsim",
		Short: "Discrete event simulation of opinion and behavior diffusion",
		Long: `defsim runs agent-based simulations of social influence on networks.

A run generates a network, seeds agent attributes and then repeats focal
agent selection, neighbor selection, influence and optional network
modification until the stop condition holds. Experiments expand a
parameter space into many runs and collect one row per sampled tick.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ./defsim.yaml, then ~/.defsim/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug, trace")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newExperimentCmd(),
		newEstimateCmd(),
		newBatchCmd(),
		newNetworkCmd(),
		newResultsCmd(),
		newConfigCmd(),
	)
	return rootCmd
}
