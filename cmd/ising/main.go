package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ising/internal/config"
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
		Use:   "ising",
		Short: "Metropolis Monte Carlo simulation of the 2D Ising model",
		Long: `ising samples the two-dimensional Ising model on a periodic square lattice
with the Metropolis-Hastings algorithm.

A run walks a temperature schedule, re-thermalising the same spin
configuration at every temperature before recording energy and
magnetisation once per sweep.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML run configuration")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug, or trace (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newScheduleCmd(),
		newConfigCmd(),
		newRunsCmd(),
	)

	return rootCmd
}

// loadConfig builds the effective configuration: defaults, then --config,
// then ISING_* environment variables, then --log-level.
func loadConfig(cmd *cobra.Command) (*config.RunConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level, _ = cmd.Flags().GetString("log-level")
	}

	return cfg, nil
}

// outputDir returns the positional directory argument, or the configured one.
func outputDir(cfg *config.RunConfig, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Output.Dir
}
