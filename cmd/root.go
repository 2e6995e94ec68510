package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// CLI flags shared across subcommands
	seed     int64  // Seed for the engine's partitioned RNG
	logLevel string // Log verbosity level

	// run flags
	configPath  string // Engine bundle YAML (optional)
	catalogPath string // Capability catalog YAML (optional)
	requests    int    // Number of synthetic requests to route
	tenants     int    // Number of synthetic tenants
	drainEvery  int    // Feedback batch drain interval (requests)
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "bandit-router",
	Short: "Adaptive bandit routing engine for model and tool selection",
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging applies the --log flag before any subcommand runs.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for deterministic engine runs")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&configPath, "config", "", "Engine bundle YAML path")
	runCmd.Flags().StringVar(&catalogPath, "catalog", "", "Capability catalog YAML path")
	runCmd.Flags().IntVar(&requests, "requests", 2000, "Number of synthetic requests to route")
	runCmd.Flags().IntVar(&tenants, "tenants", 3, "Number of synthetic tenants")
	runCmd.Flags().IntVar(&drainEvery, "drain-every", 50, "Drain the feedback queue every N requests")

	rootCmd.AddCommand(runCmd)
}
