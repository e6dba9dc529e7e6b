// Package main provides the GovMatch CLI for ingestion, matching, batch
// administration, and weight configuration.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/govmatch-ai/govmatch/internal/app"
	"github.com/govmatch-ai/govmatch/internal/config"
	"github.com/govmatch-ai/govmatch/internal/observability"
)

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	verbose    bool
	noColor    bool

	// Configuration and logger, loaded by the root PersistentPreRunE.
	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "govmatch-cli",
	Short: "GovMatch CLI for ingestion, matching, and administration",
	Long: `GovMatch CLI provides commands for operating the opportunity-matching
platform.

Use this tool to:
- Ingest SAM.gov CSV feeds into the opportunity store
- Run and inspect nightly match coordinations
- Manage cron schedules for batch targets
- Tune and audit scoring weight configuration
- Purge expired cache, progress, and audit data

All commands support --json for automation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		level := cfg.Observability.LogLevel
		if outputJSON {
			logFormat = "json"
		}
		if !verbose && !outputJSON {
			// Keep console output readable; structured logs stay behind -v.
			level = "warn"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      logFormat,
			ServiceName: "govmatch-cli",
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newMatchCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newScheduleCmd())
	rootCmd.AddCommand(newWeightsCmd())
	rootCmd.AddCommand(newPurgeCmd())
	rootCmd.AddCommand(newDemoCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// withDeps assembles the dependency graph for one command invocation and
// tears it down afterwards.
func withDeps(ctx context.Context, fn func(*app.Dependencies) error) error {
	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("assemble dependencies: %w", err)
	}
	defer deps.Close()
	return fn(deps)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
