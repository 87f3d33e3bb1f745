// Package main implements the netlens CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"netlens/internal/config"
	"netlens/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dbPath     string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "netlens",
	Short: "netlens - browser network request monitor",
	Long: `netlens observes a running Chrome instance over the DevTools Protocol,
reconstructs the lifecycle of each network request from the event stream,
and keeps a queryable SQLite history with aggregate statistics.

Typical flow:
  netlens watch --endpoint ws://127.0.0.1:9222/...   # live monitoring
  netlens query --min-status 400                     # inspect history
  netlens stats
  netlens prune 7`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// loadConfig reads the config file and applies CLI flag overrides, then
// brings up file logging.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if err := logging.Initialize(cfg.Logging.Dir, logging.Options{
		Enabled: cfg.Logging.Enabled,
		Level:   cfg.Logging.Level,
	}); err != nil {
		return cfg, err
	}
	logging.Boot("netlens starting (config=%s db=%s)", configPath, cfg.Store.Path)
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".netlens/config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "request store path (overrides config)")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(pruneCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
