package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/barsim/config"
	"github.com/rustyeddy/barsim/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "barsim",
	Short: "Bar-by-bar backtesting for intraday strategies",
	Long: `Barsim replays OHLC bars through a strategy and simulates entries,
bracket exits and trade management one bar at a time.

It provides tools for:
  - Running backtests and parameter sweeps
  - Loading bars from CSV or a local parquet store
  - Journaling legs and equity to CSV or SQLite
  - Writing org-mode run reports

Complete documentation is available at https://github.com/rustyeddy/barsim`,
	SilenceUsage: true,
}

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override logging.format (text, json)")
}

// loadConfig returns the config file named by --config, or the defaults.
// Validation is left to the caller so flags can be applied first.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(cfgFile)
}

func newLogger(cfg *config.Config) *logrus.Logger {
	lc := cfg.Logging
	if logLevel != "" {
		lc.Level = logLevel
	}
	if logFormat != "" {
		lc.Format = logFormat
	}
	return logging.New(lc)
}
