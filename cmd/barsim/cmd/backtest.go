package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/barsim/backtest"
	"github.com/rustyeddy/barsim/config"
	"github.com/rustyeddy/barsim/journal"
	"github.com/rustyeddy/barsim/pricing"
	"github.com/rustyeddy/barsim/strategies"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a backtest over historical bars",
	Long: `Backtest loads bars for one symbol, replays them through the configured
strategy and prints the metrics. Closed legs and the equity curve are
journaled as configured.

Example:
  barsim backtest -c run.yaml --symbol QQQ --period 30d --risk 0.5`,
	Args: cobra.NoArgs,
	RunE: runBacktest,
}

// runFlags override config values when set.
type runFlags struct {
	symbol   string
	interval string
	period   string
	strategy string
	dataDir  string
	risk     float64
	journal  string
	db       string
	org      string
}

var btFlags runFlags

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.symbol, "symbol", "s", "", "symbol to test")
	cmd.Flags().StringVarP(&f.interval, "interval", "i", "", "bar interval (1m, 5m, 1h, 1d)")
	cmd.Flags().StringVarP(&f.period, "period", "p", "", "lookback window (e.g. 60d); empty uses all bars")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "strategy name (ema_cross, scripted, noop)")
	cmd.Flags().StringVar(&f.dataDir, "data", "", "bar data directory")
	cmd.Flags().Float64Var(&f.risk, "risk", 0, "percent of equity risked per trade")
	cmd.Flags().StringVar(&f.journal, "journal", "", "journal type (csv, sqlite, none)")
	cmd.Flags().StringVar(&f.db, "db", "", "SQLite journal path")
	cmd.Flags().StringVar(&f.org, "org", "", "write an org-mode run report to this path")
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("symbol") {
		cfg.Backtest.Symbol = f.symbol
	}
	if set("interval") {
		cfg.Data.Interval = f.interval
	}
	if set("period") {
		cfg.Data.Period = f.period
	}
	if set("strategy") {
		cfg.Strategy.Name = f.strategy
	}
	if set("data") {
		cfg.Data.Dir = f.dataDir
	}
	if set("risk") {
		cfg.Backtest.RiskPct = f.risk
	}
	if set("journal") {
		cfg.Journal.Type = f.journal
	}
	if set("db") {
		cfg.Journal.DBPath = f.db
		if !set("journal") {
			cfg.Journal.Type = "sqlite"
		}
	}
	if set("org") {
		cfg.Journal.OrgFile = f.org
	}
}

func init() {
	rootCmd.AddCommand(backtestCmd)
	btFlags.register(backtestCmd)
}

// setup loads the config, applies flags and fetches the bars.
func setup(cmd *cobra.Command, f *runFlags) (*config.Config, *logrus.Logger, []pricing.Bar, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	f.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	log := newLogger(cfg)
	src := cfg.Source(log)
	bars, err := src.FetchHistorical(cmd.Context(), cfg.Backtest.Symbol, cfg.Data.Interval, cfg.Data.Period)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load bars: %w", err)
	}
	log.WithFields(logrus.Fields{
		"symbol":   cfg.Backtest.Symbol,
		"interval": cfg.Data.Interval,
		"bars":     len(bars),
	}).Info("bars loaded")
	return cfg, log, bars, nil
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, log, bars, err := setup(cmd, &btFlags)
	if err != nil {
		return err
	}

	strat, err := strategies.New(cfg.Strategy)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	eng, err := backtest.NewEngine(cfg.Backtest, log)
	if err != nil {
		return err
	}
	res, err := eng.Run(bars, strat)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	backtest.PrintResult(cmd.OutOrStdout(), res)
	return record(cmd.Context(), cfg, res, log)
}

func dataset(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s", cfg.Data.Source, cfg.Data.Dir)
}

// record journals a finished run and writes the optional org report.
func record(ctx context.Context, cfg *config.Config, res backtest.Result, log *logrus.Logger) error {
	summary, err := journal.SummaryFromResult(res, cfg.Backtest, cfg.Data.Interval, dataset(cfg))
	if err != nil {
		return err
	}

	switch cfg.Journal.Type {
	case "csv":
		if err := os.MkdirAll(cfg.Journal.Dir, 0o755); err != nil {
			return err
		}
		j, err := journal.NewCSV(cfg.LegsPath(), cfg.EquityPath())
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		if err := journal.WriteAll(j, res.Legs, res.Equity); err != nil {
			j.Close()
			return fmt.Errorf("write journal: %w", err)
		}
		if err := j.Close(); err != nil {
			return err
		}
		log.WithField("path", cfg.LegsPath()).Info("legs journaled")

	case "sqlite":
		j, err := journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer j.Close()
		runID, err := j.RecordRun(ctx, summary, res.Legs, res.Equity)
		if err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		summary.RunID = runID
		log.WithFields(logrus.Fields{"run_id": runID, "db": cfg.Journal.DBPath}).Info("run journaled")
	}

	if cfg.Journal.OrgFile != "" {
		if err := summary.WriteOrgFile(cfg.Journal.OrgFile); err != nil {
			return fmt.Errorf("org report: %w", err)
		}
		log.WithField("path", cfg.Journal.OrgFile).Info("org report written")
	}
	return nil
}
