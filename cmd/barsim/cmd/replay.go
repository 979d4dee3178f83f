package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/barsim/journal"
	"github.com/rustyeddy/barsim/replay"
	"github.com/rustyeddy/barsim/sim"
	"github.com/rustyeddy/barsim/strategies"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay bar closes through the paper broker",
	Long: `Replay marks every bar close on the paper broker and opens a position at
the close whenever the strategy signals while flat. Exits are checked on
marks only, as they would be against a live price feed.

Example:
  barsim replay -c run.yaml --legs paper-legs.csv --max-hold 240`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

var (
	rpFlags      runFlags
	rpLegsPath   string
	rpMaxHold    float64
	rpWeekends   bool
	rpCloseAtEnd bool
)

func init() {
	rootCmd.AddCommand(replayCmd)
	rpFlags.register(replayCmd)
	replayCmd.Flags().StringVar(&rpLegsPath, "legs", "", "write paper legs to this CSV")
	replayCmd.Flags().Float64Var(&rpMaxHold, "max-hold", 0, "close positions held this many minutes (0 = no cap)")
	replayCmd.Flags().BoolVar(&rpWeekends, "flatten-weekends", false, "flatten from Friday 21:00 UTC through the weekend")
	replayCmd.Flags().BoolVar(&rpCloseAtEnd, "close-end", true, "close the open position at the last mark")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, log, bars, err := setup(cmd, &rpFlags)
	if err != nil {
		return err
	}
	strat, err := strategies.New(cfg.Strategy)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	sc := sim.DefaultConfig()
	sc.Equity = cfg.Backtest.StartingEquity
	sc.Costs = cfg.Backtest.Costs
	sc.MaxHoldMin = rpMaxHold
	sc.FlattenWeekends = rpWeekends

	var j journal.Journal
	if rpLegsPath != "" {
		cj, err := journal.NewCSV(rpLegsPath, "")
		if err != nil {
			return fmt.Errorf("open legs: %w", err)
		}
		defer cj.Close()
		j = cj
	}
	eng := sim.NewEngine(sc, j, log)

	sum, err := replay.Bars(cmd.Context(), bars, eng, strat, replay.Options{
		Symbol:     cfg.Backtest.Symbol,
		RiskPct:    cfg.Backtest.RiskPct,
		Sizing:     cfg.Backtest.Sizing,
		WarmupBars: cfg.Backtest.WarmupBars,
		CloseAtEnd: rpCloseAtEnd,
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Replay complete: %s\n", cfg.Backtest.Symbol)
	fmt.Fprintf(out, "  Bars:     %d\n", sum.Bars)
	fmt.Fprintf(out, "  Opened:   %d (%d skipped)\n", sum.Opened, sum.Skipped)
	fmt.Fprintf(out, "  Legs:     %d\n", len(sum.Legs))
	fmt.Fprintf(out, "  Equity:   %.2f\n", sum.FinalEquity)
	return nil
}
