package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/barsim/backtest"
	"github.com/rustyeddy/barsim/config"
	"github.com/rustyeddy/barsim/strategies"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the same backtest across several risk levels",
	Long: `Sweep runs one backtest per --risk value over the same bars, in
parallel, and prints a row per case. Cases that fail are reported in
place and do not stop the others.

Example:
  barsim sweep -c run.yaml --risks 0.25,0.5,1 --workers 4`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

var (
	swFlags   runFlags
	swRisks   []float64
	swWorkers int
)

func init() {
	rootCmd.AddCommand(sweepCmd)
	swFlags.register(sweepCmd)
	sweepCmd.Flags().Float64SliceVar(&swRisks, "risks", []float64{0.25, 0.5, 1, 2}, "risk percents to sweep")
	sweepCmd.Flags().IntVarP(&swWorkers, "workers", "w", 4, "concurrent backtests")
}

// sweepCases builds one case per risk level with its own strategy factory.
func sweepCases(cfg *config.Config, risks []float64) []backtest.SweepCase {
	cases := make([]backtest.SweepCase, 0, len(risks))
	for _, r := range risks {
		bt := cfg.Backtest
		bt.RiskPct = r
		sc := cfg.Strategy
		cases = append(cases, backtest.SweepCase{
			Name:   "risk=" + strconv.FormatFloat(r, 'f', -1, 64) + "%",
			Config: bt,
			NewStrategy: func() backtest.Strategy {
				s, err := strategies.New(sc)
				if err != nil {
					return nil
				}
				return s
			},
		})
	}
	return cases
}

func runSweep(cmd *cobra.Command, args []string) error {
	if len(swRisks) == 0 {
		return fmt.Errorf("no --risks given")
	}
	cfg, log, bars, err := setup(cmd, &swFlags)
	if err != nil {
		return err
	}

	results, err := backtest.Sweep(cmd.Context(), bars, sweepCases(cfg, swRisks), swWorkers, log)
	backtest.PrintSweep(cmd.OutOrStdout(), results)
	return err
}
