package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/barsim/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query stored backtest runs",
	Long: `Query and display runs recorded in a SQLite journal.

Subcommands:
  runs  - List stored runs, newest first
  show  - Print a run report with its legs in Org format

Examples:
  barsim journal runs --symbol SPY
  barsim journal show 01JNF8T3Q7K2W4X5Y6Z7A8B9C0`,
}

var journalRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs",
	Args:  cobra.NoArgs,
	RunE:  runJournalRuns,
}

var journalShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print one run and its legs",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalShow,
}

var (
	journalDBPath string
	journalSymbol string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRunsCmd)
	journalCmd.AddCommand(journalShowCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./barsim.sqlite", "path to SQLite journal DB")
	journalRunsCmd.Flags().StringVarP(&journalSymbol, "symbol", "s", "", "only runs for this symbol")
}

func runJournalRuns(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	runs, err := j.ListRuns(cmd.Context(), journalSymbol)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSYMBOL\tINTERVAL\tSTRATEGY\tRISK%\tTRADES\tTOTAL R\tNET P/L")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%d\t%.2f\t%.2f\n",
			r.RunID, r.Symbol, r.Interval, r.Strategy, r.RiskPct, r.Metrics.Trades, r.Metrics.TotalR, r.NetPnL())
	}
	return tw.Flush()
}

func runJournalShow(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	ctx := cmd.Context()
	run, err := j.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	legs, err := j.ListLegs(ctx, run.RunID)
	if err != nil {
		return fmt.Errorf("list legs: %w", err)
	}

	out := cmd.OutOrStdout()
	if err := run.WriteOrg(out); err != nil {
		return err
	}
	if len(legs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, journal.FormatLegsOrg(legs))
	}
	return nil
}
