package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/barsim/data"
	"github.com/rustyeddy/barsim/pricing"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Manage local bar data",
}

var dataImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import a bar CSV into the parquet store",
	Long: `Import reads a bar CSV (comma or semicolon separated; RFC3339, unix
milliseconds or Dukascopy timestamps) and merges it into the parquet store.
Bars already stored at the same time are replaced.

Example:
  barsim data import SPY_5m.csv --symbol SPY --interval 5m --store ./data`,
	Args: cobra.ExactArgs(1),
	RunE: runDataImport,
}

var (
	importSymbol   string
	importInterval string
	importStore    string
)

func init() {
	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataImportCmd)

	dataImportCmd.Flags().StringVarP(&importSymbol, "symbol", "s", "", "symbol the bars belong to (required)")
	dataImportCmd.Flags().StringVarP(&importInterval, "interval", "i", "5m", "bar interval")
	dataImportCmd.Flags().StringVar(&importStore, "store", "./data", "parquet store directory")
	dataImportCmd.MarkFlagRequired("symbol")
}

func runDataImport(cmd *cobra.Command, args []string) error {
	if _, err := data.ParseInterval(importInterval); err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	raw, skipped, err := data.ReadCSV(f)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	bars := pricing.Sanitize(raw)

	store := data.NewParquetStore(importStore)
	symbol := strings.ToUpper(importSymbol)
	if err := store.WriteBars(cmd.Context(), symbol, importInterval, bars); err != nil {
		return fmt.Errorf("write store: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d bars (%d rows skipped) into %s\n",
		len(bars), skipped, store.Path(symbol, importInterval))
	return nil
}
