package backtest

import (
	"fmt"
	"io"
	"math"
	"time"
)

// num formats v with prec decimals, printing infinities as Inf.
func num(v float64, prec int) string {
	switch {
	case math.IsInf(v, 1):
		return "Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return fmt.Sprintf("%.*f", prec, v)
}

// PrintResult writes a console summary of r.
func PrintResult(w io.Writer, r Result) {
	m := r.Metrics

	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "Symbol:        %s\n", r.Symbol)
	fmt.Fprintf(w, "Strategy:      %s\n", r.Strategy)
	fmt.Fprintf(w, "Bar:           %s\n", r.BarDuration)
	if !r.Start.IsZero() {
		fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.RFC3339))
		fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.RFC3339))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:        %d (%d legs)\n", m.Trades, m.Legs)
	fmt.Fprintf(w, "Win Rate:      %s%%\n", num(m.WinRate*100, 2))
	fmt.Fprintf(w, "Profit Factor: %s\n", num(m.ProfitFactor, 2))
	fmt.Fprintf(w, "Expectancy:    %s /trade\n", num(m.Expectancy, 2))
	fmt.Fprintf(w, "Avg R:         %s\n", num(m.AvgR, 3))
	fmt.Fprintf(w, "Total R:       %s\n", num(m.TotalR, 3))
	fmt.Fprintf(w, "Sharpe/trade:  %s\n", num(m.SharpePerTrade, 3))
	fmt.Fprintf(w, "Sortino/trade: %s\n", num(m.SortinoPerTrade, 3))
	fmt.Fprintf(w, "Streaks:       %d wins, %d losses\n", m.MaxConsecWins, m.MaxConsecLosses)
	fmt.Fprintf(w, "Avg Hold:      %s min\n", num(m.AvgHoldMin, 1))
	fmt.Fprintf(w, "Exposure:      %s%%\n", num(m.ExposurePct*100, 2))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Equity:  %.2f\n", r.StartEquity)
	fmt.Fprintf(w, "End Equity:    %.2f\n", r.FinalEquity)
	fmt.Fprintf(w, "Net P/L:       %.2f\n", m.TotalPnL)
	fmt.Fprintf(w, "Return:        %s%%\n", num(m.ReturnPct*100, 2))
	fmt.Fprintf(w, "Max Drawdown:  %s%%\n", num(m.MaxDrawdownPct*100, 2))
	fmt.Fprintf(w, "Calmar:        %s\n", num(m.Calmar, 2))
	fmt.Fprintf(w, "Sharpe/day:    %s\n", num(m.SharpeDaily, 3))
	if r.OpenAtEnd {
		fmt.Fprintln(w, "Open position at end of data (not marked)")
	}

	d := r.Diagnostics
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Diagnostics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Bars:          %d\n", d.BarsSeen)
	fmt.Fprintf(w, "Signals:       %d accepted / %d calls (%d invalid)\n", d.Accepted, d.SignalCalls, d.Invalid)
	fmt.Fprintf(w, "Orders:        %d staged, %d filled, %d expired, %d cancelled\n",
		d.Staged, d.Filled, d.Expired, d.Cancelled)
	for _, k := range d.RejectionReasons() {
		fmt.Fprintf(w, "  reject %-20s %d\n", k, d.Rejections[k])
	}
	fmt.Fprintln(w, "==================================================")
}

// PrintSweep writes one line per sweep case.
func PrintSweep(w io.Writer, rs []SweepResult) {
	fmt.Fprintf(w, "%-20s %7s %8s %8s %9s %8s\n", "case", "trades", "winrate", "totalR", "return%", "maxDD%")
	for _, r := range rs {
		if r.Err != nil {
			fmt.Fprintf(w, "%-20s error: %v\n", r.Name, r.Err)
			continue
		}
		m := r.Result.Metrics
		fmt.Fprintf(w, "%-20s %7d %8s %8s %9s %8s\n", r.Name, m.Trades,
			num(m.WinRate*100, 1), num(m.TotalR, 2), num(m.ReturnPct*100, 2), num(m.MaxDrawdownPct*100, 2))
	}
}
