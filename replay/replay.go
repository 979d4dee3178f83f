// Package replay drives the paper broker with historical bars, the way a
// live feed would: each bar close is a mark, and the strategy is asked
// for an entry whenever the symbol is flat.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/barsim/backtest"
	"github.com/rustyeddy/barsim/internal/logging"
	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/pricing"
	"github.com/rustyeddy/barsim/risk"
	"github.com/rustyeddy/barsim/sim"
)

// Options controls how replay behaves.
type Options struct {
	Symbol  string
	RiskPct float64 // percent of equity risked per entry
	Sizing  risk.Sizing

	// WarmupBars are marked but never offered to the strategy.
	WarmupBars int

	// CloseAtEnd flattens whatever is still open at the last mark.
	CloseAtEnd bool

	Log *logrus.Logger
}

// Summary describes a finished replay.
type Summary struct {
	Bars        int
	Opened      int
	Skipped     int // signals the broker or sizing refused
	Legs        []market.ClosedLeg
	FinalEquity float64
	Diagnostics backtest.Diagnostics
}

// Bars replays bars through eng. Entries fill at the bar close with the
// signal's stop and target; a signal whose stop or target is already
// through the close is skipped.
func Bars(ctx context.Context, bars []pricing.Bar, eng *sim.Engine, strat backtest.Strategy, opts Options) (Summary, error) {
	if strat == nil {
		return Summary{}, errors.New("replay: nil strategy")
	}
	if opts.RiskPct <= 0 {
		return Summary{}, fmt.Errorf("replay: risk pct %v must be positive", opts.RiskPct)
	}
	log := logging.Component(opts.Log, "replay")
	strat.Reset()

	var (
		sum  Summary
		diag = backtest.Diagnostics{Rejections: map[string]int{}}
	)
	for i, b := range bars {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Bars++
		if _, err := eng.Mark(opts.Symbol, b.Close, b.Time); err != nil {
			return sum, fmt.Errorf("replay bar %d: %w", i, err)
		}
		if i < opts.WarmupBars || eng.HasOpenPosition(opts.Symbol) {
			continue
		}

		sc := &backtest.SignalContext{
			Symbol: opts.Symbol,
			Bars:   bars[:i+1],
			Index:  i,
			Equity: eng.Equity(),
			Diag:   &diag,
		}
		diag.SignalCalls++
		sig, err := strat.OnBar(sc)
		if err != nil {
			return sum, fmt.Errorf("replay signal at bar %d (%s): %w", i, b.Time.Format(time.RFC3339), err)
		}
		if sig == nil {
			continue
		}
		if err := sig.Validate(); err != nil {
			diag.Invalid++
			continue
		}
		diag.Accepted++

		if !bracketed(*sig, b.Close) {
			diag.Reject("bracket_through_close")
			sum.Skipped++
			continue
		}
		size := risk.PositionSize(risk.Inputs{
			Equity:       sc.Equity,
			Entry:        b.Close,
			Stop:         sig.Stop,
			RiskFraction: opts.RiskPct / 100,
		}, opts.Sizing)
		if size <= 0 {
			diag.Reject("size_zero")
			sum.Skipped++
			continue
		}

		_, err = eng.Open(sim.OpenRequest{
			Symbol:     opts.Symbol,
			Side:       sig.Side,
			Entry:      b.Close,
			Stop:       sig.Stop,
			TakeProfit: sig.TakeProfit,
			Size:       size,
			Time:       b.Time,
			MaxHoldMin: sig.MaxHoldMin,
		})
		switch {
		case errors.Is(err, sim.ErrAlreadyOpen), errors.Is(err, sim.ErrMaxConcurrent):
			sum.Skipped++
			log.WithError(err).Debug("entry refused")
			continue
		case err != nil:
			return sum, fmt.Errorf("replay open at bar %d: %w", i, err)
		}
		diag.Filled++
		sum.Opened++
	}

	if opts.CloseAtEnd && eng.HasOpenPosition(opts.Symbol) {
		if _, err := eng.Close(opts.Symbol, market.ExitEndOfDay); err != nil {
			return sum, err
		}
	}

	diag.BarsSeen = sum.Bars
	sum.Diagnostics = diag
	sum.Legs = eng.Closed()
	sum.FinalEquity = eng.Equity()
	log.WithFields(logrus.Fields{
		"bars":   sum.Bars,
		"opened": sum.Opened,
		"legs":   len(sum.Legs),
		"equity": sum.FinalEquity,
	}).Info("replay finished")
	return sum, nil
}

func bracketed(sig market.Signal, px float64) bool {
	d := sig.Side.Dir()
	return d*(px-sig.Stop) > 0 && d*(sig.TakeProfit-px) > 0
}
