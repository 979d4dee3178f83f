// Package metrics turns a backtest's closed legs and equity curve into
// performance statistics.
package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/pricing"
)

// Input is everything Build needs. Build never mutates it.
type Input struct {
	Legs        []market.ClosedLeg
	StartEquity float64
	FinalEquity float64

	BarCount    int
	BarDuration time.Duration

	// Equity is the realized equity curve. When empty one is rebuilt from
	// the legs.
	Equity []market.EquitySample
}

// Metrics are position level unless the field says otherwise. Position
// level stats count only legs that closed a position (SCALE legs are
// excluded); leg level stats include every leg.
type Metrics struct {
	Trades          int     `json:"trades" yaml:"trades"`
	WinRate         float64 `json:"win_rate" yaml:"win_rate"`
	ProfitFactor    float64 `json:"profit_factor" yaml:"profit_factor"`
	Expectancy      float64 `json:"expectancy" yaml:"expectancy"`
	TotalR          float64 `json:"total_r" yaml:"total_r"`
	AvgR            float64 `json:"avg_r" yaml:"avg_r"`
	SharpePerTrade  float64 `json:"sharpe_per_trade" yaml:"sharpe_per_trade"`
	SortinoPerTrade float64 `json:"sortino_per_trade" yaml:"sortino_per_trade"`
	MaxConsecWins   int     `json:"max_consec_wins" yaml:"max_consec_wins"`
	MaxConsecLosses int     `json:"max_consec_losses" yaml:"max_consec_losses"`
	AvgHoldMin      float64 `json:"avg_hold_min" yaml:"avg_hold_min"`
	ExposurePct     float64 `json:"exposure_pct" yaml:"exposure_pct"`

	// Leg level, reconciles with the equity curve.
	Legs            int     `json:"legs" yaml:"legs"`
	WinRateLeg      float64 `json:"win_rate_leg" yaml:"win_rate_leg"`
	ProfitFactorLeg float64 `json:"profit_factor_leg" yaml:"profit_factor_leg"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	Calmar          float64 `json:"calmar" yaml:"calmar"`

	TotalPnL    float64 `json:"total_pnl" yaml:"total_pnl"`
	ReturnPct   float64 `json:"return_pct" yaml:"return_pct"`
	StartEquity float64 `json:"start_equity" yaml:"start_equity"`
	FinalEquity float64 `json:"final_equity" yaml:"final_equity"`

	// Computed from daily (UTC) returns of the equity curve.
	SharpeDaily  float64 `json:"sharpe_daily" yaml:"sharpe_daily"`
	SortinoDaily float64 `json:"sortino_daily" yaml:"sortino_daily"`
}

// Build computes Metrics from in.
func Build(in Input) Metrics {
	var completed []market.ClosedLeg
	for _, l := range in.Legs {
		if l.Final() {
			completed = append(completed, l)
		}
	}

	m := Metrics{
		Trades:      len(completed),
		Legs:        len(in.Legs),
		StartEquity: in.StartEquity,
		FinalEquity: in.FinalEquity,
	}

	// position level
	pnls := make([]float64, len(completed))
	rs := make([]float64, len(completed))
	rets := make([]float64, len(completed))
	holds := make([]float64, len(completed))
	for i, t := range completed {
		pnls[i] = t.Exit.PnL
		rs[i] = t.RMultiple()
		rets[i] = t.Exit.PnL / math.Max(1e-12, in.StartEquity)
		holds[i] = t.Hold().Minutes()
	}

	m.WinRate = winRate(pnls)
	m.ProfitFactor = profitFactor(pnls)
	m.Expectancy = mean(pnls)
	m.TotalR = sum(rs)
	m.AvgR = mean(rs)
	m.SharpePerTrade = sharpe(rets)
	m.SortinoPerTrade = sortino(rets)
	m.MaxConsecWins, m.MaxConsecLosses = streaks(pnls)
	m.AvgHoldMin = mean(holds)
	m.ExposurePct = exposure(completed, in.BarCount, in.BarDuration)

	// leg level
	legs := sortedByExit(in.Legs)
	legPnls := make([]float64, len(legs))
	for i, l := range legs {
		legPnls[i] = l.Exit.PnL
	}
	m.WinRateLeg = winRate(legPnls)
	m.ProfitFactorLeg = profitFactor(legPnls)
	m.MaxDrawdownPct = maxDrawdown(in.StartEquity, legPnls)

	m.TotalPnL = sum(legPnls)
	m.ReturnPct = (in.FinalEquity - in.StartEquity) / math.Max(1e-12, in.StartEquity)
	m.Calmar = ratio(m.ReturnPct, m.MaxDrawdownPct)

	curve := in.Equity
	if len(curve) == 0 {
		curve = EquityFromLegs(legs, in.StartEquity)
	}
	daily := DailyReturns(curve)
	m.SharpeDaily = sharpe(daily)
	m.SortinoDaily = sortino(daily)

	return m
}

func sortedByExit(legs []market.ClosedLeg) []market.ClosedLeg {
	out := make([]market.ClosedLeg, len(legs))
	copy(out, legs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Exit.Time.Before(out[j].Exit.Time)
	})
	return out
}

// maxDrawdown walks realized equity leg by leg and returns the largest
// peak-to-trough decline as a fraction of the peak.
func maxDrawdown(start float64, pnls []float64) float64 {
	peak, cur, dd := start, start, 0.0
	for _, p := range pnls {
		cur += p
		if cur > peak {
			peak = cur
		}
		dd = math.Max(dd, (peak-cur)/math.Max(1e-12, peak))
	}
	return dd
}

// exposure is the share of bars spent in a position. Each trade counts at
// least one bar.
func exposure(trades []market.ClosedLeg, barCount int, barDur time.Duration) float64 {
	if barDur <= 0 {
		barDur = pricing.EstimateBarDuration(nil)
	}
	open := 0.0
	for _, t := range trades {
		open += math.Max(1, math.Round(float64(t.Hold())/float64(barDur)))
	}
	return open / float64(max(1, barCount))
}

// EquityFromLegs rebuilds a realized equity curve from legs already sorted
// by exit time.
func EquityFromLegs(legs []market.ClosedLeg, start float64) []market.EquitySample {
	first := time.Now().UTC()
	if len(legs) > 0 {
		first = legs[0].Exit.Time
	}
	out := make([]market.EquitySample, 0, len(legs)+1)
	out = append(out, market.EquitySample{Time: first, Equity: start})
	eq := start
	for _, l := range legs {
		eq += l.Exit.PnL
		out = append(out, market.EquitySample{Time: l.Exit.Time, Equity: eq})
	}
	return out
}

// DailyReturns buckets an equity curve by UTC day, taking each day's
// earliest sample as the open and latest as the close. Days appear in the
// order first seen.
func DailyReturns(curve []market.EquitySample) []float64 {
	type day struct {
		open, close float64
		first, last time.Time
	}
	var order []string
	byDay := make(map[string]*day)
	for _, p := range curve {
		k := pricing.UTCDate(p.Time)
		d, ok := byDay[k]
		if !ok {
			d = &day{open: p.Equity, close: p.Equity, first: p.Time, last: p.Time}
			byDay[k] = d
			order = append(order, k)
		}
		if p.Time.Before(d.first) {
			d.open, d.first = p.Equity, p.Time
		}
		if !p.Time.Before(d.last) {
			d.close, d.last = p.Equity, p.Time
		}
	}

	rets := make([]float64, 0, len(order))
	for _, k := range order {
		d := byDay[k]
		if d.open > 0 && !math.IsInf(d.open, 0) && !math.IsNaN(d.close) && !math.IsInf(d.close, 0) {
			rets = append(rets, (d.close-d.open)/d.open)
		}
	}
	return rets
}
