package backtest

import (
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/barsim/execution"
	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/pricing"
	"github.com/rustyeddy/barsim/risk"
)

func TestRoundTripTakeProfit(t *testing.T) {
	t.Parallel()

	bars := flatBars(260, 100)
	setBar(bars, 251, 100, 104.5, 100, 104)

	res, err := mustEngine(testConfig()).Run(bars, signalAt(250, longSignal(100, 98, 104)))
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)

	leg := res.Legs[0]
	assert.Equal(t, market.ExitTarget, leg.Exit.Reason)
	assert.Equal(t, bars[250].Time, leg.OpenTime)
	assert.Equal(t, bars[251].Time, leg.Exit.Time)
	assert.InDelta(t, 50.0, leg.Size, 1e-9)
	assert.InDelta(t, leg.Size*(104-100), leg.Exit.PnL, 1e-9)
	assert.InDelta(t, 2.0, leg.RMultiple(), 1e-12)

	assert.Equal(t, 1, res.Metrics.Trades)
	assert.InDelta(t, 2.0, res.Metrics.TotalR, 1e-12)
	assert.InDelta(t, 10200.0, res.FinalEquity, 1e-9)
	assert.False(t, res.OpenAtEnd)
}

func TestEquityCurveIsRealizedOnly(t *testing.T) {
	t.Parallel()

	bars := flatBars(260, 100)
	setBar(bars, 251, 100, 103, 100, 103) // open profit, not realized
	setBar(bars, 252, 103, 104.5, 103, 104)

	res, err := mustEngine(testConfig()).Run(bars, signalAt(250, longSignal(100, 98, 104)))
	require.NoError(t, err)

	// seed + one per processed bar + one per leg
	require.Len(t, res.Equity, 1+60+1)
	assert.Equal(t, bars[0].Time, res.Equity[0].Time)
	for _, p := range res.Equity {
		if p.Time.Before(bars[252].Time) {
			assert.Equal(t, 10000.0, p.Equity, p.Time)
		}
	}
	assert.Equal(t, 10200.0, res.Equity[len(res.Equity)-1].Equity)
}

func TestWarmupLongerThanData(t *testing.T) {
	t.Parallel()

	res, err := mustEngine(testConfig()).Run(flatBars(50, 100), signalAt(10, longSignal(100, 98, 104)))
	require.NoError(t, err)
	assert.Empty(t, res.Legs)
	assert.Len(t, res.Equity, 1)
	assert.Zero(t, res.Diagnostics.SignalCalls)
}

func TestPostLossCooldown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.PostLossCooldownBars = 3

	bars := flatBars(270, 100)
	setBar(bars, 251, 100, 100, 97, 99) // stop at 98

	rec := &recorder{sig: longSignal(100, 98, 110), from: 250}
	res, err := mustEngine(cfg).Run(bars, rec)
	require.NoError(t, err)

	require.NotEmpty(t, res.Legs)
	assert.Equal(t, market.ExitStop, res.Legs[0].Exit.Reason)
	assert.Equal(t, bars[251].Time, res.Legs[0].Exit.Time)

	for i := 251; i <= 254; i++ {
		assert.False(t, rec.called(i), "signal requested during cooldown at %d", i)
	}
	assert.True(t, rec.called(255))
	assert.Equal(t, 2, res.Diagnostics.Filled)
}

func TestSignalCooldownAfterTarget(t *testing.T) {
	t.Parallel()

	bars := flatBars(270, 100)
	setBar(bars, 251, 100, 104.5, 100, 104)

	sig := longSignal(100, 98, 104)
	sig.CooldownBars = 2
	rec := &recorder{sig: sig, from: 250}

	_, err := mustEngine(testConfig()).Run(bars, rec)
	require.NoError(t, err)
	assert.False(t, rec.called(252))
	assert.False(t, rec.called(253))
	assert.True(t, rec.called(254))
}

func TestDoubleTouchTieBreak(t *testing.T) {
	t.Parallel()

	bars := flatBars(260, 100)
	setBar(bars, 251, 100, 105, 97, 101)

	for tb, want := range map[execution.TieBreak]market.ExitReason{
		execution.Pessimistic: market.ExitStop,
		execution.Optimistic:  market.ExitTarget,
	} {
		cfg := testConfig()
		cfg.OCO.TieBreak = tb
		res, err := mustEngine(cfg).Run(bars, signalAt(250, longSignal(100, 98, 104)))
		require.NoError(t, err)
		require.Len(t, res.Legs, 1)
		assert.Equal(t, want, res.Legs[0].Exit.Reason, tb)
	}
}

func TestStopExitUsesStopSlippage(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Costs = execution.Costs{SlippageBps: 10, FeeBps: 2}

	bars := flatBars(260, 100)
	setBar(bars, 251, 100, 100, 97, 97.5)

	res, err := mustEngine(cfg).Run(bars, signalAt(250, longSignal(100, 98, 104)))
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)

	entry := execution.ApplyFill(100, market.Long, cfg.Costs, execution.Limit)
	exit := execution.ApplyFill(98, market.Short, cfg.Costs, execution.Stop)
	leg := res.Legs[0]
	assert.InDelta(t, entry.Price, leg.EntryFill, 1e-12)
	assert.InDelta(t, exit.Price, leg.Exit.Price, 1e-12)

	want := (exit.Price-entry.Price)*leg.Size - entry.Fee(leg.Size) - exit.Fee(leg.Size)
	assert.InDelta(t, want, leg.Exit.PnL, 1e-9)
	assert.InDelta(t, res.FinalEquity-res.StartEquity, leg.Exit.PnL, 1e-9)
}

func TestScaleOutReconciles(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Costs = execution.Costs{SlippageBps: 2, FeeBps: 5}
	cfg.ScaleOut = ScaleOut{AtR: 1, Frac: 0.5, FinalTargetR: 3}

	bars := flatBars(260, 100)
	setBar(bars, 251, 100, 102.5, 100, 102)
	setBar(bars, 252, 102, 106.5, 102, 106)

	res, err := mustEngine(cfg).Run(bars, signalAt(250, longSignal(100, 98, 104)))
	require.NoError(t, err)
	require.Len(t, res.Legs, 2)

	scale, final := res.Legs[0], res.Legs[1]
	assert.Equal(t, market.ExitScale, scale.Exit.Reason)
	assert.Equal(t, market.ExitTarget, final.Exit.Reason)
	assert.InDelta(t, 25.0, scale.Size, 1e-9)
	assert.InDelta(t, 25.0, final.Size, 1e-9)
	assert.InDelta(t, 106.0, final.TakeProfit, 1e-12, "target extended to 3R")
	assert.Greater(t, final.Stop, 98.0, "stop moved to net breakeven")

	entry := execution.ApplyFill(100, market.Long, cfg.Costs, execution.Limit)
	x1 := execution.ApplyFill(102, market.Short, cfg.Costs, execution.Limit)
	x2 := execution.ApplyFill(106, market.Short, cfg.Costs, execution.Limit)
	want := (x1.Price-entry.Price)*25 + (x2.Price-entry.Price)*25 -
		entry.Fee(50) - x1.Fee(25) - x2.Fee(25)

	assert.InDelta(t, want, scale.Exit.PnL+final.Exit.PnL, 1e-9)
	assert.InDelta(t, res.FinalEquity-res.StartEquity, scale.Exit.PnL+final.Exit.PnL, 1e-9)
	assert.Equal(t, 1, res.Metrics.Trades)
	assert.Equal(t, 2, res.Metrics.Legs)
}

func TestPyramidingReconciles(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Costs = execution.Costs{SlippageBps: 3, FeeBps: 4}
	cfg.ScaleOut = ScaleOut{AtR: 1, Frac: 0.5, FinalTargetR: 3}
	cfg.Pyramiding = Pyramiding{Enabled: true, AddAtR: 1, AddFrac: 0.25, MaxAdds: 1}

	bars := flatBars(260, 100)
	setBar(bars, 251, 100, 102.2, 100, 102)   // add at 102, scale skipped this bar
	setBar(bars, 252, 102, 103, 101, 102.5)   // scale out at 102
	setBar(bars, 253, 102.5, 106.5, 102, 106) // final target

	res, err := mustEngine(cfg).Run(bars, signalAt(250, longSignal(100, 98, 104)))
	require.NoError(t, err)
	require.Len(t, res.Legs, 2)

	entry := execution.ApplyFill(100, market.Long, cfg.Costs, execution.Limit)
	add := execution.ApplyFill(102, market.Long, cfg.Costs, execution.Limit)
	x1 := execution.ApplyFill(102, market.Short, cfg.Costs, execution.Limit)
	x2 := execution.ApplyFill(106, market.Short, cfg.Costs, execution.Limit)

	scale, final := res.Legs[0], res.Legs[1]
	assert.Equal(t, 1, scale.Adds)
	assert.InDelta(t, 31.25, scale.Size, 1e-9)
	assert.InDelta(t, 31.25, final.Size, 1e-9)

	vwap := (entry.Price*50 + add.Price*12.5) / 62.5
	assert.InDelta(t, vwap, final.EntryFill, 1e-9)

	want := (x1.Price-vwap)*31.25 + (x2.Price-vwap)*31.25 -
		entry.Fee(50) - add.Fee(12.5) - x1.Fee(31.25) - x2.Fee(31.25)
	got := scale.Exit.PnL + final.Exit.PnL
	assert.InDelta(t, want, got, 1e-9)
	assert.InDelta(t, res.FinalEquity-res.StartEquity, got, 1e-9)
	assert.Equal(t, 1, res.Diagnostics.Adds)
}

func TestTimeExit(t *testing.T) {
	t.Parallel()

	sig := longSignal(100, 98, 110)
	sig.MaxBarsInTrade = 3

	res, err := mustEngine(testConfig()).Run(flatBars(260, 100), signalAt(250, sig))
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)
	assert.Equal(t, market.ExitTime, res.Legs[0].Exit.Reason)
	assert.Equal(t, start.Add(253*step), res.Legs[0].Exit.Time)
}

func TestMaxHoldMinutes(t *testing.T) {
	t.Parallel()

	sig := longSignal(100, 98, 110)
	sig.MaxHoldMin = 12

	res, err := mustEngine(testConfig()).Run(flatBars(260, 100), signalAt(250, sig))
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)
	assert.Equal(t, market.ExitTime, res.Legs[0].Exit.Reason)
	assert.Equal(t, start.Add(253*step), res.Legs[0].Exit.Time)
}

func TestEndOfDayFlatten(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.FlattenAtClose = true
	cfg.WarmupBars = 10

	// bar 72 is 15:30 ET; bar 78 is 16:00 ET
	bars := flatBars(90, 100)

	res, err := mustEngine(cfg).Run(bars, signalAt(72, longSignal(100, 98, 110)))
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)
	assert.Equal(t, market.ExitEndOfDay, res.Legs[0].Exit.Reason)
	assert.Equal(t, bars[78].Time, res.Legs[0].Exit.Time)
}

func TestDailyLossLimitBlocksSignals(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.WarmupBars = 0
	cfg.MaxDailyLossPct = 0.5

	bars := flatBars(400, 100)
	setBar(bars, 11, 100, 100, 97, 98)

	rec := &recorder{sig: longSignal(100, 98, 110), from: 10}
	res, err := mustEngine(cfg).Run(bars, rec)
	require.NoError(t, err)
	require.NotEmpty(t, res.Legs)
	assert.Equal(t, market.ExitStop, res.Legs[0].Exit.Reason)

	// the next ET session starts at bar 174 (05:00 UTC)
	day := pricing.EasternDate(bars[11].Time)
	for _, c := range rec.calls {
		if c > 11 {
			assert.NotEqual(t, day, pricing.EasternDate(bars[c].Time),
				"signal requested at bar %d after the daily loss limit", c)
		}
	}
	assert.True(t, rec.called(174), "signals resume on the next day")
}

func TestDailyTradeCap(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.WarmupBars = 0
	cfg.DailyMaxTrades = 1

	sig := longSignal(100, 98, 110)
	sig.MaxBarsInTrade = 1
	rec := &recorder{sig: sig, from: 5}

	res, err := mustEngine(cfg).Run(flatBars(40, 100), rec)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Diagnostics.Filled)
	assert.Len(t, res.Legs, 1)
}

func TestPendingExpiry(t *testing.T) {
	t.Parallel()

	sig := longSignal(95, 93, 110)
	sig.EntryExpiryBars = market.IntPtr(3)
	rec := &recorder{sig: sig, from: 250}

	res, err := mustEngine(testConfig()).Run(flatBars(259, 100), rec)
	require.NoError(t, err)

	// staged at 250, expires at 254, restaged at 254, expires at 258
	assert.Equal(t, []int{250, 254, 258}, rec.calls[len(rec.calls)-3:])
	assert.Equal(t, 2, res.Diagnostics.Expired)
	assert.Equal(t, 3, res.Diagnostics.Staged)
	assert.Zero(t, res.Diagnostics.Filled)
}

func TestConvertOnExpiry(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.EntryChase.ConvertOnExpiry = true

	sig := longSignal(99.5, 97.5, 110)
	sig.EntryExpiryBars = market.IntPtr(1)

	res, err := mustEngine(cfg).Run(flatBars(256, 100), signalAt(250, sig))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Diagnostics.Converted)
	assert.Equal(t, 1, res.Diagnostics.Filled)
	assert.True(t, res.OpenAtEnd)
}

func TestEntryChaseRepricesThenConverts(t *testing.T) {
	t.Parallel()

	sig := longSignal(99, 97, 110)
	sig.FairValue = market.FloatPtr(99.8)
	sig.EntryExpiryBars = market.IntPtr(10)

	res, err := mustEngine(testConfig()).Run(flatBars(256, 100), signalAt(250, sig))
	require.NoError(t, err)

	d := res.Diagnostics
	assert.Equal(t, 1, d.Chased)
	assert.Equal(t, 1, d.Converted)
	assert.Equal(t, 1, d.Filled)
	assert.True(t, res.OpenAtEnd)
}

func TestEntryChaseNeedsFairValue(t *testing.T) {
	t.Parallel()

	sig := longSignal(99, 97, 110)
	sig.EntryExpiryBars = market.IntPtr(10)

	res, err := mustEngine(testConfig()).Run(flatBars(256, 100), signalAt(250, sig))
	require.NoError(t, err)
	assert.Zero(t, res.Diagnostics.Chased)
	assert.Zero(t, res.Diagnostics.Filled)
}

func TestSignalErrorAbortsRun(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	strat := SignalFunc(func(ctx *SignalContext) (*market.Signal, error) {
		if ctx.Index == 205 {
			return nil, boom
		}
		return nil, nil
	})

	_, err := mustEngine(testConfig()).Run(flatBars(260, 100), strat)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "signal at bar 205")
}

func TestInvalidSignalDropped(t *testing.T) {
	t.Parallel()

	res, err := mustEngine(testConfig()).Run(flatBars(260, 100),
		signalAt(250, market.Signal{Side: market.Long, Entry: 100, Stop: math.NaN(), TakeProfit: 104}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Diagnostics.Invalid)
	assert.Zero(t, res.Diagnostics.Staged)
}

func TestSignalSeesFullHistory(t *testing.T) {
	t.Parallel()

	var lens []int
	strat := SignalFunc(func(ctx *SignalContext) (*market.Signal, error) {
		lens = append(lens, len(ctx.Bars))
		if ctx.Index == 201 {
			ctx.Reject("too_quiet")
		}
		assert.Equal(t, ctx.Bars[ctx.Index].Time, ctx.Time())
		return nil, nil
	})

	res, err := mustEngine(testConfig()).Run(flatBars(203, 100), strat)
	require.NoError(t, err)
	assert.Equal(t, []int{201, 202, 203}, lens)
	assert.Equal(t, 1, res.Diagnostics.Rejections["too_quiet"])
	assert.Equal(t, 3, res.Diagnostics.BarsSeen)
}

func TestNilStrategy(t *testing.T) {
	t.Parallel()

	_, err := mustEngine(testConfig()).Run(flatBars(10, 100), nil)
	assert.Error(t, err)
}

func TestSizingUsesLiveEquity(t *testing.T) {
	t.Parallel()

	bars := flatBars(270, 100)
	setBar(bars, 251, 100, 104.5, 100, 104)
	setBar(bars, 253, 100, 104.5, 100, 104)

	rec := &recorder{sig: longSignal(100, 98, 104), from: 250}
	res, err := mustEngine(testConfig()).Run(bars, rec)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.Legs), 2)

	want := risk.PositionSize(risk.Inputs{Equity: 10200, Entry: 100, Stop: 98, RiskFraction: 0.01}, risk.DefaultSizing())
	assert.InDelta(t, 51.0, want, 1e-9)
	assert.InDelta(t, want, res.Legs[1].Size, 1e-9)
	assert.InDelta(t, 10404.0, res.FinalEquity, 1e-9)
}

func TestSlipGuardAbortsFill(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxSlipROnFill = 0.15

	// chase slip is 0.4/2.8 R, fill slip against the planned 2.0 risk is 0.2 R
	sig := longSignal(99, 97, 110)
	sig.FairValue = market.FloatPtr(99.8)
	sig.EntryExpiryBars = market.IntPtr(10)

	res, err := mustEngine(cfg).Run(flatBars(256, 100.2), signalAt(250, sig))
	require.NoError(t, err)

	d := res.Diagnostics
	assert.Equal(t, 1, d.Chased)
	assert.Equal(t, 1, d.FillAborted)
	assert.Zero(t, d.Filled)
	assert.Zero(t, d.Converted)
	assert.False(t, res.OpenAtEnd)
}

// rangeBars closes every bar at c with a total range of 2*half.
func rangeBars(n int, c, half float64) []pricing.Bar {
	bars := flatBars(n, c)
	for i := range bars {
		bars[i].High, bars[i].Low = c+half, c-half
	}
	return bars
}

func TestVolatilityCut(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.VolScale = VolScale{Enabled: true, ATRPeriod: 5, CutIfATRX: 1.3, CutFrac: 0.33, NoCutAboveR: 1.5}

	bars := rangeBars(260, 100, 0.5)
	for i := 251; i < len(bars); i++ {
		bars[i].High, bars[i].Low = 101.5, 98.5
	}

	res, err := mustEngine(cfg).Run(bars, signalAt(250, longSignal(100, 98, 110)))
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)

	cut := res.Legs[0]
	assert.Equal(t, market.ExitScale, cut.Exit.Reason)
	assert.Equal(t, bars[251].Time, cut.Exit.Time)
	assert.InDelta(t, 16.5, cut.Size, 1e-9)
	require.NotNil(t, cut.EntryATR)
	assert.InDelta(t, 1.0, *cut.EntryATR, 1e-9)
	require.NotNil(t, cut.Exit.ExitATR)
	assert.InDelta(t, 1.4, *cut.Exit.ExitATR, 1e-9)

	assert.Equal(t, 1, res.Diagnostics.VolCuts)
	assert.True(t, res.OpenAtEnd)
}

func TestStopNeverLoosens(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ATRTrail = ATRTrail{Mult: 1, Period: 5}

	closes := []float64{101, 102, 103, 104, 103.5, 103, 102.8, 102.6}
	bars := rangeBars(251+len(closes), 100, 0.5)
	for k, c := range closes {
		i := 251 + k
		bars[i].Open, bars[i].Close = c, c
		bars[i].High, bars[i].Low = c+0.5, c-0.5
	}

	sig := longSignal(100, 98, 120)
	sig.BreakevenAtR = 0.5
	e := mustEngine(cfg)
	s, err := e.newRun(bars, signalAt(250, sig))
	require.NoError(t, err)

	var stops []float64
	for i := cfg.WarmupBars; i < len(bars); i++ {
		require.NoError(t, s.step(i))
		if s.open != nil && i > 250 {
			stops = append(stops, s.open.stop)
		}
	}
	require.NotEmpty(t, stops)
	for k := 1; k < len(stops); k++ {
		assert.GreaterOrEqual(t, stops[k], stops[k-1], "stop loosened at step %d", k)
	}
	assert.Greater(t, stops[len(stops)-1], 100.0, "trail moved beyond breakeven")
}

func TestShortScaleOutReconciles(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Costs = execution.Costs{SlippageBps: 2, FeeBps: 5}
	cfg.ScaleOut = ScaleOut{AtR: 1, Frac: 0.5, FinalTargetR: 3}

	bars := flatBars(260, 100)
	setBar(bars, 251, 100, 100, 97.5, 98)
	setBar(bars, 252, 98, 98, 93.5, 94)

	res, err := mustEngine(cfg).Run(bars, signalAt(250, shortSignal(100, 102, 96)))
	require.NoError(t, err)
	require.Len(t, res.Legs, 2)

	scale, final := res.Legs[0], res.Legs[1]
	assert.Equal(t, market.Short, final.Side)
	assert.Equal(t, market.ExitScale, scale.Exit.Reason)
	assert.Equal(t, market.ExitTarget, final.Exit.Reason)
	assert.InDelta(t, 25.0, scale.Size, 1e-9)
	assert.InDelta(t, 25.0, final.Size, 1e-9)
	assert.InDelta(t, 94.0, final.TakeProfit, 1e-12, "target extended to 3R")
	assert.Less(t, final.Stop, 102.0, "stop moved down to net breakeven")
	assert.Greater(t, final.Stop, 100.0)

	entry := execution.ApplyFill(100, market.Short, cfg.Costs, execution.Limit)
	x1 := execution.ApplyFill(98, market.Long, cfg.Costs, execution.Limit)
	x2 := execution.ApplyFill(94, market.Long, cfg.Costs, execution.Limit)
	want := (entry.Price-x1.Price)*25 + (entry.Price-x2.Price)*25 -
		entry.Fee(50) - x1.Fee(25) - x2.Fee(25)

	assert.InDelta(t, want, scale.Exit.PnL+final.Exit.PnL, 1e-9)
	assert.InDelta(t, res.FinalEquity-res.StartEquity, scale.Exit.PnL+final.Exit.PnL, 1e-9)
	assert.Equal(t, 1, res.Metrics.Trades)
	assert.Equal(t, 2, res.Metrics.Legs)
}

func TestShortTrailsNeverRaiseStop(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MFETrail = MFETrail{Enabled: true, ArmR: 1, GivebackR: 0.5}

	bars := flatBars(260, 100)
	setBar(bars, 251, 100, 100.2, 98.5, 98.8) // 0.75R, nothing armed
	setBar(bars, 252, 98, 98.2, 97.6, 97.8)   // 1.2R: both trails engage
	setBar(bars, 253, 97.2, 97.5, 96.8, 97)   // 1.6R
	setBar(bars, 254, 97, 97.4, 96.9, 97.3)   // bounce, MFE unchanged
	setBar(bars, 255, 96.9, 96.95, 96, 96.2)  // 2R
	setBar(bars, 256, 96.2, 96.6, 96.1, 96.5)
	setBar(bars, 257, 96.5, 97.2, 96.4, 97.1) // back through the trailed stop

	sig := shortSignal(100, 102, 90)
	sig.TrailAfterR = 1
	e := mustEngine(cfg)
	s, err := e.newRun(bars, signalAt(250, sig))
	require.NoError(t, err)

	var stops []float64
	for i := cfg.WarmupBars; i < len(bars); i++ {
		require.NoError(t, s.step(i))
		if s.open != nil && i > 250 {
			stops = append(stops, s.open.stop)
		}
	}
	require.Len(t, stops, 6)
	for k := 1; k < len(stops); k++ {
		assert.LessOrEqual(t, stops[k], stops[k-1], "stop rose at step %d", k)
	}
	assert.InDelta(t, 102.0, stops[0], 1e-9)
	assert.InDelta(t, 98.6, stops[1], 1e-9, "MFE lock beats the 1R trail")
	assert.InDelta(t, 97.8, stops[2], 1e-9)
	assert.InDelta(t, 97.8, stops[3], 1e-9, "bounce leaves the stop alone")
	assert.InDelta(t, 97.0, stops[4], 1e-9)

	require.Len(t, s.legs, 1)
	leg := s.legs[0]
	assert.Equal(t, market.ExitStop, leg.Exit.Reason)
	assert.Equal(t, bars[257].Time, leg.Exit.Time)
	assert.Greater(t, leg.Exit.PnL, 0.0, "trailed stop locked in profit")
}

func TestCloseTriggerIgnoresWicks(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ScaleOut = ScaleOut{AtR: 1, Frac: 0.5, FinalTargetR: 3}

	bars := flatBars(256, 100)
	setBar(bars, 251, 100, 104.5, 97.5, 100.5) // wicks through target and stop
	setBar(bars, 252, 100.5, 102.3, 100.5, 102.2)
	sig := longSignal(100, 98, 104)

	intra, err := mustEngine(cfg).Run(bars, signalAt(250, sig))
	require.NoError(t, err)
	require.NotEmpty(t, intra.Legs)
	assert.Equal(t, bars[251].Time, intra.Legs[0].Exit.Time, "intrabar mode trades the wick")

	cfg.OCO.Mode = execution.OnClose
	cfg.TriggerMode = execution.OnClose
	res, err := mustEngine(cfg).Run(bars, signalAt(250, sig))
	require.NoError(t, err)

	require.Len(t, res.Legs, 1)
	leg := res.Legs[0]
	assert.Equal(t, market.ExitScale, leg.Exit.Reason)
	assert.Equal(t, bars[252].Time, leg.Exit.Time, "scale waits for a close beyond 1R")
	assert.InDelta(t, 102.0, leg.Exit.Price, 1e-12)
	assert.InDelta(t, 25.0, leg.Size, 1e-9)
	assert.Equal(t, 1, res.Diagnostics.ScaleOuts)
	assert.True(t, res.OpenAtEnd)
}

func TestExplicitZeroExpiry(t *testing.T) {
	t.Parallel()

	sig := longSignal(95, 93, 110)
	sig.EntryExpiryBars = market.IntPtr(0)
	rec := &recorder{sig: sig, from: 250}

	res, err := mustEngine(testConfig()).Run(flatBars(256, 100), rec)
	require.NoError(t, err)

	// zero still rests for one bar: staged at 250, expires at 252
	assert.Equal(t, []int{250, 252, 254}, rec.calls[len(rec.calls)-3:])
	assert.Equal(t, 2, res.Diagnostics.Expired)

	sig.EntryExpiryBars = nil
	rec = &recorder{sig: sig, from: 250}
	res, err = mustEngine(testConfig()).Run(flatBars(256, 100), rec)
	require.NoError(t, err)
	assert.Equal(t, 250, rec.calls[len(rec.calls)-1], "unset uses the engine default of 5")
	assert.Zero(t, res.Diagnostics.Expired)
}

func TestFillLogCarriesRisk(t *testing.T) {
	t.Parallel()

	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	e, err := NewEngine(testConfig(), log)
	require.NoError(t, err)

	_, err = e.Run(flatBars(256, 100), signalAt(250, longSignal(100, 98, 104)))
	require.NoError(t, err)

	var staged, filled *logrus.Entry
	for _, entry := range hook.AllEntries() {
		switch entry.Data["event"] {
		case "order.staged":
			staged = entry
		case "fill":
			filled = entry
		}
	}
	require.NotNil(t, staged)
	require.NotNil(t, filled)
	assert.InDelta(t, 2.0, staged.Data["rr"], 1e-12)
	assert.InDelta(t, 100.0, filled.Data["risk"], 1e-9)
	assert.InDelta(t, 0.01, filled.Data["risk_pct"], 1e-12)
}

func TestBlockReason(t *testing.T) {
	t.Parallel()

	b := risk.DailyBudget{MaxLossPct: 1, MaxTrades: 1}
	b.Roll(start)
	b.AddTrade()
	assert.Equal(t, "trade_cap", blockReason(b.Evaluate(10000)))

	b.AddPnL(-150)
	assert.Equal(t, "daily_loss", blockReason(b.Evaluate(10000)))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mod  func(*Config)
		ok   bool
	}{
		{"default", func(*Config) {}, true},
		{"zero equity", func(c *Config) { c.StartingEquity = 0 }, false},
		{"risk too large", func(c *Config) { c.RiskPct = 150 }, false},
		{"negative warmup", func(c *Config) { c.WarmupBars = -1 }, false},
		{"zero expiry", func(c *Config) { c.EntryExpiry = 0 }, false},
		{"negative fee", func(c *Config) { c.Costs.FeeBps = -1 }, false},
		{"bad oco mode", func(c *Config) { c.OCO.Mode = "tick" }, false},
		{"bad trigger mode", func(c *Config) { c.TriggerMode = "tick" }, false},
		{"scale frac one", func(c *Config) { c.ScaleOut.Frac = 1 }, false},
		{"scale disabled ignores frac", func(c *Config) { c.ScaleOut = ScaleOut{} }, true},
		{"atr trail without period", func(c *Config) { c.ATRTrail = ATRTrail{Mult: 2} }, false},
		{"pyramiding zero frac", func(c *Config) { c.Pyramiding.Enabled = true; c.Pyramiding.AddFrac = 0 }, false},
		{"vol cut frac", func(c *Config) { c.VolScale.Enabled = true; c.VolScale.CutFrac = 1.2 }, false},
		{"zero qty step", func(c *Config) { c.Sizing.QtyStep = 0 }, false},
		{"negative slip guard", func(c *Config) { c.MaxSlipROnFill = -0.1 }, false},
		{"slip guard disabled", func(c *Config) { c.MaxSlipROnFill = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RiskPct = 0
	_, err := NewEngine(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backtest config")
}
