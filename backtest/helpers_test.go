package backtest

import (
	"time"

	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/pricing"
)

// 09:30 ET on a Monday in winter.
var start = time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)

const step = 5 * time.Minute

func flatBars(n int, px float64) []pricing.Bar {
	out := make([]pricing.Bar, n)
	for i := range out {
		out[i] = pricing.Bar{Time: start.Add(time.Duration(i) * step), Open: px, High: px, Low: px, Close: px}
	}
	return out
}

func setBar(bars []pricing.Bar, i int, o, h, l, c float64) {
	bars[i].Open, bars[i].High, bars[i].Low, bars[i].Close = o, h, l, c
}

// testConfig strips costs and optional management so scenarios only
// exercise what they enable.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Symbol = "TEST"
	cfg.Costs.SlippageBps = 0
	cfg.Costs.FeeBps = 0
	cfg.ScaleOut.AtR = 0
	cfg.FlattenAtClose = false
	return cfg
}

func longSignal(entry, stop, tp float64) market.Signal {
	return market.Signal{Side: market.Long, Entry: entry, Stop: stop, TakeProfit: tp}
}

func shortSignal(entry, stop, tp float64) market.Signal {
	return market.Signal{Side: market.Short, Entry: entry, Stop: stop, TakeProfit: tp}
}

// signalAt returns sig only on bar idx.
func signalAt(idx int, sig market.Signal) SignalFunc {
	return func(ctx *SignalContext) (*market.Signal, error) {
		if ctx.Index != idx {
			return nil, nil
		}
		s := sig
		return &s, nil
	}
}

// recorder returns sig from bar `from` onward and records every call.
type recorder struct {
	sig   market.Signal
	from  int
	calls []int
}

func (r *recorder) Name() string { return "recorder" }
func (r *recorder) Reset()       { r.calls = nil }

func (r *recorder) OnBar(ctx *SignalContext) (*market.Signal, error) {
	r.calls = append(r.calls, ctx.Index)
	if ctx.Index < r.from {
		return nil, nil
	}
	s := r.sig
	return &s, nil
}

func (r *recorder) called(i int) bool {
	for _, c := range r.calls {
		if c == i {
			return true
		}
	}
	return false
}

func mustEngine(cfg Config) *Engine {
	e, err := NewEngine(cfg, nil)
	if err != nil {
		panic(err)
	}
	return e
}
