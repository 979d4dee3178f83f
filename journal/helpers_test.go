package journal

import (
	"time"

	"github.com/rustyeddy/barsim/market"
)

var t0 = time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)

func sampleLegs() []market.ClosedLeg {
	return []market.ClosedLeg{
		{
			Symbol:     "SPY",
			Side:       market.Long,
			Entry:      100,
			EntryFill:  100,
			Stop:       98,
			TakeProfit: 106,
			Size:       25,
			OpenTime:   t0,
			InitRisk:   2,
			EntryATR:   market.FloatPtr(1.25),
			MFER:       1.25,
			MAER:       -0.1,
			Exit: market.Exit{
				Price:   102,
				Time:    t0.Add(10 * time.Minute),
				Reason:  market.ExitScale,
				PnL:     50,
				ExitATR: market.FloatPtr(1.3),
			},
		},
		{
			Symbol:     "SPY",
			Side:       market.Long,
			Entry:      100,
			EntryFill:  100,
			Stop:       100.5,
			TakeProfit: 106,
			Size:       25,
			OpenTime:   t0,
			InitRisk:   2,
			MFER:       3.1,
			MAER:       -0.1,
			Adds:       1,
			Exit: market.Exit{
				Price:  106,
				Time:   t0.Add(45 * time.Minute),
				Reason: market.ExitTarget,
				PnL:    150,
			},
		},
	}
}

func sampleEquity() []market.EquitySample {
	return []market.EquitySample{
		{Time: t0, Equity: 10000},
		{Time: t0.Add(10 * time.Minute), Equity: 10050},
		{Time: t0.Add(45 * time.Minute), Equity: 10200},
	}
}
