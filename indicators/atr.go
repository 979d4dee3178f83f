package indicators

import (
	"fmt"

	"github.com/cinar/indicator"

	"github.com/rustyeddy/barsim/pricing"
)

// ATR returns the Average True Range of bars using Wilder smoothing. The
// first usable value is at index period-1 and seeds from the simple mean
// of the first period true ranges.
func ATR(bars []pricing.Bar, period int) (Series, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %d", period)
	}
	out := nanSeries(len(bars))
	if len(bars) < period {
		return out, nil
	}

	tr, _ := indicator.Atr(period, pricing.Highs(bars), pricing.Lows(bars), pricing.Closes(bars))

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	out[period-1] = atr

	for i := period; i < len(tr); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out, nil
}
