package indicators

import (
	"fmt"

	"github.com/cinar/indicator"
)

// EMA returns the exponential moving average of values. Values before
// period-1 are NaN.
func EMA(values []float64, period int) (Series, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %d", period)
	}
	out := nanSeries(len(values))
	if len(values) < period {
		return out, nil
	}

	ema := indicator.Ema(period, values)
	copy(out[period-1:], ema[period-1:])
	return out, nil
}

// CrossUp reports whether fast crossed above slow at i.
func CrossUp(fast, slow Series, i int) bool {
	f0, ok1 := fast.At(i - 1)
	s0, ok2 := slow.At(i - 1)
	f1, ok3 := fast.At(i)
	s1, ok4 := slow.At(i)
	return ok1 && ok2 && ok3 && ok4 && f0 <= s0 && f1 > s1
}

// CrossDown reports whether fast crossed below slow at i.
func CrossDown(fast, slow Series, i int) bool {
	f0, ok1 := fast.At(i - 1)
	s0, ok2 := slow.At(i - 1)
	f1, ok3 := fast.At(i)
	s1, ok4 := slow.At(i)
	return ok1 && ok2 && ok3 && ok4 && f0 >= s0 && f1 < s1
}
