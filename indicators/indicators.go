// Package indicators computes indicator series over bar history for the
// backtest engine and the reference strategies.
package indicators

import "math"

// Series is an indicator value per bar. Entries before the indicator has
// warmed up are NaN.
type Series []float64

// At returns the value at i and whether it is usable.
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s) {
		return 0, false
	}
	v := s[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Ptr returns a pointer to the value at i, or nil when it is not usable.
func (s Series) Ptr(i int) *float64 {
	v, ok := s.At(i)
	if !ok {
		return nil
	}
	return &v
}

func nanSeries(n int) Series {
	out := make(Series, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
