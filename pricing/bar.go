package pricing

import (
	"math"
	"sort"
	"time"
)

// Bar is one OHLC price bar. Bars are ordered ascending by Time.
type Bar struct {
	Time time.Time

	Open  float64
	High  float64
	Low   float64
	Close float64

	Volume float64 // optional
}

// Finite reports whether every OHLC field is a finite number.
func (b Bar) Finite() bool {
	for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Sanitize drops bars with a non-finite OHLC value, de-duplicates by
// timestamp (the last bar seen for a timestamp wins) and sorts ascending.
// The input slice is not modified.
func Sanitize(bars []Bar) []Bar {
	byTime := make(map[int64]int, len(bars))
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if !b.Finite() {
			continue
		}
		key := b.Time.UnixMilli()
		if idx, ok := byTime[key]; ok {
			out[idx] = b
			continue
		}
		byTime[key] = len(out)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

const (
	estimateMinBars   = 50
	estimateMaxDeltas = 500

	minBarDuration      = time.Minute
	maxBarDuration      = time.Hour
	fallbackBarDuration = 5 * time.Minute
)

// EstimateBarDuration returns the nominal spacing of a bar series: the
// median positive delta over the first 500 bars, clamped to [1m, 60m].
// Series shorter than 50 bars fall back to 5 minutes.
func EstimateBarDuration(bars []Bar) time.Duration {
	if len(bars) < estimateMinBars {
		return fallbackBarDuration
	}

	n := len(bars)
	if n > estimateMaxDeltas {
		n = estimateMaxDeltas
	}
	deltas := make([]time.Duration, 0, n)
	for i := 1; i < n; i++ {
		d := bars[i].Time.Sub(bars[i-1].Time)
		if d > 0 {
			deltas = append(deltas, d)
		}
	}
	if len(deltas) == 0 {
		return fallbackBarDuration
	}

	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	mid := len(deltas) / 2
	med := deltas[mid]
	if len(deltas)%2 == 0 {
		med = (deltas[mid-1] + deltas[mid]) / 2
	}

	switch {
	case med < minBarDuration:
		return minBarDuration
	case med > maxBarDuration:
		return maxBarDuration
	}
	return med
}

// Highs, Lows and Closes project a bar series into float columns for
// indicator libraries.
func Highs(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

func Lows(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
