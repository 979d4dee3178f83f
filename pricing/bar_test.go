package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)

func series(n int, step time.Duration) []Bar {
	out := make([]Bar, n)
	for i := range out {
		out[i] = Bar{Time: t0.Add(time.Duration(i) * step), Open: 1, High: 1, Low: 1, Close: 1}
	}
	return out
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	in := []Bar{
		{Time: t0.Add(2 * time.Minute), Open: 3, High: 3, Low: 3, Close: 3},
		{Time: t0, Open: 1, High: 1, Low: 1, Close: 1},
		{Time: t0.Add(time.Minute), Open: math.NaN(), High: 2, Low: 2, Close: 2},
		{Time: t0, Open: 9, High: 9, Low: 9, Close: 9},
		{Time: t0.Add(3 * time.Minute), Open: 4, High: math.Inf(1), Low: 4, Close: 4},
	}

	got := Sanitize(in)
	require.Len(t, got, 2)
	assert.Equal(t, t0, got[0].Time)
	assert.Equal(t, 9.0, got[0].Close, "last bar for a timestamp wins")
	assert.Equal(t, 3.0, got[1].Close)
	assert.True(t, math.IsNaN(in[2].Open), "input untouched")
}

func TestEstimateBarDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bars []Bar
		want time.Duration
	}{
		{"too few bars", series(10, time.Minute), 5 * time.Minute},
		{"five minute", series(100, 5*time.Minute), 5 * time.Minute},
		{"clamped low", series(100, 10*time.Second), time.Minute},
		{"clamped high", series(100, 24*time.Hour), time.Hour},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, EstimateBarDuration(tt.bars))
		})
	}
}

func TestEstimateBarDurationMedianIgnoresGaps(t *testing.T) {
	t.Parallel()

	bars := series(60, 15*time.Minute)
	// an overnight gap shifts the tail but not the median
	for i := 40; i < len(bars); i++ {
		bars[i].Time = bars[i].Time.Add(16 * time.Hour)
	}
	assert.Equal(t, 15*time.Minute, EstimateBarDuration(bars))
}

func TestColumns(t *testing.T) {
	t.Parallel()

	bars := []Bar{{High: 2, Low: 1, Close: 1.5}, {High: 3, Low: 2, Close: 2.5}}
	assert.Equal(t, []float64{2, 3}, Highs(bars))
	assert.Equal(t, []float64{1, 2}, Lows(bars))
	assert.Equal(t, []float64{1.5, 2.5}, Closes(bars))
}
