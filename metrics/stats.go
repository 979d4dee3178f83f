package metrics

import "math"

func sum(a []float64) float64 {
	s := 0.0
	for _, x := range a {
		s += x
	}
	return s
}

func mean(a []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	return sum(a) / float64(len(a))
}

// stddev is the population standard deviation, 0 for fewer than two values.
func stddev(a []float64) float64 {
	if len(a) <= 1 {
		return 0
	}
	m := mean(a)
	v := 0.0
	for _, x := range a {
		v += (x - m) * (x - m)
	}
	return math.Sqrt(v / float64(len(a)))
}

// ratio divides with the zero-denominator convention used by every
// metric: positive/0 is +Inf, anything else over 0 is 0.
func ratio(num, den float64) float64 {
	if den == 0 {
		if num > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return num / den
}

func sharpe(returns []float64) float64 {
	return ratio(mean(returns), stddev(returns))
}

// sortino uses the deviation of the negative returns only. With no
// negative returns the deviation is that of [0], which is 0.
func sortino(returns []float64) float64 {
	var neg []float64
	for _, r := range returns {
		if r < 0 {
			neg = append(neg, r)
		}
	}
	if len(neg) == 0 {
		neg = []float64{0}
	}
	return ratio(mean(returns), stddev(neg))
}

// streaks returns the longest run of wins and of losses. Flat results
// break both runs.
func streaks(pnls []float64) (maxWins, maxLosses int) {
	w, l := 0, 0
	for _, p := range pnls {
		switch {
		case p > 0:
			w++
			l = 0
		case p < 0:
			l++
			w = 0
		default:
			w, l = 0, 0
		}
		maxWins = max(maxWins, w)
		maxLosses = max(maxLosses, l)
	}
	return maxWins, maxLosses
}

// profitFactor is gross profit over gross loss.
func profitFactor(pnls []float64) float64 {
	var gp, gl float64
	for _, p := range pnls {
		if p > 0 {
			gp += p
		} else if p < 0 {
			gl += -p
		}
	}
	return ratio(gp, gl)
}

func winRate(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls))
}
