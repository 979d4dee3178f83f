// Package data loads historical bars from local CSV and Parquet stores.
package data

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/barsim/pricing"
)

// Source returns bars sorted ascending, de-duplicated by timestamp and
// free of non-finite prices.
type Source interface {
	FetchHistorical(ctx context.Context, symbol, interval, period string) ([]pricing.Bar, error)
}

const day = 24 * time.Hour

var periodRE = regexp.MustCompile(`^(\d+)([mhdwy])$`)

// ParsePeriod reads a lookback such as "90m", "60d", "2w" or "1y". A year
// is 365.25 days.
func ParsePeriod(s string) (time.Duration, error) {
	m := periodRE.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("invalid period %q (use like 5d, 60d, 1y)", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: %w", s, err)
	}
	switch m[2] {
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * day, nil
	case "w":
		return time.Duration(n) * 7 * day, nil
	default:
		return time.Duration(float64(n) * 365.25 * float64(day)), nil
	}
}

// ParseInterval reads a bar size such as "1m", "5m", "1h" or "1d".
func ParseInterval(s string) (time.Duration, error) {
	d, err := ParsePeriod(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return d, nil
}

// Intraday reports whether interval is minute based.
func Intraday(interval string) bool {
	return strings.HasSuffix(strings.ToLower(interval), "m")
}

// MaxSpan is the longest history commonly served for interval. Intraday
// spans are shaved by two minutes to stay strictly inside the bound.
func MaxSpan(interval string) time.Duration {
	if !Intraday(interval) {
		return 365 * 10 * day
	}
	n, _ := strconv.Atoi(strings.TrimSuffix(strings.ToLower(interval), "m"))
	var days int
	switch {
	case n <= 2:
		days = 7
	case n <= 30:
		days = 60
	case n <= 60:
		days = 730
	default:
		days = 365
	}
	return time.Duration(days)*day - 2*time.Minute
}

// Window keeps the bars within span of the last bar. Bars must already be
// sorted. A non-positive span keeps everything.
func Window(bars []pricing.Bar, span time.Duration) []pricing.Bar {
	if len(bars) == 0 || span <= 0 {
		return bars
	}
	from := bars[len(bars)-1].Time.Add(-span)
	for i, b := range bars {
		if !b.Time.Before(from) {
			return bars[i:]
		}
	}
	return nil
}

// prepare sanitizes raw bars and applies the period window. An empty
// period keeps all bars.
func prepare(raw []pricing.Bar, period string) ([]pricing.Bar, error) {
	if period == "" {
		return pricing.Sanitize(raw), nil
	}
	span, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	bars := pricing.Sanitize(raw)
	return Window(bars, span), nil
}
