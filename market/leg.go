package market

import (
	"fmt"
	"strings"
	"time"
)

// ExitReason codes why a leg was closed.
type ExitReason string

const (
	ExitStop      ExitReason = "SL"
	ExitTarget    ExitReason = "TP"
	ExitTime      ExitReason = "TIME"
	ExitEndOfDay  ExitReason = "EOD"
	ExitScale     ExitReason = "SCALE"
	ExitEndOfWeek ExitReason = "EOW"
)

func ParseExitReason(s string) (ExitReason, error) {
	r := ExitReason(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case ExitStop, ExitTarget, ExitTime, ExitEndOfDay, ExitScale, ExitEndOfWeek:
		return r, nil
	}
	return "", fmt.Errorf("invalid exit reason %q", s)
}

// Exit describes how a leg was closed.
type Exit struct {
	Price   float64
	Time    time.Time
	Reason  ExitReason
	PnL     float64
	ExitATR *float64
}

// ClosedLeg is one realized exit: a partial scale or the final close of
// a position. Open-side fields are a snapshot of the position at the time
// the leg closed.
type ClosedLeg struct {
	ID     string
	Symbol string
	Side   Side

	Entry      float64 // requested entry
	EntryFill  float64 // execution-adjusted (volume weighted after adds)
	Stop       float64
	TakeProfit float64
	Size       float64 // quantity closed by this leg
	OpenTime   time.Time
	InitRisk   float64
	EntryATR   *float64

	MFER float64
	MAER float64
	Adds int

	Exit Exit
}

// Final reports whether the leg closed out a position rather than scaling it.
func (l ClosedLeg) Final() bool { return l.Exit.Reason != ExitScale }

// RMultiple is the per-unit result of the leg in units of initial risk.
func (l ClosedLeg) RMultiple() float64 {
	if l.InitRisk <= 0 {
		return 0
	}
	return (l.Exit.Price - l.EntryFill) * l.Side.Dir() / l.InitRisk
}

// Hold is the time between the position opening and this leg closing.
func (l ClosedLeg) Hold() time.Duration {
	return l.Exit.Time.Sub(l.OpenTime)
}

// EquitySample is one point on the realized equity curve.
type EquitySample struct {
	Time   time.Time
	Equity float64
}
