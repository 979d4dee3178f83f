package market

import (
	"fmt"
	"math"
)

// Signal is a candidate trade setup returned by a strategy. The engine
// copies it when staging an order and never mutates it.
type Signal struct {
	Side       Side
	Entry      float64
	Stop       float64
	TakeProfit float64

	// Optional per-trade management. Zero values disable the rule unless
	// noted otherwise.
	InitRisk        float64  // planned risk distance; 0 uses |Entry-Stop|
	EntryExpiryBars *int     // bars a resting entry lives; nil uses the engine default
	BreakevenAtR    float64  // move stop to entry once MFE reaches this R
	TrailAfterR     float64  // trail stop 1R behind close once MFE reaches this R
	CooldownBars    int      // bars to sit out after this trade closes
	MaxBarsInTrade  int      // TIME exit after this many bars
	MaxHoldMin      float64  // TIME exit after this many minutes
	FairValue       *float64 // midpoint the entry chase reprices to

	Tag string // free-form label carried into diagnostics
}

// PlannedRisk is the absolute risk distance the signal was sized for.
func (s Signal) PlannedRisk() float64 {
	if s.InitRisk != 0 {
		return math.Abs(s.InitRisk)
	}
	return math.Abs(s.Entry - s.Stop)
}

// Validate rejects setups the engine cannot stage.
func (s Signal) Validate() error {
	if !s.Side.Valid() {
		return fmt.Errorf("signal side %d invalid", s.Side)
	}
	fields := []struct {
		name string
		v    float64
	}{{"entry", s.Entry}, {"stop", s.Stop}, {"take_profit", s.TakeProfit}}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v <= 0 {
			return fmt.Errorf("signal %s %v invalid", f.name, f.v)
		}
	}
	return nil
}

// FloatPtr and IntPtr are helpers for optional fields.
func FloatPtr(v float64) *float64 { return &v }
func IntPtr(v int) *int           { return &v }
