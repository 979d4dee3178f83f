package sim

import (
	"math"
	"time"

	"github.com/rustyeddy/barsim/market"
)

// Position is an open paper position.
type Position struct {
	ID         string
	Symbol     string
	Side       market.Side
	Entry      float64
	Stop       float64
	TakeProfit float64
	Size       float64
	OpenTime   time.Time

	// MaxHoldMin caps the wall-clock holding time; 0 means no cap.
	MaxHoldMin float64
}

func (p *Position) hitStop(price float64) bool {
	if p.Side == market.Long {
		return price <= p.Stop
	}
	return price >= p.Stop
}

func (p *Position) hitTarget(price float64) bool {
	if p.Side == market.Long {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}

func (p *Position) heldTooLong(now time.Time) bool {
	if p.MaxHoldMin <= 0 || math.IsInf(p.MaxHoldMin, 0) {
		return false
	}
	return now.Sub(p.OpenTime).Minutes() >= p.MaxHoldMin
}

// UnrealizedPnL values the position at price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return (price - p.Entry) * p.Side.Dir() * p.Size
}
