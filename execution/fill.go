// Package execution models how requested prices turn into fills and how
// stop/target pairs are evaluated against a bar.
package execution

import (
	"fmt"
	"math"

	"github.com/rustyeddy/barsim/market"
)

// OrderKind selects the slippage multiplier applied to a fill.
type OrderKind int

const (
	Market OrderKind = iota
	Limit
	Stop
)

func (k OrderKind) String() string {
	switch k {
	case Limit:
		return "limit"
	case Stop:
		return "stop"
	default:
		return "market"
	}
}

// multiplier scales the configured slippage: resting limits fill better,
// stop-markets worse.
func (k OrderKind) multiplier() float64 {
	switch k {
	case Limit:
		return 0.25
	case Stop:
		return 1.25
	default:
		return 1.0
	}
}

// Costs are the per-run execution cost parameters in basis points.
type Costs struct {
	SlippageBps float64 `yaml:"slippage_bps" json:"slippage_bps"`
	FeeBps      float64 `yaml:"fee_bps" json:"fee_bps"`
}

// Fill is an executed price and the fee charged per unit.
type Fill struct {
	Price      float64
	FeePerUnit float64
}

// Fee is the total fee for qty units.
func (f Fill) Fee(qty float64) float64 { return f.FeePerUnit * qty }

// ApplyFill moves price against the trader by the kind-scaled slippage
// and computes the per-unit fee on the filled price. side is the side
// of the order being executed, not of the position it belongs to.
func ApplyFill(price float64, side market.Side, c Costs, kind OrderKind) Fill {
	effBps := c.SlippageBps * kind.multiplier()
	slip := price * effBps / 10000

	filled := price - slip
	if side == market.Long {
		filled = price + slip
	}
	return Fill{
		Price:      filled,
		FeePerUnit: c.FeeBps / 10000 * math.Abs(filled),
	}
}

func (f Fill) String() string {
	return fmt.Sprintf("%.6f (fee %.6f/unit)", f.Price, f.FeePerUnit)
}
