package risk

import "math"

// stepEps absorbs float artifacts such as 0.3/0.1 = 2.9999999999999996
// so an exact multiple is not floored one step short.
const stepEps = 1e-9

// Sizing limits for converting a risk budget into a quantity.
type Sizing struct {
	QtyStep     float64 `yaml:"qty_step" json:"qty_step"`
	MinQty      float64 `yaml:"min_qty" json:"min_qty"`
	MaxLeverage float64 `yaml:"max_leverage" json:"max_leverage"`
}

func DefaultSizing() Sizing {
	return Sizing{QtyStep: 0.001, MinQty: 0.001, MaxLeverage: 2.0}
}

type Inputs struct {
	Equity       float64
	Entry        float64
	Stop         float64
	RiskFraction float64 // 0.01 risks one percent of equity
}

// RoundStep floors x to a multiple of step. A non-positive step leaves x
// unchanged.
func RoundStep(x, step float64) float64 {
	if step <= 0 {
		return x
	}
	return math.Floor(x/step+stepEps) * step
}

// PositionSize converts a risk budget into a quantity. The result is
// floored to QtyStep, capped so notional stays within MaxLeverage times
// equity, and zero when the setup cannot be sized: a non-finite or
// non-positive stop distance, or a floored quantity below MinQty.
func PositionSize(in Inputs, s Sizing) float64 {
	perUnit := math.Abs(in.Entry - in.Stop)
	if math.IsNaN(perUnit) || math.IsInf(perUnit, 0) || perUnit <= 0 {
		return 0
	}

	dollarRisk := math.Max(0, in.Equity*in.RiskFraction)
	qty := dollarRisk / perUnit

	maxByLev := in.Equity * s.MaxLeverage / math.Max(1e-12, in.Entry)
	qty = math.Min(qty, maxByLev)

	q := RoundStep(qty, s.QtyStep)
	if q < s.MinQty || q <= 0 {
		return 0
	}
	return q
}
