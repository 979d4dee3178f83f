package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/barsim/pricing"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Has reports whether the decision carries a violation with code.
func (d Decision) Has(code string) bool {
	for _, v := range d.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

const (
	CodeDailyLoss = "DAILY_LOSS_LIMIT"
	CodeTradeCap  = "DAILY_TRADE_CAP"
)

// DailyBudget tracks realized PnL and trade count per US Eastern calendar
// day and enforces the daily loss limit and trade cap. A zero limit
// disables the corresponding check.
type DailyBudget struct {
	MaxLossPct float64 // percent of current equity, 2.0 means 2%
	MaxTrades  int

	day    string
	pnl    float64
	trades int
}

// Roll moves the budget onto t's ET date, resetting counters when the
// date changes.
func (b *DailyBudget) Roll(t time.Time) {
	d := pricing.EasternDate(t)
	if d != b.day {
		b.day = d
		b.pnl = 0
		b.trades = 0
	}
}

func (b *DailyBudget) AddPnL(v float64) { b.pnl += v }
func (b *DailyBudget) AddTrade()        { b.trades++ }

func (b *DailyBudget) Day() string  { return b.day }
func (b *DailyBudget) PnL() float64 { return b.pnl }
func (b *DailyBudget) Trades() int  { return b.trades }

// LossHit reports whether today's realized PnL is at or below the loss
// limit measured against equity.
func (b *DailyBudget) LossHit(equity float64) bool {
	if b.MaxLossPct <= 0 {
		return false
	}
	limit := math.Abs(b.MaxLossPct / 100 * equity)
	return b.pnl <= -limit
}

func (b *DailyBudget) CapHit() bool {
	return b.MaxTrades > 0 && b.trades >= b.MaxTrades
}

// Evaluate reports every breached daily limit.
func (b *DailyBudget) Evaluate(equity float64) Decision {
	d := Decision{Allowed: true}
	if b.LossHit(equity) {
		d.add(CodeDailyLoss, fmt.Sprintf("day %s realized %.2f <= limit %.2f",
			b.day, b.pnl, -math.Abs(b.MaxLossPct/100*equity)))
	}
	if b.CapHit() {
		d.add(CodeTradeCap, fmt.Sprintf("day %s trades %d >= max %d", b.day, b.trades, b.MaxTrades))
	}
	return d
}
