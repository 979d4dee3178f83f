package backtest

import (
	"sort"
	"time"

	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/pricing"
)

// Strategy proposes entries. OnBar is called at most once per bar, only
// while the engine has no position, pending order or cooldown, and sees
// every bar up to and including the current one. Returning nil means no
// setup. A returned error aborts the run.
type Strategy interface {
	Name() string
	Reset()
	OnBar(ctx *SignalContext) (*market.Signal, error)
}

// SignalFunc adapts a plain function to Strategy.
type SignalFunc func(ctx *SignalContext) (*market.Signal, error)

func (f SignalFunc) Name() string { return "func" }
func (f SignalFunc) Reset()       {}

func (f SignalFunc) OnBar(ctx *SignalContext) (*market.Signal, error) { return f(ctx) }

// SignalContext is what a strategy sees on each call.
type SignalContext struct {
	Symbol string
	Bars   []pricing.Bar // history through the current bar
	Index  int           // index of the current bar
	Equity float64       // realized equity before this bar's signal

	Diag *Diagnostics
}

// Bar is the current bar.
func (c *SignalContext) Bar() pricing.Bar { return c.Bars[c.Index] }

// Time is the current bar's timestamp.
func (c *SignalContext) Time() time.Time { return c.Bars[c.Index].Time }

// Reject counts a reason a strategy passed on this bar.
func (c *SignalContext) Reject(reason string) {
	if c.Diag != nil {
		c.Diag.Reject(reason)
	}
}

// Diagnostics are per-run counters. The engine owns one per run and hands
// it to the strategy through SignalContext.
type Diagnostics struct {
	BarsSeen    int            `json:"bars_seen"`
	SignalCalls int            `json:"signal_calls"`
	Accepted    int            `json:"accepted"`
	Invalid     int            `json:"invalid"`
	Rejections  map[string]int `json:"rejections,omitempty"`

	Staged      int `json:"staged"`
	Filled      int `json:"filled"`
	FillAborted int `json:"fill_aborted"`
	Expired     int `json:"expired"`
	Cancelled   int `json:"cancelled"`
	Chased      int `json:"chased"`
	Converted   int `json:"converted"`
	Adds        int `json:"adds"`
	VolCuts     int `json:"vol_cuts"`
	ScaleOuts   int `json:"scale_outs"`
}

func newDiagnostics() *Diagnostics {
	return &Diagnostics{Rejections: make(map[string]int)}
}

func (d *Diagnostics) Reject(reason string) {
	if d.Rejections == nil {
		d.Rejections = make(map[string]int)
	}
	d.Rejections[reason]++
}

// RejectionReasons returns the rejection keys sorted by count, highest
// first, then by name.
func (d *Diagnostics) RejectionReasons() []string {
	keys := make([]string, 0, len(d.Rejections))
	for k := range d.Rejections {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := d.Rejections[keys[i]], d.Rejections[keys[j]]
		if ci != cj {
			return ci > cj
		}
		return keys[i] < keys[j]
	})
	return keys
}
