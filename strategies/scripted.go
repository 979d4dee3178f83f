package strategies

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/barsim/backtest"
	"github.com/rustyeddy/barsim/market"
)

// ScriptedEntry is one planned signal. It fires on the first bar at or
// after At, or at bar Index when At is zero. Stop and target are offsets
// from the entry in price units.
type ScriptedEntry struct {
	At         time.Time   `yaml:"at" json:"at"`
	Index      int         `yaml:"index" json:"index"`
	Side       market.Side `yaml:"side" json:"side"`
	Entry      float64     `yaml:"entry" json:"entry"` // 0 enters at the close
	StopDist   float64     `yaml:"stop_dist" json:"stop_dist"`
	TargetDist float64     `yaml:"target_dist" json:"target_dist"`
	ExpiryBars int         `yaml:"expiry_bars" json:"expiry_bars"`
}

// Scripted replays a fixed list of entries. It is handy for reproducing
// a trade sequence or checking engine behavior against known fills.
type Scripted struct {
	entries []ScriptedEntry
	next    int
}

func NewScripted(entries []ScriptedEntry) (*Scripted, error) {
	if len(entries) == 0 {
		return nil, errors.New("scripted: no entries")
	}
	for i, e := range entries {
		if !e.Side.Valid() {
			return nil, fmt.Errorf("scripted entry %d: invalid side", i)
		}
		if e.StopDist <= 0 || e.TargetDist <= 0 {
			return nil, fmt.Errorf("scripted entry %d: stop_dist and target_dist must be > 0", i)
		}
		if i > 0 && !before(entries[i-1], e) {
			return nil, fmt.Errorf("scripted entry %d: entries must be in order", i)
		}
	}
	return &Scripted{entries: entries}, nil
}

func before(a, b ScriptedEntry) bool {
	if !a.At.IsZero() && !b.At.IsZero() {
		return a.At.Before(b.At)
	}
	return a.Index < b.Index
}

func (s *Scripted) Name() string { return "scripted" }
func (s *Scripted) Reset()       { s.next = 0 }

func (s *Scripted) OnBar(ctx *backtest.SignalContext) (*market.Signal, error) {
	// Entries that came due while the engine was busy are skipped.
	var due *ScriptedEntry
	for s.next < len(s.entries) && s.reached(s.entries[s.next], ctx) {
		due = &s.entries[s.next]
		s.next++
	}
	if due == nil {
		ctx.Reject("not_due")
		return nil, nil
	}

	entry := due.Entry
	if entry == 0 {
		entry = ctx.Bar().Close
	}
	dir := due.Side.Dir()
	sig := &market.Signal{
		Side:       due.Side,
		Entry:      entry,
		Stop:       entry - dir*due.StopDist,
		TakeProfit: entry + dir*due.TargetDist,
		Tag:        "scripted",
	}
	if due.ExpiryBars > 0 {
		sig.EntryExpiryBars = market.IntPtr(due.ExpiryBars)
	}
	return sig, nil
}

func (s *Scripted) reached(e ScriptedEntry, ctx *backtest.SignalContext) bool {
	if !e.At.IsZero() {
		return !ctx.Time().Before(e.At)
	}
	return ctx.Index >= e.Index
}
