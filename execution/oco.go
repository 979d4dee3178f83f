package execution

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/pricing"
)

// Mode selects how a bar is tested against a price level.
type Mode string

const (
	Intrabar Mode = "intrabar"
	OnClose  Mode = "close"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Intrabar, OnClose:
		return m, nil
	case "":
		return Intrabar, nil
	}
	return "", fmt.Errorf("invalid trigger mode %q", s)
}

// TieBreak resolves a bar that touched both stop and target.
type TieBreak string

const (
	Pessimistic TieBreak = "pessimistic"
	Optimistic  TieBreak = "optimistic"
)

func ParseTieBreak(s string) (TieBreak, error) {
	switch tb := TieBreak(strings.ToLower(strings.TrimSpace(s))); tb {
	case Pessimistic, Optimistic:
		return tb, nil
	case "":
		return Pessimistic, nil
	}
	return "", fmt.Errorf("invalid tie break %q", s)
}

// OCO configures stop/target evaluation and stop clamping.
type OCO struct {
	Mode        Mode     `yaml:"mode" json:"mode"`
	TieBreak    TieBreak `yaml:"tie_break" json:"tie_break"`
	ClampStops  bool     `yaml:"clamp_stops" json:"clamp_stops"`
	ClampEpsBps float64  `yaml:"clamp_eps_bps" json:"clamp_eps_bps"`
}

func DefaultOCO() OCO {
	return OCO{
		Mode:        Intrabar,
		TieBreak:    Pessimistic,
		ClampStops:  true,
		ClampEpsBps: 0.25,
	}
}

func (o OCO) Validate() error {
	if _, err := ParseMode(string(o.Mode)); err != nil {
		return err
	}
	if _, err := ParseTieBreak(string(o.TieBreak)); err != nil {
		return err
	}
	if o.ClampEpsBps < 0 {
		return fmt.Errorf("oco.clamp_eps_bps must be >= 0")
	}
	return nil
}

// Hit names the side of an OCO pair that triggered.
type Hit int

const (
	HitNone Hit = iota
	HitStop
	HitTarget
)

// Reason maps a hit to the exit reason recorded on the leg.
func (h Hit) Reason() market.ExitReason {
	switch h {
	case HitStop:
		return market.ExitStop
	case HitTarget:
		return market.ExitTarget
	}
	return ""
}

// Kind is the order kind used to fill a hit: targets rest as limits,
// stops execute as stop-markets.
func (h Hit) Kind() OrderKind {
	if h == HitTarget {
		return Limit
	}
	return Stop
}

// CheckOCO tests bar against a stop/target pair. In close mode only the
// close is tested and the stop is checked first. In intrabar mode a bar
// that touched both is resolved by tb. The returned price is the level
// that was hit, before slippage.
func CheckOCO(side market.Side, stop, target float64, bar pricing.Bar, mode Mode, tb TieBreak) (Hit, float64) {
	if mode == OnClose {
		px := bar.Close
		if side == market.Long {
			if px <= stop {
				return HitStop, stop
			}
			if px >= target {
				return HitTarget, target
			}
		} else {
			if px >= stop {
				return HitStop, stop
			}
			if px <= target {
				return HitTarget, target
			}
		}
		return HitNone, 0
	}

	var hitSL, hitTP bool
	if side == market.Long {
		hitSL = bar.Low <= stop
		hitTP = bar.High >= target
	} else {
		hitSL = bar.High >= stop
		hitTP = bar.Low <= target
	}

	switch {
	case hitSL && hitTP:
		if tb == Optimistic {
			return HitTarget, target
		}
		return HitStop, stop
	case hitSL:
		return HitStop, stop
	case hitTP:
		return HitTarget, target
	}
	return HitNone, 0
}

// TouchedLimit reports whether a resting entry limit at px would have
// filled on bar.
func TouchedLimit(side market.Side, px float64, bar pricing.Bar, mode Mode) bool {
	if mode == OnClose {
		if side == market.Long {
			return bar.Close <= px
		}
		return bar.Close >= px
	}
	if side == market.Long {
		return bar.Low <= px
	}
	return bar.High >= px
}

// Touched reports whether price reached a favorable trigger level px for
// a position on side. Used for scale-out and pyramiding triggers.
func Touched(side market.Side, px float64, bar pricing.Bar, mode Mode) bool {
	if side == market.Long {
		if mode == OnClose {
			return bar.Close >= px
		}
		return bar.High >= px
	}
	if mode == OnClose {
		return bar.Close <= px
	}
	return bar.Low <= px
}

// ClampStop keeps a stop at least epsBps away from the market on the
// losing side.
func ClampStop(mkt, proposed float64, side market.Side, epsBps float64) float64 {
	eps := mkt * epsBps / 10000
	if side == market.Long {
		return min(proposed, mkt-eps)
	}
	return max(proposed, mkt+eps)
}

// Tighten moves stop toward candidate, clamping the move when
// o.ClampStops is set. The result never loosens the existing stop.
func (o OCO) Tighten(side market.Side, stop, candidate, mkt float64) float64 {
	if side == market.Long {
		next := max(stop, candidate)
		if o.ClampStops {
			next = ClampStop(mkt, next, side, o.ClampEpsBps)
		}
		return max(stop, next)
	}
	next := min(stop, candidate)
	if o.ClampStops {
		next = ClampStop(mkt, next, side, o.ClampEpsBps)
	}
	return min(stop, next)
}
