package strategies

import (
	"errors"

	"github.com/rustyeddy/barsim/backtest"
	"github.com/rustyeddy/barsim/indicators"
	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/pricing"
)

// EMACrossConfig parameterizes EMACross. Stops sit StopATR ATRs from the
// close and targets RR times that distance beyond it.
type EMACrossConfig struct {
	FastPeriod int     `yaml:"fast_period" json:"fast_period"`
	SlowPeriod int     `yaml:"slow_period" json:"slow_period"`
	ATRPeriod  int     `yaml:"atr_period" json:"atr_period"`
	StopATR    float64 `yaml:"stop_atr" json:"stop_atr"`
	RR         float64 `yaml:"rr" json:"rr"`
	AllowShort bool    `yaml:"allow_short" json:"allow_short"`

	// Pullback places the entry limit this many ATRs inside the close.
	Pullback float64 `yaml:"pullback_atr" json:"pullback_atr"`

	Session pricing.Session `yaml:"session" json:"session"`
	Windows string          `yaml:"windows" json:"windows"` // "09:45-11:30,13:30-15:30" ET

	ExpiryBars     int     `yaml:"expiry_bars" json:"expiry_bars"`
	CooldownBars   int     `yaml:"cooldown_bars" json:"cooldown_bars"`
	MaxBarsInTrade int     `yaml:"max_bars_in_trade" json:"max_bars_in_trade"`
	BreakevenAtR   float64 `yaml:"breakeven_at_r" json:"breakeven_at_r"`
	TrailAfterR    float64 `yaml:"trail_after_r" json:"trail_after_r"`
}

func EMACrossDefaults() EMACrossConfig {
	return EMACrossConfig{
		FastPeriod: 9,
		SlowPeriod: 21,
		ATRPeriod:  14,
		StopATR:    1.5,
		RR:         2,
		AllowShort: true,
		Session:    pricing.SessionNYSE,
		ExpiryBars: 3,
	}
}

// EMACross signals on fast/slow EMA crossovers of the close.
type EMACross struct {
	cfg     EMACrossConfig
	windows []pricing.Window
}

func NewEMACross(cfg EMACrossConfig) (*EMACross, error) {
	d := EMACrossDefaults()
	if cfg.FastPeriod == 0 && cfg.SlowPeriod == 0 {
		cfg.FastPeriod, cfg.SlowPeriod = d.FastPeriod, d.SlowPeriod
	}
	if cfg.ATRPeriod == 0 {
		cfg.ATRPeriod = d.ATRPeriod
	}
	if cfg.StopATR == 0 {
		cfg.StopATR = d.StopATR
	}
	if cfg.RR == 0 {
		cfg.RR = d.RR
	}
	switch {
	case cfg.FastPeriod <= 0 || cfg.SlowPeriod <= 0:
		return nil, errors.New("ema_cross: periods must be positive")
	case cfg.FastPeriod >= cfg.SlowPeriod:
		return nil, errors.New("ema_cross: fast_period must be below slow_period")
	case cfg.StopATR < 0 || cfg.RR < 0 || cfg.Pullback < 0:
		return nil, errors.New("ema_cross: stop_atr, rr and pullback_atr must be >= 0")
	}
	ws, err := pricing.ParseWindows(cfg.Windows)
	if err != nil {
		return nil, err
	}
	return &EMACross{cfg: cfg, windows: ws}, nil
}

func (s *EMACross) Name() string { return "ema_cross" }
func (s *EMACross) Reset()       {}

// lookback is how many trailing bars feed the indicators. EMA seeds from
// the first value, so a few slow periods are enough to converge.
func (s *EMACross) lookback() int {
	return 4*s.cfg.SlowPeriod + s.cfg.ATRPeriod + 1
}

func (s *EMACross) OnBar(ctx *backtest.SignalContext) (*market.Signal, error) {
	t := ctx.Time()
	if s.cfg.Session != "" && !pricing.InSession(t, s.cfg.Session) {
		ctx.Reject("out_of_session")
		return nil, nil
	}
	if !pricing.InWindows(t, s.windows) {
		ctx.Reject("out_of_window")
		return nil, nil
	}

	from := max(0, len(ctx.Bars)-s.lookback())
	bars := ctx.Bars[from:]
	if len(bars) < s.cfg.SlowPeriod+1 || len(bars) < s.cfg.ATRPeriod {
		ctx.Reject("warmup")
		return nil, nil
	}
	last := len(bars) - 1

	closes := pricing.Closes(bars)
	fast, err := indicators.EMA(closes, s.cfg.FastPeriod)
	if err != nil {
		return nil, err
	}
	slow, err := indicators.EMA(closes, s.cfg.SlowPeriod)
	if err != nil {
		return nil, err
	}

	var side market.Side
	switch {
	case indicators.CrossUp(fast, slow, last):
		side = market.Long
	case s.cfg.AllowShort && indicators.CrossDown(fast, slow, last):
		side = market.Short
	default:
		ctx.Reject("no_cross")
		return nil, nil
	}

	atr, err := indicators.ATR(bars, s.cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}
	a, ok := atr.At(last)
	if !ok || a <= 0 {
		ctx.Reject("no_atr")
		return nil, nil
	}

	dir := side.Dir()
	c := bars[last].Close
	entry := c - dir*s.cfg.Pullback*a
	risk := s.cfg.StopATR * a
	sig := &market.Signal{
		Side:           side,
		Entry:          entry,
		Stop:           entry - dir*risk,
		TakeProfit:     entry + dir*s.cfg.RR*risk,
		CooldownBars:   s.cfg.CooldownBars,
		MaxBarsInTrade: s.cfg.MaxBarsInTrade,
		BreakevenAtR:   s.cfg.BreakevenAtR,
		TrailAfterR:    s.cfg.TrailAfterR,
		FairValue:      market.FloatPtr(c),
		Tag:            "ema_cross",
	}
	if s.cfg.ExpiryBars > 0 {
		sig.EntryExpiryBars = market.IntPtr(s.cfg.ExpiryBars)
	}
	return sig, nil
}
