package backtest

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/barsim/execution"
	"github.com/rustyeddy/barsim/risk"
)

// ScaleOut closes Frac of the position once price reaches AtR and then
// extends the target to FinalTargetR. AtR <= 0 disables it.
type ScaleOut struct {
	AtR          float64 `yaml:"at_r" json:"at_r"`
	Frac         float64 `yaml:"frac" json:"frac"`
	FinalTargetR float64 `yaml:"final_target_r" json:"final_target_r"`
}

// ATRTrail trails the stop Mult ATRs behind the close. Mult <= 0 disables it.
type ATRTrail struct {
	Mult   float64 `yaml:"mult" json:"mult"`
	Period int     `yaml:"period" json:"period"`
}

// MFETrail locks in MFE minus GivebackR once MFE reaches ArmR.
type MFETrail struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	ArmR      float64 `yaml:"arm_r" json:"arm_r"`
	GivebackR float64 `yaml:"giveback_r" json:"giveback_r"`
}

// Pyramiding adds AddFrac of the base size at every AddAtR multiple, up
// to MaxAdds times.
type Pyramiding struct {
	Enabled            bool    `yaml:"enabled" json:"enabled"`
	AddAtR             float64 `yaml:"add_at_r" json:"add_at_r"`
	AddFrac            float64 `yaml:"add_frac" json:"add_frac"`
	MaxAdds            int     `yaml:"max_adds" json:"max_adds"`
	OnlyAfterBreakEven bool    `yaml:"only_after_break_even" json:"only_after_break_even"`
}

// VolScale cuts CutFrac of the position once when ATR expands to
// CutIfATRX times its value at entry, unless the trade is already beyond
// NoCutAboveR.
type VolScale struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ATRPeriod   int     `yaml:"atr_period" json:"atr_period"`
	CutIfATRX   float64 `yaml:"cut_if_atr_x" json:"cut_if_atr_x"`
	CutFrac     float64 `yaml:"cut_frac" json:"cut_frac"`
	NoCutAboveR float64 `yaml:"no_cut_above_r" json:"no_cut_above_r"`
}

// EntryChase reprices a resting entry to the signal's fair value after
// AfterBars and then converts it to market while the adverse move stays
// within MaxSlipR.
type EntryChase struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	AfterBars       int     `yaml:"after_bars" json:"after_bars"`
	MaxSlipR        float64 `yaml:"max_slip_r" json:"max_slip_r"`
	ConvertOnExpiry bool    `yaml:"convert_on_expiry" json:"convert_on_expiry"`
}

// Config is every option of a backtest run.
type Config struct {
	Symbol         string  `yaml:"symbol" json:"symbol"`
	StartingEquity float64 `yaml:"starting_equity" json:"starting_equity"`
	RiskPct        float64 `yaml:"risk_pct" json:"risk_pct"` // percent of equity per trade
	WarmupBars     int     `yaml:"warmup_bars" json:"warmup_bars"`
	EntryExpiry    int     `yaml:"entry_expiry_bars" json:"entry_expiry_bars"`

	Costs       execution.Costs `yaml:"costs" json:"costs"`
	OCO         execution.OCO   `yaml:"oco" json:"oco"`
	TriggerMode execution.Mode  `yaml:"trigger_mode" json:"trigger_mode"` // empty inherits OCO.Mode

	ScaleOut             ScaleOut `yaml:"scale_out" json:"scale_out"`
	MaxDailyLossPct      float64  `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`
	DailyMaxTrades       int      `yaml:"daily_max_trades" json:"daily_max_trades"`
	PostLossCooldownBars int      `yaml:"post_loss_cooldown_bars" json:"post_loss_cooldown_bars"`
	FlattenAtClose       bool     `yaml:"flatten_at_close" json:"flatten_at_close"`

	ATRTrail   ATRTrail   `yaml:"atr_trail" json:"atr_trail"`
	MFETrail   MFETrail   `yaml:"mfe_trail" json:"mfe_trail"`
	Pyramiding Pyramiding `yaml:"pyramiding" json:"pyramiding"`
	VolScale   VolScale   `yaml:"vol_scale" json:"vol_scale"`

	Sizing     risk.Sizing `yaml:"sizing" json:"sizing"`
	EntryChase EntryChase  `yaml:"entry_chase" json:"entry_chase"`

	ReanchorStopOnFill bool    `yaml:"reanchor_stop_on_fill" json:"reanchor_stop_on_fill"`
	MaxSlipROnFill     float64 `yaml:"max_slip_r_on_fill" json:"max_slip_r_on_fill"` // 0 disables the guard
}

func DefaultConfig() Config {
	return Config{
		StartingEquity: 10000,
		RiskPct:        1,
		WarmupBars:     200,
		EntryExpiry:    5,

		Costs: execution.Costs{SlippageBps: 1, FeeBps: 0},
		OCO:   execution.DefaultOCO(),

		ScaleOut:        ScaleOut{AtR: 1.0, Frac: 0.5, FinalTargetR: 3.0},
		MaxDailyLossPct: 2.0,
		FlattenAtClose:  true,

		ATRTrail: ATRTrail{Mult: 0, Period: 14},
		MFETrail: MFETrail{Enabled: false, ArmR: 1.0, GivebackR: 0.5},
		Pyramiding: Pyramiding{
			Enabled:            false,
			AddAtR:             1.0,
			AddFrac:            0.25,
			MaxAdds:            1,
			OnlyAfterBreakEven: true,
		},
		VolScale: VolScale{
			Enabled:     false,
			ATRPeriod:   14,
			CutIfATRX:   1.30,
			CutFrac:     0.33,
			NoCutAboveR: 1.5,
		},

		Sizing:     risk.DefaultSizing(),
		EntryChase: EntryChase{Enabled: true, AfterBars: 2, MaxSlipR: 0.20},

		ReanchorStopOnFill: true,
		MaxSlipROnFill:     0.40,
	}
}

// triggerMode is the detection mode for scale-out and pyramiding triggers.
func (c Config) triggerMode() execution.Mode {
	if c.TriggerMode != "" {
		return c.TriggerMode
	}
	if c.OCO.Mode != "" {
		return c.OCO.Mode
	}
	return execution.Intrabar
}

// atrPeriod is the ATR lookback, or 0 when no rule needs ATR.
func (c Config) atrPeriod() int {
	switch {
	case c.VolScale.Enabled && c.VolScale.ATRPeriod > 0:
		return c.VolScale.ATRPeriod
	case c.VolScale.Enabled || c.ATRTrail.Mult > 0:
		return c.ATRTrail.Period
	}
	return 0
}

// Validate returns the first problem found in c.
func (c Config) Validate() error {
	switch {
	case c.StartingEquity <= 0:
		return errors.New("starting_equity must be positive")
	case c.RiskPct <= 0 || c.RiskPct > 100:
		return fmt.Errorf("risk_pct %.4f out of range (0,100]", c.RiskPct)
	case c.WarmupBars < 0:
		return errors.New("warmup_bars must be >= 0")
	case c.EntryExpiry < 1:
		return errors.New("entry_expiry_bars must be >= 1")
	case c.Costs.SlippageBps < 0 || c.Costs.FeeBps < 0:
		return errors.New("costs must be >= 0")
	}
	if err := c.OCO.Validate(); err != nil {
		return err
	}
	if c.TriggerMode != "" {
		if _, err := execution.ParseMode(string(c.TriggerMode)); err != nil {
			return err
		}
	}

	switch {
	case c.ScaleOut.AtR < 0:
		return errors.New("scale_out.at_r must be >= 0")
	case c.ScaleOut.AtR > 0 && (c.ScaleOut.Frac <= 0 || c.ScaleOut.Frac >= 1):
		return errors.New("scale_out.frac must be in (0,1)")
	case c.ScaleOut.AtR > 0 && c.ScaleOut.FinalTargetR <= 0:
		return errors.New("scale_out.final_target_r must be positive")
	case c.MaxDailyLossPct < 0:
		return errors.New("max_daily_loss_pct must be >= 0")
	case c.DailyMaxTrades < 0:
		return errors.New("daily_max_trades must be >= 0")
	case c.PostLossCooldownBars < 0:
		return errors.New("post_loss_cooldown_bars must be >= 0")
	case c.ATRTrail.Mult < 0:
		return errors.New("atr_trail.mult must be >= 0")
	case c.atrPeriod() == 0 && (c.ATRTrail.Mult > 0 || c.VolScale.Enabled):
		return errors.New("atr period must be positive")
	case c.MFETrail.Enabled && (c.MFETrail.ArmR < 0 || c.MFETrail.GivebackR < 0):
		return errors.New("mfe_trail values must be >= 0")
	case c.Pyramiding.Enabled && (c.Pyramiding.AddAtR <= 0 || c.Pyramiding.AddFrac <= 0 || c.Pyramiding.MaxAdds < 0):
		return errors.New("pyramiding.add_at_r and add_frac must be positive")
	case c.VolScale.Enabled && (c.VolScale.CutFrac <= 0 || c.VolScale.CutFrac >= 1):
		return errors.New("vol_scale.cut_frac must be in (0,1)")
	case c.VolScale.Enabled && c.VolScale.CutIfATRX <= 0:
		return errors.New("vol_scale.cut_if_atr_x must be positive")
	case c.Sizing.QtyStep <= 0:
		return errors.New("sizing.qty_step must be positive")
	case c.Sizing.MinQty < 0:
		return errors.New("sizing.min_qty must be >= 0")
	case c.Sizing.MaxLeverage <= 0:
		return errors.New("sizing.max_leverage must be positive")
	case c.EntryChase.AfterBars < 0 || c.EntryChase.MaxSlipR < 0:
		return errors.New("entry_chase values must be >= 0")
	case c.MaxSlipROnFill < 0:
		return errors.New("max_slip_r_on_fill must be >= 0")
	}
	return nil
}
