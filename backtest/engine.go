// Package backtest runs a single-position, bar-by-bar trading simulation:
// entries staged from strategy signals, fills with slippage and fees,
// stop and target management, partial exits and a daily risk budget.
package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/barsim/indicators"
	"github.com/rustyeddy/barsim/internal/logging"
	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/metrics"
	"github.com/rustyeddy/barsim/pricing"
	"github.com/rustyeddy/barsim/risk"
)

// Result is everything a run produces.
type Result struct {
	Symbol      string
	Strategy    string
	Legs        []market.ClosedLeg
	Equity      []market.EquitySample
	Metrics     metrics.Metrics
	Diagnostics Diagnostics

	StartEquity float64
	FinalEquity float64
	BarDuration time.Duration
	Start       time.Time
	End         time.Time

	// OpenAtEnd is set when the data ran out with a position still open.
	// That position is not marked to market.
	OpenAtEnd bool
}

// Engine runs backtests for one Config. An Engine holds no run state and
// may be reused, including concurrently.
type Engine struct {
	cfg Config
	log *logrus.Logger
}

// NewEngine validates cfg. A nil logger discards output.
func NewEngine(cfg Config, log *logrus.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("backtest config: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{cfg: cfg, log: log}, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Run simulates strat over bars. Bars before WarmupBars are history only.
// The run either processes every bar or returns an error.
func (e *Engine) Run(bars []pricing.Bar, strat Strategy) (Result, error) {
	if strat == nil {
		return Result{}, errors.New("backtest: strategy is required")
	}
	strat.Reset()

	s, err := e.newRun(bars, strat)
	if err != nil {
		return Result{}, err
	}

	s.log.WithFields(logrus.Fields{
		"event":    "run.start",
		"bars":     len(bars),
		"strategy": strat.Name(),
	}).Info("backtest started")

	for i := e.cfg.WarmupBars; i < len(bars); i++ {
		if err := s.step(i); err != nil {
			return Result{}, err
		}
	}

	res := s.result()
	s.log.WithFields(logrus.Fields{
		"event":  "run.done",
		"legs":   len(res.Legs),
		"trades": res.Metrics.Trades,
		"equity": res.FinalEquity,
	}).Info("backtest finished")
	return res, nil
}

func (e *Engine) newRun(bars []pricing.Bar, strat Strategy) (*runState, error) {
	s := &runState{
		cfg:    e.cfg,
		log:    logging.Component(e.log, "backtest").WithField("symbol", e.cfg.Symbol),
		bars:   bars,
		strat:  strat,
		barDur: pricing.EstimateBarDuration(bars),
		equity: e.cfg.StartingEquity,
		budget: risk.DailyBudget{
			MaxLossPct: e.cfg.MaxDailyLossPct,
			MaxTrades:  e.cfg.DailyMaxTrades,
		},
		trig:     e.cfg.triggerMode(),
		diag:     newDiagnostics(),
		exitedAt: -1,
	}

	if p := e.cfg.atrPeriod(); p > 0 {
		atr, err := indicators.ATR(bars, p)
		if err != nil {
			return nil, fmt.Errorf("backtest atr: %w", err)
		}
		s.atr = atr
	}

	if len(bars) > 0 {
		s.curve = append(s.curve, market.EquitySample{Time: bars[0].Time, Equity: s.equity})
	}
	return s, nil
}

func (s *runState) result() Result {
	res := Result{
		Symbol:      s.cfg.Symbol,
		Strategy:    s.strat.Name(),
		Legs:        s.legs,
		Equity:      s.curve,
		Diagnostics: *s.diag,
		StartEquity: s.cfg.StartingEquity,
		FinalEquity: s.equity,
		BarDuration: s.barDur,
		OpenAtEnd:   s.open != nil,
	}
	if n := len(s.bars); n > 0 {
		res.Start = s.bars[0].Time
		res.End = s.bars[n-1].Time
	}
	res.Metrics = metrics.Build(metrics.Input{
		Legs:        s.legs,
		StartEquity: s.cfg.StartingEquity,
		FinalEquity: s.equity,
		BarCount:    len(s.bars),
		BarDuration: s.barDur,
		Equity:      s.curve,
	})
	return res
}
