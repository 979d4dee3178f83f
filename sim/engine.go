// Package sim is a paper broker: it holds open positions, applies OCO
// exits, a wall-clock hold cap and an end-of-week flatten as prices are
// marked, and realizes PnL into a running equity.
package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/barsim/execution"
	"github.com/rustyeddy/barsim/internal/logging"
	"github.com/rustyeddy/barsim/journal"
	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/pkg/id"
	"github.com/rustyeddy/barsim/pricing"
)

var (
	ErrMaxConcurrent = errors.New("sim: max concurrent positions reached")
	ErrAlreadyOpen   = errors.New("sim: position already open for symbol")
)

type Config struct {
	Equity        float64 `yaml:"equity" json:"equity"`
	MaxConcurrent int     `yaml:"max_concurrent" json:"max_concurrent"`
	MaxHoldMin    float64 `yaml:"max_hold_min" json:"max_hold_min"` // default cap, 0 = none

	FlattenWeekends      bool `yaml:"flatten_weekends" json:"flatten_weekends"`
	FlattenFridayHourUTC int  `yaml:"flatten_friday_hour_utc" json:"flatten_friday_hour_utc"`

	// Costs are applied to exits only; entries fill at the requested price.
	Costs execution.Costs `yaml:"costs" json:"costs"`
}

func DefaultConfig() Config {
	return Config{
		Equity:               10000,
		MaxConcurrent:        1,
		FlattenFridayHourUTC: 21,
	}
}

// OpenRequest describes a position to open. A zero MaxHoldMin falls back
// to the broker default; a zero Time means now.
type OpenRequest struct {
	Symbol     string
	Side       market.Side
	Entry      float64
	Stop       float64
	TakeProfit float64
	Size       float64
	Time       time.Time
	MaxHoldMin float64
}

// LegListener is told about every position the engine closes. It is
// called without the engine lock held.
type LegListener interface {
	OnLegClosed(market.ClosedLeg)
}

type Engine struct {
	mu        sync.Mutex
	cfg       Config
	equity    float64
	positions map[string]*Position
	closed    []market.ClosedLeg
	marks     *pricing.MarkStore
	journal   journal.Journal
	listener  LegListener
	log       *logrus.Entry
}

// NewEngine returns a paper broker. j and log may be nil.
func NewEngine(cfg Config, j journal.Journal, log *logrus.Logger) *Engine {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{
		cfg:       cfg,
		equity:    cfg.Equity,
		positions: make(map[string]*Position),
		marks:     pricing.NewMarkStore(),
		journal:   j,
		log:       logging.Component(log, "sim"),
	}
}

func (e *Engine) SetListener(l LegListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

func (e *Engine) Marks() *pricing.MarkStore { return e.marks }

func (e *Engine) Equity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equity
}

func (e *Engine) HasOpenPosition(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.positions[symbol]
	return ok
}

// Positions returns copies of the open positions sorted by symbol.
func (e *Engine) Positions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Closed returns the closed legs in close order.
func (e *Engine) Closed() []market.ClosedLeg {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]market.ClosedLeg(nil), e.closed...)
}

// Open adds a position. It fails when the symbol already has one or the
// concurrency limit is reached.
func (e *Engine) Open(req OpenRequest) (Position, error) {
	if !req.Side.Valid() {
		return Position{}, fmt.Errorf("sim open %s: invalid side", req.Symbol)
	}
	if req.Size <= 0 {
		return Position{}, fmt.Errorf("sim open %s: size must be positive", req.Symbol)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.positions[req.Symbol]; ok {
		return Position{}, ErrAlreadyOpen
	}
	if len(e.positions) >= e.cfg.MaxConcurrent {
		return Position{}, ErrMaxConcurrent
	}

	at := req.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}
	hold := req.MaxHoldMin
	if hold == 0 {
		hold = e.cfg.MaxHoldMin
	}

	p := &Position{
		ID:         id.At(at),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Entry:      req.Entry,
		Stop:       req.Stop,
		TakeProfit: req.TakeProfit,
		Size:       req.Size,
		OpenTime:   at,
		MaxHoldMin: hold,
	}
	e.positions[req.Symbol] = p
	e.marks.Set(pricing.Mark{Symbol: req.Symbol, Time: at, Price: req.Entry})

	e.log.WithFields(logrus.Fields{
		"event":  "open",
		"symbol": p.Symbol,
		"side":   p.Side,
		"entry":  p.Entry,
		"size":   p.Size,
	}).Info("paper position opened")
	return *p, nil
}

// Mark records a price and applies the exit rules in order: stop, target,
// hold cap, end-of-week flatten. It returns the closed leg, if any.
func (e *Engine) Mark(symbol string, price float64, at time.Time) (*market.ClosedLeg, error) {
	e.marks.Set(pricing.Mark{Symbol: symbol, Time: at, Price: price})

	e.mu.Lock()
	p, ok := e.positions[symbol]
	if !ok {
		e.mu.Unlock()
		return nil, nil
	}

	var (
		exitPx float64
		reason market.ExitReason
		kind   execution.OrderKind
	)
	switch {
	case p.hitStop(price):
		exitPx, reason, kind = p.Stop, market.ExitStop, execution.Stop
	case p.hitTarget(price):
		exitPx, reason, kind = p.TakeProfit, market.ExitTarget, execution.Limit
	case p.heldTooLong(at):
		exitPx, reason, kind = price, market.ExitTime, execution.Market
	case e.shouldFlattenWeekend(at):
		exitPx, reason, kind = price, market.ExitEndOfWeek, execution.Market
	default:
		e.mu.Unlock()
		return nil, nil
	}

	leg := e.closeLocked(p, exitPx, kind, at, reason)
	listener, eq := e.listener, e.equity
	e.mu.Unlock()

	err := e.record(leg, eq)
	if listener != nil {
		listener.OnLegClosed(leg)
	}
	return &leg, err
}

// Close closes symbol's position at its last mark.
func (e *Engine) Close(symbol string, reason market.ExitReason) (market.ClosedLeg, error) {
	m, err := e.marks.Get(symbol)
	if err != nil {
		return market.ClosedLeg{}, fmt.Errorf("sim close: %w", err)
	}

	e.mu.Lock()
	p, ok := e.positions[symbol]
	if !ok {
		e.mu.Unlock()
		return market.ClosedLeg{}, fmt.Errorf("sim close: no position for %q", symbol)
	}
	leg := e.closeLocked(p, m.Price, execution.Market, m.Time, reason)
	listener, eq := e.listener, e.equity
	e.mu.Unlock()

	err = e.record(leg, eq)
	if listener != nil {
		listener.OnLegClosed(leg)
	}
	return leg, err
}

// CloseAll closes every open position at its last mark.
func (e *Engine) CloseAll(reason market.ExitReason) ([]market.ClosedLeg, error) {
	var syms []string
	for _, p := range e.Positions() {
		syms = append(syms, p.Symbol)
	}
	var (
		legs []market.ClosedLeg
		errs []error
	)
	for _, s := range syms {
		leg, err := e.Close(s, reason)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		legs = append(legs, leg)
	}
	return legs, errors.Join(errs...)
}

// shouldFlattenWeekend is true on Saturday, Sunday and Friday at or after
// the cutoff hour (UTC).
func (e *Engine) shouldFlattenWeekend(at time.Time) bool {
	if !e.cfg.FlattenWeekends {
		return false
	}
	u := at.UTC()
	switch u.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	case time.Friday:
		return u.Hour() >= e.cfg.FlattenFridayHourUTC
	}
	return false
}

func (e *Engine) closeLocked(p *Position, px float64, kind execution.OrderKind, at time.Time, reason market.ExitReason) market.ClosedLeg {
	fill := execution.ApplyFill(px, p.Side.Opposite(), e.cfg.Costs, kind)
	pnl := (fill.Price-p.Entry)*p.Side.Dir()*p.Size - fill.Fee(p.Size)
	e.equity += pnl
	delete(e.positions, p.Symbol)

	leg := market.ClosedLeg{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Entry:      p.Entry,
		EntryFill:  p.Entry,
		Stop:       p.Stop,
		TakeProfit: p.TakeProfit,
		Size:       p.Size,
		OpenTime:   p.OpenTime,
		InitRisk:   abs(p.Entry - p.Stop),
		Exit: market.Exit{
			Price:  fill.Price,
			Time:   at,
			Reason: reason,
			PnL:    pnl,
		},
	}
	e.closed = append(e.closed, leg)

	e.log.WithFields(logrus.Fields{
		"event":  "close",
		"symbol": p.Symbol,
		"reason": reason,
		"price":  fill.Price,
		"pnl":    pnl,
		"equity": e.equity,
	}).Info("paper position closed")
	return leg
}

func (e *Engine) record(leg market.ClosedLeg, equity float64) error {
	if e.journal == nil {
		return nil
	}
	if err := e.journal.RecordLeg(leg); err != nil {
		return fmt.Errorf("journal leg %s: %w", leg.ID, err)
	}
	return e.journal.RecordEquity(market.EquitySample{Time: leg.Exit.Time, Equity: equity})
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
