package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/barsim/execution"
	"github.com/rustyeddy/barsim/indicators"
	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/pricing"
	"github.com/rustyeddy/barsim/risk"
)

// riskFloor stands in for a zero risk distance in R and slip ratios.
const riskFloor = 1e-8

// pendingOrder is a staged entry that has not filled yet.
type pendingOrder struct {
	side     market.Side
	entry    float64
	stop     float64
	target   float64
	riskFrac float64

	stagedAt  int
	expiresAt int
	signal    market.Signal

	// plannedRisk is frozen at staging; slip checks always use it.
	plannedRisk float64
	chased      bool
}

// chaseRisk is the R unit used to measure chase slippage. It follows the
// current (possibly repriced) entry unless the signal fixed its risk.
func (p *pendingOrder) chaseRisk() float64 {
	if p.signal.InitRisk != 0 {
		return math.Abs(p.signal.InitRisk)
	}
	return math.Abs(p.entry - p.stop)
}

// adverseR is how far px sits beyond the entry against the order, in R.
func (p *pendingOrder) adverseR(px, r float64) float64 {
	return math.Max(0, (px-p.entry)*p.side.Dir()) / math.Max(riskFloor, r)
}

// position is the open trade.
type position struct {
	side      market.Side
	entry     float64 // requested entry; R is measured from here
	entryFill float64 // volume weighted fill
	stop      float64
	target    float64
	openTime  time.Time
	openIdx   int

	size     float64 // remaining
	baseSize float64 // original fill size, used for add sizing

	entryFee     float64 // total entry fees including adds
	feeAllocated float64 // entry fees already charged to closed legs
	realized     float64

	initRisk float64
	mfeR     float64
	maeR     float64
	adds     int

	beArmed    bool
	scaled     bool
	volCutDone bool

	entryATR *float64
	lastATR  *float64

	signal market.Signal
}

// runState owns every piece of mutable state for one Run call.
type runState struct {
	cfg    Config
	log    *logrus.Entry
	bars   []pricing.Bar
	strat  Strategy
	atr    indicators.Series
	barDur time.Duration
	trig   execution.Mode

	equity   float64
	open     *position
	pending  *pendingOrder
	cooldown int
	budget   risk.DailyBudget

	legs  []market.ClosedLeg
	curve []market.EquitySample
	diag  *Diagnostics

	i        int
	bar      pricing.Bar
	exitedAt int // bar index of the most recent full exit
}

// step processes bar i. The order of the checks is significant.
func (s *runState) step(i int) error {
	c := s.bars[i]
	s.i, s.bar = i, c
	s.diag.BarsSeen++

	s.budget.Roll(c.Time)

	if s.open != nil && s.timeLimitHit(c) {
		s.exitMarket(market.ExitTime)
	}
	if s.open != nil && s.cfg.FlattenAtClose && pricing.IsEODBar(c.Time) {
		s.exitMarket(market.ExitEndOfDay)
	}

	if s.open == nil && s.pending != nil {
		s.managePending()
	}

	if s.open != nil {
		s.manage()
	}

	if s.open != nil || s.cooldown > 0 {
		if s.cooldown > 0 && s.exitedAt != i {
			s.cooldown--
		}
		s.snapshot()
		return nil
	}

	if d := s.budget.Evaluate(s.equity); !d.Allowed {
		if s.pending != nil {
			s.cancelPending(blockReason(d))
		}
		s.snapshot()
		return nil
	}

	if s.pending == nil {
		if err := s.requestSignal(); err != nil {
			return err
		}
	}

	s.snapshot()
	return nil
}

func (s *runState) snapshot() {
	s.curve = append(s.curve, market.EquitySample{Time: s.bar.Time, Equity: s.equity})
}

func (s *runState) atrAt(i int) *float64 {
	if s.atr == nil {
		return nil
	}
	return s.atr.Ptr(i)
}

func (s *runState) timeLimitHit(c pricing.Bar) bool {
	p := s.open
	held := c.Time.Sub(p.openTime)
	if n := p.signal.MaxBarsInTrade; n > 0 {
		bars := math.Max(1, math.Round(float64(held)/float64(s.barDur)))
		if int(bars) >= n {
			return true
		}
	}
	if m := p.signal.MaxHoldMin; m > 0 && !math.IsInf(m, 0) {
		if held.Minutes() >= m {
			return true
		}
	}
	return false
}

// requestSignal asks the strategy for a setup and stages it.
func (s *runState) requestSignal() error {
	ctx := &SignalContext{
		Symbol: s.cfg.Symbol,
		Bars:   s.bars[:s.i+1],
		Index:  s.i,
		Equity: s.equity,
		Diag:   s.diag,
	}
	s.diag.SignalCalls++

	sig, err := s.strat.OnBar(ctx)
	if err != nil {
		return fmt.Errorf("signal at bar %d (%s): %w", s.i, s.bar.Time.Format(time.RFC3339), err)
	}
	if sig == nil {
		return nil
	}
	s.diag.Accepted++
	if err := sig.Validate(); err != nil {
		s.diag.Invalid++
		s.log.WithError(err).WithField("event", "signal.invalid").Debug("signal dropped")
		return nil
	}

	expiry := s.cfg.EntryExpiry
	if sig.EntryExpiryBars != nil {
		expiry = *sig.EntryExpiryBars
	}
	s.pending = &pendingOrder{
		side:        sig.Side,
		entry:       sig.Entry,
		stop:        sig.Stop,
		target:      sig.TakeProfit,
		riskFrac:    s.cfg.RiskPct / 100,
		stagedAt:    s.i,
		expiresAt:   s.i + max(1, expiry),
		signal:      *sig,
		plannedRisk: sig.PlannedRisk(),
	}
	s.diag.Staged++
	s.log.WithFields(logrus.Fields{
		"event": "order.staged",
		"side":  sig.Side,
		"entry": sig.Entry,
		"stop":  sig.Stop,
		"tp":    sig.TakeProfit,
		"rr":    risk.RR(sig.Entry, sig.Stop, sig.TakeProfit),
	}).Debug("entry staged")

	if execution.TouchedLimit(sig.Side, sig.Entry, s.bar, execution.Intrabar) {
		if !s.openFromPending(sig.Entry, execution.Limit) {
			s.pending = nil
		}
	}
	return nil
}

// managePending expires, fills or chases the resting entry.
func (s *runState) managePending() {
	p := s.pending
	c := s.bar

	expired := s.i > p.expiresAt
	d := s.budget.Evaluate(s.equity)
	if expired || !d.Allowed {
		if expired && s.cfg.EntryChase.Enabled && s.cfg.EntryChase.ConvertOnExpiry {
			if s.slipExceeded(p.adverseR(c.Close, p.chaseRisk())) {
				s.cancelPending("expired_slip")
				return
			}
			if s.openFromPending(c.Close, execution.Market) {
				s.diag.Converted++
				return
			}
			s.pending = nil
			return
		}
		if expired {
			s.diag.Expired++
			s.pending = nil
			return
		}
		s.cancelPending(blockReason(d))
		return
	}

	if execution.TouchedLimit(p.side, p.entry, c, execution.Intrabar) {
		if !s.openFromPending(p.entry, execution.Limit) {
			s.pending = nil
		}
		return
	}

	if !s.cfg.EntryChase.Enabled {
		return
	}

	elapsed := s.i - p.stagedAt
	if !p.chased && p.signal.FairValue != nil && elapsed >= max(1, s.cfg.EntryChase.AfterBars) {
		p.entry = *p.signal.FairValue
		p.chased = true
		s.diag.Chased++
		s.log.WithFields(logrus.Fields{"event": "order.chase", "entry": p.entry}).Debug("entry repriced")
	}
	if !p.chased {
		return
	}

	slipped := p.adverseR(c.Close, p.chaseRisk())
	switch {
	case s.slipExceeded(slipped):
		s.cancelPending("chase_slip")
	case slipped > 0 && slipped <= s.cfg.EntryChase.MaxSlipR:
		if s.openFromPending(c.Close, execution.Market) {
			s.diag.Converted++
		} else {
			s.pending = nil
		}
	}
}

func (s *runState) slipExceeded(r float64) bool {
	return s.cfg.MaxSlipROnFill > 0 && r > s.cfg.MaxSlipROnFill
}

// blockReason names the daily limit behind a blocked budget decision.
func blockReason(d risk.Decision) string {
	if d.Has(risk.CodeDailyLoss) {
		return "daily_loss"
	}
	return "trade_cap"
}

func (s *runState) cancelPending(why string) {
	s.diag.Cancelled++
	s.log.WithFields(logrus.Fields{"event": "order.cancel", "reason": why}).Debug("entry cancelled")
	s.pending = nil
}

// openFromPending fills the pending order at entryPx. It returns false and
// leaves the order in place when the fill is aborted; callers drop it.
func (s *runState) openFromPending(entryPx float64, kind execution.OrderKind) bool {
	p := s.pending
	planned := math.Max(riskFloor, p.plannedRisk)

	if s.slipExceeded(math.Abs(entryPx-p.entry) / planned) {
		s.diag.FillAborted++
		s.log.WithFields(logrus.Fields{"event": "fill.abort", "price": entryPx}).Debug("slip guard")
		return false
	}

	stop := p.stop
	if s.cfg.ReanchorStopOnFill {
		stop = entryPx - p.side.Dir()*planned
	}

	size := risk.PositionSize(risk.Inputs{
		Equity:       s.equity,
		Entry:        entryPx,
		Stop:         stop,
		RiskFraction: p.riskFrac,
	}, s.cfg.Sizing)
	if size <= 0 || size < s.cfg.Sizing.MinQty {
		s.diag.FillAborted++
		s.log.WithFields(logrus.Fields{"event": "fill.abort", "price": entryPx}).Debug("size below minimum")
		return false
	}

	fill := execution.ApplyFill(entryPx, p.side, s.cfg.Costs, kind)

	initRisk := math.Abs(entryPx - stop)
	if initRisk == 0 {
		initRisk = riskFloor
	}

	pos := &position{
		side:      p.side,
		entry:     entryPx,
		entryFill: fill.Price,
		stop:      stop,
		target:    p.target,
		openTime:  s.bar.Time,
		openIdx:   s.i,
		size:      size,
		baseSize:  size,
		entryFee:  fill.Fee(size),
		initRisk:  initRisk,
		signal:    p.signal,
	}
	if a := s.atrAt(s.i); a != nil {
		pos.entryATR = a
		pos.lastATR = a
	}

	s.open = pos
	s.pending = nil
	s.budget.AddTrade()
	s.diag.Filled++

	dollarRisk := risk.PlannedRisk(size, entryPx, stop)
	s.log.WithFields(logrus.Fields{
		"event":    "fill",
		"side":     pos.side,
		"kind":     kind,
		"qty":      size,
		"price":    fill.Price,
		"stop":     stop,
		"risk":     dollarRisk,
		"risk_pct": risk.RiskPct(dollarRisk, s.equity),
	}).Debug("position opened")
	return true
}

// manage runs the open-position rules for the current bar, ending with
// the OCO check.
func (s *runState) manage() {
	p := s.open
	c := s.bar
	dir := p.side.Dir()
	r := p.initRisk
	oco := s.cfg.OCO

	atrNow := s.atrAt(s.i)
	if atrNow != nil {
		p.lastATR = atrNow
	}

	var hiR, loR float64
	if p.side == market.Long {
		hiR = (c.High - p.entry) / r
		loR = (c.Low - p.entry) / r
	} else {
		hiR = (p.entry - c.Low) / r
		loR = (p.entry - c.High) / r
	}
	rNow := (c.Close - p.entry) * dir / r

	p.mfeR = math.Max(p.mfeR, hiR)
	p.maeR = math.Min(p.maeR, loR)

	if be := p.signal.BreakevenAtR; be > 0 && !p.beArmed && hiR >= be {
		p.stop = oco.Tighten(p.side, p.stop, p.entry, c.Close)
		p.beArmed = true
	}

	if tr := p.signal.TrailAfterR; tr > 0 && p.mfeR >= tr {
		p.stop = oco.Tighten(p.side, p.stop, c.Close-dir*r, c.Close)
	}

	if mt := s.cfg.MFETrail; mt.Enabled && p.mfeR >= mt.ArmR {
		lockR := math.Max(0, p.mfeR-math.Max(0, mt.GivebackR))
		p.stop = oco.Tighten(p.side, p.stop, p.entry+dir*lockR*r, c.Close)
	}

	if m := s.cfg.ATRTrail.Mult; m > 0 && atrNow != nil {
		p.stop = oco.Tighten(p.side, p.stop, c.Close-dir*(*atrNow)*m, c.Close)
	}

	s.volCut(atrNow, rNow)
	added := s.pyramid()
	if !added {
		s.scaleOut()
	}

	hit, px := execution.CheckOCO(p.side, p.stop, p.target, c, oco.Mode, oco.TieBreak)
	if hit == execution.HitNone {
		return
	}
	fill := execution.ApplyFill(px, p.side.Opposite(), s.cfg.Costs, hit.Kind())
	s.closeLeg(p.size, fill, hit.Reason())
	s.finish(hit.Reason())
}

func (s *runState) volCut(atrNow *float64, rNow float64) {
	p := s.open
	vs := s.cfg.VolScale
	if !vs.Enabled || p.volCutDone || atrNow == nil || p.entryATR == nil || *p.entryATR <= 0 {
		return
	}
	if p.size <= s.cfg.Sizing.MinQty {
		return
	}
	ratio := *atrNow / math.Max(1e-12, *p.entryATR)
	if ratio < vs.CutIfATRX || rNow >= vs.NoCutAboveR {
		return
	}
	qty := risk.RoundStep(p.size*vs.CutFrac, s.cfg.Sizing.QtyStep)
	if qty < s.cfg.Sizing.MinQty || qty <= 0 || qty >= p.size {
		return
	}

	fill := execution.ApplyFill(s.bar.Close, p.side.Opposite(), s.cfg.Costs, execution.Market)
	s.closeLeg(qty, fill, market.ExitScale)
	s.tightenToNetBreakeven()
	p.volCutDone = true
	s.diag.VolCuts++
}

// pyramid adds to the position at the next R multiple. It reports whether
// an add happened.
func (s *runState) pyramid() bool {
	p := s.open
	py := s.cfg.Pyramiding
	if !py.Enabled || p.adds >= py.MaxAdds {
		return false
	}

	next := p.adds + 1
	trigPx := p.entry + p.side.Dir()*py.AddAtR*float64(next)*p.initRisk

	if py.OnlyAfterBreakEven {
		atBE := (p.side == market.Long && p.stop >= p.entry) ||
			(p.side == market.Short && p.stop <= p.entry)
		if !atBE {
			return false
		}
	}
	if !execution.Touched(p.side, trigPx, s.bar, s.trig) {
		return false
	}

	qty := risk.RoundStep(p.baseSize*py.AddFrac, s.cfg.Sizing.QtyStep)
	if qty < s.cfg.Sizing.MinQty || qty <= 0 {
		return false
	}

	fill := execution.ApplyFill(trigPx, p.side, s.cfg.Costs, execution.Limit)
	newSize := p.size + qty
	p.entryFee += fill.Fee(qty)
	p.entryFill = (p.entryFill*p.size + fill.Price*qty) / newSize
	p.size = newSize
	p.adds = next
	s.diag.Adds++

	s.log.WithFields(logrus.Fields{
		"event": "pyramid.add",
		"qty":   qty,
		"price": fill.Price,
		"adds":  p.adds,
	}).Debug("added to position")
	return true
}

// scaleOut takes partial profit once and extends the target.
func (s *runState) scaleOut() {
	p := s.open
	so := s.cfg.ScaleOut
	if p.scaled || so.AtR <= 0 {
		return
	}

	dir := p.side.Dir()
	trigPx := p.entry + dir*so.AtR*p.initRisk
	if !execution.Touched(p.side, trigPx, s.bar, s.trig) {
		return
	}

	qty := risk.RoundStep(p.size*so.Frac, s.cfg.Sizing.QtyStep)
	if qty < s.cfg.Sizing.MinQty || qty <= 0 || qty >= p.size {
		return
	}

	fill := execution.ApplyFill(trigPx, p.side.Opposite(), s.cfg.Costs, execution.Limit)
	s.closeLeg(qty, fill, market.ExitScale)
	p.scaled = true
	p.target = p.entry + dir*so.FinalTargetR*p.initRisk
	s.tightenToNetBreakeven()
	p.beArmed = true
	s.diag.ScaleOuts++
}

// tightenToNetBreakeven moves the stop to where the remaining size would
// give back exactly the profit already realized on this position.
func (s *runState) tightenToNetBreakeven() {
	p := s.open
	if p == nil || p.size <= 0 || p.realized <= 0 {
		return
	}
	delta := math.Abs(p.realized / p.size)
	be := p.entryFill - p.side.Dir()*delta
	p.stop = s.cfg.OCO.Tighten(p.side, p.stop, be, s.bar.Close)
}

// exitMarket closes the whole position at the bar close.
func (s *runState) exitMarket(reason market.ExitReason) {
	p := s.open
	fill := execution.ApplyFill(s.bar.Close, p.side.Opposite(), s.cfg.Costs, execution.Market)
	s.closeLeg(p.size, fill, reason)
	s.finish(reason)
}

// finish clears the closed position and arms any cooldown.
func (s *runState) finish(reason market.ExitReason) {
	p := s.open
	switch reason {
	case market.ExitStop:
		s.cooldown = max(s.cooldown, s.cfg.PostLossCooldownBars)
		if s.cooldown == 0 {
			s.cooldown = p.signal.CooldownBars
		}
	case market.ExitTarget:
		if s.cooldown == 0 {
			s.cooldown = p.signal.CooldownBars
		}
	default:
		s.cooldown = p.signal.CooldownBars
	}
	s.exitedAt = s.i
	s.open = nil
}

// closeLeg realizes qty of the open position at fill. The entry fee still
// unallocated is charged pro rata to the size being closed, so a fully
// closed position is charged its whole entry fee exactly once.
func (s *runState) closeLeg(qty float64, fill execution.Fill, reason market.ExitReason) {
	p := s.open
	dir := p.side.Dir()

	gross := (fill.Price - p.entryFill) * dir * qty
	feePortion := (p.entryFee - p.feeAllocated) * qty / p.size
	p.feeAllocated += feePortion
	pnl := gross - feePortion - fill.Fee(qty)

	s.equity += pnl
	s.budget.AddPnL(pnl)
	s.curve = append(s.curve, market.EquitySample{Time: s.bar.Time, Equity: s.equity})

	leg := market.ClosedLeg{
		Symbol:     s.cfg.Symbol,
		Side:       p.side,
		Entry:      p.entry,
		EntryFill:  p.entryFill,
		Stop:       p.stop,
		TakeProfit: p.target,
		Size:       qty,
		OpenTime:   p.openTime,
		InitRisk:   p.initRisk,
		EntryATR:   p.entryATR,
		MFER:       p.mfeR,
		MAER:       p.maeR,
		Adds:       p.adds,
		Exit: market.Exit{
			Price:   fill.Price,
			Time:    s.bar.Time,
			Reason:  reason,
			PnL:     pnl,
			ExitATR: p.lastATR,
		},
	}
	s.legs = append(s.legs, leg)

	p.size -= qty
	p.realized += pnl

	s.log.WithFields(logrus.Fields{
		"event":  "leg.closed",
		"side":   p.side,
		"reason": reason,
		"qty":    qty,
		"price":  fill.Price,
		"pnl":    pnl,
		"equity": s.equity,
	}).Debug("leg closed")
}
