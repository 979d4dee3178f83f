package strategies

import (
	"github.com/rustyeddy/barsim/backtest"
	"github.com/rustyeddy/barsim/market"
)

// Noop never signals.
type Noop struct{}

func (Noop) Name() string { return "noop" }
func (Noop) Reset()       {}

func (Noop) OnBar(*backtest.SignalContext) (*market.Signal, error) {
	return nil, nil
}
