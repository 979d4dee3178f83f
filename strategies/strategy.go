// Package strategies holds reference signal generators for the backtest
// engine.
package strategies

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rustyeddy/barsim/backtest"
)

// Config selects a strategy by name and carries its parameters.
type Config struct {
	Name     string          `yaml:"name" json:"name"`
	EMACross EMACrossConfig  `yaml:"ema_cross" json:"ema_cross"`
	Script   []ScriptedEntry `yaml:"script,omitempty" json:"script,omitempty"`
}

type factory func(Config) (backtest.Strategy, error)

var registry = map[string]factory{
	"ema_cross": func(c Config) (backtest.Strategy, error) {
		s, err := NewEMACross(c.EMACross)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
	"scripted": func(c Config) (backtest.Strategy, error) {
		s, err := NewScripted(c.Script)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
	"noop": func(Config) (backtest.Strategy, error) { return Noop{}, nil },
}

// New builds the strategy named by cfg.Name. Each call returns a fresh
// instance with its own state.
func New(cfg Config) (backtest.Strategy, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == "" {
		name = "ema_cross"
	}
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (have %s)", cfg.Name, strings.Join(Names(), ", "))
	}
	return f(cfg)
}

// Names lists the registered strategies.
func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
