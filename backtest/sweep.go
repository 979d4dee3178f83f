package backtest

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/barsim/pricing"
)

// SweepCase is one parameter set of a sweep. NewStrategy is called once
// per case so strategies never share state across runs.
type SweepCase struct {
	Name        string
	Config      Config
	NewStrategy func() Strategy
}

// SweepResult pairs a case with its outcome. A failed case carries Err
// and leaves Result empty; it does not stop the other cases.
type SweepResult struct {
	Name   string
	Result Result
	Err    error
}

// Sweep runs every case over the same bars on at most workers goroutines
// and returns results in case order. Cases not yet started when ctx is
// cancelled are skipped and the context error is returned.
func Sweep(ctx context.Context, bars []pricing.Bar, cases []SweepCase, workers int, log *logrus.Logger) ([]SweepResult, error) {
	if workers < 1 {
		workers = 1
	}
	out := make([]SweepResult, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, c := range cases {
		i, c := i, c
		out[i].Name = c.Name
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i].Result, out[i].Err = runCase(bars, c, log)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}

func runCase(bars []pricing.Bar, c SweepCase, log *logrus.Logger) (Result, error) {
	if c.NewStrategy == nil {
		return Result{}, fmt.Errorf("sweep case %q: no strategy", c.Name)
	}
	e, err := NewEngine(c.Config, log)
	if err != nil {
		return Result{}, fmt.Errorf("sweep case %q: %w", c.Name, err)
	}
	res, err := e.Run(bars, c.NewStrategy())
	if err != nil {
		return Result{}, fmt.Errorf("sweep case %q: %w", c.Name, err)
	}
	return res, nil
}
