// Package journal persists closed legs, equity samples and run
// summaries as CSV files or in SQLite.
package journal

import (
	"errors"

	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/pkg/id"
)

// Journal receives legs and equity samples as they are produced.
type Journal interface {
	RecordLeg(market.ClosedLeg) error
	RecordEquity(market.EquitySample) error
	Close() error
}

// WriteAll records every leg and then every equity sample.
func WriteAll(j Journal, legs []market.ClosedLeg, equity []market.EquitySample) error {
	var errs []error
	for _, l := range legs {
		if err := j.RecordLeg(l); err != nil {
			errs = append(errs, err)
			break
		}
	}
	for _, e := range equity {
		if err := j.RecordEquity(e); err != nil {
			errs = append(errs, err)
			break
		}
	}
	return errors.Join(errs...)
}

// legID returns l.ID, minting one from the exit time when empty.
func legID(l market.ClosedLeg) string {
	if l.ID != "" {
		return l.ID
	}
	return id.At(l.Exit.Time)
}
