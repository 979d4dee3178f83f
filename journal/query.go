package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/barsim/market"
)

const runColumns = `run_id, created, symbol, interval, dataset, strategy, config, risk_pct,
	start_time, end_time, start_equity, final_equity, metrics, notes`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunSummary, error) {
	var (
		s             RunSummary
		config, notes string
		metricsText   string
		start, end    sql.NullTime
	)
	err := row.Scan(&s.RunID, &s.Created, &s.Symbol, &s.Interval, &s.Dataset, &s.Strategy, &config,
		&s.RiskPct, &start, &end, &s.StartEquity, &s.FinalEquity, &metricsText, &notes)
	if err != nil {
		return RunSummary{}, err
	}
	s.Config = []byte(config)
	s.Start, s.End = start.Time, end.Time
	if notes != "" {
		s.Notes = strings.Split(notes, "\n")
	}
	if err := yaml.Unmarshal([]byte(metricsText), &s.Metrics); err != nil {
		return RunSummary{}, fmt.Errorf("decode metrics of run %s: %w", s.RunID, err)
	}
	return s, nil
}

// GetRun returns one stored run summary.
func (j *SQLite) GetRun(ctx context.Context, runID string) (RunSummary, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	s, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, fmt.Errorf("run %q not found", runID)
	}
	return s, err
}

// ListRuns returns stored runs newest first, optionally limited to one
// symbol.
func (j *SQLite) ListRuns(ctx context.Context, symbol string) ([]RunSummary, error) {
	q := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if symbol != "" {
		q += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	q += ` ORDER BY run_id DESC`

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		s, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListLegs returns the legs of a run in the order they closed.
func (j *SQLite) ListLegs(ctx context.Context, runID string) ([]market.ClosedLeg, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT leg_id, symbol, side, entry, entry_fill, stop, take_profit, size,
		       open_time, init_risk, entry_atr, mfe_r, mae_r, adds,
		       exit_price, exit_time, reason, pnl, exit_atr
		FROM legs
		WHERE run_id = ?
		ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.ClosedLeg
	for rows.Next() {
		var (
			l                 market.ClosedLeg
			side, reason      string
			entryATR, exitATR sql.NullFloat64
		)
		if err := rows.Scan(
			&l.ID, &l.Symbol, &side, &l.Entry, &l.EntryFill, &l.Stop, &l.TakeProfit, &l.Size,
			&l.OpenTime, &l.InitRisk, &entryATR, &l.MFER, &l.MAER, &l.Adds,
			&l.Exit.Price, &l.Exit.Time, &reason, &l.Exit.PnL, &exitATR,
		); err != nil {
			return nil, err
		}
		if l.Side, err = market.ParseSide(side); err != nil {
			return nil, err
		}
		if l.Exit.Reason, err = market.ParseExitReason(reason); err != nil {
			return nil, err
		}
		l.EntryATR = fromNull(entryATR)
		l.Exit.ExitATR = fromNull(exitATR)
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListEquity returns the equity samples of a run in recording order.
func (j *SQLite) ListEquity(ctx context.Context, runID string) ([]market.EquitySample, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT time, equity FROM equity WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.EquitySample
	for rows.Next() {
		var (
			e  market.EquitySample
			ts time.Time
		)
		if err := rows.Scan(&ts, &e.Equity); err != nil {
			return nil, err
		}
		e.Time = ts.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	x := v.Float64
	return &x
}
