package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/pkg/id"
)

var ErrNoRun = errors.New("journal: no run started")

// SQLite stores runs with their legs and equity curves. Legs and
// samples passed to RecordLeg and RecordEquity belong to the run opened
// by the last BeginRun.
type SQLite struct {
	db *sql.DB

	mu     sync.Mutex
	runID  string
	legSeq int
	eqSeq  int
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// BeginRun inserts s (assigning a run id when empty) and directs later
// RecordLeg and RecordEquity calls to it.
func (j *SQLite) BeginRun(ctx context.Context, s *RunSummary) error {
	if s.RunID == "" {
		s.RunID = id.New()
	}
	if err := insertRun(ctx, j.db, *s); err != nil {
		return err
	}
	j.mu.Lock()
	j.runID, j.legSeq, j.eqSeq = s.RunID, 0, 0
	j.mu.Unlock()
	return nil
}

func (j *SQLite) RecordLeg(l market.ClosedLeg) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.runID == "" {
		return ErrNoRun
	}
	if err := insertLeg(context.Background(), j.db, j.runID, j.legSeq, l); err != nil {
		return err
	}
	j.legSeq++
	return nil
}

func (j *SQLite) RecordEquity(e market.EquitySample) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.runID == "" {
		return ErrNoRun
	}
	if err := insertEquity(context.Background(), j.db, j.runID, j.eqSeq, e); err != nil {
		return err
	}
	j.eqSeq++
	return nil
}

// RecordRun stores a complete run in one transaction and returns its id.
func (j *SQLite) RecordRun(ctx context.Context, s RunSummary, legs []market.ClosedLeg, equity []market.EquitySample) (string, error) {
	if s.RunID == "" {
		s.RunID = id.New()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if err := insertRun(ctx, tx, s); err != nil {
		return "", err
	}
	for i, l := range legs {
		if err := insertLeg(ctx, tx, s.RunID, i, l); err != nil {
			return "", err
		}
	}
	for i, e := range equity {
		if err := insertEquity(ctx, tx, s.RunID, i, e); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return s.RunID, nil
}

func insertRun(ctx context.Context, db execer, s RunSummary) error {
	m, err := yaml.Marshal(s.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	created := s.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, created, symbol, interval, dataset, strategy, config, risk_pct,
		 start_time, end_time, start_equity, final_equity, trades, legs, metrics, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, created, s.Symbol, s.Interval, s.Dataset, s.Strategy, string(s.Config), s.RiskPct,
		s.Start, s.End, s.StartEquity, s.FinalEquity, s.Metrics.Trades, s.Metrics.Legs,
		string(m), strings.Join(s.Notes, "\n"),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", s.RunID, err)
	}
	return nil
}

func insertLeg(ctx context.Context, db execer, runID string, seq int, l market.ClosedLeg) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO legs
		(leg_id, run_id, seq, symbol, side, entry, entry_fill, stop, take_profit, size,
		 open_time, init_risk, entry_atr, mfe_r, mae_r, adds,
		 exit_price, exit_time, reason, pnl, exit_atr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		legID(l), runID, seq, l.Symbol, l.Side.String(), l.Entry, l.EntryFill, l.Stop, l.TakeProfit, l.Size,
		l.OpenTime, l.InitRisk, nullable(l.EntryATR), l.MFER, l.MAER, l.Adds,
		l.Exit.Price, l.Exit.Time, string(l.Exit.Reason), l.Exit.PnL, nullable(l.Exit.ExitATR),
	)
	if err != nil {
		return fmt.Errorf("insert leg %d of run %s: %w", seq, runID, err)
	}
	return nil
}

func insertEquity(ctx context.Context, db execer, runID string, seq int, e market.EquitySample) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO equity (run_id, seq, time, equity) VALUES (?, ?, ?, ?)`,
		runID, seq, e.Time, e.Equity)
	return err
}

func nullable(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
