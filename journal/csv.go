package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/barsim/market"
)

// LegHeader is the column layout of the leg log.
var LegHeader = []string{
	"time_open", "time_close", "side", "entry", "stop", "takeProfit", "exit", "reason",
	"size", "pnl", "R", "mfeR", "maeR", "adds", "entryATR", "exitATR",
}

var EquityHeader = []string{"time", "equity"}

// isoMillis is the ISO-8601 UTC layout used for every timestamp cell.
const isoMillis = "2006-01-02T15:04:05.000Z"

type CSVJournal struct {
	legs   *csv.Writer
	equity *csv.Writer
	files  []*os.File
}

// NewCSV creates (truncating) the leg and equity files. An empty
// equityPath skips the equity log.
func NewCSV(legsPath, equityPath string) (*CSVJournal, error) {
	lf, err := os.Create(legsPath)
	if err != nil {
		return nil, err
	}
	files := []*os.File{lf}

	var ew io.Writer
	if equityPath != "" {
		ef, err := os.Create(equityPath)
		if err != nil {
			lf.Close()
			return nil, err
		}
		files = append(files, ef)
		ew = ef
	}

	j, err := NewCSVWriter(lf, ew)
	if err != nil {
		for _, f := range files {
			f.Close()
		}
		return nil, err
	}
	j.files = files
	return j, nil
}

// NewCSVWriter writes the headers to legs and equity. A nil equity
// writer skips the equity log.
func NewCSVWriter(legs, equity io.Writer) (*CSVJournal, error) {
	j := &CSVJournal{legs: csv.NewWriter(legs)}
	if err := j.legs.Write(LegHeader); err != nil {
		return nil, err
	}
	j.legs.Flush()
	if err := j.legs.Error(); err != nil {
		return nil, err
	}

	if equity != nil {
		j.equity = csv.NewWriter(equity)
		if err := j.equity.Write(EquityHeader); err != nil {
			return nil, err
		}
		j.equity.Flush()
		if err := j.equity.Error(); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func (j *CSVJournal) RecordLeg(l market.ClosedLeg) error {
	if err := j.legs.Write(LegRow(l)); err != nil {
		return err
	}
	j.legs.Flush()
	return j.legs.Error()
}

func (j *CSVJournal) RecordEquity(e market.EquitySample) error {
	if j.equity == nil {
		return nil
	}
	err := j.equity.Write([]string{e.Time.UTC().Format(isoMillis), fixed(e.Equity, 2)})
	if err != nil {
		return err
	}
	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSVJournal) Close() error {
	var errs []error
	j.legs.Flush()
	errs = append(errs, j.legs.Error())
	if j.equity != nil {
		j.equity.Flush()
		errs = append(errs, j.equity.Error())
	}
	for _, f := range j.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

// LegRow formats one leg: prices 6dp, pnl 2dp, R values 3dp and empty
// ATR cells when no ATR was tracked.
func LegRow(l market.ClosedLeg) []string {
	return []string{
		l.OpenTime.UTC().Format(isoMillis),
		l.Exit.Time.UTC().Format(isoMillis),
		l.Side.String(),
		fixed(l.Entry, 6),
		fixed(l.Stop, 6),
		fixed(l.TakeProfit, 6),
		fixed(l.Exit.Price, 6),
		string(l.Exit.Reason),
		strconv.FormatFloat(l.Size, 'f', -1, 64),
		fixed(l.Exit.PnL, 2),
		fixed(l.RMultiple(), 3),
		fixed(l.MFER, 3),
		fixed(l.MAER, 3),
		strconv.Itoa(l.Adds),
		optional(l.EntryATR, 6),
		optional(l.Exit.ExitATR, 6),
	}
}

// fixed rounds half away from zero on the decimal value of x rather than
// its binary expansion.
func fixed(x float64, places int32) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return decimal.NewFromFloat(x).StringFixed(places)
}

func optional(x *float64, places int32) string {
	if x == nil || math.IsNaN(*x) {
		return ""
	}
	return fixed(*x, places)
}

var unsafeName = regexp.MustCompile(`[^-_.A-Za-z0-9]`)

// LegsFileName is the conventional leg log name for a run, for example
// trades-SPY-5m-60d.csv.
func LegsFileName(symbol, interval, period string) string {
	safe := func(s string) string { return unsafeName.ReplaceAllString(s, "_") }
	return fmt.Sprintf("trades-%s-%s-%s.csv", safe(symbol), safe(interval), safe(period))
}

// ReadLegsCSV parses a leg log written by CSVJournal. Fields the log does
// not carry (entry fill, initial risk) are left zero.
func ReadLegsCSV(r io.Reader) ([]market.ClosedLeg, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows[0]) != len(LegHeader) || rows[0][0] != LegHeader[0] {
		return nil, fmt.Errorf("leg log: unexpected header %v", rows[0])
	}

	out := make([]market.ClosedLeg, 0, len(rows)-1)
	for n, row := range rows[1:] {
		l, err := parseLegRow(row)
		if err != nil {
			return nil, fmt.Errorf("leg log row %d: %w", n+2, err)
		}
		out = append(out, l)
	}
	return out, nil
}

func parseLegRow(row []string) (market.ClosedLeg, error) {
	var (
		l    market.ClosedLeg
		errs []error
	)
	tm := func(s string) time.Time {
		t, err := time.Parse(time.RFC3339Nano, s)
		errs = append(errs, err)
		return t
	}
	fl := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		errs = append(errs, err)
		return v
	}
	opt := func(s string) *float64 {
		if s == "" {
			return nil
		}
		v := fl(s)
		return &v
	}

	l.OpenTime = tm(row[0])
	l.Exit.Time = tm(row[1])
	side, err := market.ParseSide(row[2])
	errs = append(errs, err)
	l.Side = side
	l.Entry = fl(row[3])
	l.Stop = fl(row[4])
	l.TakeProfit = fl(row[5])
	l.Exit.Price = fl(row[6])
	reason, err := market.ParseExitReason(row[7])
	errs = append(errs, err)
	l.Exit.Reason = reason
	l.Size = fl(row[8])
	l.Exit.PnL = fl(row[9])
	l.MFER = fl(row[11])
	l.MAER = fl(row[12])
	adds, err := strconv.Atoi(row[13])
	errs = append(errs, err)
	l.Adds = adds
	l.EntryATR = opt(row[14])
	l.Exit.ExitATR = opt(row[15])
	return l, errors.Join(errs...)
}
