package data

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/barsim/internal/logging"
	"github.com/rustyeddy/barsim/pricing"
)

// estNoDST is the fixed UTC-5 clock of Dukascopy exports.
var estNoDST = time.FixedZone("EST", -5*60*60)

const dukasLayout = "20060102 150405"

// CSVSource reads <Dir>/<SYMBOL>_<interval>.csv. Rows are
// time,open,high,low,close[,volume] separated by commas or semicolons.
// The time column may be RFC3339, unix milliseconds or the Dukascopy
// "20060102 150405" format.
type CSVSource struct {
	Dir string
	Log *logrus.Logger
}

var _ Source = (*CSVSource)(nil)

func (s *CSVSource) Path(symbol, interval string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s_%s.csv", strings.ToUpper(symbol), interval))
}

func (s *CSVSource) FetchHistorical(ctx context.Context, symbol, interval, period string) ([]pricing.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.Path(symbol, interval)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, skipped, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log := s.Log
	if log == nil {
		log = logging.Discard()
	}
	if skipped > 0 {
		logging.Component(log, "data").WithFields(logrus.Fields{
			"file":    path,
			"skipped": skipped,
		}).Warn("unparseable rows skipped")
	}
	return prepare(raw, period)
}

// ReadCSV parses bar rows from r. A header row is skipped, as are rows
// that cannot be parsed; their count is returned as skipped.
func ReadCSV(r io.Reader) (bars []pricing.Bar, skipped int, err error) {
	br := bufio.NewReader(r)
	cr := csv.NewReader(br)
	cr.Comma = sniffComma(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, err
		}
		if first {
			first = false
			if isHeader(rec) {
				continue
			}
		}
		b, ok := parseRow(rec)
		if !ok {
			skipped++
			continue
		}
		bars = append(bars, b)
	}
	return bars, skipped, nil
}

// sniffComma picks ';' when the first line has more semicolons than
// commas.
func sniffComma(br *bufio.Reader) rune {
	head, _ := br.Peek(512)
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if bytes.Count(head, []byte(";")) > bytes.Count(head, []byte(",")) {
		return ';'
	}
	return ','
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	h := strings.ToLower(strings.TrimSpace(rec[0]))
	return h == "time" || h == "timestamp" || h == "date" || h == "datetime"
}

func parseRow(rec []string) (pricing.Bar, bool) {
	if len(rec) < 5 {
		return pricing.Bar{}, false
	}
	t, err := ParseTime(rec[0])
	if err != nil {
		return pricing.Bar{}, false
	}
	var v [5]float64
	n := min(len(rec)-1, 5)
	for i := 0; i < n; i++ {
		x, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return pricing.Bar{}, false
		}
		v[i] = x
	}
	return pricing.Bar{Time: t, Open: v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4]}, true
}

// ParseTime accepts RFC3339, unix milliseconds or the Dukascopy layout.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(dukasLayout, s, estNoDST); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// WriteCSV writes bars in the comma separated layout ReadCSV expects.
func WriteCSV(w io.Writer, bars []pricing.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	f := func(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
	for _, b := range bars {
		err := cw.Write([]string{b.Time.UTC().Format(time.RFC3339), f(b.Open), f(b.High), f(b.Low), f(b.Close), f(b.Volume)})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
