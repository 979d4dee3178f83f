package data

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/rustyeddy/barsim/pricing"
)

// BarRecord is the on-disk Parquet schema for one bar.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// ParquetStore keeps one file per symbol and interval at
// <Dir>/<SYMBOL>/<interval>.parquet.
type ParquetStore struct {
	Dir string
}

var _ Source = (*ParquetStore)(nil)

func NewParquetStore(dir string) *ParquetStore {
	return &ParquetStore{Dir: dir}
}

func (s *ParquetStore) Path(symbol, interval string) string {
	return filepath.Join(s.Dir, strings.ToUpper(symbol), interval+".parquet")
}

func (s *ParquetStore) FetchHistorical(ctx context.Context, symbol, interval, period string) ([]pricing.Bar, error) {
	bars, err := s.ReadBars(ctx, symbol, interval)
	if err != nil {
		return nil, err
	}
	return prepare(bars, period)
}

// ReadBars returns every stored bar for symbol and interval in file order.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol, interval string) ([]pricing.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := readParquetFile[BarRecord](s.Path(symbol, interval))
	if err != nil {
		return nil, err
	}
	out := make([]pricing.Bar, len(recs))
	for i, r := range recs {
		out[i] = pricing.Bar{
			Time:   time.UnixMilli(r.Timestamp).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return out, nil
}

// WriteBars merges bars into the stored file. Incoming bars replace
// stored bars with the same timestamp.
func (s *ParquetStore) WriteBars(ctx context.Context, symbol, interval string, bars []pricing.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sym := strings.ToUpper(symbol)
	path := s.Path(sym, interval)

	var existing []BarRecord
	if _, err := os.Stat(path); err == nil {
		existing, err = readParquetFile[BarRecord](path)
		if err != nil {
			return fmt.Errorf("reading existing %s: %w", path, err)
		}
	}

	incoming := make([]BarRecord, 0, len(bars))
	for _, b := range pricing.Sanitize(bars) {
		incoming = append(incoming, BarRecord{
			Symbol:    sym,
			Timestamp: b.Time.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return writeParquetFile(path, mergeBarRecords(existing, incoming))
}

// mergeBarRecords de-duplicates by timestamp, preferring incoming rows.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}
	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}
