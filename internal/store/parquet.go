package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"kestrel/internal/domain"
	"kestrel/internal/features"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ FeatureStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore and FeatureStore using Parquet files on
// disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// FeatureRecord is the Parquet schema for indicator frames, stored in long
// form (one row per cell) so the column set can evolve without a schema
// migration.
type FeatureRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Column    string  `parquet:"column"`
	Value     float64 `parquet:"value"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
//
// Existing records for the same (symbol, timestamp) are replaced.
func (s *ParquetStore) WriteBars(_ context.Context, market domain.Market, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:     k.symbol,
			Timestamp:  b.Timestamp.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, k.year)

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data for the given symbol and time range, sorted
// ascending by date. Years without a data file are skipped.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)

	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[BarRecord](s.barPath(symbol, market, year))
		if err != nil {
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if inRange(ts, start, end) {
				bars = append(bars, domain.Bar{
					Symbol:     r.Symbol,
					Timestamp:  ts,
					Open:       r.Open,
					High:       r.High,
					Low:        r.Low,
					Close:      r.Close,
					Volume:     r.Volume,
					TradeCount: r.TradeCount,
					VWAP:       r.VWAP,
				})
			}
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market domain.Market) ([]string, error) {
	dir := filepath.Join(s.DataDir, string(market), "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// FeatureStore implementation
// ---------------------------------------------------------------------------

// WriteFeatures writes a feature frame to Parquet files organized by symbol
// and year at:
//
//	<DataDir>/features/<SYMBOL>/<YYYY>.parquet
//
// Existing cells for the same (timestamp, column) are replaced.
func (s *ParquetStore) WriteFeatures(_ context.Context, frame *features.Frame) error {
	if frame.Len() == 0 {
		return nil
	}
	symbol := strings.ToUpper(frame.Symbol)
	names := frame.Columns()

	groups := make(map[int][]FeatureRecord)
	for i, date := range frame.Dates {
		row, err := frame.Row(i, names)
		if err != nil {
			return err
		}
		for j, name := range names {
			groups[date.Year()] = append(groups[date.Year()], FeatureRecord{
				Symbol:    symbol,
				Timestamp: date.UnixMilli(),
				Column:    name,
				Value:     row[j],
			})
		}
	}

	for year, records := range groups {
		path := s.featurePath(symbol, year)

		existing, _ := readParquetFile[FeatureRecord](path)
		merged := mergeFeatureRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing features for %s/%d: %w", symbol, year, err)
		}
	}
	return nil
}

// ReadFeatures reconstructs the feature frame for the given symbol and time
// range. Columns come back in name order; rows ascend by date.
func (s *ParquetStore) ReadFeatures(_ context.Context, symbol string, start, end time.Time) (*features.Frame, error) {
	symbol = strings.ToUpper(symbol)

	cells := make(map[int64]map[string]float64)
	nameSet := make(map[string]struct{})
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[FeatureRecord](s.featurePath(symbol, year))
		if err != nil {
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if !inRange(ts, start, end) {
				continue
			}
			row, ok := cells[r.Timestamp]
			if !ok {
				row = make(map[string]float64)
				cells[r.Timestamp] = row
			}
			row[r.Column] = r.Value
			nameSet[r.Column] = struct{}{}
		}
	}

	stamps := make([]int64, 0, len(cells))
	for ts := range cells {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	names := make([]string, 0, len(nameSet))
	for n := range nameSet {
		names = append(names, n)
	}
	sort.Strings(names)

	dates := make([]time.Time, len(stamps))
	for i, ts := range stamps {
		dates[i] = time.UnixMilli(ts).UTC()
	}
	frame := features.NewFrame(symbol, dates)
	for _, name := range names {
		vals := make([]float64, len(stamps))
		for i, ts := range stamps {
			vals[i] = cells[ts][name]
		}
		if err := frame.AddColumn(name, vals); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, market domain.Market, year int) string {
	return filepath.Join(s.DataDir, string(market), "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// featurePath returns the filesystem path for a feature Parquet file.
// Layout: <dataDir>/features/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) featurePath(symbol string, year int) string {
	return filepath.Join(s.DataDir, "features", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
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

// mergeFeatureRecords deduplicates feature cells by (timestamp, column),
// preferring new records over existing ones.
func mergeFeatureRecords(existing, incoming []FeatureRecord) []FeatureRecord {
	type key struct {
		ts     int64
		column string
	}
	seen := make(map[key]FeatureRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Timestamp, r.Column}] = r
	}
	for _, r := range incoming {
		seen[key{r.Timestamp, r.Column}] = r
	}

	merged := make([]FeatureRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].Column < merged[j].Column
	})
	return merged
}

func inRange(ts, start, end time.Time) bool {
	return (ts.Equal(start) || ts.After(start)) && (ts.Equal(end) || ts.Before(end))
}
