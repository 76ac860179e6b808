package barstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"jupitor/internal/domain"
)

// Compile-time interface check.
var _ Store = (*ParquetStore)(nil)

// ParquetStore implements Store using Parquet files on disk, one file per
// (instrument, year), following the teacher's ParquetStore layout.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// BarRecord is the on-disk Parquet schema for a 1-minute OHLCV bar.
type BarRecord struct {
	Instrument string  `parquet:"instrument"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
}

// WriteBars writes bars for instrument, merging with any existing bars for
// the affected (instrument, year) files. Duplicate (instrument, timestamp)
// pairs are resolved in favor of the incoming write, matching the bar
// store's write-time UNIQUE(instrument, ts) contract.
func (s *ParquetStore) WriteBars(_ context.Context, instrument string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	byYear := make(map[int][]BarRecord)
	for _, b := range bars {
		year := b.Timestamp.Year()
		byYear[year] = append(byYear[year], BarRecord{
			Instrument: instrument,
			Timestamp:  b.Timestamp.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
		})
	}

	for year, records := range byYear {
		path := s.barPath(instrument, year)
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", instrument, year, err)
		}
	}
	return nil
}

// ReadBars reads bars for instrument within [start, end], session-filtered
// and sorted ascending by timestamp.
func (s *ParquetStore) ReadBars(_ context.Context, instrument string, start, end time.Time) ([]domain.Bar, error) {
	startYear, endYear := start.Year(), end.Year()
	if start.IsZero() {
		startYear = 1970
	}
	if end.IsZero() {
		endYear = time.Now().Year()
	}

	var bars []domain.Bar
	for year := startYear; year <= endYear; year++ {
		path := s.barPath(instrument, year)
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			continue // no file for this year
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if !start.IsZero() && ts.Before(start) {
				continue
			}
			if !end.IsZero() && ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Timestamp: ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
			})
		}
	}
	return filterSession(bars), nil
}

// ListInstruments lists every instrument with at least one bar file.
func (s *ParquetStore) ListInstruments(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "bars")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var instruments []string
	for _, e := range entries {
		if e.IsDir() {
			instruments = append(instruments, e.Name())
		}
	}
	sort.Strings(instruments)
	return instruments, nil
}

// barPath returns the filesystem path for one (instrument, year) file:
// <DataDir>/bars/<INSTRUMENT>/<YYYY>.parquet
func (s *ParquetStore) barPath(instrument string, year int) string {
	return filepath.Join(s.DataDir, "bars", strings.ToUpper(instrument), fmt.Sprintf("%d.parquet", year))
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

// mergeBarRecords deduplicates bar records by (instrument, timestamp),
// preferring incoming records over existing ones, sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		instrument string
		ts         int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Instrument, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Instrument, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged
}
