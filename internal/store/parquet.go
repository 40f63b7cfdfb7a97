package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tickwise/internal/datekey"
	"tickwise/internal/domain"
	"tickwise/internal/feed"
)

// Compile-time interface checks.
var (
	_ BarStore           = (*ParquetStore)(nil)
	_ feed.PriceProvider = (*ParquetStore)(nil)
)

// ParquetStore implements BarStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data. Missing prices are
// stored as NaN.
type BarRecord struct {
	Ticker    string  `parquet:"ticker"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // UTC midnight, Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

func recordFromBar(ticker string, b domain.PriceBar, day time.Time) BarRecord {
	return BarRecord{
		Ticker:    ticker,
		Timestamp: day.UnixMilli(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

func (r BarRecord) bar() domain.PriceBar {
	return domain.PriceBar{
		Date:   datekey.FromTime(time.UnixMilli(r.Timestamp)),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars to Parquet files organized by ticker and year,
// merging with what is already on disk. Each ticker+year produces a file at:
//
//	<DataDir>/daily/<TICKER>/<YYYY>.parquet
//
// Bars with an unparseable date are skipped.
func (s *ParquetStore) WriteBars(_ context.Context, ticker string, bars []domain.PriceBar) error {
	ticker = strings.ToUpper(ticker)
	if ticker == "" || len(bars) == 0 {
		return nil
	}

	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		day, err := datekey.Parse(b.Date)
		if err != nil {
			continue
		}
		groups[day.Year()] = append(groups[day.Year()], recordFromBar(ticker, b, day))
	}

	for year, records := range groups {
		path := s.barPath(ticker, year)

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", ticker, year, err)
		}
	}
	return nil
}

// ReadBars reads every year file of ticker.
func (s *ParquetStore) ReadBars(_ context.Context, ticker string) ([]domain.PriceBar, error) {
	ticker = strings.ToUpper(ticker)
	years, err := s.years(ticker)
	if err != nil {
		return nil, err
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("parquet %s: %w", ticker, ErrCacheMiss)
	}

	var bars []domain.PriceBar
	for _, year := range years {
		records, err := readParquetFile[BarRecord](s.barPath(ticker, year))
		if err != nil {
			return nil, fmt.Errorf("reading %s/%d: %w", ticker, year, err)
		}
		for _, r := range records {
			bars = append(bars, r.bar())
		}
	}
	return bars, nil
}

// PriceHistory serves stored bars as a price provider for offline runs. A
// ticker with nothing stored reports feed.ErrNotFound.
func (s *ParquetStore) PriceHistory(ctx context.Context, ticker string) ([]domain.PriceBar, error) {
	bars, err := s.ReadBars(ctx, ticker)
	if errors.Is(err, ErrCacheMiss) {
		return nil, fmt.Errorf("parquet %s: %w", strings.ToUpper(ticker), feed.ErrNotFound)
	}
	return bars, err
}

// ListTickers lists all tickers that have bar data.
func (s *ParquetStore) ListTickers(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "daily"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var tickers []string
	for _, e := range entries {
		if e.IsDir() {
			tickers = append(tickers, e.Name())
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

// years returns the sorted years with a file for ticker.
func (s *ParquetStore) years(ticker string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "daily", ticker))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var years []int
	for _, e := range entries {
		var y int
		if _, err := fmt.Sscanf(e.Name(), "%d.parquet", &y); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/daily/<TICKER>/<YYYY>.parquet
func (s *ParquetStore) barPath(ticker string, year int) string {
	return filepath.Join(s.DataDir, "daily", strings.ToUpper(ticker), fmt.Sprintf("%d.parquet", year))
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

// mergeBarRecords deduplicates bar records by timestamp, preferring new
// records over existing ones. Results are sorted by timestamp.
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
