// Package store defines the local mirrors of feed inputs: price bars on
// disk, recommendation rows in SQLite, and a shared price-history cache.
// Backtest results are never stored.
package store

import (
	"context"
	"errors"

	"tickwise/internal/domain"
)

// ErrCacheMiss is returned by a cache tier that does not hold a ticker.
var ErrCacheMiss = errors.New("cache miss")

// BarStore persists and retrieves daily price bars per ticker.
type BarStore interface {
	// WriteBars merges bars into the ticker's stored history.
	WriteBars(ctx context.Context, ticker string, bars []domain.PriceBar) error

	// ReadBars returns the ticker's stored bars in date order, or
	// ErrCacheMiss when nothing is stored.
	ReadBars(ctx context.Context, ticker string) ([]domain.PriceBar, error)

	// ListTickers returns all tickers with stored bars.
	ListTickers(ctx context.Context) ([]string, error)
}

// RecommendationStore persists recommendation rows keyed by ticker and
// signal date.
type RecommendationStore interface {
	// SaveRecommendations inserts rows, keeping the first row stored for a
	// (ticker, date) pair. It returns the number of rows inserted.
	SaveRecommendations(ctx context.Context, recs []domain.RecommendationRecord) (int, error)

	// LoadRecommendations returns every stored row in insertion order.
	LoadRecommendations(ctx context.Context) ([]domain.RecommendationRecord, error)

	// LatestSnapshot returns the rows of the most recent signal date.
	LatestSnapshot(ctx context.Context) ([]domain.RecommendationRecord, error)
}
