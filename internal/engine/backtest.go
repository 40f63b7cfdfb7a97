// Package engine runs backtests: it chains positions from ranked entry
// signals through exit rules and aggregates the resulting legs.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tickwise/internal/datekey"
	"tickwise/internal/domain"
	"tickwise/internal/exitrule"
	"tickwise/internal/feed"
	"tickwise/internal/series"
	"tickwise/internal/signal"
)

// DefaultFetchWorkers bounds concurrent price-history fetches.
const DefaultFetchWorkers = 8

// Backtester replays the recommendation history against fetched price
// histories. Fetches fan out over a bounded worker pool; the simulation
// itself runs on the calling goroutine once every fetch has returned.
type Backtester struct {
	prices  feed.PriceProvider
	workers int
	now     func() time.Time
	log     zerolog.Logger
}

// NewBacktester creates a Backtester reading price histories from prices.
func NewBacktester(prices feed.PriceProvider, workers int, log zerolog.Logger) *Backtester {
	if workers < 1 {
		workers = DefaultFetchWorkers
	}
	return &Backtester{
		prices:  prices,
		workers: workers,
		now:     time.Now,
		log:     log.With().Str("component", "backtest").Logger(),
	}
}

// SetClock replaces the clock the lookback anchor is computed from.
func (bt *Backtester) SetClock(now func() time.Time) { bt.now = now }

// Run executes one backtest over history with params p. Unavailable data
// only shrinks the result; the returned error is limited to invalid
// parameters and context cancellation.
func (bt *Backtester) Run(ctx context.Context, history []domain.RecommendationRecord, p Params) (*domain.BacktestResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	table := signal.Select(history, p.signalOptions())
	target, err := datekey.AddDays(bt.now(), -p.LookbackDays)
	if err != nil {
		return nil, err
	}
	anchor := table.ResolveAnchor(target)
	picks := table.TopK(anchor, p.TopK)

	empty := &domain.BacktestResult{AnchorDate: anchor, LookbackDays: p.LookbackDays, TopK: p.TopK}
	if len(picks) == 0 {
		bt.log.Info().Str("target", target).Msg("no entry signals")
		return empty, nil
	}

	tickers := candidateTickers(picks, table.TickersFrom(anchor))
	indexes := bt.fetchAll(ctx, tickers)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chainer := NewChainer(indexes, series.TechIndexes(history), exitrule.NewEvaluator(p.Config), table, p.MaxLegs, picks)
	chains := chainer.RunAll(picks)

	res := Aggregate(chains, indexes, anchor)
	res.LookbackDays = p.LookbackDays
	res.TopK = p.TopK

	bt.log.Info().
		Str("anchor", anchor).
		Int("picks", len(picks)).
		Int("candidates", len(tickers)).
		Int("fetched", len(indexes)).
		Int("sample", res.Sample).
		Int("trades", res.TradesCount).
		Float64("avg", res.Avg).
		Msg("backtest complete")
	return res, nil
}

// candidateTickers is every ticker a chain could hold: the picks plus every
// ticker signalled on or after the anchor.
func candidateTickers(picks []domain.Pick, later []string) []string {
	set := make(map[string]struct{}, len(picks)+len(later))
	for _, p := range picks {
		set[p.Ticker()] = struct{}{}
	}
	for _, t := range later {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// fetchAll loads and indexes the price history of every ticker. A failed
// fetch is logged and leaves that ticker out of the map.
func (bt *Backtester) fetchAll(ctx context.Context, tickers []string) map[string]*series.PriceIndex {
	indexes := make([]*series.PriceIndex, len(tickers))
	sem := make(chan struct{}, bt.workers)

	g, gctx := errgroup.WithContext(ctx)
	for i, ticker := range tickers {
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			if gctx.Err() != nil {
				return nil
			}

			bars, err := bt.prices.PriceHistory(gctx, ticker)
			if err != nil {
				bt.log.Warn().Err(err).Str("ticker", ticker).Msg("price history unavailable")
				return nil // skip missing data
			}
			indexes[i] = series.NewPriceIndex(bars)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]*series.PriceIndex, len(tickers))
	for i, idx := range indexes {
		if idx != nil {
			out[tickers[i]] = idx
		}
	}
	return out
}
