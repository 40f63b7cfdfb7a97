package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"

	"tickwise/internal/datekey"
	"tickwise/internal/domain"
)

// AlpacaConfig configures daily-bar access to the Alpaca market-data API.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	DataURL   string
	// Feed is the bar feed, "sip" or "iex".
	Feed string
	// Years of history requested per ticker.
	Years int
}

// AlpacaPrices serves price histories from Alpaca daily bars instead of the
// per-ticker JSON feed.
type AlpacaPrices struct {
	client *marketdata.Client
	feed   string
	years  int
	now    func() time.Time
	log    zerolog.Logger
}

// NewAlpacaPrices creates an AlpacaPrices provider.
func NewAlpacaPrices(cfg AlpacaConfig, log zerolog.Logger) *AlpacaPrices {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	feed := cfg.Feed
	if feed == "" {
		feed = "iex"
	}
	years := cfg.Years
	if years < 1 {
		years = 2
	}
	return &AlpacaPrices{
		client: marketdata.NewClient(opts),
		feed:   feed,
		years:  years,
		now:    time.Now,
		log:    log.With().Str("component", "alpaca").Logger(),
	}
}

// PriceHistory fetches the daily bars of ticker.
func (a *AlpacaPrices) PriceHistory(ctx context.Context, ticker string) ([]domain.PriceBar, error) {
	all, err := a.PriceHistories(ctx, []string{ticker})
	if err != nil {
		return nil, err
	}
	bars, ok := all[strings.ToUpper(ticker)]
	if !ok || len(bars) == 0 {
		return nil, fmt.Errorf("alpaca %s: %w", ticker, ErrNotFound)
	}
	return bars, nil
}

// PriceHistories fetches the daily bars of several tickers in one call.
// Tickers without bars are absent from the result.
func (a *AlpacaPrices) PriceHistories(ctx context.Context, tickers []string) (map[string][]domain.PriceBar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	symbols := make([]string, len(tickers))
	for i, t := range tickers {
		symbols[i] = strings.ToUpper(strings.TrimSpace(t))
	}

	end := a.now()
	start := end.AddDate(-a.years, 0, 0)
	multiBars, err := a.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      a.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	out := make(map[string][]domain.PriceBar, len(multiBars))
	for symbol, alpacaBars := range multiBars {
		bars := make([]domain.PriceBar, 0, len(alpacaBars))
		for _, ab := range alpacaBars {
			bars = append(bars, barFromAlpaca(ab))
		}
		out[strings.ToUpper(symbol)] = bars
	}
	a.log.Debug().Int("requested", len(symbols)).Int("returned", len(out)).Msg("daily bars fetched")
	return out, nil
}

func barFromAlpaca(ab marketdata.Bar) domain.PriceBar {
	return domain.PriceBar{
		Date:   datekey.FromTime(ab.Timestamp),
		Open:   ab.Open,
		High:   ab.High,
		Low:    ab.Low,
		Close:  ab.Close,
		Volume: float64(ab.Volume),
	}
}
