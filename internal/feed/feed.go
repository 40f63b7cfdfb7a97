// Package feed reads the scoring pipeline's JSON documents: the current
// recommendations snapshot, the recommendation history, and per-ticker price
// histories. Documents come from a Source (HTTP, local directory or S3) and
// are decoded tolerantly, since field names vary between pipeline versions.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tickwise/internal/domain"
	"tickwise/internal/util"
)

// ErrNotFound is returned when a document does not exist at the source.
var ErrNotFound = errors.New("feed document not found")

// Default document paths, relative to the source root.
const (
	DefaultSnapshotPath     = "today_recommendations.json"
	DefaultHistoryPath      = "hist_recommendations.json"
	DefaultPricesPathFormat = "data/%s.json"
)

// Source fetches raw documents by path.
type Source interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// PriceProvider returns the daily bars of one ticker, in any order.
type PriceProvider interface {
	PriceHistory(ctx context.Context, ticker string) ([]domain.PriceBar, error)
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	SnapshotPath     string
	HistoryPath      string
	PricesPathFormat string

	// Attempts per fetch; 1 means no retry.
	Attempts   int
	RetryDelay time.Duration

	// RateLimitPerMin bounds fetches per minute; 0 disables limiting.
	// RateLimitBurst fetches may go out back to back (default 1).
	RateLimitPerMin int
	RateLimitBurst  int
}

func (o Options) withDefaults() Options {
	if o.SnapshotPath == "" {
		o.SnapshotPath = DefaultSnapshotPath
	}
	if o.HistoryPath == "" {
		o.HistoryPath = DefaultHistoryPath
	}
	if o.PricesPathFormat == "" {
		o.PricesPathFormat = DefaultPricesPathFormat
	}
	if o.Attempts < 1 {
		o.Attempts = 1
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	return o
}

// Client reads and decodes feed documents from a Source.
type Client struct {
	src     Source
	opts    Options
	limiter *util.RateLimiter
	log     zerolog.Logger
}

// NewClient creates a Client over src.
func NewClient(src Source, opts Options, log zerolog.Logger) *Client {
	opts = opts.withDefaults()
	c := &Client{
		src:  src,
		opts: opts,
		log:  log.With().Str("component", "feed").Logger(),
	}
	if opts.RateLimitPerMin > 0 {
		c.limiter = util.NewRateLimiter(opts.RateLimitPerMin, opts.RateLimitBurst)
	}
	return c
}

// Snapshot returns the current recommendations.
func (c *Client) Snapshot(ctx context.Context) ([]domain.RecommendationRecord, error) {
	data, err := c.fetch(ctx, c.opts.SnapshotPath)
	if err != nil {
		return nil, err
	}
	recs, err := DecodeRecommendations(data)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return recs, nil
}

// History returns the recommendation history.
func (c *Client) History(ctx context.Context) ([]domain.RecommendationRecord, error) {
	data, err := c.fetch(ctx, c.opts.HistoryPath)
	if err != nil {
		return nil, err
	}
	recs, err := DecodeRecommendations(data)
	if err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	return recs, nil
}

// PriceHistory returns the daily bars of ticker.
func (c *Client) PriceHistory(ctx context.Context, ticker string) ([]domain.PriceBar, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("price history: empty ticker: %w", ErrNotFound)
	}
	data, err := c.fetch(ctx, fmt.Sprintf(c.opts.PricesPathFormat, ticker))
	if err != nil {
		return nil, err
	}
	bars, err := DecodePriceBars(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s prices: %w", ticker, err)
	}
	return bars, nil
}

// fetch applies rate limiting and retries. A missing document is not
// retried.
func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := util.Retry(ctx, c.opts.Attempts, c.opts.RetryDelay, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		data, err = c.src.Fetch(ctx, path)
		if errors.Is(err, ErrNotFound) {
			return util.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	c.log.Debug().Str("path", path).Int("bytes", len(data)).Msg("fetched")
	return data, nil
}

// Compile-time interface checks.
var (
	_ PriceProvider = (*Client)(nil)
	_ PriceProvider = (*AlpacaPrices)(nil)
)
