package store

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"tickwise/internal/domain"
	"tickwise/internal/feed"
)

// BarTier is an optional shared cache tier between memory and disk.
type BarTier interface {
	Get(ctx context.Context, ticker string) ([]domain.PriceBar, error)
	Set(ctx context.Context, ticker string, bars []domain.PriceBar) error
}

// Compile-time interface checks.
var (
	_ feed.PriceProvider = (*PriceCache)(nil)
	_ BarTier            = (*RedisBarCache)(nil)
)

// PriceCache serves price histories from memory, then the shared tier, then
// the disk mirror, and finally the upstream provider. A hit in a lower tier
// is written back to every tier above it. Tier failures other than a miss
// are logged and treated as misses; only the upstream error is returned.
//
// A PriceCache is safe for concurrent use and is meant to outlive a single
// backtest run.
type PriceCache struct {
	upstream feed.PriceProvider
	shared   BarTier  // may be nil
	disk     BarStore // may be nil
	log      zerolog.Logger

	mu  sync.RWMutex
	mem map[string][]domain.PriceBar
}

// NewPriceCache creates a cache over upstream. shared and disk may be nil.
func NewPriceCache(upstream feed.PriceProvider, shared BarTier, disk BarStore, log zerolog.Logger) *PriceCache {
	return &PriceCache{
		upstream: upstream,
		shared:   shared,
		disk:     disk,
		log:      log.With().Str("component", "price_cache").Logger(),
		mem:      make(map[string][]domain.PriceBar),
	}
}

// PriceHistory returns the bars of ticker. The returned slice is shared
// with the cache and must not be modified.
func (c *PriceCache) PriceHistory(ctx context.Context, ticker string) ([]domain.PriceBar, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	c.mu.RLock()
	bars, ok := c.mem[ticker]
	c.mu.RUnlock()
	if ok {
		return bars, nil
	}

	if c.shared != nil {
		bars, err := c.shared.Get(ctx, ticker)
		if err == nil {
			c.remember(ticker, bars)
			return bars, nil
		}
		c.tierError("shared", ticker, err)
	}

	if c.disk != nil {
		bars, err := c.disk.ReadBars(ctx, ticker)
		if err == nil {
			c.writeShared(ctx, ticker, bars)
			c.remember(ticker, bars)
			return bars, nil
		}
		c.tierError("disk", ticker, err)
	}

	bars, err := c.upstream.PriceHistory(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if c.disk != nil {
		if err := c.disk.WriteBars(ctx, ticker, bars); err != nil {
			c.log.Warn().Err(err).Str("ticker", ticker).Msg("disk write-back failed")
		}
	}
	c.writeShared(ctx, ticker, bars)
	c.remember(ticker, bars)
	return bars, nil
}

// Forget drops ticker from memory; the next lookup goes to the lower tiers.
func (c *PriceCache) Forget(ticker string) {
	c.mu.Lock()
	delete(c.mem, strings.ToUpper(ticker))
	c.mu.Unlock()
}

// Len returns the number of tickers held in memory.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mem)
}

func (c *PriceCache) remember(ticker string, bars []domain.PriceBar) {
	c.mu.Lock()
	c.mem[ticker] = bars
	c.mu.Unlock()
}

func (c *PriceCache) writeShared(ctx context.Context, ticker string, bars []domain.PriceBar) {
	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, ticker, bars); err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("shared write-back failed")
	}
}

func (c *PriceCache) tierError(tier, ticker string, err error) {
	if errors.Is(err, ErrCacheMiss) {
		return
	}
	c.log.Warn().Err(err).Str("tier", tier).Str("ticker", ticker).Msg("cache tier failed")
}
