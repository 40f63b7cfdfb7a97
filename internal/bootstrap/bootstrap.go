// Package bootstrap assembles the feed, price and cache components that the
// server and the CLI share from a loaded configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"tickwise/internal/config"
	"tickwise/internal/feed"
	"tickwise/internal/store"
)

// App holds the wired components. Close releases whatever was opened.
type App struct {
	Feed   *feed.Client
	Docs   *feed.Documents
	Prices *store.PriceCache
	// Upstream is the provider behind the cache tiers.
	Upstream feed.PriceProvider

	// Disk is nil when no data directory is configured.
	Disk *store.ParquetStore
	// Redis is nil when no address is configured.
	Redis *store.RedisBarCache

	closers []func() error
}

// NewSource builds the document source selected by cfg.Feed.Source.
func NewSource(ctx context.Context, cfg *config.Config) (feed.Source, error) {
	switch cfg.Feed.Source {
	case "http":
		return feed.NewHTTPSource(cfg.Feed.BaseURL, cfg.Feed.Timeout), nil
	case "file":
		return feed.NewFileSource(cfg.Feed.Dir), nil
	case "s3":
		return feed.NewS3Source(ctx, feed.S3Config{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown feed source %q", cfg.Feed.Source)
	}
}

// New validates cfg and wires the application components.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src, err := NewSource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{}
	app.Feed = feed.NewClient(src, feed.Options{
		SnapshotPath:     cfg.Feed.SnapshotPath,
		HistoryPath:      cfg.Feed.HistoryPath,
		PricesPathFormat: cfg.Feed.PricesPathFormat,
		Attempts:         cfg.Feed.Attempts,
		RetryDelay:       cfg.Feed.RetryDelay,
		RateLimitPerMin:  cfg.Feed.RateLimitPerMin,
		RateLimitBurst:   cfg.Feed.RateLimitBurst,
	}, log)
	app.Docs = feed.NewDocuments(app.Feed, log)

	var upstream feed.PriceProvider = app.Feed
	if cfg.Prices.Provider == "alpaca" {
		upstream = feed.NewAlpacaPrices(feed.AlpacaConfig{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			DataURL:   cfg.Alpaca.DataURL,
			Feed:      cfg.Alpaca.Feed,
			Years:     cfg.Alpaca.Years,
		}, log)
	}

	var (
		shared store.BarTier
		disk   store.BarStore
	)
	if cfg.Redis.Addr != "" {
		app.Redis = store.NewRedisBarCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix, cfg.Redis.TTL)
		app.closers = append(app.closers, app.Redis.Close)
		if err := app.Redis.HealthCheck(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, continuing without it")
		}
		shared = app.Redis
	}
	if cfg.Storage.DataDir != "" {
		app.Disk = store.NewParquetStore(cfg.Storage.DataDir)
		disk = app.Disk
	}
	app.Upstream = upstream
	app.Prices = store.NewPriceCache(upstream, shared, disk, log)

	log.Info().
		Str("source", cfg.Feed.Source).
		Str("prices", cfg.Prices.Provider).
		Bool("redis", app.Redis != nil).
		Bool("parquet", app.Disk != nil).
		Msg("components wired")
	return app, nil
}

// Close stops the refresh schedule and closes the opened clients.
func (a *App) Close() error {
	a.Docs.Stop()
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
