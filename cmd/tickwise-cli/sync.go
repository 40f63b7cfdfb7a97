package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tickwise/internal/bootstrap"
	"tickwise/internal/domain"
	"tickwise/internal/engine"
	"tickwise/internal/store"
)

func runSync(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	workers := fs.Int("workers", engine.DefaultFetchWorkers, "concurrent price downloads")
	skipPrices := fs.Bool("skip-prices", false, "only mirror recommendations")
	verbose := fs.Bool("v", false, "log progress to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, err := loadConfig(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	if cfg.Storage.SQLitePath == "" {
		return errors.New("storage.sqlite_path is required")
	}
	if !*skipPrices && cfg.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required to mirror prices")
	}

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	start := time.Now()
	snap, err := app.Feed.Snapshot(ctx)
	if err != nil {
		return err
	}
	hist, err := app.Feed.History(ctx)
	if err != nil {
		return err
	}
	recs := append(append([]domain.RecommendationRecord{}, hist...), snap...)
	inserted, err := db.SaveRecommendations(ctx, recs)
	if err != nil {
		return err
	}
	fmt.Printf("recommendations: %d read, %d new\n", len(recs), inserted)

	if *skipPrices {
		return nil
	}
	ok, failed := syncPrices(ctx, app, tickersOf(recs), *workers, log)
	fmt.Printf("prices: %d tickers mirrored, %d failed (%s)\n", ok, failed, time.Since(start).Round(time.Millisecond))
	return ctx.Err()
}

func tickersOf(recs []domain.RecommendationRecord) []string {
	set := make(map[string]struct{})
	for _, r := range recs {
		if r.Ticker != "" {
			set[r.Ticker] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// syncPrices downloads every ticker from the upstream provider and writes
// it to the parquet mirror and, when configured, the shared cache.
func syncPrices(ctx context.Context, app *bootstrap.App, tickers []string, workers int, log zerolog.Logger) (ok, failed int64) {
	var nOK, nFailed atomic.Int64
	sem := make(chan struct{}, max(1, workers))

	g, gctx := errgroup.WithContext(ctx)
	for _, ticker := range tickers {
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			if gctx.Err() != nil {
				return nil
			}
			if err := syncTicker(gctx, app, ticker); err != nil {
				log.Warn().Err(err).Str("ticker", ticker).Msg("price sync failed")
				nFailed.Add(1)
				return nil
			}
			nOK.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return nOK.Load(), nFailed.Load()
}

func syncTicker(ctx context.Context, app *bootstrap.App, ticker string) error {
	bars, err := app.Upstream.PriceHistory(ctx, ticker)
	if err != nil {
		return err
	}
	if err := app.Disk.WriteBars(ctx, ticker, bars); err != nil {
		return fmt.Errorf("writing parquet: %w", err)
	}
	if app.Redis != nil {
		if err := app.Redis.Set(ctx, ticker, bars); err != nil {
			return fmt.Errorf("writing redis: %w", err)
		}
	}
	return nil
}
