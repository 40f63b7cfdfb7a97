package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"tickwise/internal/api"
	"tickwise/internal/bootstrap"
	"tickwise/internal/config"
	"tickwise/internal/engine"
	"tickwise/internal/runstate"
	"tickwise/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $TICKWISE_CONFIG or "+config.DefaultPath+")")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Pretty)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("wiring failed")
	}
	defer app.Close()

	// A failed first load is retried by the first backtest request.
	if err := app.Docs.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial document load failed")
	}
	if err := app.Docs.Schedule(cfg.Feed.RefreshSchedule, cfg.Feed.Timeout); err != nil {
		logger.Fatal().Err(err).Msg("invalid refresh schedule")
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Docs:       app.Docs,
		Prices:     app.Prices,
		Backtester: engine.NewBacktester(app.Prices, cfg.Feed.FetchWorkers, logger),
		Runs:       runstate.NewStore(logger),
		Defaults:   cfg.Backtest,
	}, logger)

	logger.Info().Str("http", cfg.Server.HTTPAddr()).Str("grpc", cfg.Server.GRPCAddr()).Msg("tickwise-server starting")
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("tickwise-server stopped")
}
