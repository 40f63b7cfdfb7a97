package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"tickwise/internal/config"
	"tickwise/internal/util"
)

const version = "0.3.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tickwise-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  backtest   Run a backtest locally or against tickwise-server\n")
		fmt.Fprintf(os.Stderr, "  picks      List the top buy and sell recommendations\n")
		fmt.Fprintf(os.Stderr, "  sync       Mirror recommendations to SQLite and prices to parquet\n")
		fmt.Fprintf(os.Stderr, "  watch      Follow a tickwise-server's backtests in a terminal UI\n")
		fmt.Fprintf(os.Stderr, "\nRun 'tickwise-cli <command> -h' for command options.\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("tickwise-cli %s\n", version)
	case "backtest":
		err = runBacktest(ctx, os.Args[2:])
	case "picks":
		err = runPicks(ctx, os.Args[2:])
	case "sync":
		err = runSync(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tickwise-cli %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and a logger writing to stderr.
func loadConfig(path string, verbose bool) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	level := "warn"
	if verbose {
		level = cfg.Logging.Level
	}
	return cfg, util.NewLoggerTo(os.Stderr, level, true), nil
}
