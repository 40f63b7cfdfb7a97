package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"tickwise/internal/bootstrap"
	"tickwise/internal/dashboard"
	"tickwise/internal/domain"
	"tickwise/internal/engine"
	"tickwise/internal/feed"
	"tickwise/internal/store"
	"tickwise/pkg/tickwise"
)

// paramFlags are the backtest parameter flags. Only flags given on the
// command line override the configured defaults.
type paramFlags struct {
	fs *flag.FlagSet

	lookback *int
	topK     *int
	maxLegs  *int
	minScore *float64
	rising   *bool

	techStop   *float64
	trailing   *float64
	takeProfit *float64
}

func newParamFlags(fs *flag.FlagSet) *paramFlags {
	d := engine.DefaultParams()
	return &paramFlags{
		fs:         fs,
		lookback:   fs.Int("lookback", d.LookbackDays, "calendar days before the anchor date"),
		topK:       fs.Int("top-k", d.TopK, "concurrent chains"),
		maxLegs:    fs.Int("max-legs", d.MaxLegs, "maximum legs per chain"),
		minScore:   fs.Float64("min-score", d.MinScore, "minimum tickwise score of a buy signal"),
		rising:     fs.Bool("rising", d.RisingTrend, "require a rising score trend"),
		techStop:   fs.Float64("tech-stop", d.TechnicalStop.Threshold, "technical stop threshold; 0 disables"),
		trailing:   fs.Float64("trailing-stop", d.TrailingStop.Pct, "trailing stop percent; 0 disables"),
		takeProfit: fs.Float64("take-profit", d.TakeProfit.Pct, "take profit percent; 0 disables"),
	}
}

// apply overlays the flags that were set on p.
func (pf *paramFlags) apply(p engine.Params) engine.Params {
	pf.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lookback":
			p.LookbackDays = *pf.lookback
		case "top-k":
			p.TopK = *pf.topK
		case "max-legs":
			p.MaxLegs = *pf.maxLegs
		case "min-score":
			p.MinScore = *pf.minScore
		case "rising":
			p.RisingTrend = *pf.rising
		case "tech-stop":
			p.TechnicalStop.Enabled = *pf.techStop != 0
			p.TechnicalStop.Threshold = *pf.techStop
		case "trailing-stop":
			p.TrailingStop.Enabled = *pf.trailing != 0
			p.TrailingStop.Pct = *pf.trailing
		case "take-profit":
			p.TakeProfit.Enabled = *pf.takeProfit != 0
			p.TakeProfit.Pct = *pf.takeProfit
		}
	})
	return p
}

// remote returns the flags that were set as client parameters, leaving the
// rest to the server defaults.
func (pf *paramFlags) remote() *tickwise.Params {
	out := &tickwise.Params{}
	pf.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lookback":
			out.LookbackDays = pf.lookback
		case "top-k":
			out.TopK = pf.topK
		case "max-legs":
			out.MaxLegs = pf.maxLegs
		case "min-score":
			out.MinScore = pf.minScore
		case "rising":
			out.RisingTrend = pf.rising
		case "tech-stop":
			out.TechnicalStop = &tickwise.TechnicalStop{Enabled: *pf.techStop != 0, Threshold: *pf.techStop}
		case "trailing-stop":
			out.TrailingStop = &tickwise.PctRule{Enabled: *pf.trailing != 0, Pct: *pf.trailing}
		case "take-profit":
			out.TakeProfit = &tickwise.PctRule{Enabled: *pf.takeProfit != 0, Pct: *pf.takeProfit}
		}
	})
	return out
}

func runBacktest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	server := fs.String("server", "", "run on a tickwise-server at this base URL")
	grpcAddr := fs.String("grpc", "", "run on a tickwise-server at this gRPC address")
	offline := fs.Bool("offline", false, "use the SQLite history and parquet prices only")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	verbose := fs.Bool("v", false, "log progress to stderr")
	pf := newParamFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		result *domain.BacktestResult
		err    error
	)
	switch {
	case *server != "":
		result, err = remoteResult(tickwise.NewClient(*server).Run(ctx, pf.remote()))
	case *grpcAddr != "":
		var c *tickwise.GRPCClient
		c, err = tickwise.DialGRPC(*grpcAddr)
		if err != nil {
			return err
		}
		defer c.Close()
		result, err = remoteResult(c.Run(ctx, pf.remote()))
	default:
		result, err = localBacktest(ctx, *cfgPath, *offline, *verbose, pf)
	}
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printResult(os.Stdout, result)
	return nil
}

func localBacktest(ctx context.Context, cfgPath string, offline, verbose bool, pf *paramFlags) (*domain.BacktestResult, error) {
	cfg, log, err := loadConfig(cfgPath, verbose)
	if err != nil {
		return nil, err
	}
	params := pf.apply(cfg.Backtest)
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var (
		history []domain.RecommendationRecord
		prices  feed.PriceProvider
	)
	if offline {
		if cfg.Storage.DataDir == "" || cfg.Storage.SQLitePath == "" {
			return nil, errors.New("offline runs need storage.data_dir and storage.sqlite_path")
		}
		db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		if history, err = db.LoadRecommendations(ctx); err != nil {
			return nil, err
		}
		prices = store.NewParquetStore(cfg.Storage.DataDir)
	} else {
		app, err := bootstrap.New(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		defer app.Close()
		if history, err = app.Feed.History(ctx); err != nil {
			return nil, err
		}
		prices = app.Prices
	}

	return engine.NewBacktester(prices, cfg.Feed.FetchWorkers, log).Run(ctx, history, params)
}

// remoteResult unwraps a server response into the engine's result type.
func remoteResult(resp *tickwise.RunResponse, err error) (*domain.BacktestResult, error) {
	if err != nil {
		return nil, err
	}
	if resp.Stale || resp.Result == nil {
		return nil, fmt.Errorf("run %s was superseded by a newer run", resp.RunID)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, err
	}
	var out domain.BacktestResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func printResult(w io.Writer, r *domain.BacktestResult) {
	if r.Sample == 0 {
		fmt.Fprintln(w, "Not enough data to simulate any chain.")
		return
	}
	fmt.Fprintf(w, "Anchor %s, lookback %d days, top-%d\n\n", r.AnchorDate, r.LookbackDays, r.TopK)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Chains\t%s\n", dashboard.FormatInt(r.Sample))
	fmt.Fprintf(tw, "Average\t%s\n", dashboard.FormatPct(r.Avg))
	fmt.Fprintf(tw, "Median\t%s\n", dashboard.FormatPct(r.Median))
	fmt.Fprintf(tw, "Std dev\t%s\n", dashboard.FormatNum(r.StdDev, 2))
	fmt.Fprintf(tw, "Win rate\t%s (%d of %d trades)\n", dashboard.FormatNum(r.WinRate, 1)+"%", r.WinsCount, r.TradesCount)
	fmt.Fprintf(tw, "Mean win / loss\t%s / %s\n", dashboard.FormatPct(r.MeanWinReturn), dashboard.FormatPct(r.MeanLossReturn))
	fmt.Fprintf(tw, "Best / worst trade\t%s / %s\n", dashboard.FormatPct(r.MaxWinReturn), dashboard.FormatPct(r.MaxLossRate))
	fmt.Fprintf(tw, "Max drawdown\t%s\n", dashboard.FormatDrawdown(r.MaxDrawdown))
	tw.Flush()

	if len(r.DetailRows) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAIN\tLEG\tTICKER\tBUY\tPRICE\tSELL\tPRICE\tRETURN\tEXIT")
	for _, d := range r.DetailRows {
		exit := d.ExitRule
		if d.Holding {
			exit = "holding"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ChainID, d.Leg, d.Ticker,
			d.BuyDate, dashboard.FormatPrice(d.BuyPrice),
			d.SellDate, dashboard.FormatPrice(d.SellPrice),
			dashboard.FormatPct(d.ReturnPct), exit)
	}
	tw.Flush()
}
