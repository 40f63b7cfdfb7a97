package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"tickwise/internal/bootstrap"
	"tickwise/internal/dashboard"
	"tickwise/internal/domain"
)

func runPicks(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("picks", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	n := fs.Int("n", 10, "picks per side")
	verbose := fs.Bool("v", false, "log progress to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, err := loadConfig(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	snap, err := app.Feed.Snapshot(ctx)
	if err != nil {
		return err
	}

	s := dashboard.Summarize(snap)
	fmt.Printf("%s recommendations: %s buy, %s sell, %s hold. Average buy confidence %s.\n",
		dashboard.FormatInt(s.Total), dashboard.FormatInt(s.Buys), dashboard.FormatInt(s.Sells),
		dashboard.FormatInt(s.Holds), dashboard.FormatNum(s.AvgBuyConfidence, 1))

	fmt.Println("\nTop buys")
	printPicks(os.Stdout, dashboard.TopBuys(snap, *n))
	fmt.Println("\nTop sells")
	printPicks(os.Stdout, dashboard.TopSells(snap, *n))
	return nil
}

func printPicks(w io.Writer, recs []domain.RecommendationRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tCOMPANY\tSCORE\tTECH\tFUND\tCLOSE\tAI 1M\tANALYST 1Y\tDATE")
	for _, row := range dashboard.Rows(recs) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s..%s\t%s\t%s\n",
			row.Ticker, row.Company,
			dashboard.FormatNum(row.TickwiseScore, 1),
			dashboard.FormatNum(row.Technical, 1),
			dashboard.FormatNum(row.FundamentalScore, 1),
			dashboard.FormatPrice(row.Close),
			dashboard.FormatPct(row.AI1MLowerPct), dashboard.FormatPct(row.AI1MUpperPct),
			dashboard.FormatPct(row.Analyst1YPct),
			row.SignalDate)
	}
	tw.Flush()
}
