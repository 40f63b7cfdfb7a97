package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickwise/internal/datekey"
	"tickwise/internal/domain"
	"tickwise/internal/exitrule"
	"tickwise/internal/feed"
	"tickwise/internal/series"
	"tickwise/internal/signal"
)

// memPrices serves price histories from memory.
type memPrices struct {
	mu    sync.Mutex
	bars  map[string][]domain.PriceBar
	calls map[string]int
}

func newMemPrices(bars map[string][]domain.PriceBar) *memPrices {
	return &memPrices{bars: bars, calls: make(map[string]int)}
}

func (m *memPrices) PriceHistory(_ context.Context, ticker string) ([]domain.PriceBar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[ticker]++
	b, ok := m.bars[ticker]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ticker, feed.ErrNotFound)
	}
	return b, nil
}

func buy(ticker, date string, score float64) domain.RecommendationRecord {
	return domain.RecommendationRecord{
		Ticker:         ticker,
		SignalDate:     date,
		Recommendation: domain.RecommendationBuy,
		TickwiseScore:  score,
		Technical:      math.NaN(),
	}
}

func fixedClock(date string) func() time.Time {
	t, err := datekey.Parse(date)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t.Add(15 * time.Hour) }
}

func xyzBars() []domain.PriceBar {
	return []domain.PriceBar{
		{Date: "2024-01-01", Open: 10, Close: 10},
		{Date: "2024-01-02", Open: 10.5, Close: 11},
		{Date: "2024-01-03", Open: 11, Close: 9},
	}
}

func TestBacktestEndToEnd(t *testing.T) {
	prices := newMemPrices(map[string][]domain.PriceBar{"XYZ": xyzBars()})
	bt := NewBacktester(prices, 4, zerolog.Nop())
	bt.SetClock(fixedClock("2024-01-31"))

	p := DefaultParams()
	p.LookbackDays = 30
	p.TopK = 1
	p.TrailingStop = exitrule.PctConfig{Enabled: true, Pct: 10}

	res, err := bt.Run(context.Background(), []domain.RecommendationRecord{buy("XYZ", "2024-01-01", 80)}, p)
	require.NoError(t, err)

	assert.Equal(t, "2024-01-01", res.AnchorDate)
	assert.Equal(t, 30, res.LookbackDays)
	assert.Equal(t, 1, res.TopK)
	require.Equal(t, 1, res.Sample)
	require.Len(t, res.Chains, 1)
	require.Len(t, res.Chains[0].Legs, 1)

	leg := res.Chains[0].Legs[0]
	assert.Equal(t, "2024-01-02", leg.BuyDate)
	assert.Equal(t, 10.5, leg.BuyPrice)
	assert.Equal(t, "2024-01-03", leg.TriggerDate)
	assert.Equal(t, "2024-01-03", leg.SellDate)
	assert.Equal(t, 11.0, leg.SellPrice)
	assert.Equal(t, exitrule.NameTrailingStop, leg.ExitRule)
	assert.False(t, leg.Holding)
	assert.InDelta(t, 4.7619, leg.ReturnPct(), 1e-3)
	assert.Equal(t, domain.TerminationHoldToLatest, res.Chains[0].Termination)

	assert.InDelta(t, 4.7619, res.Avg, 1e-3)
	assert.InDelta(t, 4.7619, res.Median, 1e-3)
	assert.Equal(t, 1, res.TradesCount)
	assert.Equal(t, 1, res.WinsCount)
	assert.Equal(t, 100.0, res.WinRate)
	require.Len(t, res.DetailRows, 1)

	require.Len(t, res.EquitySeries, 3)
	assert.Equal(t, 0.0, res.EquitySeries[0].PortfolioReturnPct)
	assert.Empty(t, res.EquitySeries[0].Holdings)
	require.Len(t, res.EquitySeries[1].Holdings, 1)
	assert.Equal(t, "XYZ", res.EquitySeries[1].Holdings[0].Ticker)
	assert.InDelta(t, 4.7619, res.EquitySeries[2].PortfolioReturnPct, 1e-3)
	assert.Empty(t, res.EquitySeries[2].Holdings)
}

func TestBacktestHoldsToLatestWithoutRules(t *testing.T) {
	prices := newMemPrices(map[string][]domain.PriceBar{"XYZ": xyzBars()})
	bt := NewBacktester(prices, 1, zerolog.Nop())
	bt.SetClock(fixedClock("2024-01-31"))

	p := DefaultParams()
	p.TopK = 1
	res, err := bt.Run(context.Background(), []domain.RecommendationRecord{buy("XYZ", "2024-01-01", 80)}, p)
	require.NoError(t, err)

	leg := res.Chains[0].Legs[0]
	assert.True(t, leg.Holding)
	assert.Equal(t, "2024-01-03", leg.SellDate)
	assert.Equal(t, 9.0, leg.SellPrice)
	assert.Equal(t, 1, res.LossesCount)
	assert.Equal(t, 0.0, res.WinRate)
	assert.Greater(t, res.MaxDrawdown, 0.0)
}

func TestBacktestZeroSample(t *testing.T) {
	bt := NewBacktester(newMemPrices(nil), 2, zerolog.Nop())
	bt.SetClock(fixedClock("2024-01-31"))

	// No signals at all.
	res, err := bt.Run(context.Background(), nil, DefaultParams())
	require.NoError(t, err)
	assert.True(t, res.Empty())

	// A signal whose ticker has no history.
	res, err = bt.Run(context.Background(), []domain.RecommendationRecord{buy("GONE", "2024-01-01", 90)}, DefaultParams())
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, 0.0, res.WinRate)
}

func TestBacktestEntryDayTakeProfit(t *testing.T) {
	prices := newMemPrices(map[string][]domain.PriceBar{"AAA": {
		{Date: "2024-01-02", Open: 100, Close: 130},
		{Date: "2024-01-03", Open: 131, Close: 131},
	}})
	bt := NewBacktester(prices, 1, zerolog.Nop())
	bt.SetClock(fixedClock("2024-01-31"))

	p := DefaultParams()
	p.TopK = 1
	p.TakeProfit = exitrule.PctConfig{Enabled: true, Pct: 20}
	res, err := bt.Run(context.Background(), []domain.RecommendationRecord{buy("AAA", "2024-01-01", 80)}, p)
	require.NoError(t, err)
	require.Len(t, res.Chains, 1)
	require.Len(t, res.Chains[0].Legs, 1)

	leg := res.Chains[0].Legs[0]
	assert.Equal(t, "2024-01-02", leg.BuyDate)
	assert.Equal(t, "2024-01-02", leg.TriggerDate)
	assert.Equal(t, "2024-01-03", leg.SellDate)
	assert.Greater(t, leg.SellDate, leg.BuyDate)
	assert.Equal(t, 131.0, leg.SellPrice)
	assert.Equal(t, exitrule.NameTakeProfit, leg.ExitRule)
	assert.InDelta(t, 31, leg.ReturnPct(), 1e-9)
	assert.Equal(t, 1, res.WinsCount)
}

func TestBacktestInvalidParams(t *testing.T) {
	bt := NewBacktester(newMemPrices(nil), 2, zerolog.Nop())
	p := DefaultParams()
	p.TopK = 0
	_, err := bt.Run(context.Background(), nil, p)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestBacktestCancelled(t *testing.T) {
	prices := newMemPrices(map[string][]domain.PriceBar{"XYZ": xyzBars()})
	bt := NewBacktester(prices, 1, zerolog.Nop())
	bt.SetClock(fixedClock("2024-01-31"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := bt.Run(ctx, []domain.RecommendationRecord{buy("XYZ", "2024-01-01", 80)}, DefaultParams())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"negative lookback", func(p *Params) { p.LookbackDays = -1 }},
		{"zero top-k", func(p *Params) { p.TopK = 0 }},
		{"zero max legs", func(p *Params) { p.MaxLegs = 0 }},
		{"nan min score", func(p *Params) { p.MinScore = math.NaN() }},
		{"trailing zero", func(p *Params) { p.TrailingStop = exitrule.PctConfig{Enabled: true} }},
		{"trailing 100", func(p *Params) { p.TrailingStop = exitrule.PctConfig{Enabled: true, Pct: 100} }},
		{"take profit negative", func(p *Params) { p.TakeProfit = exitrule.PctConfig{Enabled: true, Pct: -5} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
		})
	}

	// Disabled rules are not validated.
	p := DefaultParams()
	p.TrailingStop = exitrule.PctConfig{Enabled: false, Pct: -1}
	assert.NoError(t, p.Validate())
}

// churnFixture signals every ticker on every day and makes every bar close
// 30% above its open, so a 20% take-profit fires on each entry day, sells at
// the next open and every chain keeps re-entering. Opens rise one point a
// day.
func churnFixture(tickers, days int) ([]domain.RecommendationRecord, map[string]*series.PriceIndex) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var rows []domain.RecommendationRecord
	prices := make(map[string]*series.PriceIndex)
	for i := 0; i < tickers; i++ {
		ticker := fmt.Sprintf("T%02d", i)
		var bars []domain.PriceBar
		for d := 0; d < days; d++ {
			date := datekey.FromTime(start.AddDate(0, 0, d))
			rows = append(rows, buy(ticker, date, float64(100-i)))
			// The same tickers reappear later, a cyclic feed.
			open := 100 + float64(d)
			bars = append(bars, domain.PriceBar{Date: date, Open: open, Close: open * 1.3})
		}
		prices[ticker] = series.NewPriceIndex(bars)
	}
	return rows, prices
}

func TestChainTerminatesAtMaxLegs(t *testing.T) {
	rows, prices := churnFixture(30, 90)
	table := signal.Select(rows, signal.Options{})
	ev := exitrule.NewEvaluator(exitrule.Config{TakeProfit: exitrule.PctConfig{Enabled: true, Pct: 20}})

	picks := table.TopK("2024-01-01", 1)
	c := NewChainer(prices, nil, ev, table, DefaultMaxLegs, picks)
	chain := c.Run(1, picks[0])

	assert.Len(t, chain.Legs, DefaultMaxLegs)
	assert.Equal(t, domain.TerminationMaxLegs, chain.Termination)

	for i, leg := range chain.Legs {
		assert.Greater(t, leg.SellDate, leg.BuyDate, "leg %d sells on its buy bar", i+1)
		assert.Greater(t, leg.ReturnPct(), 0.0)
		if i > 0 {
			assert.Greater(t, leg.BuyDate, chain.Legs[i-1].SellDate)
		}
	}
}

func TestChainRunsOutOfReplacements(t *testing.T) {
	rows, prices := churnFixture(3, 30)
	table := signal.Select(rows, signal.Options{})
	ev := exitrule.NewEvaluator(exitrule.Config{TakeProfit: exitrule.PctConfig{Enabled: true, Pct: 20}})

	picks := table.TopK("2024-01-01", 1)
	chain := NewChainer(prices, nil, ev, table, DefaultMaxLegs, picks).Run(1, picks[0])

	assert.Len(t, chain.Legs, 3)
	assert.Equal(t, domain.TerminationNoReplacement, chain.Termination)
}

func TestNoTickerHeldByTwoChains(t *testing.T) {
	rows, prices := churnFixture(12, 60)
	table := signal.Select(rows, signal.Options{})
	ev := exitrule.NewEvaluator(exitrule.Config{TakeProfit: exitrule.PctConfig{Enabled: true, Pct: 20}})

	picks := table.TopK("2024-01-01", 4)
	require.Len(t, picks, 4)
	chains := NewChainer(prices, nil, ev, table, DefaultMaxLegs, picks).RunAll(picks)
	require.Len(t, chains, 4)

	owner := make(map[string]int)
	for _, ch := range chains {
		for _, leg := range ch.Legs {
			if prev, ok := owner[leg.Ticker]; ok {
				t.Fatalf("ticker %s held by chain %d and chain %d", leg.Ticker, prev, ch.ID)
			}
			owner[leg.Ticker] = ch.ID
		}
	}
	assert.Len(t, owner, 12)
}

func TestChainNoFill(t *testing.T) {
	table := signal.Select([]domain.RecommendationRecord{buy("XYZ", "2024-01-03", 80)}, signal.Options{})
	prices := map[string]*series.PriceIndex{"XYZ": series.NewPriceIndex(xyzBars())}
	picks := table.TopK("2024-01-03", 1)

	chains := NewChainer(prices, nil, exitrule.NewEvaluator(exitrule.Config{}), table, 0, picks).RunAll(picks)
	assert.Empty(t, chains)

	chain := NewChainer(prices, nil, exitrule.NewEvaluator(exitrule.Config{}), table, 0, picks).Run(1, picks[0])
	assert.Equal(t, domain.TerminationNoFill, chain.Termination)
}

func TestAggregateStatistics(t *testing.T) {
	prices := map[string]*series.PriceIndex{
		"AAA": series.NewPriceIndex([]domain.PriceBar{{Date: "2024-01-02", Open: 10, Close: 10}}),
	}
	chains := []domain.Chain{
		{ID: 1, Legs: []domain.Leg{
			{Ticker: "AAA", BuyDate: "2024-01-02", BuyPrice: 10, SellDate: "2024-01-02", SellPrice: 12, EntryValue: 1, ExitValue: 1.2},
			{Ticker: "BBB", BuyDate: "2024-01-03", BuyPrice: 10, SellDate: "2024-01-04", SellPrice: 10, EntryValue: 1.2, ExitValue: 1.2},
		}},
		{ID: 2, Legs: []domain.Leg{
			{Ticker: "CCC", BuyDate: "2024-01-02", BuyPrice: 20, SellDate: "2024-01-05", SellPrice: 15, EntryValue: 1, ExitValue: 0.75},
		}},
		{ID: 3},
	}

	res := Aggregate(chains, prices, "2024-01-01")
	assert.Equal(t, 2, res.Sample)
	assert.InDelta(t, (20.0-25.0)/2, res.Avg, 1e-9)
	assert.InDelta(t, (20.0-25.0)/2, res.Median, 1e-9)
	assert.Greater(t, res.StdDev, 0.0)

	assert.Equal(t, 3, res.TradesCount)
	assert.Equal(t, 1, res.WinsCount)
	assert.Equal(t, 1, res.LossesCount, "flat leg counts as neither")
	assert.LessOrEqual(t, res.WinsCount+res.LossesCount, res.TradesCount)
	assert.InDelta(t, 100.0/3, res.WinRate, 1e-9)
	assert.InDelta(t, 20, res.MeanWinReturn, 1e-9)
	assert.InDelta(t, 20, res.MaxWinReturn, 1e-9)
	assert.InDelta(t, -25, res.MeanLossReturn, 1e-9)
	assert.InDelta(t, -25, res.MaxLossRate, 1e-9)
	assert.Len(t, res.DetailRows, 3)
	assert.Equal(t, 2, res.DetailRows[1].Leg)
}

func TestAggregateEquityBetweenLegs(t *testing.T) {
	prices := map[string]*series.PriceIndex{
		"AAA": series.NewPriceIndex([]domain.PriceBar{
			{Date: "2024-01-02", Open: 10, Close: 11},
			{Date: "2024-01-03", Open: 12, Close: 12},
			{Date: "2024-01-04", Open: 8, Close: 8},
		}),
		"BBB": series.NewPriceIndex([]domain.PriceBar{
			{Date: "2024-01-04", Open: 19, Close: 19},
			{Date: "2024-01-05", Open: 20, Close: 22},
			{Date: "2024-01-06", Open: 25, Close: 25},
		}),
	}
	chains := []domain.Chain{{ID: 1, Legs: []domain.Leg{
		{Ticker: "AAA", BuyDate: "2024-01-02", BuyPrice: 10, SellDate: "2024-01-03", SellPrice: 12, EntryValue: 1, ExitValue: 1.2},
		{Ticker: "BBB", BuyDate: "2024-01-05", BuyPrice: 20, SellDate: "2024-01-06", SellPrice: 25, EntryValue: 1.2, ExitValue: 1.5},
	}}}

	res := Aggregate(chains, prices, "2024-01-01")
	require.Len(t, res.EquitySeries, 5)

	want := []struct {
		date    string
		pct     float64
		holding string
	}{
		{"2024-01-02", 10, "AAA"},
		{"2024-01-03", 20, ""},
		{"2024-01-04", 20, ""}, // sold AAA, BBB not yet bought
		{"2024-01-05", 32, "BBB"},
		{"2024-01-06", 50, ""},
	}
	for i, w := range want {
		p := res.EquitySeries[i]
		assert.Equal(t, w.date, p.Date)
		assert.InDelta(t, w.pct, p.PortfolioReturnPct, 1e-9, p.Date)
		if w.holding == "" {
			assert.Empty(t, p.Holdings, p.Date)
			continue
		}
		require.Len(t, p.Holdings, 1, p.Date)
		assert.Equal(t, w.holding, p.Holdings[0].Ticker)
	}
}

func TestAggregateEmpty(t *testing.T) {
	res := Aggregate([]domain.Chain{{ID: 1}}, nil, "2024-01-01")
	assert.True(t, res.Empty())
	assert.Equal(t, 0.0, res.Avg)
	assert.Nil(t, res.EquitySeries)
}

func TestWinRateRange(t *testing.T) {
	for n := 1; n <= 25; n++ {
		rows, prices := churnFixture(n, 10)
		table := signal.Select(rows, signal.Options{})
		ev := exitrule.NewEvaluator(exitrule.Config{TakeProfit: exitrule.PctConfig{Enabled: true, Pct: 20}})
		picks := table.TopK("2024-01-01", 3)
		chains := NewChainer(prices, nil, ev, table, 5, picks).RunAll(picks)

		res := Aggregate(chains, prices, "2024-01-01")
		assert.GreaterOrEqual(t, res.WinRate, 0.0)
		assert.LessOrEqual(t, res.WinRate, 100.0)
		assert.LessOrEqual(t, res.WinsCount+res.LossesCount, res.TradesCount)
		for _, ch := range chains {
			assert.LessOrEqual(t, len(ch.Legs), 5)
		}
	}
}

func TestMedianEven(t *testing.T) {
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
	assert.Equal(t, 3.0, median([]float64{5, 1, 3}))
}
