package engine

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"tickwise/internal/domain"
	"tickwise/internal/series"
)

// Aggregate reduces chains to run statistics and the equity curve. Chains
// without legs are ignored. Equity dates are the union of the held tickers'
// close dates on or after anchor. With no chains it returns the zero-sample
// marker.
func Aggregate(chains []domain.Chain, prices map[string]*series.PriceIndex, anchor string) *domain.BacktestResult {
	live := chains[:0:0]
	for _, c := range chains {
		if len(c.Legs) > 0 {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		return &domain.BacktestResult{AnchorDate: anchor}
	}

	res := &domain.BacktestResult{
		AnchorDate: anchor,
		Sample:     len(live),
		Chains:     live,
	}

	// Chain level.
	returns := make([]float64, len(live))
	chainWins := 0
	for i, c := range live {
		returns[i] = c.ReturnPct()
		if returns[i] > 0 {
			chainWins++
		}
	}
	res.Avg = stat.Mean(returns, nil)
	res.Median = median(returns)
	if len(returns) > 1 {
		res.StdDev = stat.StdDev(returns, nil)
	}

	// Leg level.
	var wins, losses []float64
	for _, c := range live {
		for i, leg := range c.Legs {
			r := leg.ReturnPct()
			res.TradesCount++
			switch {
			case r > 0:
				wins = append(wins, r)
			case r < 0:
				losses = append(losses, r)
			}
			res.DetailRows = append(res.DetailRows, domain.DetailRow{
				ChainID:   c.ID,
				Leg:       i + 1,
				Ticker:    leg.Ticker,
				BuyDate:   leg.BuyDate,
				BuyPrice:  leg.BuyPrice,
				SellDate:  leg.SellDate,
				SellPrice: leg.SellPrice,
				ReturnPct: r,
				ExitRule:  leg.ExitRule,
				Holding:   leg.Holding,
			})
		}
	}
	res.WinsCount = len(wins)
	res.LossesCount = len(losses)
	if len(wins) > 0 {
		res.MeanWinReturn = stat.Mean(wins, nil)
		res.MaxWinReturn = maxOf(wins)
	}
	if len(losses) > 0 {
		res.MeanLossReturn = stat.Mean(losses, nil)
		res.MaxLossRate = minOf(losses)
	}
	if res.TradesCount > 0 {
		res.WinRate = float64(res.WinsCount) / float64(res.TradesCount) * 100
	} else {
		res.WinRate = float64(chainWins) / float64(res.Sample) * 100
	}

	res.EquitySeries = equityCurve(live, prices, anchor)
	res.MaxDrawdown = maxDrawdown(res.EquitySeries)
	return res
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Min(m, x)
	}
	return m
}

// ---------------------------------------------------------------------------
// Equity curve
// ---------------------------------------------------------------------------

func equityCurve(chains []domain.Chain, prices map[string]*series.PriceIndex, anchor string) []domain.EquityPoint {
	dateSet := make(map[string]struct{})
	for _, c := range chains {
		for _, leg := range c.Legs {
			for _, d := range prices[leg.Ticker].CloseDates() {
				if d >= anchor {
					dateSet[d] = struct{}{}
				}
			}
		}
	}
	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	points := make([]domain.EquityPoint, 0, len(dates))
	for _, d := range dates {
		total := 0.0
		var holdings []domain.Holding
		for _, c := range chains {
			v, h := chainValueOn(c, prices, d)
			total += v
			if h != nil {
				holdings = append(holdings, *h)
			}
		}
		points = append(points, domain.EquityPoint{
			Date:               d,
			PortfolioReturnPct: (total/float64(len(chains)) - 1) * 100,
			Holdings:           holdings,
		})
	}
	return points
}

// chainValueOn marks a chain to market on date. The active leg is the last
// one bought on or before date; it is valued at the close on or before date
// while held and at its exit value once sold. Before the first leg the
// chain is worth its starting 1.0.
func chainValueOn(c domain.Chain, prices map[string]*series.PriceIndex, date string) (float64, *domain.Holding) {
	var leg *domain.Leg
	for i := range c.Legs {
		if c.Legs[i].BuyDate > date {
			break
		}
		leg = &c.Legs[i]
	}
	if leg == nil {
		return 1, nil
	}
	if date >= leg.SellDate && !leg.Holding {
		return leg.ExitValue, nil
	}

	price, ok := prices[leg.Ticker].CloseAtOrBefore(date)
	if !ok {
		price = leg.BuyPrice
	}
	ratio := price / leg.BuyPrice
	return leg.EntryValue * ratio, &domain.Holding{Ticker: leg.Ticker, ReturnPct: (ratio - 1) * 100}
}

// maxDrawdown returns the largest fall, in percent, of portfolio value from
// its running peak. The curve starts from a value of 1.0.
func maxDrawdown(points []domain.EquityPoint) float64 {
	peak, worst := 1.0, 0.0
	for _, p := range points {
		v := 1 + p.PortfolioReturnPct/100
		if v > peak {
			peak = v
		}
		if dd := (peak - v) / peak * 100; dd > worst {
			worst = dd
		}
	}
	return worst
}
