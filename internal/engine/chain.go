package engine

import (
	"tickwise/internal/datekey"
	"tickwise/internal/domain"
	"tickwise/internal/exitrule"
	"tickwise/internal/series"
	"tickwise/internal/signal"
)

// Chainer walks units of capital through consecutive legs. One Chainer
// serves one run: its used set spans every chain it produces, so a ticker
// is never held by two chains of the same run.
type Chainer struct {
	prices  map[string]*series.PriceIndex
	tech    map[string]*series.TechIndex
	exits   *exitrule.Evaluator
	signals *signal.Table
	maxLegs int

	used map[string]bool
}

// NewChainer creates a Chainer for one run. Every initial pick is marked
// used up front so that no chain re-enters a ticker another chain starts in.
func NewChainer(
	prices map[string]*series.PriceIndex,
	tech map[string]*series.TechIndex,
	exits *exitrule.Evaluator,
	signals *signal.Table,
	maxLegs int,
	initial []domain.Pick,
) *Chainer {
	if maxLegs < 1 {
		maxLegs = DefaultMaxLegs
	}
	c := &Chainer{
		prices:  prices,
		tech:    tech,
		exits:   exits,
		signals: signals,
		maxLegs: maxLegs,
		used:    make(map[string]bool, len(initial)),
	}
	for _, p := range initial {
		c.used[p.Ticker()] = true
	}
	return c
}

// Run builds the chain that starts from pick. Signals are acted on at the
// first open after the signal date. A chain ends when:
//
//   - the ticker has no fillable open (no_fill),
//   - its latest close is missing or precedes the fill (no_latest_close),
//   - no rule fires, or one fires on the last available date (hold_to_latest),
//   - no unused replacement signal exists (no_replacement),
//   - it reaches the leg cap (max_legs).
func (c *Chainer) Run(id int, pick domain.Pick) domain.Chain {
	chain := domain.Chain{ID: id, StartDate: pick.Date}
	c.used[pick.Ticker()] = true

	value := 1.0
	date, ticker := pick.Date, pick.Ticker()

	for {
		prices := c.prices[ticker]

		after, err := datekey.AddDays(date, 1)
		if err != nil {
			chain.Termination = domain.TerminationNoFill
			return chain
		}
		fill, ok := prices.OpenAtOrAfter(after)
		if !ok {
			chain.Termination = domain.TerminationNoFill
			return chain
		}

		latestDate, latestClose, ok := prices.Latest()
		if !ok || latestDate < fill.Date {
			chain.Termination = domain.TerminationNoLatestClose
			return chain
		}

		leg := domain.Leg{
			Ticker:     ticker,
			BuyDate:    fill.Date,
			BuyPrice:   fill.Price,
			EntryValue: value,
		}

		exit, fired := c.exits.FindExit(prices, c.tech[ticker], fill.Date, fill.Price)
		if fired {
			leg.SellDate = exit.ExecutionDate
			leg.SellPrice = exit.Price
			leg.ExitRule = exit.Rule
			leg.TriggerDate = exit.TriggerDate
		} else {
			leg.SellDate = latestDate
			leg.SellPrice = latestClose
			leg.ExitRule = exitrule.NameHoldToLatest
			leg.Holding = true
		}

		value *= leg.SellPrice / leg.BuyPrice
		leg.ExitValue = value
		chain.Legs = append(chain.Legs, leg)

		if !fired || leg.SellDate >= latestDate {
			chain.Termination = domain.TerminationHoldToLatest
			return chain
		}
		if len(chain.Legs) >= c.maxLegs {
			chain.Termination = domain.TerminationMaxLegs
			return chain
		}

		next, ok := c.signals.NextOnOrAfter(leg.SellDate, c.used)
		if !ok {
			chain.Termination = domain.TerminationNoReplacement
			return chain
		}
		c.used[next.Ticker()] = true
		date, ticker = next.Date, next.Ticker()
	}
}

// RunAll builds one chain per pick, in order, and returns the chains that
// have at least one leg.
func (c *Chainer) RunAll(picks []domain.Pick) []domain.Chain {
	chains := make([]domain.Chain, 0, len(picks))
	for i, p := range picks {
		ch := c.Run(i+1, p)
		if len(ch.Legs) == 0 {
			continue
		}
		chains = append(chains, ch)
	}
	return chains
}
