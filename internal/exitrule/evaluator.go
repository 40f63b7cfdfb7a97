package exitrule

import (
	"tickwise/internal/datekey"
	"tickwise/internal/series"
)

// TechnicalStopConfig toggles the technical drop rule.
type TechnicalStopConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// PctConfig toggles a percentage based rule.
type PctConfig struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Pct     float64 `json:"pct" yaml:"pct"`
}

// Config selects the exit rules of a run.
type Config struct {
	TechnicalStop TechnicalStopConfig `json:"technicalStop" yaml:"technical_stop"`
	TrailingStop  PctConfig           `json:"trailingStop" yaml:"trailing_stop"`
	TakeProfit    PctConfig           `json:"takeProfit" yaml:"take_profit"`
}

// Exit is the realized exit of a position.
type Exit struct {
	Rule          string
	TriggerDate   string
	ExecutionDate string
	Price         float64
}

// Evaluator holds the enabled rules in registration order. Registration
// order breaks ties between rules with the same trigger and execution date.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator registers the enabled rules of cfg: technical drop, then
// trailing stop, then take-profit.
func NewEvaluator(cfg Config) *Evaluator {
	e := &Evaluator{}
	if cfg.TechnicalStop.Enabled {
		e.Register(TechnicalDrop{Threshold: cfg.TechnicalStop.Threshold})
	}
	if cfg.TrailingStop.Enabled {
		e.Register(TrailingStop{Pct: cfg.TrailingStop.Pct})
	}
	if cfg.TakeProfit.Enabled {
		e.Register(TakeProfit{Pct: cfg.TakeProfit.Pct})
	}
	return e
}

// Register appends a rule.
func (e *Evaluator) Register(r Rule) {
	e.rules = append(e.rules, r)
}

// List returns the names of the registered rules in order.
func (e *Evaluator) List() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

// FindExit evaluates every rule for a position entered on entryDate at
// entryPrice and returns the earliest one. Each trigger executes at the
// first open on or after its trigger date, or on or after the day after
// entry when it fires on the entry date itself, so a leg never buys and
// sells on the same bar. A trigger with no such open is discarded. Ties on
// trigger date go to the earlier execution date, then to the earlier
// registered rule. It returns false when nothing fires, meaning the
// position is held to the latest close.
func (e *Evaluator) FindExit(prices *series.PriceIndex, tech *series.TechIndex, entryDate string, entryPrice float64) (Exit, bool) {
	in := Input{Prices: prices, Tech: tech, EntryDate: entryDate, EntryPrice: entryPrice}
	dayAfter, err := datekey.AddDays(entryDate, 1)
	if err != nil {
		return Exit{}, false
	}

	var best Exit
	found := false
	for _, r := range e.rules {
		trigger, ok := r.Trigger(in)
		if !ok {
			continue
		}
		from := trigger
		if from < dayAfter {
			from = dayAfter
		}
		fill, ok := prices.OpenAtOrAfter(from)
		if !ok {
			continue
		}
		if found && !(trigger < best.TriggerDate ||
			(trigger == best.TriggerDate && fill.Date < best.ExecutionDate)) {
			continue
		}
		best = Exit{Rule: r.Name(), TriggerDate: trigger, ExecutionDate: fill.Date, Price: fill.Price}
		found = true
	}
	return best, found
}
