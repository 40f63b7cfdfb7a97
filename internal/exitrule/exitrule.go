// Package exitrule defines the exit conditions a held position is checked
// against and an Evaluator that picks the earliest one to fire.
package exitrule

import (
	"tickwise/internal/series"
)

// Rule is an exit condition. Trigger returns the first date on which the
// condition holds, on or after the input's entry date.
type Rule interface {
	// Name returns the identifier recorded on legs closed by this rule.
	Name() string

	// Trigger returns the trigger date, or false when the rule never fires
	// over the available data.
	Trigger(in Input) (string, bool)
}

// Input is the position a rule is evaluated against.
type Input struct {
	Prices     *series.PriceIndex
	Tech       *series.TechIndex
	EntryDate  string
	EntryPrice float64
}

// Rule names.
const (
	NameTechnicalDrop = "technical_drop"
	NameTrailingStop  = "trailing_stop"
	NameTakeProfit    = "take_profit"
	// NameHoldToLatest marks a leg closed at the latest close because no
	// rule fired.
	NameHoldToLatest = "hold_to_latest"
)

// TechnicalDrop fires on the first date whose technical score is strictly
// below Threshold.
type TechnicalDrop struct {
	Threshold float64
}

func (r TechnicalDrop) Name() string { return NameTechnicalDrop }

func (r TechnicalDrop) Trigger(in Input) (string, bool) {
	return in.Tech.FirstDropBelow(in.EntryDate, r.Threshold)
}

// TrailingStop fires on the first close at or below the running maximum
// close times (1 - Pct/100). The running maximum starts at the first close
// on or after entry, and a close that sets a new high never fires.
type TrailingStop struct {
	Pct float64
}

func (r TrailingStop) Name() string { return NameTrailingStop }

func (r TrailingStop) Trigger(in Input) (string, bool) {
	dates, closes := in.Prices.ClosesFrom(in.EntryDate)
	var peak float64
	for i, c := range closes {
		if i == 0 || c > peak {
			peak = c
			continue
		}
		if c <= peak*(1-r.Pct/100) {
			return dates[i], true
		}
	}
	return "", false
}

// TakeProfit fires on the first close whose gain over the entry price is
// strictly greater than Pct percent.
type TakeProfit struct {
	Pct float64
}

func (r TakeProfit) Name() string { return NameTakeProfit }

func (r TakeProfit) Trigger(in Input) (string, bool) {
	if in.EntryPrice <= 0 {
		return "", false
	}
	dates, closes := in.Prices.ClosesFrom(in.EntryDate)
	for i, c := range closes {
		if (c-in.EntryPrice)/in.EntryPrice*100 > r.Pct {
			return dates[i], true
		}
	}
	return "", false
}

// Compile-time interface checks.
var (
	_ Rule = TechnicalDrop{}
	_ Rule = TrailingStop{}
	_ Rule = TakeProfit{}
)
