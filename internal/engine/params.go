package engine

import (
	"errors"
	"fmt"

	"tickwise/internal/domain"
	"tickwise/internal/exitrule"
	"tickwise/internal/signal"
)

// ErrInvalidParams is returned when run parameters fail validation.
var ErrInvalidParams = errors.New("invalid backtest parameters")

// DefaultMaxLegs caps the number of legs in one chain.
const DefaultMaxLegs = 20

// Params are the user-adjustable simulation parameters of one run.
type Params struct {
	LookbackDays int     `json:"lookbackDays" yaml:"lookback_days"`
	TopK         int     `json:"topK" yaml:"top_k"`
	MinScore     float64 `json:"minScore" yaml:"min_score"`
	RisingTrend  bool    `json:"risingTrend" yaml:"rising_trend"`
	MaxLegs      int     `json:"maxLegs" yaml:"max_legs"`

	exitrule.Config `yaml:",inline"`
}

// DefaultParams returns the parameters the dashboard starts with.
func DefaultParams() Params {
	return Params{
		LookbackDays: 30,
		TopK:         5,
		MinScore:     signal.DefaultMinScore,
		MaxLegs:      DefaultMaxLegs,
		Config: exitrule.Config{
			TechnicalStop: exitrule.TechnicalStopConfig{Threshold: 70},
			TrailingStop:  exitrule.PctConfig{Pct: 8},
			TakeProfit:    exitrule.PctConfig{Pct: 20},
		},
	}
}

// Validate checks that p describes a runnable backtest. Every failure wraps
// ErrInvalidParams.
func (p Params) Validate() error {
	switch {
	case p.LookbackDays < 0:
		return fmt.Errorf("%w: lookback days %d < 0", ErrInvalidParams, p.LookbackDays)
	case p.TopK < 1:
		return fmt.Errorf("%w: top-k %d < 1", ErrInvalidParams, p.TopK)
	case p.MaxLegs < 1:
		return fmt.Errorf("%w: max legs %d < 1", ErrInvalidParams, p.MaxLegs)
	case !domain.IsFinite(p.MinScore):
		return fmt.Errorf("%w: min score is not finite", ErrInvalidParams)
	}
	if p.TechnicalStop.Enabled && !domain.IsFinite(p.TechnicalStop.Threshold) {
		return fmt.Errorf("%w: technical threshold is not finite", ErrInvalidParams)
	}
	if p.TrailingStop.Enabled && !(p.TrailingStop.Pct > 0 && p.TrailingStop.Pct < 100) {
		return fmt.Errorf("%w: trailing stop %v%% outside (0, 100)", ErrInvalidParams, p.TrailingStop.Pct)
	}
	if p.TakeProfit.Enabled && !(p.TakeProfit.Pct > 0 && domain.IsFinite(p.TakeProfit.Pct)) {
		return fmt.Errorf("%w: take profit %v%% must be positive", ErrInvalidParams, p.TakeProfit.Pct)
	}
	return nil
}

func (p Params) signalOptions() signal.Options {
	return signal.Options{MinScore: p.MinScore, RequireRisingTrend: p.RisingTrend}
}
