// Package domain defines the core types shared across the tickwise backtest
// service: price bars, scored recommendations, picks, trade legs, chains and
// the aggregated backtest result.
package domain

import (
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Feed inputs
// ---------------------------------------------------------------------------

// PriceBar is one daily OHLCV bar for a ticker. Date is a canonical
// YYYY-MM-DD key. Price fields that were missing or unparseable are NaN.
type PriceBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Recommendation is the scoring pipeline's verdict for a ticker on a date.
type Recommendation string

const (
	RecommendationBuy     Recommendation = "Buy"
	RecommendationHold    Recommendation = "Hold"
	RecommendationSell    Recommendation = "Sell"
	RecommendationUnknown Recommendation = ""
)

// ParseRecommendation maps a raw feed value onto a Recommendation,
// case-insensitively. Unrecognised values map to RecommendationUnknown.
func ParseRecommendation(s string) Recommendation {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return RecommendationBuy
	case "hold":
		return RecommendationHold
	case "sell":
		return RecommendationSell
	default:
		return RecommendationUnknown
	}
}

// RecommendationRecord is one row of the recommendations feed: a ticker's
// scores as of SignalDate. Numeric fields are NaN when the feed omitted them.
type RecommendationRecord struct {
	Ticker           string         `json:"ticker"`
	Company          string         `json:"company,omitempty"`
	SignalDate       string         `json:"signalDate"`
	Recommendation   Recommendation `json:"recommendation"`
	TickwiseScore    float64        `json:"tickwiseScore"`
	Technical        float64        `json:"technical"`
	FundamentalScore float64        `json:"fundamentalScore"`
	Forecast1M       float64        `json:"forecast1m"`
	Forecast1MP5     float64        `json:"forecast1mP5"`
	Forecast1MP95    float64        `json:"forecast1mP95"`
	AnalystsForecast float64        `json:"analystsForecast"`
	Close            float64        `json:"close"`
}

// IsBuy reports whether the record carries a Buy recommendation.
func (r RecommendationRecord) IsBuy() bool {
	return r.Recommendation == RecommendationBuy
}

// ---------------------------------------------------------------------------
// Simulation entities
// ---------------------------------------------------------------------------

// Pick is a recommendation chosen as an entry signal for a given date.
type Pick struct {
	Date   string               `json:"date"`
	Record RecommendationRecord `json:"record"`
}

// Ticker returns the ticker of the picked record.
func (p Pick) Ticker() string { return p.Record.Ticker }

// Leg is one continuous holding period of a single ticker within a chain.
type Leg struct {
	Ticker      string  `json:"ticker"`
	BuyDate     string  `json:"buyDate"`
	BuyPrice    float64 `json:"buyPrice"`
	SellDate    string  `json:"sellDate"`
	SellPrice   float64 `json:"sellPrice"`
	EntryValue  float64 `json:"entryValue"`
	ExitValue   float64 `json:"exitValue"`
	ExitRule    string  `json:"exitRule,omitempty"`
	TriggerDate string  `json:"triggerDate,omitempty"`
	// Holding is set when no exit rule fired and the leg was marked at the
	// latest available close.
	Holding bool `json:"holding"`
}

// ReturnPct is the leg's price return in percent.
func (l Leg) ReturnPct() float64 {
	return (l.SellPrice - l.BuyPrice) / l.BuyPrice * 100
}

// Termination names the terminal transition that ended a chain.
type Termination string

const (
	TerminationHoldToLatest  Termination = "hold_to_latest"
	TerminationNoFill        Termination = "no_fill"
	TerminationNoLatestClose Termination = "no_latest_close"
	TerminationNoReplacement Termination = "no_replacement"
	TerminationMaxLegs       Termination = "max_legs"
)

// Chain is one unit of capital's journey through consecutive re-entries,
// starting from one initial pick.
type Chain struct {
	ID          int         `json:"id"`
	StartDate   string      `json:"startDate"`
	Legs        []Leg       `json:"legs"`
	Termination Termination `json:"termination"`
}

// FinalValue is the chain's value after its last leg, starting from 1.0.
func (c Chain) FinalValue() float64 {
	if len(c.Legs) == 0 {
		return 1
	}
	return c.Legs[len(c.Legs)-1].ExitValue
}

// ReturnPct is the chain's compounded return over all legs, in percent.
func (c Chain) ReturnPct() float64 {
	return (c.FinalValue() - 1) * 100
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// Holding is a ticker held on a given day of the equity curve with its
// running return since the leg was entered.
type Holding struct {
	Ticker    string  `json:"ticker"`
	ReturnPct float64 `json:"returnPct"`
}

// EquityPoint is one day of the portfolio equity curve.
type EquityPoint struct {
	Date               string    `json:"date"`
	PortfolioReturnPct float64   `json:"portfolioReturnPct"`
	Holdings           []Holding `json:"holdings"`
}

// DetailRow is a flattened leg for the trades view.
type DetailRow struct {
	ChainID   int     `json:"chainId"`
	Leg       int     `json:"leg"`
	Ticker    string  `json:"ticker"`
	BuyDate   string  `json:"buyDate"`
	BuyPrice  float64 `json:"buyPrice"`
	SellDate  string  `json:"sellDate"`
	SellPrice float64 `json:"sellPrice"`
	ReturnPct float64 `json:"returnPct"`
	ExitRule  string  `json:"exitRule,omitempty"`
	Holding   bool    `json:"holding"`
}

// BacktestResult holds the statistics of one backtest run. Sample == 0 is
// the "not enough data" marker; every other statistic is zero in that case.
type BacktestResult struct {
	RunID        string `json:"runId,omitempty"`
	AnchorDate   string `json:"anchorDate,omitempty"`
	LookbackDays int    `json:"lookbackDays"`
	TopK         int    `json:"topK"`

	Sample int     `json:"sample"`
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stdDev"`

	WinRate        float64 `json:"winRate"`
	TradesCount    int     `json:"tradesCount"`
	WinsCount      int     `json:"winsCount"`
	LossesCount    int     `json:"lossesCount"`
	MeanWinReturn  float64 `json:"meanWinReturn"`
	MeanLossReturn float64 `json:"meanLossReturn"`
	MaxWinReturn   float64 `json:"maxWinReturn"`
	MaxLossRate    float64 `json:"maxLossRate"`
	MaxDrawdown    float64 `json:"maxDrawdown"`

	DetailRows   []DetailRow   `json:"detailRows"`
	Chains       []Chain       `json:"chains"`
	EquitySeries []EquityPoint `json:"equitySeries"`
}

// Empty reports whether the result is the zero-sample marker.
func (r *BacktestResult) Empty() bool { return r == nil || r.Sample == 0 }

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
