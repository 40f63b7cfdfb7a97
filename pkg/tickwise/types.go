package tickwise

import "time"

// Params are backtest parameters. Nil fields take the server defaults.
type Params struct {
	LookbackDays  *int           `json:"lookbackDays,omitempty"`
	TopK          *int           `json:"topK,omitempty"`
	MinScore      *float64       `json:"minScore,omitempty"`
	RisingTrend   *bool          `json:"risingTrend,omitempty"`
	MaxLegs       *int           `json:"maxLegs,omitempty"`
	TechnicalStop *TechnicalStop `json:"technicalStop,omitempty"`
	TrailingStop  *PctRule       `json:"trailingStop,omitempty"`
	TakeProfit    *PctRule       `json:"takeProfit,omitempty"`
}

// TechnicalStop exits when the technical score drops below Threshold.
type TechnicalStop struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
}

// PctRule is a percentage based exit rule.
type PctRule struct {
	Enabled bool    `json:"enabled"`
	Pct     float64 `json:"pct"`
}

// RunResponse answers a backtest request.
type RunResponse struct {
	RunID      string  `json:"runId"`
	Generation uint64  `json:"generation"`
	Stale      bool    `json:"stale"`
	Result     *Result `json:"result,omitempty"`
}

// Run is a committed run.
type Run struct {
	ID         string    `json:"runId"`
	Generation uint64    `json:"generation"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Result     *Result   `json:"result"`
}

// Result holds the statistics of a run. Sample == 0 means no chain could
// be simulated.
type Result struct {
	RunID          string        `json:"runId,omitempty"`
	AnchorDate     string        `json:"anchorDate,omitempty"`
	LookbackDays   int           `json:"lookbackDays"`
	TopK           int           `json:"topK"`
	Sample         int           `json:"sample"`
	Avg            float64       `json:"avg"`
	Median         float64       `json:"median"`
	StdDev         float64       `json:"stdDev"`
	WinRate        float64       `json:"winRate"`
	TradesCount    int           `json:"tradesCount"`
	WinsCount      int           `json:"winsCount"`
	LossesCount    int           `json:"lossesCount"`
	MeanWinReturn  float64       `json:"meanWinReturn"`
	MeanLossReturn float64       `json:"meanLossReturn"`
	MaxWinReturn   float64       `json:"maxWinReturn"`
	MaxLossRate    float64       `json:"maxLossRate"`
	MaxDrawdown    float64       `json:"maxDrawdown"`
	EquitySeries   []EquityPoint `json:"equitySeries"`
	DetailRows     []DetailRow   `json:"detailRows"`
}

// EquityPoint is one day of the portfolio equity curve.
type EquityPoint struct {
	Date               string  `json:"date"`
	PortfolioReturnPct float64 `json:"portfolioReturnPct"`
}

// DetailRow is one leg of a chain.
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

// Bar is a daily price bar; missing prices are nil.
type Bar struct {
	Date   string   `json:"date"`
	Open   *float64 `json:"open"`
	High   *float64 `json:"high"`
	Low    *float64 `json:"low"`
	Close  *float64 `json:"close"`
	Volume *float64 `json:"volume"`
}

// Recommendation is one snapshot row. Missing scores are nil; the Pct
// fields are forecasts relative to Close.
type Recommendation struct {
	Ticker           string   `json:"ticker"`
	Company          string   `json:"company,omitempty"`
	SignalDate       string   `json:"signalDate"`
	Recommendation   string   `json:"recommendation"`
	TickwiseScore    *float64 `json:"tickwiseScore"`
	Technical        *float64 `json:"technical"`
	FundamentalScore *float64 `json:"fundamentalScore"`
	Forecast1M       *float64 `json:"forecast1m"`
	Forecast1MP5     *float64 `json:"forecast1mP5"`
	Forecast1MP95    *float64 `json:"forecast1mP95"`
	AnalystsForecast *float64 `json:"analystsForecast"`
	Close            *float64 `json:"close"`
	AI1MLowerPct     *float64 `json:"ai1mLowerPct"`
	AI1MUpperPct     *float64 `json:"ai1mUpperPct"`
	Analyst1YPct     *float64 `json:"analyst1yPct"`
}
