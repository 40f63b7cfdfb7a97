package dashboard

import (
	"sort"
	"strings"

	"tickwise/internal/datekey"
	"tickwise/internal/domain"
	"tickwise/internal/series"
)

// Forecast horizons in calendar days.
const (
	MLHorizonDays      = 30
	AnalystHorizonDays = 365
)

// Point is one chart point.
type Point struct {
	Time  string  `json:"time"`
	Value float64 `json:"value"`
}

// ScoreSeries holds a ticker's score history, each series in date order.
type ScoreSeries struct {
	Tickwise    []Point `json:"tickwise"`
	Technical   []Point `json:"technical"`
	Fundamental []Point `json:"fundamental"`
}

// ScoreHistory collects the score series of ticker from history. Missing
// scores are skipped per series.
func ScoreHistory(history []domain.RecommendationRecord, ticker string) ScoreSeries {
	ticker = strings.ToUpper(ticker)
	var out ScoreSeries
	for _, r := range history {
		if r.Ticker != ticker || r.SignalDate == "" {
			continue
		}
		out.Tickwise = appendPoint(out.Tickwise, r.SignalDate, r.TickwiseScore)
		out.Technical = appendPoint(out.Technical, r.SignalDate, r.Technical)
		out.Fundamental = appendPoint(out.Fundamental, r.SignalDate, r.FundamentalScore)
	}
	sortPoints(out.Tickwise)
	sortPoints(out.Technical)
	sortPoints(out.Fundamental)
	return out
}

// ForecastLines are two-point chart segments from the last close to a
// projected price.
type ForecastLines struct {
	Mean    []Point `json:"mean"`
	P5      []Point `json:"p5"`
	P95     []Point `json:"p95"`
	Analyst []Point `json:"analyst"`
	// History holds past 1-month forecasts at the date they target.
	History []Point `json:"history"`
}

// Forecast projects rec's forecasts from the last close in bars. The ML
// lines end MLHorizonDays out, the analyst line AnalystHorizonDays out.
// Forecasts are price targets; they are scaled by the ratio to rec's own
// close so the line starts at the latest chart price. A line is omitted
// when either close or the target is missing.
func Forecast(bars []domain.PriceBar, rec domain.RecommendationRecord, history []domain.RecommendationRecord) ForecastLines {
	out := ForecastLines{History: HistoricalForecasts(history, rec.Ticker)}

	lastDate, lastClose, ok := series.NewPriceIndex(bars).Latest()
	if !ok {
		return out
	}
	line := func(target float64, days int) []Point {
		pct := pctOf(target, rec.Close)
		if !domain.IsFinite(pct) {
			return nil
		}
		end, err := datekey.AddDays(lastDate, days)
		if err != nil {
			return nil
		}
		return []Point{
			{Time: lastDate, Value: lastClose},
			{Time: end, Value: lastClose * (1 + pct/100)},
		}
	}
	out.Mean = line(rec.Forecast1M, MLHorizonDays)
	out.P5 = line(rec.Forecast1MP5, MLHorizonDays)
	out.P95 = line(rec.Forecast1MP95, MLHorizonDays)
	out.Analyst = line(rec.AnalystsForecast, AnalystHorizonDays)
	return out
}

// HistoricalForecasts returns ticker's past 1-month forecasts, each placed
// MLHorizonDays after the date it was made, in date order.
func HistoricalForecasts(history []domain.RecommendationRecord, ticker string) []Point {
	ticker = strings.ToUpper(ticker)
	var out []Point
	for _, r := range history {
		if r.Ticker != ticker || !domain.IsFinite(r.Forecast1M) {
			continue
		}
		at, err := datekey.AddDays(r.SignalDate, MLHorizonDays)
		if err != nil {
			continue
		}
		out = append(out, Point{Time: at, Value: r.Forecast1M})
	}
	sortPoints(out)
	return out
}

func appendPoint(pts []Point, date string, v float64) []Point {
	if !domain.IsFinite(v) {
		return pts
	}
	return append(pts, Point{Time: date, Value: v})
}

func sortPoints(pts []Point) {
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time < pts[j].Time })
}
