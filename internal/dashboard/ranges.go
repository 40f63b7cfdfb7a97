package dashboard

import (
	"encoding/json"
	"math"

	"tickwise/internal/domain"
)

// Score columns that can be ranged and filtered.
const (
	ColTickwise    = "tickwise_score"
	ColTechnical   = "technical"
	ColFundamental = "fundamental_score"
	ColAI1MLower   = "ai1m_lower_pct"
	ColAI1MUpper   = "ai1m_upper_pct"
	ColAnalyst1Y   = "analyst_1y_pct"
)

// Columns lists the score columns in display order.
var Columns = []string{ColTickwise, ColTechnical, ColFundamental, ColAI1MLower, ColAI1MUpper, ColAnalyst1Y}

// Row is a snapshot record with its forecasts expressed as percentages of
// the record's close.
type Row struct {
	domain.RecommendationRecord
	AI1MLowerPct float64 `json:"ai1mLowerPct"`
	AI1MUpperPct float64 `json:"ai1mUpperPct"`
	Analyst1YPct float64 `json:"analyst1yPct"`
}

// NewRow derives the percentage columns of r. They are NaN without a
// usable close.
func NewRow(r domain.RecommendationRecord) Row {
	return Row{
		RecommendationRecord: r,
		AI1MLowerPct:         pctOf(r.Forecast1MP5, r.Close),
		AI1MUpperPct:         pctOf(r.Forecast1MP95, r.Close),
		Analyst1YPct:         pctOf(r.AnalystsForecast, r.Close),
	}
}

// Rows converts a snapshot to rows.
func Rows(recs []domain.RecommendationRecord) []Row {
	out := make([]Row, len(recs))
	for i, r := range recs {
		out[i] = NewRow(r)
	}
	return out
}

// MarshalJSON extends the record's encoding with the percentage columns,
// null when missing.
func (r Row) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(r.RecommendationRecord)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for key, v := range map[string]float64{
		"ai1mLowerPct": r.AI1MLowerPct,
		"ai1mUpperPct": r.AI1MUpperPct,
		"analyst1yPct": r.Analyst1YPct,
	} {
		fields[key] = json.RawMessage("null")
		if domain.IsFinite(v) {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			fields[key] = b
		}
	}
	return json.Marshal(fields)
}

// Value returns the named column, and false for an unknown column.
func (r Row) Value(col string) (float64, bool) {
	switch col {
	case ColTickwise:
		return r.TickwiseScore, true
	case ColTechnical:
		return r.Technical, true
	case ColFundamental:
		return r.FundamentalScore, true
	case ColAI1MLower:
		return r.AI1MLowerPct, true
	case ColAI1MUpper:
		return r.AI1MUpperPct, true
	case ColAnalyst1Y:
		return r.Analyst1YPct, true
	}
	return 0, false
}

// Range is an inclusive interval; a nil bound is open.
type Range struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// Contains reports whether v lies within r.
func (r Range) Contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// ScoreRanges returns the min and max of every score column over rows,
// ignoring missing values. A column with no values has nil bounds.
func ScoreRanges(rows []Row) map[string]Range {
	out := make(map[string]Range, len(Columns))
	for _, col := range Columns {
		var rg Range
		for _, row := range rows {
			v, _ := row.Value(col)
			if !domain.IsFinite(v) {
				continue
			}
			if rg.Min == nil || v < *rg.Min {
				rg.Min = ptr(v)
			}
			if rg.Max == nil || v > *rg.Max {
				rg.Max = ptr(v)
			}
		}
		out[col] = rg
	}
	return out
}

// Filter keeps the rows whose columns fall within every given range. A
// missing value passes its range; unknown columns are ignored.
func Filter(rows []Row, ranges map[string]Range) []Row {
	var out []Row
	for _, row := range rows {
		if matches(row, ranges) {
			out = append(out, row)
		}
	}
	return out
}

func matches(row Row, ranges map[string]Range) bool {
	for col, rg := range ranges {
		v, ok := row.Value(col)
		if !ok || !domain.IsFinite(v) {
			continue
		}
		if !rg.Contains(v) {
			return false
		}
	}
	return true
}

func pctOf(target, close float64) float64 {
	if !domain.IsFinite(target) || !domain.IsFinite(close) || close == 0 {
		return math.NaN()
	}
	return (target - close) * 100 / close
}

func ptr(v float64) *float64 { return &v }
