package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"tickwise/internal/datekey"
	"tickwise/internal/domain"
)

// Field name variants, in precedence order.
var (
	dateKeys        = []string{"Date_y", "Date_x", "analysis_date", "date", "Date", "run_date", "as_of", "generated_at", "time"}
	tickerKeys      = []string{"ticker", "Ticker", "symbol", "Symbol"}
	companyKeys     = []string{"Security", "company", "Company"}
	recKeys         = []string{"recommendation", "Recommendation"}
	tickwiseKeys    = []string{"tickwise_score", "Tickwise", "tickwiseScore"}
	technicalKeys   = []string{"technical", "Technical"}
	fundamentalKeys = []string{"fundamental_score", "fundamentalScore"}
	forecastKeys    = []string{"forecast1m", "forecast_1m", "ml_forecast_1m", "prediction_1m"}
	p5Keys          = []string{"forecast1m_p5", "forecast_1m_p5"}
	p95Keys         = []string{"forecast1m_p95", "forecast_1m_p95"}
	analystKeys     = []string{"analysts_forecast", "analyst_forecast"}
	closeKeys       = []string{"Close", "close"}

	barDateKeys   = []string{"date", "Date", "time", "Time"}
	barOpenKeys   = []string{"Open", "open"}
	barHighKeys   = []string{"High", "high"}
	barLowKeys    = []string{"Low", "low"}
	barCloseKeys  = []string{"Close", "close"}
	barVolumeKeys = []string{"Volume", "volume"}

	// Container keys holding row arrays.
	nestedKeys = []string{"recommendations", "stocks"}
)

// DecodeRecommendations parses a recommendations document. Accepted shapes:
//
//   - an array of records;
//   - an object holding a "recommendations" or "stocks" array whose rows
//     inherit the object's date;
//   - an object keyed by date, each value a record, a container or an array;
//   - an object keyed by ticker, each value an array of that ticker's rows.
//
// Records keep the feed's order. A record's own date field wins over the
// date inherited from its container. Missing numbers decode as NaN.
func DecodeRecommendations(data []byte) ([]domain.RecommendationRecord, error) {
	root, err := decodeAny(data)
	if err != nil {
		return nil, err
	}
	var out []domain.RecommendationRecord
	walkRecommendations(root, "", "", &out)
	return out, nil
}

func walkRecommendations(v any, parentDate, parentTicker string, out *[]domain.RecommendationRecord) {
	switch x := v.(type) {
	case []any:
		for _, el := range x {
			walkRecommendations(el, parentDate, parentTicker, out)
		}
	case map[string]any:
		date := datekey.Normalize(first(x, dateKeys))
		if date == "" {
			date = parentDate
		}

		for _, k := range nestedKeys {
			if rows, ok := x[k].([]any); ok {
				for _, row := range rows {
					walkRecommendations(row, date, parentTicker, out)
				}
				return
			}
		}

		ticker := normalizeTicker(first(x, tickerKeys))
		if ticker == "" && parentTicker != "" && hasAny(x, tickwiseKeys, recKeys) {
			ticker = parentTicker
		}
		if ticker != "" {
			*out = append(*out, recordFrom(x, ticker, date))
			return
		}

		// Keyed object: by date or by ticker. Keys are visited in sorted
		// order so the output is deterministic.
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := x[k]
			switch child.(type) {
			case []any, map[string]any:
			default:
				continue
			}
			if d := datekey.Normalize(k); d != "" {
				walkRecommendations(child, d, parentTicker, out)
			} else {
				walkRecommendations(child, date, normalizeTicker(k), out)
			}
		}
	}
}

func recordFrom(m map[string]any, ticker, date string) domain.RecommendationRecord {
	return domain.RecommendationRecord{
		Ticker:           ticker,
		Company:          str(first(m, companyKeys)),
		SignalDate:       date,
		Recommendation:   domain.ParseRecommendation(str(first(m, recKeys))),
		TickwiseScore:    num(first(m, tickwiseKeys)),
		Technical:        num(first(m, technicalKeys)),
		FundamentalScore: num(first(m, fundamentalKeys)),
		Forecast1M:       num(first(m, forecastKeys)),
		Forecast1MP5:     num(first(m, p5Keys)),
		Forecast1MP95:    num(first(m, p95Keys)),
		AnalystsForecast: num(first(m, analystKeys)),
		Close:            num(first(m, closeKeys)),
	}
}

// DecodePriceBars parses a price-history document: an array of rows, or an
// object holding the rows under "data", "bars" or "prices". Rows without a
// usable date are dropped; unusable price fields decode as NaN and a
// missing volume as 0.
func DecodePriceBars(data []byte) ([]domain.PriceBar, error) {
	root, err := decodeAny(data)
	if err != nil {
		return nil, err
	}
	rows, ok := root.([]any)
	if !ok {
		if m, isMap := root.(map[string]any); isMap {
			for _, k := range []string{"data", "bars", "prices"} {
				if r, isArr := m[k].([]any); isArr {
					rows, ok = r, true
					break
				}
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("price document is not an array")
	}

	bars := make([]domain.PriceBar, 0, len(rows))
	for _, r := range rows {
		m, isMap := r.(map[string]any)
		if !isMap {
			continue
		}
		date := datekey.Normalize(first(m, barDateKeys))
		if date == "" {
			continue
		}
		vol := num(first(m, barVolumeKeys))
		if !domain.IsFinite(vol) {
			vol = 0
		}
		bars = append(bars, domain.PriceBar{
			Date:   date,
			Open:   num(first(m, barOpenKeys)),
			High:   num(first(m, barHighKeys)),
			Low:    num(first(m, barLowKeys)),
			Close:  num(first(m, barCloseKeys)),
			Volume: vol,
		})
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func decodeAny(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// first returns the value of the first present, non-null key.
func first(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func hasAny(m map[string]any, keyLists ...[]string) bool {
	for _, keys := range keyLists {
		if first(m, keys) != nil {
			return true
		}
	}
	return false
}

func normalizeTicker(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

// num converts numbers and numeric strings; everything else is NaN.
func num(v any) float64 {
	var (
		f   float64
		err error
	)
	switch x := v.(type) {
	case json.Number:
		f, err = x.Float64()
	case float64:
		f = x
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(x), "%"))
		if s == "" {
			return math.NaN()
		}
		f, err = strconv.ParseFloat(s, 64)
	default:
		return math.NaN()
	}
	if err != nil {
		return math.NaN()
	}
	return f
}
