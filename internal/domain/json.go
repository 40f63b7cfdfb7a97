package domain

import (
	"encoding/json"
	"math"
)

// Missing numeric fields are NaN in memory and null on the wire.

func optional(v float64) *float64 {
	if !IsFinite(v) {
		return nil
	}
	return &v
}

func orNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

type priceBarJSON struct {
	Date   string   `json:"date"`
	Open   *float64 `json:"open"`
	High   *float64 `json:"high"`
	Low    *float64 `json:"low"`
	Close  *float64 `json:"close"`
	Volume *float64 `json:"volume"`
}

// MarshalJSON encodes non-finite prices as null.
func (b PriceBar) MarshalJSON() ([]byte, error) {
	return json.Marshal(priceBarJSON{
		Date:   b.Date,
		Open:   optional(b.Open),
		High:   optional(b.High),
		Low:    optional(b.Low),
		Close:  optional(b.Close),
		Volume: optional(b.Volume),
	})
}

// UnmarshalJSON decodes null prices as NaN.
func (b *PriceBar) UnmarshalJSON(data []byte) error {
	var w priceBarJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = PriceBar{
		Date:   w.Date,
		Open:   orNaN(w.Open),
		High:   orNaN(w.High),
		Low:    orNaN(w.Low),
		Close:  orNaN(w.Close),
		Volume: orNaN(w.Volume),
	}
	return nil
}

type recordJSON struct {
	Ticker           string         `json:"ticker"`
	Company          string         `json:"company,omitempty"`
	SignalDate       string         `json:"signalDate"`
	Recommendation   Recommendation `json:"recommendation"`
	TickwiseScore    *float64       `json:"tickwiseScore"`
	Technical        *float64       `json:"technical"`
	FundamentalScore *float64       `json:"fundamentalScore"`
	Forecast1M       *float64       `json:"forecast1m"`
	Forecast1MP5     *float64       `json:"forecast1mP5"`
	Forecast1MP95    *float64       `json:"forecast1mP95"`
	AnalystsForecast *float64       `json:"analystsForecast"`
	Close            *float64       `json:"close"`
}

// MarshalJSON encodes missing scores as null.
func (r RecommendationRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Ticker:           r.Ticker,
		Company:          r.Company,
		SignalDate:       r.SignalDate,
		Recommendation:   r.Recommendation,
		TickwiseScore:    optional(r.TickwiseScore),
		Technical:        optional(r.Technical),
		FundamentalScore: optional(r.FundamentalScore),
		Forecast1M:       optional(r.Forecast1M),
		Forecast1MP5:     optional(r.Forecast1MP5),
		Forecast1MP95:    optional(r.Forecast1MP95),
		AnalystsForecast: optional(r.AnalystsForecast),
		Close:            optional(r.Close),
	})
}

// UnmarshalJSON decodes null scores as NaN.
func (r *RecommendationRecord) UnmarshalJSON(data []byte) error {
	var w recordJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = RecommendationRecord{
		Ticker:           w.Ticker,
		Company:          w.Company,
		SignalDate:       w.SignalDate,
		Recommendation:   w.Recommendation,
		TickwiseScore:    orNaN(w.TickwiseScore),
		Technical:        orNaN(w.Technical),
		FundamentalScore: orNaN(w.FundamentalScore),
		Forecast1M:       orNaN(w.Forecast1M),
		Forecast1MP5:     orNaN(w.Forecast1MP5),
		Forecast1MP95:    orNaN(w.Forecast1MP95),
		AnalystsForecast: orNaN(w.AnalystsForecast),
		Close:            orNaN(w.Close),
	}
	return nil
}
