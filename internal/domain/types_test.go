package domain

import (
	"encoding/json"
	"math"
	"testing"
)

func TestParseRecommendation(t *testing.T) {
	tests := []struct {
		in   string
		want Recommendation
	}{
		{"Buy", RecommendationBuy},
		{"buy", RecommendationBuy},
		{" BUY ", RecommendationBuy},
		{"Hold", RecommendationHold},
		{"sell", RecommendationSell},
		{"strong buy", RecommendationUnknown},
		{"", RecommendationUnknown},
	}
	for _, tt := range tests {
		if got := ParseRecommendation(tt.in); got != tt.want {
			t.Errorf("ParseRecommendation(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLegReturnPct(t *testing.T) {
	leg := Leg{Ticker: "XYZ", BuyPrice: 10.5, SellPrice: 11, EntryValue: 1, ExitValue: 11 / 10.5}
	got := leg.ReturnPct()
	if math.Abs(got-4.7619) > 1e-3 {
		t.Errorf("ReturnPct() = %f, want ~4.7619", got)
	}
}

func TestChainFinalValue(t *testing.T) {
	// Zero-value chain starts with one unit of capital.
	var c Chain
	if c.FinalValue() != 1 {
		t.Errorf("empty chain FinalValue() = %f, want 1", c.FinalValue())
	}
	if c.ReturnPct() != 0 {
		t.Errorf("empty chain ReturnPct() = %f, want 0", c.ReturnPct())
	}

	c.Legs = []Leg{
		{EntryValue: 1, ExitValue: 1.1},
		{EntryValue: 1.1, ExitValue: 0.99},
	}
	if c.FinalValue() != 0.99 {
		t.Errorf("FinalValue() = %f, want 0.99", c.FinalValue())
	}
	if math.Abs(c.ReturnPct()-(-1)) > 1e-9 {
		t.Errorf("ReturnPct() = %f, want -1", c.ReturnPct())
	}
}

func TestBacktestResultEmpty(t *testing.T) {
	var nilResult *BacktestResult
	if !nilResult.Empty() {
		t.Error("nil result should be empty")
	}
	if !(&BacktestResult{}).Empty() {
		t.Error("zero-sample result should be empty")
	}
	if (&BacktestResult{Sample: 3}).Empty() {
		t.Error("result with samples should not be empty")
	}
}

func TestIsFinite(t *testing.T) {
	if !IsFinite(1.5) {
		t.Error("1.5 should be finite")
	}
	if IsFinite(math.NaN()) || IsFinite(math.Inf(1)) || IsFinite(math.Inf(-1)) {
		t.Error("NaN and Inf should not be finite")
	}
}

func TestPriceBarJSONNaN(t *testing.T) {
	b := PriceBar{Date: "2024-01-02", Open: math.NaN(), Close: 11, Volume: 5}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"date":"2024-01-02","open":null,"high":0,"low":0,"close":11,"volume":5}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}

	var back PriceBar
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !math.IsNaN(back.Open) || back.Close != 11 {
		t.Errorf("Unmarshal = %+v", back)
	}
}

func TestRecommendationRecordJSONNaN(t *testing.T) {
	r := RecommendationRecord{
		Ticker: "XYZ", SignalDate: "2024-01-01", Recommendation: RecommendationBuy,
		TickwiseScore: 80, Technical: math.NaN(), FundamentalScore: math.Inf(1),
		Forecast1M: math.NaN(), Forecast1MP5: math.NaN(), Forecast1MP95: math.NaN(),
		AnalystsForecast: math.NaN(), Close: 10,
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back RecommendationRecord
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.TickwiseScore != 80 || !math.IsNaN(back.Technical) || !math.IsNaN(back.FundamentalScore) {
		t.Errorf("round trip = %+v", back)
	}
	if !back.IsBuy() {
		t.Error("recommendation lost in round trip")
	}
}
