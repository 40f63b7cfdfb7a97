package feed

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickwise/internal/domain"
)

func TestDecodeRecommendationsArray(t *testing.T) {
	doc := `[
		{"ticker":"aapl","Security":"Apple Inc.","recommendation":"BUY","tickwise_score":"91.5",
		 "technical":72,"fundamental_score":60,"forecast_1m":201.5,"forecast1m_p5":180,"forecast1m_p95":220,
		 "analysts_forecast":12,"Close":190,"Date_x":"2024-01-01","Date_y":"2024-01-02"},
		{"ticker":"MSFT","recommendation":"Hold","Tickwise":55,"date":1704153600},
		{"ticker":"NVDA","recommendation":"sell","tickwise_score":null,"analysis_date":"2024-01-03T21:00:00Z"}
	]`

	recs, err := DecodeRecommendations([]byte(doc))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	a := recs[0]
	assert.Equal(t, "AAPL", a.Ticker)
	assert.Equal(t, "Apple Inc.", a.Company)
	assert.Equal(t, "2024-01-02", a.SignalDate, "Date_y takes precedence")
	assert.Equal(t, domain.RecommendationBuy, a.Recommendation)
	assert.Equal(t, 91.5, a.TickwiseScore)
	assert.Equal(t, 72.0, a.Technical)
	assert.Equal(t, 201.5, a.Forecast1M)
	assert.Equal(t, 220.0, a.Forecast1MP95)
	assert.Equal(t, 190.0, a.Close)

	assert.Equal(t, 55.0, recs[1].TickwiseScore)
	assert.Equal(t, "2024-01-02", recs[1].SignalDate)
	assert.True(t, math.IsNaN(recs[1].Technical))

	assert.Equal(t, domain.RecommendationSell, recs[2].Recommendation)
	assert.True(t, math.IsNaN(recs[2].TickwiseScore))
	assert.Equal(t, "2024-01-03", recs[2].SignalDate)
}

func TestDecodeRecommendationsContainers(t *testing.T) {
	doc := `[
		{"run_date":"2024-02-01","recommendations":[
			{"ticker":"AAA","recommendation":"Buy","tickwise_score":80},
			{"ticker":"BBB","recommendation":"Buy","tickwise_score":75,"date":"2024-02-02"}
		]},
		{"as_of":"2024-02-03","stocks":[{"ticker":"CCC","recommendation":"Buy","tickwise_score":71}]}
	]`
	recs, err := DecodeRecommendations([]byte(doc))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "2024-02-01", recs[0].SignalDate)
	assert.Equal(t, "2024-02-02", recs[1].SignalDate, "own date wins over container date")
	assert.Equal(t, "2024-02-03", recs[2].SignalDate)
}

func TestDecodeRecommendationsKeyedObjects(t *testing.T) {
	byDate := `{
		"2024-03-02": {"recommendations":[{"ticker":"AAA","recommendation":"Buy","tickwise_score":80}]},
		"2024-03-01": [{"ticker":"BBB","recommendation":"Buy","tickwise_score":90}]
	}`
	recs, err := DecodeRecommendations([]byte(byDate))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "BBB", recs[0].Ticker)
	assert.Equal(t, "2024-03-01", recs[0].SignalDate)
	assert.Equal(t, "2024-03-02", recs[1].SignalDate)

	byTicker := `{"XYZ":[{"date":"2024-03-01","recommendation":"Buy","tickwise_score":88}]}`
	recs, err = DecodeRecommendations([]byte(byTicker))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "XYZ", recs[0].Ticker)
	assert.Equal(t, 88.0, recs[0].TickwiseScore)
}

func TestDecodeRecommendationsMalformed(t *testing.T) {
	_, err := DecodeRecommendations([]byte(`{"broken"`))
	assert.Error(t, err)
}

func TestDecodePriceBars(t *testing.T) {
	doc := `[
		{"Date":"2024-01-03","Open":11,"High":11.5,"Low":8.5,"Close":9,"Volume":1000},
		{"time":1704067200000,"open":"10","high":"10","low":"10","close":"10"},
		{"date":"garbage","Open":1,"Close":1},
		{"Time":"2024-01-02","Open":10.5,"Close":"n/a"},
		"not a row"
	]`
	bars, err := DecodePriceBars([]byte(doc))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, "2024-01-03", bars[0].Date)
	assert.Equal(t, 1000.0, bars[0].Volume)
	assert.Equal(t, "2024-01-01", bars[1].Date)
	assert.Equal(t, 10.0, bars[1].Open)
	assert.Equal(t, 0.0, bars[1].Volume)
	assert.True(t, math.IsNaN(bars[2].Close))

	wrapped, err := DecodePriceBars([]byte(`{"data":[{"date":"2024-01-01","Close":5}]}`))
	require.NoError(t, err)
	require.Len(t, wrapped, 1)

	_, err = DecodePriceBars([]byte(`{"ticker":"X"}`))
	assert.Error(t, err)
}

func TestClientOverHTTP(t *testing.T) {
	var priceHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/feed/today_recommendations.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"ticker":"XYZ","recommendation":"Buy","tickwise_score":80,"date":"2024-01-01"}]`))
	})
	mux.HandleFunc("/feed/hist_recommendations.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"ticker":"XYZ","recommendation":"Buy","tickwise_score":80,"date":"2024-01-01"},
			{"ticker":"XYZ","recommendation":"Hold","tickwise_score":60,"date":"2024-01-02"}]`))
	})
	mux.HandleFunc("/feed/data/XYZ.json", func(w http.ResponseWriter, _ *http.Request) {
		priceHits.Add(1)
		w.Write([]byte(`[{"date":"2024-01-01","Open":10,"Close":10}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(NewHTTPSource(srv.URL+"/feed/", time.Second), Options{Attempts: 3, RetryDelay: time.Millisecond}, zerolog.Nop())
	ctx := context.Background()

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 1)

	hist, err := c.History(ctx)
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	bars, err := c.PriceHistory(ctx, "xyz")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 10.0, bars[0].Close)

	_, err = c.PriceHistory(ctx, "MISSING")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, int32(1), priceHits.Load())
}

func TestClientRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(NewHTTPSource(srv.URL, 0), Options{Attempts: 3, RetryDelay: time.Millisecond}, zerolog.Nop())
	recs, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, int32(3), calls.Load())

	// Default options make a single attempt.
	calls.Store(0)
	c = NewClient(NewHTTPSource(srv.URL, 0), Options{}, zerolog.Nop())
	_, err = c.Snapshot(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "AAA.json"),
		[]byte(`[{"date":"2024-01-01","Open":1,"Close":2}]`), 0o644))

	c := NewClient(NewFileSource(dir), Options{}, zerolog.Nop())
	bars, err := c.PriceHistory(context.Background(), "AAA")
	require.NoError(t, err)
	assert.Len(t, bars, 1)

	_, err = c.PriceHistory(context.Background(), "BBB")
	assert.ErrorIs(t, err, ErrNotFound)

	// Paths cannot escape the root.
	_, err = NewFileSource(dir).Fetch(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}

type staticRecs struct {
	snap, hist []domain.RecommendationRecord
	err        error
}

func (s staticRecs) Snapshot(context.Context) ([]domain.RecommendationRecord, error) {
	return s.snap, s.err
}

func (s staticRecs) History(context.Context) ([]domain.RecommendationRecord, error) {
	return s.hist, s.err
}

func TestDocumentsRefresh(t *testing.T) {
	src := staticRecs{
		snap: []domain.RecommendationRecord{{Ticker: "A"}},
		hist: []domain.RecommendationRecord{{Ticker: "A"}, {Ticker: "B"}},
	}
	docs := NewDocuments(src, zerolog.Nop())
	require.NoError(t, docs.Refresh(context.Background()))
	assert.Len(t, docs.Snapshot(), 1)
	assert.Len(t, docs.History(), 2)
	assert.False(t, docs.LoadedAt().IsZero())

	// A failing refresh keeps the previous documents.
	docs.src = staticRecs{err: errors.New("down")}
	assert.Error(t, docs.Refresh(context.Background()))
	assert.Len(t, docs.History(), 2)

	assert.Error(t, docs.Schedule("not a cron spec", 0))
	require.NoError(t, docs.Schedule("", 0))
	docs.Stop()
}
