package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"tickwise/internal/config"
	"tickwise/internal/datekey"
	"tickwise/internal/domain"
	"tickwise/internal/engine"
	"tickwise/internal/feed"
	"tickwise/internal/runstate"
)

type memPrices map[string][]domain.PriceBar

func (m memPrices) PriceHistory(_ context.Context, ticker string) ([]domain.PriceBar, error) {
	bars, ok := m[ticker]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ticker, feed.ErrNotFound)
	}
	return bars, nil
}

type staticDocs struct{ snap, hist []domain.RecommendationRecord }

func (s staticDocs) Snapshot(context.Context) ([]domain.RecommendationRecord, error) {
	return s.snap, nil
}

func (s staticDocs) History(context.Context) ([]domain.RecommendationRecord, error) {
	return s.hist, nil
}

func record(ticker, date string, side domain.Recommendation, score float64) domain.RecommendationRecord {
	return domain.RecommendationRecord{
		Ticker: ticker, SignalDate: date, Recommendation: side, TickwiseScore: score,
		Technical: math.NaN(), FundamentalScore: math.NaN(), Forecast1M: math.NaN(),
		Forecast1MP5: math.NaN(), Forecast1MP95: math.NaN(), AnalystsForecast: math.NaN(),
		Close: math.NaN(),
	}
}

type fixture struct {
	srv  *Server
	http *httptest.Server
	runs *runstate.Store
}

func newFixture(t *testing.T, bt Backtester) *fixture {
	t.Helper()
	prices := memPrices{"XYZ": {
		{Date: "2024-01-03", Open: 11, Close: 9},
		{Date: "2024-01-01", Open: 10, Close: 10},
		{Date: "2024-01-02", Open: 10.5, Close: 11},
	}}

	xyz := record("XYZ", "2024-01-01", domain.RecommendationBuy, 80)
	xyz.Close, xyz.Forecast1M = 10, 11
	snap := []domain.RecommendationRecord{
		xyz,
		record("ABC", "2024-01-01", domain.RecommendationBuy, 90),
		record("DEF", "2024-01-01", domain.RecommendationSell, 40),
		record("GHI", "2024-01-01", domain.RecommendationHold, 50),
	}
	docs := feed.NewDocuments(staticDocs{snap: snap, hist: []domain.RecommendationRecord{xyz}}, zerolog.Nop())
	require.NoError(t, docs.Refresh(context.Background()))

	if bt == nil {
		eng := engine.NewBacktester(prices, 2, zerolog.Nop())
		now, err := datekey.Parse("2024-01-31")
		require.NoError(t, err)
		eng.SetClock(func() time.Time { return now })
		bt = eng
	}

	runs := runstate.NewStore(zerolog.Nop())
	srv := NewServer(config.Server{}, Deps{
		Docs:       docs,
		Prices:     prices,
		Backtester: bt,
		Runs:       runs,
		Defaults:   engine.DefaultParams(),
	}, zerolog.Nop())
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &fixture{srv: srv, http: hs, runs: runs}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) post(t *testing.T, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(f.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	var body map[string]any
	assert.Equal(t, http.StatusOK, f.get(t, "/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBacktestRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/backtest/latest", nil))

	var resp RunResponse
	code := f.post(t, "/api/backtest", `{"topK":1,"trailingStop":{"enabled":true,"pct":10}}`, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, resp.Stale)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, uint64(1), resp.Generation)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 1, resp.Result.Sample)
	assert.Equal(t, "2024-01-01", resp.Result.AnchorDate)
	assert.InDelta(t, 4.7619, resp.Result.Avg, 1e-3)

	var run runstate.Run
	require.Equal(t, http.StatusOK, f.get(t, "/api/backtest/latest", &run))
	assert.Equal(t, resp.RunID, run.ID)
	assert.Equal(t, 1, run.Params.TopK)
	assert.Equal(t, 30, run.Params.LookbackDays, "missing fields take the defaults")
}

func TestBacktestEmptyBodyUsesDefaults(t *testing.T) {
	f := newFixture(t, nil)
	var resp RunResponse
	require.Equal(t, http.StatusOK, f.post(t, "/api/backtest", "", &resp))
	require.NotNil(t, resp.Result)
	assert.Equal(t, 5, resp.Result.TopK)
}

func TestBacktestBadRequests(t *testing.T) {
	f := newFixture(t, nil)
	for _, body := range []string{
		`{"topK":0}`,
		`{"topK":`,
		`{"unknown":1}`,
		`{"trailingStop":{"enabled":true,"pct":150}}`,
	} {
		assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/backtest", body, nil), body)
	}
}

// blockingBacktester blocks runs with TopK 2 until they are cancelled.
type blockingBacktester struct {
	started chan struct{}
}

func (b *blockingBacktester) Run(ctx context.Context, _ []domain.RecommendationRecord, p engine.Params) (*domain.BacktestResult, error) {
	if p.TopK == 2 {
		close(b.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &domain.BacktestResult{TopK: p.TopK}, nil
}

func TestBacktestSuperseded(t *testing.T) {
	bt := &blockingBacktester{started: make(chan struct{})}
	f := newFixture(t, bt)

	var (
		wg    sync.WaitGroup
		first RunResponse
		code  int
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		code = f.post(t, "/api/backtest", `{"topK":2}`, &first)
	}()
	<-bt.started

	var second RunResponse
	require.Equal(t, http.StatusOK, f.post(t, "/api/backtest", `{"topK":3}`, &second))
	assert.False(t, second.Stale)
	wg.Wait()

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, first.Stale)
	assert.Nil(t, first.Result)

	var run runstate.Run
	require.Equal(t, http.StatusOK, f.get(t, "/api/backtest/latest", &run))
	assert.Equal(t, second.RunID, run.ID)
}

func TestRecommendations(t *testing.T) {
	f := newFixture(t, nil)

	var rows []map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/api/recommendations", &rows))
	assert.Len(t, rows, 4)

	require.Equal(t, http.StatusOK, f.get(t, "/api/recommendations?side=buy&top=1", &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "ABC", rows[0]["ticker"])

	require.Equal(t, http.StatusOK, f.get(t, "/api/recommendations?min_tickwise_score=60", &rows))
	assert.Len(t, rows, 2)

	require.Equal(t, http.StatusOK, f.get(t, "/api/recommendations?side=sell&min_tickwise_score=60", &rows))
	assert.Empty(t, rows)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/recommendations?top=x", nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/recommendations?side=short", nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/recommendations?max_technical=high", nil))

	require.Equal(t, http.StatusOK, f.get(t, "/api/recommendations/preview", &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, []any{"ABC", "DEF", "XYZ"}, []any{rows[0]["ticker"], rows[1]["ticker"], rows[2]["ticker"]})

	var ranges map[string]map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/api/recommendations/ranges", &ranges))
	assert.Equal(t, 40.0, ranges["tickwise_score"]["min"])
	assert.Equal(t, 90.0, ranges["tickwise_score"]["max"])
	assert.Nil(t, ranges["technical"]["min"])

	var summary map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/api/recommendations/summary", &summary))
	assert.Equal(t, 4.0, summary["total"])
	assert.Equal(t, 85.0, summary["avgBuyConfidence"])
}

func TestTickerViews(t *testing.T) {
	f := newFixture(t, nil)

	var scores map[string][]map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/api/tickers/xyz/scores", &scores))
	require.Len(t, scores["tickwise"], 1)
	assert.Equal(t, 80.0, scores["tickwise"][0]["value"])

	var bars []domain.PriceBar
	require.Equal(t, http.StatusOK, f.get(t, "/api/tickers/XYZ/prices", &bars))
	require.Len(t, bars, 3)
	assert.Equal(t, "2024-01-01", bars[0].Date)
	assert.Equal(t, "2024-01-03", bars[2].Date)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/tickers/NOPE/prices", nil))

	var forecast map[string][]map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/api/tickers/XYZ/forecast", &forecast))
	require.Len(t, forecast["mean"], 2)
	assert.Equal(t, "2024-02-02", forecast["mean"][1]["time"])
	assert.InDelta(t, 9.9, forecast["mean"][1]["value"], 1e-9)
	require.Len(t, forecast["history"], 1)
	assert.Equal(t, "2024-01-31", forecast["history"][0]["time"])

	// ABC is in the snapshot but has no prices: lines are empty.
	require.Equal(t, http.StatusOK, f.get(t, "/api/tickers/ABC/forecast", &forecast))
	assert.Empty(t, forecast["mean"])
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/tickers/NOPE/forecast", nil))
}

func TestRunStream(t *testing.T) {
	f := newFixture(t, nil)
	first := f.runs.Begin(context.Background(), engine.DefaultParams())
	require.True(t, f.runs.Commit(first, &domain.BacktestResult{Sample: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/backtest/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, first.ID, msg.Run.ID)

	second := f.runs.Begin(context.Background(), engine.DefaultParams())
	require.True(t, f.runs.Commit(second, &domain.BacktestResult{Sample: 2}))
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "run", msg.Type)
	assert.Equal(t, second.ID, msg.Run.ID)
	assert.Equal(t, 2, msg.Run.Result.Sample)
}

func TestGRPCBacktest(t *testing.T) {
	f := newFixture(t, nil)

	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer()
	f.srv.RegisterGRPC(g)
	go g.Serve(lis)
	defer g.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: BacktestServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.Status)

	req, err := structpb.NewStruct(map[string]any{
		"topK":         1,
		"trailingStop": map[string]any{"enabled": true, "pct": 10},
	})
	require.NoError(t, err)
	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, RunMethod, req, out))
	m := out.AsMap()
	assert.Equal(t, false, m["stale"])
	result := m["result"].(map[string]any)
	assert.Equal(t, 1.0, result["sample"])

	bad, err := structpb.NewStruct(map[string]any{"topK": 0})
	require.NoError(t, err)
	err = conn.Invoke(ctx, RunMethod, bad, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
