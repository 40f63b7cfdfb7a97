package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"tickwise/internal/dashboard"
	"tickwise/internal/domain"
	"tickwise/internal/engine"
	"tickwise/internal/feed"
)

// maxBodyBytes bounds a backtest request body.
const maxBodyBytes = 1 << 20

// RunResponse answers a backtest request. Stale is set when a newer run
// superseded this one; Result is then nil.
type RunResponse struct {
	RunID      string                 `json:"runId"`
	Generation uint64                 `json:"generation"`
	Stale      bool                   `json:"stale"`
	Result     *domain.BacktestResult `json:"result,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, feed.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"loadedAt": s.deps.Docs.LoadedAt(),
	})
}

// ---------------------------------------------------------------------------
// Backtest
// ---------------------------------------------------------------------------

// decodeParams overlays the JSON body on the configured defaults. An empty
// body selects the defaults.
func (s *Server) decodeParams(body io.Reader) (engine.Params, error) {
	p := s.deps.Defaults
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return p, errors.Join(engine.ErrInvalidParams, err)
	}
	return p, nil
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	p, err := s.decodeParams(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.runBacktest(r.Context(), p)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// runBacktest runs p as the newest generation and commits its result.
func (s *Server) runBacktest(ctx context.Context, p engine.Params) (RunResponse, error) {
	if err := p.Validate(); err != nil {
		return RunResponse{}, err
	}
	if s.deps.Docs.LoadedAt().IsZero() {
		if err := s.deps.Docs.Refresh(ctx); err != nil {
			return RunResponse{}, err
		}
	}

	ticket := s.deps.Runs.Begin(ctx, p)
	defer ticket.Done()
	resp := RunResponse{RunID: ticket.ID, Generation: ticket.Generation}

	result, err := s.deps.Backtester.Run(ticket.Ctx, s.deps.Docs.History(), p)
	if err != nil {
		if ctx.Err() == nil && !s.deps.Runs.Current(ticket) {
			resp.Stale = true
			return resp, nil
		}
		return RunResponse{}, err
	}
	if !s.deps.Runs.Commit(ticket, result) {
		resp.Stale = true
		return resp, nil
	}
	resp.Result = result
	s.log.Info().Str("run_id", ticket.ID).Str("anchor", result.AnchorDate).
		Int("sample", result.Sample).Msg("backtest committed")
	return resp, nil
}

func (s *Server) handleLatestRun(w http.ResponseWriter, _ *http.Request) {
	run, ok := s.deps.Runs.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no backtest has completed"))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ---------------------------------------------------------------------------
// Recommendations
// ---------------------------------------------------------------------------

// handleRecommendations serves the snapshot as rows. Query parameters:
// side (buy, sell, hold), top (N highest scores), and min_<col>/max_<col>
// range filters over the score columns.
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recs := s.deps.Docs.Snapshot()

	top := 0
	if v := q.Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("top must be a non-negative integer"))
			return
		}
		top = n
	}

	if v := q.Get("side"); v != "" {
		side := domain.ParseRecommendation(v)
		if side == domain.RecommendationUnknown {
			writeError(w, http.StatusBadRequest, errors.New("side must be buy, sell or hold"))
			return
		}
		recs = dashboard.Top(recs, side, 0)
	}

	ranges, err := parseRanges(q.Get)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rows := dashboard.Filter(dashboard.Rows(recs), ranges)
	if top > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			return scoreOrZero(rows[i].TickwiseScore) > scoreOrZero(rows[j].TickwiseScore)
		})
		if len(rows) > top {
			rows = rows[:top]
		}
	}
	if rows == nil {
		rows = []dashboard.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func parseRanges(get func(string) string) (map[string]dashboard.Range, error) {
	ranges := make(map[string]dashboard.Range)
	for _, col := range dashboard.Columns {
		var rg dashboard.Range
		for _, bound := range []struct {
			prefix string
			dst    **float64
		}{{"min_", &rg.Min}, {"max_", &rg.Max}} {
			v := get(bound.prefix + col)
			if v == "" {
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, errors.New(bound.prefix + col + " must be a number")
			}
			*bound.dst = &f
		}
		if rg.Min != nil || rg.Max != nil {
			ranges[col] = rg
		}
	}
	return ranges, nil
}

func scoreOrZero(v float64) float64 {
	if !domain.IsFinite(v) {
		return 0
	}
	return v
}

func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	rows := dashboard.Rows(dashboard.Preview(s.deps.Docs.Snapshot()))
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRanges(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, dashboard.ScoreRanges(dashboard.Rows(s.deps.Docs.Snapshot())))
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, dashboard.Summarize(s.deps.Docs.Snapshot()))
}

// ---------------------------------------------------------------------------
// Per-ticker views
// ---------------------------------------------------------------------------

func tickerParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "ticker")))
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dashboard.ScoreHistory(s.deps.Docs.History(), tickerParam(r)))
}

// priceBars fetches ticker's bars sorted by date.
func (s *Server) priceBars(ctx context.Context, ticker string) ([]domain.PriceBar, error) {
	bars, err := s.deps.Prices.PriceHistory(ctx, ticker)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PriceBar, 0, len(bars))
	for _, b := range bars {
		if b.Date != "" {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	bars, err := s.priceBars(r.Context(), tickerParam(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, bars)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	ticker := tickerParam(r)
	var (
		rec   domain.RecommendationRecord
		found bool
	)
	for _, cand := range s.deps.Docs.Snapshot() {
		if cand.Ticker == ticker {
			rec, found = cand, true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, errors.New(ticker+" is not in the current recommendations"))
		return
	}

	bars, err := s.priceBars(r.Context(), ticker)
	if err != nil && !errors.Is(err, feed.ErrNotFound) {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard.Forecast(bars, rec, s.deps.Docs.History()))
}
