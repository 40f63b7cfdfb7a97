// Package signal turns the recommendation history into entry signals: a
// date-grouped, per-date ranked table of qualifying Buy records that chains
// draw their initial picks and replacements from.
package signal

import (
	"sort"
	"strings"

	"tickwise/internal/domain"
)

// DefaultMinScore is the entry threshold applied when Options leave it zero.
const DefaultMinScore = 70

// Options controls which history rows qualify as entries.
type Options struct {
	// MinScore is the exclusive lower bound on the tickwise score.
	MinScore float64
	// RequireRisingTrend admits a record only when the ticker's three score
	// points before it are strictly increasing.
	RequireRisingTrend bool
}

func (o Options) minScore() float64 {
	if o.MinScore == 0 {
		return DefaultMinScore
	}
	return o.MinScore
}

// Table holds qualifying records grouped by signal date. Each date's records
// are deduplicated by ticker and ordered by score descending, once, when the
// table is built.
type Table struct {
	dates  []string
	byDate map[string][]domain.RecommendationRecord
}

// Select filters rows down to entries and groups them by date.
func Select(rows []domain.RecommendationRecord, opts Options) *Table {
	floor := opts.minScore()

	var trend map[string][]scorePoint
	if opts.RequireRisingTrend {
		trend = scoreHistory(rows)
	}

	t := &Table{byDate: make(map[string][]domain.RecommendationRecord)}
	seen := make(map[string]map[string]bool)

	for _, r := range rows {
		if r.SignalDate == "" || r.Ticker == "" {
			continue
		}
		if !r.IsBuy() || !domain.IsFinite(r.TickwiseScore) || !(r.TickwiseScore > floor) {
			continue
		}
		ticker := strings.ToUpper(r.Ticker)
		if trend != nil && !rising(trend[ticker], r.SignalDate, floor) {
			continue
		}

		day := seen[r.SignalDate]
		if day == nil {
			day = make(map[string]bool)
			seen[r.SignalDate] = day
		}
		if day[ticker] {
			continue
		}
		day[ticker] = true

		r.Ticker = ticker
		t.byDate[r.SignalDate] = append(t.byDate[r.SignalDate], r)
	}

	for d, recs := range t.byDate {
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].TickwiseScore > recs[j].TickwiseScore
		})
		t.dates = append(t.dates, d)
	}
	sort.Strings(t.dates)
	return t
}

// Dates returns the sorted signal dates. The slice is shared.
func (t *Table) Dates() []string { return t.dates }

// Len returns the number of signal dates.
func (t *Table) Len() int { return len(t.dates) }

// On returns the ranked records of one date. The slice is shared.
func (t *Table) On(date string) []domain.RecommendationRecord { return t.byDate[date] }

// ResolveAnchor returns the latest signal date <= anchor, or the earliest
// signal date when none precedes it. It returns "" only for an empty table.
func (t *Table) ResolveAnchor(anchor string) string {
	if len(t.dates) == 0 {
		return ""
	}
	i := sort.Search(len(t.dates), func(i int) bool { return t.dates[i] > anchor })
	if i == 0 {
		return t.dates[0]
	}
	return t.dates[i-1]
}

// TopK returns up to k picks from the date anchor resolves to.
func (t *Table) TopK(anchor string, k int) []domain.Pick {
	date := t.ResolveAnchor(anchor)
	if date == "" || k <= 0 {
		return nil
	}
	recs := t.byDate[date]
	if k > len(recs) {
		k = len(recs)
	}
	picks := make([]domain.Pick, 0, k)
	for _, r := range recs[:k] {
		picks = append(picks, domain.Pick{Date: date, Record: r})
	}
	return picks
}

// NextOnOrAfter scans signal dates >= from in order and returns the
// highest-ranked record whose ticker is not in exclude.
func (t *Table) NextOnOrAfter(from string, exclude map[string]bool) (domain.Pick, bool) {
	for i := sort.SearchStrings(t.dates, from); i < len(t.dates); i++ {
		d := t.dates[i]
		for _, r := range t.byDate[d] {
			if !exclude[r.Ticker] {
				return domain.Pick{Date: d, Record: r}, true
			}
		}
	}
	return domain.Pick{}, false
}

// TickersFrom returns every ticker appearing on a signal date >= from,
// sorted. These are all the tickers a run starting at from could hold.
func (t *Table) TickersFrom(from string) []string {
	set := make(map[string]bool)
	for i := sort.SearchStrings(t.dates, from); i < len(t.dates); i++ {
		for _, r := range t.byDate[t.dates[i]] {
			set[r.Ticker] = true
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Rising trend
// ---------------------------------------------------------------------------

type scorePoint struct {
	date  string
	score float64
}

// scoreHistory collects each ticker's chronological tickwise scores, one
// point per date (first seen wins), regardless of recommendation.
func scoreHistory(rows []domain.RecommendationRecord) map[string][]scorePoint {
	out := make(map[string][]scorePoint)
	seen := make(map[string]bool)
	for _, r := range rows {
		if r.SignalDate == "" || r.Ticker == "" || !domain.IsFinite(r.TickwiseScore) {
			continue
		}
		ticker := strings.ToUpper(r.Ticker)
		key := ticker + "|" + r.SignalDate
		if seen[key] {
			continue
		}
		seen[key] = true
		out[ticker] = append(out[ticker], scorePoint{date: r.SignalDate, score: r.TickwiseScore})
	}
	for _, pts := range out {
		sort.Slice(pts, func(i, j int) bool { return pts[i].date < pts[j].date })
	}
	return out
}

// rising reports whether the four points ending at date show three strictly
// increasing prior scores and a current score above floor.
func rising(pts []scorePoint, date string, floor float64) bool {
	i := sort.Search(len(pts), func(i int) bool { return pts[i].date >= date })
	if i >= len(pts) || pts[i].date != date || i < 3 {
		return false
	}
	a, b, c, cur := pts[i-3].score, pts[i-2].score, pts[i-1].score, pts[i].score
	return a < b && b < c && cur > floor
}
