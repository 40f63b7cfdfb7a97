package series

import (
	"sort"
	"strings"

	"tickwise/internal/domain"
)

// TechIndex maps dates to one ticker's technical score.
type TechIndex struct {
	byDate map[string]float64
	dates  []string
}

// NewTechIndex builds the index for ticker from the history rows, keeping
// only rows with a date and a finite technical score. Later rows for the
// same date overwrite earlier ones.
func NewTechIndex(rows []domain.RecommendationRecord, ticker string) *TechIndex {
	ticker = strings.ToUpper(ticker)
	idx := &TechIndex{byDate: make(map[string]float64)}
	for _, r := range rows {
		if strings.ToUpper(r.Ticker) != ticker {
			continue
		}
		idx.add(r)
	}
	idx.finish()
	return idx
}

// TechIndexes builds the index of every ticker present in rows in one pass.
func TechIndexes(rows []domain.RecommendationRecord) map[string]*TechIndex {
	out := make(map[string]*TechIndex)
	for _, r := range rows {
		t := strings.ToUpper(r.Ticker)
		if t == "" {
			continue
		}
		idx, ok := out[t]
		if !ok {
			idx = &TechIndex{byDate: make(map[string]float64)}
			out[t] = idx
		}
		idx.add(r)
	}
	for _, idx := range out {
		idx.finish()
	}
	return out
}

func (t *TechIndex) add(r domain.RecommendationRecord) {
	if r.SignalDate == "" || !domain.IsFinite(r.Technical) {
		return
	}
	t.byDate[r.SignalDate] = r.Technical
}

func (t *TechIndex) finish() {
	t.dates = t.dates[:0]
	for d := range t.byDate {
		t.dates = append(t.dates, d)
	}
	sort.Strings(t.dates)
}

// Len returns the number of scored dates.
func (t *TechIndex) Len() int {
	if t == nil {
		return 0
	}
	return len(t.dates)
}

// Score returns the technical score on exactly date.
func (t *TechIndex) Score(date string) (float64, bool) {
	if t == nil {
		return 0, false
	}
	v, ok := t.byDate[date]
	return v, ok
}

// FirstDropBelow returns the first date >= start whose score is strictly
// below threshold.
func (t *TechIndex) FirstDropBelow(start string, threshold float64) (string, bool) {
	if t == nil {
		return "", false
	}
	for i := sort.SearchStrings(t.dates, start); i < len(t.dates); i++ {
		d := t.dates[i]
		if t.byDate[d] < threshold {
			return d, true
		}
	}
	return "", false
}
