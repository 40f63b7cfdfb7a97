// Package series builds the sorted-date indexes the simulation reads from:
// per-ticker price bars and per-ticker technical scores.
package series

import (
	"sort"

	"tickwise/internal/domain"
)

// Fill is an executable open price on a concrete date.
type Fill struct {
	Date  string
	Price float64
}

// PriceIndex is a read-only lookup structure over one ticker's daily bars.
// Opens and closes are indexed separately because a bar may carry a usable
// close but not a usable open (or vice versa) when the feed is assembled
// from mixed sources.
type PriceIndex struct {
	opens      map[string]float64
	closes     map[string]float64
	openDates  []string
	closeDates []string
}

// NewPriceIndex indexes bars. Rows with an empty date are skipped, and each
// price field that is non-finite or non-positive is dropped on its own.
// When a date repeats, the later row wins.
func NewPriceIndex(bars []domain.PriceBar) *PriceIndex {
	idx := &PriceIndex{
		opens:  make(map[string]float64),
		closes: make(map[string]float64),
	}
	for _, b := range bars {
		if b.Date == "" {
			continue
		}
		if usable(b.Open) {
			idx.opens[b.Date] = b.Open
		}
		if usable(b.Close) {
			idx.closes[b.Date] = b.Close
		}
	}
	idx.openDates = sortedKeys(idx.opens)
	idx.closeDates = sortedKeys(idx.closes)
	return idx
}

func usable(v float64) bool {
	return domain.IsFinite(v) && v > 0
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of distinct dates that carry a close.
func (p *PriceIndex) Len() int {
	if p == nil {
		return 0
	}
	return len(p.closeDates)
}

// CloseDates returns the sorted dates with a usable close. The slice is
// shared and must not be modified.
func (p *PriceIndex) CloseDates() []string {
	if p == nil {
		return nil
	}
	return p.closeDates
}

// Close returns the close on exactly date.
func (p *PriceIndex) Close(date string) (float64, bool) {
	if p == nil {
		return 0, false
	}
	v, ok := p.closes[date]
	return v, ok
}

// CloseAtOrBefore returns the close on the latest date <= target.
func (p *PriceIndex) CloseAtOrBefore(target string) (float64, bool) {
	if p == nil || len(p.closeDates) == 0 {
		return 0, false
	}
	// First index with date > target; the one before it is the answer.
	i := sort.Search(len(p.closeDates), func(i int) bool { return p.closeDates[i] > target })
	if i == 0 {
		return 0, false
	}
	return p.closes[p.closeDates[i-1]], true
}

// OpenAtOrAfter returns the earliest open on a date >= target.
func (p *PriceIndex) OpenAtOrAfter(target string) (Fill, bool) {
	if p == nil {
		return Fill{}, false
	}
	i := sort.SearchStrings(p.openDates, target)
	for ; i < len(p.openDates); i++ {
		d := p.openDates[i]
		if v, ok := p.opens[d]; ok && usable(v) {
			return Fill{Date: d, Price: v}, true
		}
	}
	return Fill{}, false
}

// Latest returns the most recent date with a usable close.
func (p *PriceIndex) Latest() (string, float64, bool) {
	if p == nil || len(p.closeDates) == 0 {
		return "", 0, false
	}
	d := p.closeDates[len(p.closeDates)-1]
	return d, p.closes[d], true
}

// ClosesFrom returns the dates and closes on or after start, in order.
func (p *PriceIndex) ClosesFrom(start string) ([]string, []float64) {
	if p == nil {
		return nil, nil
	}
	i := sort.SearchStrings(p.closeDates, start)
	dates := p.closeDates[i:]
	closes := make([]float64, len(dates))
	for j, d := range dates {
		closes[j] = p.closes[d]
	}
	return dates, closes
}
