// Package datekey converts heterogeneous date representations into canonical
// YYYY-MM-DD keys, the common time axis of every index in the backtest.
package datekey

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical key layout.
const Layout = "2006-01-02"

// MillisThreshold separates Unix seconds from Unix milliseconds: numeric
// values whose magnitude is at or above it are read as milliseconds.
const MillisThreshold = 1e11

// ErrUnparseable is returned when a value cannot be turned into a date key.
var ErrUnparseable = errors.New("unparseable date")

var numericRe = regexp.MustCompile(`^\d+(\.\d+)?([eE][+-]?\d+)?$`)

// Layouts tried, in order, for string values that are not numeric. Values
// without a zone are read as UTC.
var layouts = []string{
	Layout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"2006-1-2",
	time.RFC1123Z,
	time.RFC1123,
}

// Normalize returns the canonical key for v, or "" when v is nil or cannot
// be interpreted as a date. Callers treat "" as an unusable date.
func Normalize(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return FromTime(x)
	case *time.Time:
		if x == nil || x.IsZero() {
			return ""
		}
		return FromTime(*x)
	case string:
		return normalizeString(x)
	case json.Number:
		return normalizeString(x.String())
	case float64:
		return fromTimestamp(x)
	case float32:
		return fromTimestamp(float64(x))
	case int:
		return fromTimestamp(float64(x))
	case int32:
		return fromTimestamp(float64(x))
	case int64:
		return fromTimestamp(float64(x))
	case uint:
		return fromTimestamp(float64(x))
	case uint32:
		return fromTimestamp(float64(x))
	case uint64:
		return fromTimestamp(float64(x))
	case fmt.Stringer:
		return normalizeString(x.String())
	default:
		return ""
	}
}

// FromTime returns the UTC date component of t as a key.
func FromTime(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Today returns the key for the UTC date of now.
func Today(now time.Time) string {
	return FromTime(now)
}

// Parse turns a canonical key back into a UTC midnight time.
func Parse(key string) (time.Time, error) {
	t, err := time.Parse(Layout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, key)
	}
	return t, nil
}

// AddDays normalizes v and adds n calendar days in UTC. Unlike a silent
// fallback to the raw input, an unparseable value yields ErrUnparseable so
// that no non-canonical string reaches a date-keyed map.
func AddDays(v any, n int) (string, error) {
	key := Normalize(v)
	if key == "" {
		return "", fmt.Errorf("%w: %v", ErrUnparseable, v)
	}
	t, err := Parse(key)
	if err != nil {
		return "", err
	}
	return FromTime(t.AddDate(0, 0, n)), nil
}

func normalizeString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if numericRe.MatchString(s) {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return ""
		}
		return fromTimestamp(n)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return FromTime(t)
		}
	}
	return ""
}

// fromTimestamp interprets n as Unix seconds, or milliseconds when
// |n| >= MillisThreshold.
func fromTimestamp(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return ""
	}
	ms := n
	if math.Abs(n) < MillisThreshold {
		ms = n * 1000
	}
	// time.UnixMilli overflows far outside the supported calendar range.
	if math.Abs(ms) > 8.64e15 {
		return ""
	}
	return FromTime(time.UnixMilli(int64(ms)))
}
