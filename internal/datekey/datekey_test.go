package datekey

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 3, 15, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"canonical", "2024-01-02", "2024-01-02"},
		{"padded", "  2024-01-02 ", "2024-01-02"},
		{"rfc3339 utc", "2024-01-02T15:04:05Z", "2024-01-02"},
		{"rfc3339 offset crosses midnight", "2024-01-02T22:00:00-05:00", "2024-01-03"},
		{"datetime no zone", "2024-01-02T09:30:00", "2024-01-02"},
		{"space datetime", "2024-01-02 09:30:00", "2024-01-02"},
		{"slashes", "2024/01/02", "2024-01-02"},
		{"time value uses UTC", ts, "2024-03-16"},
		{"time pointer", &ts, "2024-03-16"},
		{"zero time", time.Time{}, ""},
		{"seconds int", int64(1704153600), "2024-01-02"},
		{"seconds string", "1704153600", "2024-01-02"},
		{"millis float", float64(1704153600000), "2024-01-02"},
		{"millis string", "1704153600000", "2024-01-02"},
		{"json number", json.Number("1704153600"), "2024-01-02"},
		{"millis exponent string", "1.7041536e12", "2024-01-02"},
		{"seconds exponent string", "1.7041536E+09", "2024-01-02"},
		{"json number exponent", json.Number("1.7041536e12"), "2024-01-02"},
		{"dangling exponent", "17e", ""},
		{"garbage", "not a date", ""},
		{"empty", "", ""},
		{"unsupported type", struct{}{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	start := time.Date(1999, 12, 25, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2000; i += 7 {
		d := FromTime(start.AddDate(0, 0, i))
		require.Equal(t, d, Normalize(d), "Normalize must be identity on canonical keys")
	}
}

func TestTimestampHeuristicBoundary(t *testing.T) {
	// 99999999999 is just below the threshold: seconds, far in the future.
	below := Normalize(int64(99999999999))
	assert.Equal(t, FromTime(time.Unix(99999999999, 0)), below)

	// 1e11 is at the threshold: milliseconds, early March 1973.
	at := Normalize(int64(100000000000))
	assert.Equal(t, "1973-03-03", at)
	assert.NotEqual(t, below, at)

	// Numeric strings follow the same rule.
	assert.Equal(t, at, Normalize("100000000000"))
	assert.Equal(t, below, Normalize("99999999999"))
}

func TestAddDays(t *testing.T) {
	got, err := AddDays("2024-02-28", 2)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", got)

	got, err = AddDays(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), -1)
	require.NoError(t, err)
	assert.Equal(t, "2023-12-31", got)

	_, err = AddDays("yesterday-ish", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnparseable))
}

func TestParse(t *testing.T) {
	tm, err := Parse("2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), tm)

	_, err = Parse("01/02/2024")
	assert.ErrorIs(t, err, ErrUnparseable)
}
