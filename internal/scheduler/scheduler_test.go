package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"candlevault/internal/market"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"15m": 15 * time.Minute,
		"1h":  time.Hour,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, ok := ParseIntervalDuration(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "m", "0h", "-1h", "10x", "h1"} {
		_, ok := ParseIntervalDuration(bad)
		assert.False(t, ok, bad)
	}
}

func TestNextFixedTimeAfter(t *testing.T) {
	anchor := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	got := nextFixedTimeAfter(anchor, time.Hour, anchor.Add(90*time.Minute))
	assert.Equal(t, anchor.Add(2*time.Hour), got)

	// Before the anchor the anchor itself is next.
	got = nextFixedTimeAfter(anchor, time.Hour, anchor.Add(-time.Minute))
	assert.Equal(t, anchor, got)
}

func TestDropUnclosedCandle(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 2, 30, 0, time.UTC)
	closedAt := now.Add(-5 * time.Minute).Truncate(time.Minute).Unix()
	openAt := now.Truncate(time.Minute).Unix()

	candles := []market.Candle{
		{Time: closedAt, Open: 1, High: 1, Low: 1, Close: 1},
		{Time: openAt, Open: 2, High: 2, Low: 2, Close: 2},
	}

	got := dropUnclosedCandleAt(candles, market.Granularity1m, now, 10*time.Second)
	assert.Len(t, got, 1)
	assert.Equal(t, closedAt, got[0].Time)

	// Once the period plus grace has elapsed the candle stays.
	got = dropUnclosedCandleAt(candles, market.Granularity1m, now.Add(2*time.Minute), 10*time.Second)
	assert.Len(t, got, 2)

	assert.Empty(t, dropUnclosedCandleAt(nil, market.Granularity1m, now, 0))
}
