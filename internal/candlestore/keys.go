// Package candlestore persists OHLCV candles in Redis, one sorted set per
// (pair, granularity, UTC day) and one metadata hash per (pair, granularity).
package candlestore

import (
	"fmt"
	"strings"
	"time"

	"candlevault/internal/market"
)

const (
	keyPrefix  = "candles:"
	metaPrefix = "candles:meta:"

	secondsPerDay = 86400
)

// DayBucket maps a unix-seconds timestamp to the start of the UTC calendar
// day containing it. Bucketing is always by day, regardless of granularity,
// so no single sorted set grows without bound.
func DayBucket(ts int64) int64 {
	if ts < 0 {
		return 0
	}
	return ts / secondsPerDay * secondsPerDay
}

// SeriesKey is the storage key for one day-bucket of one series, e.g.
// candles:BTCUSDT:1m:20260830.
func SeriesKey(pair string, g market.Granularity, bucket int64) string {
	day := time.Unix(DayBucket(bucket), 0).UTC().Format("20060102")
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, normalizePair(pair), g, day)
}

// MetaKey is the metadata hash key for one series.
func MetaKey(pair string, g market.Granularity) string {
	return fmt.Sprintf("%s%s:%s", metaPrefix, normalizePair(pair), g)
}

// SeriesPattern matches every day-bucket key of one series; used by rebuild
// and retention tooling, never on the hot read path.
func SeriesPattern(pair string, g market.Granularity) string {
	return fmt.Sprintf("%s%s:%s:*", keyPrefix, normalizePair(pair), g)
}

// BucketFromKey recovers the day-bucket start time from a series key.
func BucketFromKey(key string) (int64, error) {
	idx := strings.LastIndex(key, ":")
	if idx < 0 || idx == len(key)-1 {
		return 0, fmt.Errorf("no day segment in key %q", key)
	}
	day, err := time.ParseInLocation("20060102", key[idx+1:], time.UTC)
	if err != nil {
		return 0, fmt.Errorf("bad day segment in key %q: %w", key, err)
	}
	return day.Unix(), nil
}

func normalizePair(pair string) string {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	// Redis key segments are colon-delimited; pair separators must not leak in.
	pair = strings.ReplaceAll(pair, ":", "")
	pair = strings.ReplaceAll(pair, "/", "")
	pair = strings.ReplaceAll(pair, "-", "")
	return pair
}
