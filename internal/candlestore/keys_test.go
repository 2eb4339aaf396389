package candlestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlevault/internal/market"
)

func TestDayBucket(t *testing.T) {
	assert.EqualValues(t, 0, DayBucket(0))
	assert.EqualValues(t, 0, DayBucket(86399))
	assert.EqualValues(t, 86400, DayBucket(86400))
	assert.EqualValues(t, 86400, DayBucket(90000))
	assert.EqualValues(t, 0, DayBucket(-5))
}

func TestSeriesKey(t *testing.T) {
	// 2024-05-01 00:00:00 UTC
	const ts = int64(1_714_521_600)
	assert.Equal(t, "candles:BTCUSDT:1m:20240501", SeriesKey("BTCUSDT", market.Granularity1m, ts))
	// Any timestamp inside the day maps to the same key.
	assert.Equal(t, SeriesKey("BTCUSDT", market.Granularity1m, ts),
		SeriesKey("BTCUSDT", market.Granularity1m, ts+7200))
	// Pair separators are normalized away.
	assert.Equal(t, "candles:BTCUSDT:1h:20240501", SeriesKey("btc-usdt", market.Granularity1h, ts))
	assert.Equal(t, "candles:BTCUSDT:1h:20240501", SeriesKey("BTC/USDT", market.Granularity1h, ts))
}

func TestMetaKeyAndPattern(t *testing.T) {
	assert.Equal(t, "candles:meta:ETHUSDT:5m", MetaKey("ethusdt", market.Granularity5m))
	assert.Equal(t, "candles:ETHUSDT:5m:*", SeriesPattern("ethusdt", market.Granularity5m))
}

func TestBucketFromKey(t *testing.T) {
	const ts = int64(1_714_521_600)
	key := SeriesKey("BTCUSDT", market.Granularity1m, ts+3600)
	bucket, err := BucketFromKey(key)
	require.NoError(t, err)
	assert.Equal(t, ts, bucket)

	_, err = BucketFromKey("candles:BTCUSDT:1m:notaday")
	assert.Error(t, err)
	_, err = BucketFromKey("nodaysegment")
	assert.Error(t, err)
}
