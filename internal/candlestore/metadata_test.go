package candlestore

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlevault/internal/market"
)

func newMockedMeta(t *testing.T, now int64) (*MetadataManager, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	t.Cleanup(func() { _ = rdb.Close() })
	store, err := NewStore(rdb)
	require.NoError(t, err)
	m, err := NewMetadataManager(rdb, store)
	require.NoError(t, err)
	m.nowFn = func() time.Time { return time.Unix(now, 0) }
	return m, mock
}

func metaFields(first, last, total, updated int64) map[string]string {
	return map[string]string{
		fieldFirst:   strconv.FormatInt(first, 10),
		fieldLast:    strconv.FormatInt(last, 10),
		fieldTotal:   strconv.FormatInt(total, 10),
		fieldUpdated: strconv.FormatInt(updated, 10),
	}
}

func TestMetadataGetMissing(t *testing.T) {
	m, mock := newMockedMeta(t, 1_700_000_000)
	mock.ExpectHGetAll(MetaKey("BTCUSDT", market.Granularity1m)).SetVal(map[string]string{})

	_, found, err := m.Get(context.Background(), "BTCUSDT", market.Granularity1m)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMetadataUpdateFirstWrite(t *testing.T) {
	const now = int64(1_700_000_500)
	m, mock := newMockedMeta(t, now)
	key := MetaKey("BTCUSDT", market.Granularity1m)

	mock.ExpectHGetAll(key).SetVal(map[string]string{})
	mock.ExpectHSet(key,
		fieldFirst, int64(1_700_000_060),
		fieldLast, int64(1_700_000_060),
		fieldTotal, int64(1),
		fieldUpdated, now,
	).SetVal(4)

	c := market.Candle{Time: 1_700_000_060, Open: 1, High: 1, Low: 1, Close: 1}
	require.NoError(t, m.Update(context.Background(), "BTCUSDT", market.Granularity1m, c, true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadataUpdateOverwriteKeepsCount(t *testing.T) {
	const now = int64(1_700_000_500)
	m, mock := newMockedMeta(t, now)
	key := MetaKey("BTCUSDT", market.Granularity1m)

	mock.ExpectHGetAll(key).SetVal(metaFields(1_700_000_000, 1_700_000_120, 3, now-100))
	// Bounds extend, count stays: isNew=false.
	mock.ExpectHSet(key,
		fieldFirst, int64(1_700_000_000),
		fieldLast, int64(1_700_000_180),
		fieldTotal, int64(3),
		fieldUpdated, now,
	).SetVal(4)

	c := market.Candle{Time: 1_700_000_180, Open: 1, High: 1, Low: 1, Close: 1}
	require.NoError(t, m.Update(context.Background(), "BTCUSDT", market.Granularity1m, c, false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadataRebuildRepairsDrift(t *testing.T) {
	const now = int64(1_700_000_500)
	m, mock := newMockedMeta(t, now)
	metaKey := MetaKey("BTCUSDT", market.Granularity1m)
	bucketKey := "candles:BTCUSDT:1m:20231114"

	mock.ExpectScan(0, SeriesPattern("BTCUSDT", market.Granularity1m), 200).
		SetVal([]string{bucketKey}, 0)
	mock.ExpectZCard(bucketKey).SetVal(3)
	mock.ExpectZRangeWithScores(bucketKey, 0, 0).SetVal([]redis.Z{{Score: 1_700_000_060}})
	mock.ExpectZRangeWithScores(bucketKey, -1, -1).SetVal([]redis.Z{{Score: 1_700_000_180}})
	// Cached count is deliberately wrong; rebuild must trust the raw scan.
	mock.ExpectHGetAll(metaKey).SetVal(metaFields(1_700_000_060, 1_700_000_180, 999, now-100))
	mock.ExpectHSet(metaKey,
		fieldFirst, int64(1_700_000_060),
		fieldLast, int64(1_700_000_180),
		fieldTotal, int64(3),
		fieldUpdated, now,
	).SetVal(4)

	md, err := m.Rebuild(context.Background(), "BTCUSDT", market.Granularity1m)
	require.NoError(t, err)
	assert.EqualValues(t, 3, md.TotalCandles)
	assert.EqualValues(t, 1_700_000_060, md.FirstTimestamp)
	assert.EqualValues(t, 1_700_000_180, md.LastTimestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadataRebuildClearsEmptySeries(t *testing.T) {
	m, mock := newMockedMeta(t, 1_700_000_500)
	metaKey := MetaKey("BTCUSDT", market.Granularity1m)

	mock.ExpectScan(0, SeriesPattern("BTCUSDT", market.Granularity1m), 200).
		SetVal([]string{}, 0)
	mock.ExpectHGetAll(metaKey).SetVal(map[string]string{})
	mock.ExpectDel(metaKey).SetVal(1)

	md, err := m.Rebuild(context.Background(), "BTCUSDT", market.Granularity1m)
	require.NoError(t, err)
	assert.EqualValues(t, 0, md.TotalCandles)
	assert.NoError(t, mock.ExpectationsWereMet())
}
