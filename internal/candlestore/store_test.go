package candlestore

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlevault/internal/market"
)

func newMockedStore(t *testing.T) (*Store, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	t.Cleanup(func() { _ = rdb.Close() })
	store, err := NewStore(rdb)
	require.NoError(t, err)
	return store, mock
}

func TestStorePutNewTimestamp(t *testing.T) {
	store, mock := newMockedStore(t)
	c := market.Candle{Time: 1_700_000_060, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 2}
	data, err := Encode(c)
	require.NoError(t, err)

	key := "candles:BTCUSDT:1m:20231114"
	mock.ExpectTxPipeline()
	mock.ExpectZRemRangeByScore(key, "1700000060", "1700000060").SetVal(0)
	mock.ExpectZAdd(key, redis.Z{Score: float64(c.Time), Member: string(data)}).SetVal(1)
	mock.ExpectTxPipelineExec()

	isNew, err := store.Put(context.Background(), key, c)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePutOverwriteIsNotNew(t *testing.T) {
	store, mock := newMockedStore(t)
	c := market.Candle{Time: 1_700_000_060, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 2}
	data, err := Encode(c)
	require.NoError(t, err)

	key := "candles:BTCUSDT:1m:20231114"
	mock.ExpectTxPipeline()
	mock.ExpectZRemRangeByScore(key, "1700000060", "1700000060").SetVal(1)
	mock.ExpectZAdd(key, redis.Z{Score: float64(c.Time), Member: string(data)}).SetVal(1)
	mock.ExpectTxPipelineExec()

	isNew, err := store.Put(context.Background(), key, c)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePutRejectsInvalidCandle(t *testing.T) {
	store, _ := newMockedStore(t)
	_, err := store.Put(context.Background(), "candles:BTCUSDT:1m:20231114",
		market.Candle{Time: 60, Open: 10, High: 9, Low: 11, Close: 10})
	assert.ErrorIs(t, err, market.ErrMalformedRecord)
}

func TestStoreGetRangeSkipsMalformed(t *testing.T) {
	store, mock := newMockedStore(t)
	good := market.Candle{Time: 1_700_000_060, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1}
	data, err := Encode(good)
	require.NoError(t, err)

	key := "candles:BTCUSDT:1m:20231114"
	mock.ExpectZRangeByScore(key, &redis.ZRangeBy{
		Min: "1700000000", Max: "1700000120",
	}).SetVal([]string{"{corrupt", string(data)})

	out, err := store.GetRange(context.Background(), key, 1_700_000_000, 1_700_000_120)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, good, out[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreBounds(t *testing.T) {
	store, mock := newMockedStore(t)
	key := "candles:BTCUSDT:1m:20231114"

	mock.ExpectZCard(key).SetVal(3)
	mock.ExpectZRangeWithScores(key, 0, 0).SetVal([]redis.Z{{Score: 1_700_000_060}})
	mock.ExpectZRangeWithScores(key, -1, -1).SetVal([]redis.Z{{Score: 1_700_000_180}})

	first, last, count, ok, err := store.Bounds(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 1_700_000_060, first)
	assert.EqualValues(t, 1_700_000_180, last)
	assert.EqualValues(t, 3, count)
}

func TestStoreBoundsEmptyKey(t *testing.T) {
	store, mock := newMockedStore(t)
	mock.ExpectZCard("missing").SetVal(0)

	_, _, _, ok, err := store.Bounds(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreDeleteRangeDropsEmptiedKey(t *testing.T) {
	store, mock := newMockedStore(t)
	key := "candles:BTCUSDT:1m:20231114"

	mock.ExpectZRemRangeByScore(key, "0", "1700000000").SetVal(5)
	mock.ExpectZCard(key).SetVal(0)
	mock.ExpectDel(key).SetVal(1)

	removed, err := store.DeleteRange(context.Background(), key, 0, 1_700_000_000)
	require.NoError(t, err)
	assert.EqualValues(t, 5, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreKeysMatching(t *testing.T) {
	store, mock := newMockedStore(t)
	pattern := "candles:BTCUSDT:1m:*"

	mock.ExpectScan(0, pattern, 200).SetVal([]string{"candles:BTCUSDT:1m:20231113"}, 42)
	mock.ExpectScan(42, pattern, 200).SetVal([]string{"candles:BTCUSDT:1m:20231114"}, 0)

	keys, err := store.KeysMatching(context.Background(), pattern)
	require.NoError(t, err)
	assert.Equal(t, []string{"candles:BTCUSDT:1m:20231113", "candles:BTCUSDT:1m:20231114"}, keys)
}
