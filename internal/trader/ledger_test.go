package trader

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedgerEntryAndCycleClose(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for level, price := range map[int]float64{1: 99.9, 2: 99.8} {
		_, err := l.RecordEntry(ctx, TradeModel{
			SessionID:  "sess-1",
			CycleID:    "cycle-1",
			Pair:       "BTCUSDT",
			Level:      level,
			EntryPrice: price,
			Size:       100,
			Metadata:   tradeMetadata("test entry", level),
		})
		require.NoError(t, err)
	}

	open, err := l.OpenTrades(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, 2)

	closed, err := l.CloseCycle(ctx, "sess-1", "cycle-1", 100.7)
	require.NoError(t, err)
	assert.EqualValues(t, 2, closed)

	open, err = l.OpenTrades(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)

	trades, err := l.TradesForSession(ctx, "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	for _, tr := range trades {
		assert.Equal(t, TradeStatusClosed, tr.Status)
		assert.InDelta(t, 100.7, tr.ExitPrice, 1e-9)
		assert.Greater(t, tr.PnL, 0.0)
	}
}

func TestLedgerCloseCycleScopedToSession(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordEntry(ctx, TradeModel{
		SessionID: "sess-1", CycleID: "cycle-1", Pair: "BTCUSDT",
		Level: 1, EntryPrice: 100, Size: 50,
	})
	require.NoError(t, err)
	_, err = l.RecordEntry(ctx, TradeModel{
		SessionID: "sess-2", CycleID: "cycle-9", Pair: "BTCUSDT",
		Level: 1, EntryPrice: 100, Size: 50,
	})
	require.NoError(t, err)

	closed, err := l.CloseCycle(ctx, "sess-1", "cycle-1", 101)
	require.NoError(t, err)
	assert.EqualValues(t, 1, closed)

	open, err := l.OpenTrades(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, 1)
	assert.Equal(t, "sess-2", open[0].SessionID)
}
