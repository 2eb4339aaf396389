// Package backfill owns the write path: historical ingestion from the
// upstream price API, gap repair, and retention sweeps.
package backfill

import (
	"context"
	"fmt"

	"candlevault/internal/candlestore"
	"candlevault/internal/market"
)

// CandleStore is the slice of the store the write path depends on.
type CandleStore interface {
	Put(ctx context.Context, key string, c market.Candle) (bool, error)
	DeleteRange(ctx context.Context, key string, tMin, tMax int64) (int64, error)
	KeysMatching(ctx context.Context, pattern string) ([]string, error)
}

// MetaManager is the slice of the metadata manager the write path depends on.
type MetaManager interface {
	Update(ctx context.Context, pair string, g market.Granularity, c market.Candle, isNew bool) error
	Rebuild(ctx context.Context, pair string, g market.Granularity) (candlestore.Metadata, error)
}

// Writer upserts candles and folds each write into the series metadata.
// Re-writing an existing timestamp overwrites instead of duplicating, which
// makes every ingestion path idempotent.
type Writer struct {
	store CandleStore
	meta  MetaManager
}

func NewWriter(store CandleStore, meta MetaManager) *Writer {
	return &Writer{store: store, meta: meta}
}

func (w *Writer) WriteCandle(ctx context.Context, pair string, g market.Granularity, c market.Candle) error {
	key := candlestore.SeriesKey(pair, g, candlestore.DayBucket(c.Time))
	isNew, err := w.store.Put(ctx, key, c)
	if err != nil {
		return err
	}
	if err := w.meta.Update(ctx, pair, g, c, isNew); err != nil {
		return fmt.Errorf("metadata fold after write %s %s@%d: %w", pair, g, c.Time, err)
	}
	return nil
}

// WriteBatch writes candles one by one and reports how many landed. A
// failing candle aborts the batch; everything before it stays written, which
// is safe because a retried batch just overwrites the same timestamps.
func (w *Writer) WriteBatch(ctx context.Context, pair string, g market.Granularity, candles []market.Candle) (int, error) {
	for i, c := range candles {
		if err := w.WriteCandle(ctx, pair, g, c); err != nil {
			return i, err
		}
	}
	return len(candles), nil
}
