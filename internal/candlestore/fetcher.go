package candlestore

import (
	"context"
	"sort"

	"candlevault/internal/logger"
	"candlevault/internal/market"
)

// RangeReader is the slice of Store the read path depends on.
type RangeReader interface {
	GetRange(ctx context.Context, key string, tMin, tMax int64) ([]market.Candle, error)
}

// MetaReader is the slice of MetadataManager the read path depends on.
type MetaReader interface {
	Get(ctx context.Context, pair string, g market.Granularity) (Metadata, bool, error)
}

// Fetcher is the query surface for candle consumers: pure reads, no side
// effects. Absence of data yields empty results, never errors.
type Fetcher struct {
	store RangeReader
	meta  MetaReader
}

func NewFetcher(store RangeReader, meta MetaReader) *Fetcher {
	return &Fetcher{store: store, meta: meta}
}

// GetCandles returns the stored candles with start <= time <= end, ascending
// and deduplicated. One range read per overlapping day-bucket; a failing
// bucket degrades the result to partial data instead of failing the request.
// When the requested series has nothing persisted in range, the canonical
// 1-minute series is aggregated on the fly.
func (f *Fetcher) GetCandles(ctx context.Context, pair string, g market.Granularity, start, end int64) ([]market.Candle, error) {
	out, err := f.readRange(ctx, pair, g, start, end)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 && g != market.Granularity1m {
		minutes, err := f.readRange(ctx, pair, market.Granularity1m, start, end)
		if err != nil {
			return nil, err
		}
		out = market.Aggregate(minutes, g)
	}
	return out, nil
}

func (f *Fetcher) readRange(ctx context.Context, pair string, g market.Granularity, start, end int64) ([]market.Candle, error) {
	if end < start {
		return nil, market.ErrInvalidRange
	}
	var out []market.Candle
	for bucket := DayBucket(start); bucket <= end; bucket += secondsPerDay {
		key := SeriesKey(pair, g, bucket)
		candles, err := f.store.GetRange(ctx, key, start, end)
		if err != nil {
			// One unreachable bucket must not sink the whole range.
			logger.Warnf("fetcher: bucket read failed for %s: %v", key, err)
			continue
		}
		out = append(out, candles...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	// Exact-bound filter plus dedupe, defensive against off-by-one bucket reads.
	filtered := out[:0]
	var lastTime int64 = -1
	for _, c := range out {
		if c.Time < start || c.Time > end || c.Time == lastTime {
			continue
		}
		filtered = append(filtered, c)
		lastTime = c.Time
	}
	return filtered, nil
}

// GetLatestCandles returns up to n of the most recent candles. The start time
// is derived from the metadata bounds, so a gappy series can under-return;
// callers must not assume exactly n results.
func (f *Fetcher) GetLatestCandles(ctx context.Context, pair string, g market.Granularity, n int) ([]market.Candle, error) {
	if n <= 0 {
		return nil, nil
	}
	md, found, err := f.meta.Get(ctx, pair, g)
	if err != nil {
		return nil, err
	}
	if !found || md.LastTimestamp == 0 {
		return nil, nil
	}
	start := md.LastTimestamp - int64(n)*g.Seconds()
	if start < 0 {
		start = 0
	}
	out, err := f.GetCandles(ctx, pair, g, start, md.LastTimestamp)
	if err != nil {
		return nil, err
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// HasCandles is a cheap O(1) coverage check against metadata bounds only.
// True means the range overlaps [first, last]; it says nothing about interior
// gaps.
func (f *Fetcher) HasCandles(ctx context.Context, pair string, g market.Granularity, start, end int64) (bool, error) {
	if end < start {
		return false, market.ErrInvalidRange
	}
	md, found, err := f.meta.Get(ctx, pair, g)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return start <= md.LastTimestamp && end >= md.FirstTimestamp, nil
}

func (f *Fetcher) GetCandleCount(ctx context.Context, pair string, g market.Granularity) (int64, error) {
	md, found, err := f.meta.Get(ctx, pair, g)
	if err != nil || !found {
		return 0, err
	}
	return md.TotalCandles, nil
}

func (f *Fetcher) GetFirstCandleTime(ctx context.Context, pair string, g market.Granularity) (int64, bool, error) {
	md, found, err := f.meta.Get(ctx, pair, g)
	if err != nil || !found {
		return 0, false, err
	}
	return md.FirstTimestamp, true, nil
}

func (f *Fetcher) GetLastCandleTime(ctx context.Context, pair string, g market.Granularity) (int64, bool, error) {
	md, found, err := f.meta.Get(ctx, pair, g)
	if err != nil || !found {
		return 0, false, err
	}
	return md.LastTimestamp, true, nil
}
