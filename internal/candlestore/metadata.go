package candlestore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"candlevault/internal/logger"
	"candlevault/internal/market"
)

const (
	fieldFirst   = "first_timestamp"
	fieldLast    = "last_timestamp"
	fieldTotal   = "total_candles"
	fieldUpdated = "last_updated"
)

// Metadata is the cached summary of one series. It accelerates reads but is
// never a source of truth: Rebuild recomputes every field from the raw
// day-buckets, which is how count drift gets repaired.
type Metadata struct {
	Pair           string
	Granularity    market.Granularity
	FirstTimestamp int64
	LastTimestamp  int64
	TotalCandles   int64
	LastUpdated    int64
}

// MetadataManager maintains the per-series metadata hash.
type MetadataManager struct {
	rdb   *redis.Client
	store *Store
	nowFn func() time.Time
}

func NewMetadataManager(rdb *redis.Client, store *Store) (*MetadataManager, error) {
	if rdb == nil || store == nil {
		return nil, fmt.Errorf("metadata manager requires redis client and store")
	}
	return &MetadataManager{rdb: rdb, store: store, nowFn: time.Now}, nil
}

// Get returns the cached metadata, with ok=false when the series has none.
func (m *MetadataManager) Get(ctx context.Context, pair string, g market.Granularity) (Metadata, bool, error) {
	fields, err := m.rdb.HGetAll(ctx, MetaKey(pair, g)).Result()
	if err != nil {
		return Metadata{}, false, fmt.Errorf("metadata get %s %s: %w", pair, g, err)
	}
	if len(fields) == 0 {
		return Metadata{}, false, nil
	}
	md := Metadata{
		Pair:           pair,
		Granularity:    g,
		FirstTimestamp: parseField(fields[fieldFirst]),
		LastTimestamp:  parseField(fields[fieldLast]),
		TotalCandles:   parseField(fields[fieldTotal]),
		LastUpdated:    parseField(fields[fieldUpdated]),
	}
	return md, true, nil
}

// Update folds one written candle into the cached summary. Bounds extend on
// any write; the count only moves for a genuinely new timestamp, which is why
// Store.Put reports newness. The write is not atomic with the candle write;
// staleness is tolerated and self-heals via Rebuild.
func (m *MetadataManager) Update(ctx context.Context, pair string, g market.Granularity, c market.Candle, isNew bool) error {
	md, found, err := m.Get(ctx, pair, g)
	if err != nil {
		return err
	}
	if !found {
		md = Metadata{Pair: pair, Granularity: g, FirstTimestamp: c.Time, LastTimestamp: c.Time}
	} else {
		if c.Time < md.FirstTimestamp {
			md.FirstTimestamp = c.Time
		}
		if c.Time > md.LastTimestamp {
			md.LastTimestamp = c.Time
		}
	}
	if isNew || !found {
		md.TotalCandles++
	}
	md.LastUpdated = m.nowFn().Unix()
	return m.write(ctx, md)
}

// Rebuild recomputes count and bounds by enumerating every day-bucket of the
// series. Drift between the cached count and the raw scan is logged as a
// warning and repaired, never treated as fatal.
func (m *MetadataManager) Rebuild(ctx context.Context, pair string, g market.Granularity) (Metadata, error) {
	keys, err := m.store.KeysMatching(ctx, SeriesPattern(pair, g))
	if err != nil {
		return Metadata{}, err
	}
	md := Metadata{Pair: pair, Granularity: g}
	seen := false
	for _, key := range keys {
		first, last, count, ok, err := m.store.Bounds(ctx, key)
		if err != nil {
			return Metadata{}, err
		}
		if !ok {
			continue
		}
		if !seen || first < md.FirstTimestamp {
			md.FirstTimestamp = first
		}
		if !seen || last > md.LastTimestamp {
			md.LastTimestamp = last
		}
		md.TotalCandles += count
		seen = true
	}
	if prev, found, err := m.Get(ctx, pair, g); err == nil && found && prev.TotalCandles != md.TotalCandles {
		logger.Warnf("candlestore: metadata drift for %s %s: cached=%d raw=%d, repairing",
			pair, g, prev.TotalCandles, md.TotalCandles)
	}
	if !seen {
		if err := m.rdb.Del(ctx, MetaKey(pair, g)).Err(); err != nil {
			return Metadata{}, fmt.Errorf("metadata clear %s %s: %w", pair, g, err)
		}
		return md, nil
	}
	md.LastUpdated = m.nowFn().Unix()
	if err := m.write(ctx, md); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

func (m *MetadataManager) write(ctx context.Context, md Metadata) error {
	err := m.rdb.HSet(ctx, MetaKey(md.Pair, md.Granularity),
		fieldFirst, md.FirstTimestamp,
		fieldLast, md.LastTimestamp,
		fieldTotal, md.TotalCandles,
		fieldUpdated, md.LastUpdated,
	).Err()
	if err != nil {
		return fmt.Errorf("metadata write %s %s: %w", md.Pair, md.Granularity, err)
	}
	return nil
}

func parseField(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
