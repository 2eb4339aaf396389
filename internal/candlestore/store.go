package candlestore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"candlevault/internal/logger"
	"candlevault/internal/market"
)

// Store is the durable key-value backend for candle data. It holds no
// business logic: callers bring fully-formed day-bucket keys and sort what
// they read back. Writes to the same (key, timestamp) are last-write-wins.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) (*Store, error) {
	if rdb == nil {
		return nil, fmt.Errorf("candlestore requires a redis client")
	}
	return &Store{rdb: rdb}, nil
}

// Put upserts one candle into a day-bucket. Re-writing an existing timestamp
// replaces the member rather than duplicating it. Returns whether the
// timestamp was genuinely new, which metadata folding depends on.
func (s *Store) Put(ctx context.Context, key string, c market.Candle) (bool, error) {
	data, err := Encode(c)
	if err != nil {
		return false, err
	}
	score := strconv.FormatInt(c.Time, 10)
	pipe := s.rdb.TxPipeline()
	removed := pipe.ZRemRangeByScore(ctx, key, score, score)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(c.Time), Member: string(data)})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("put %s@%d: %w", key, c.Time, err)
	}
	return removed.Val() == 0, nil
}

// GetRange returns every decodable candle in [tMin, tMax] for one day-bucket.
// Malformed members are skipped with a warning; one corrupt record never
// aborts the scan. No ordering is guaranteed beyond what the sorted set
// happens to yield; callers sort after concatenating buckets.
func (s *Store) GetRange(ctx context.Context, key string, tMin, tMax int64) ([]market.Candle, error) {
	members, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(tMin, 10),
		Max: strconv.FormatInt(tMax, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range %s [%d,%d]: %w", key, tMin, tMax, err)
	}
	out := make([]market.Candle, 0, len(members))
	for _, m := range members {
		c, err := Decode([]byte(m))
		if err != nil {
			logger.Warnf("candlestore: skipping malformed record in %s: %v", key, err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Count returns the number of members in [tMin, tMax] for one day-bucket.
func (s *Store) Count(ctx context.Context, key string, tMin, tMax int64) (int64, error) {
	n, err := s.rdb.ZCount(ctx, key,
		strconv.FormatInt(tMin, 10), strconv.FormatInt(tMax, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", key, err)
	}
	return n, nil
}

// Bounds returns the first/last timestamps and total member count of one
// day-bucket. ok is false for an empty or missing key.
func (s *Store) Bounds(ctx context.Context, key string) (first, last, count int64, ok bool, err error) {
	total, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, 0, 0, false, fmt.Errorf("card %s: %w", key, err)
	}
	if total == 0 {
		return 0, 0, 0, false, nil
	}
	head, err := s.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, 0, 0, false, fmt.Errorf("head %s: %w", key, err)
	}
	tail, err := s.rdb.ZRangeWithScores(ctx, key, -1, -1).Result()
	if err != nil {
		return 0, 0, 0, false, fmt.Errorf("tail %s: %w", key, err)
	}
	if len(head) == 0 || len(tail) == 0 {
		return 0, 0, 0, false, nil
	}
	return int64(head[0].Score), int64(tail[0].Score), total, true, nil
}

// DeleteRange removes members with timestamps in [tMin, tMax] and reports how
// many were dropped. An emptied key is deleted outright.
func (s *Store) DeleteRange(ctx context.Context, key string, tMin, tMax int64) (int64, error) {
	removed, err := s.rdb.ZRemRangeByScore(ctx, key,
		strconv.FormatInt(tMin, 10), strconv.FormatInt(tMax, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("delete range %s: %w", key, err)
	}
	if removed > 0 {
		if n, err := s.rdb.ZCard(ctx, key).Result(); err == nil && n == 0 {
			_ = s.rdb.Del(ctx, key).Err()
		}
	}
	return removed, nil
}

// KeysMatching enumerates keys with a cursor SCAN. Used by rebuild and
// retention tooling only, never on the query path.
func (s *Store) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
