package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"candlevault/internal/candlestore"
	"candlevault/internal/logger"
	"candlevault/internal/market"
	"candlevault/internal/pkg/circuit"
	"candlevault/internal/scheduler"
)

const pageCandles = 1000

type ServiceConfig struct {
	// RateLimitAttempts bounds retries on ErrUpstreamRateLimited;
	// UnavailableAttempts is the shorter cap for transport failures.
	RateLimitAttempts   int
	UnavailableAttempts int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
}

func (c *ServiceConfig) withDefaults() ServiceConfig {
	out := *c
	if out.RateLimitAttempts <= 0 {
		out.RateLimitAttempts = 5
	}
	if out.UnavailableAttempts <= 0 {
		out.UnavailableAttempts = 3
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = time.Second
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 30 * time.Second
	}
	return out
}

// Service ingests historical candles from the upstream API, repairs recent
// gaps, and applies retention. All writes go through the idempotent Writer,
// so interrupted runs are safely resumable.
type Service struct {
	source  market.Source
	writer  *Writer
	store   CandleStore
	meta    MetaManager
	breaker *circuit.CircuitBreaker
	cfg     ServiceConfig
	nowFn   func() time.Time
}

func NewService(source market.Source, writer *Writer, store CandleStore, meta MetaManager, cfg ServiceConfig) *Service {
	return &Service{
		source:  source,
		writer:  writer,
		store:   store,
		meta:    meta,
		breaker: circuit.NewCircuitBreaker("upstream-backfill", 5, time.Minute),
		cfg:     cfg.withDefaults(),
		nowFn:   time.Now,
	}
}

// FetchHistoricalData pulls daysBack days of history in the largest pages the
// API allows and upserts every candle. Returns the number of candles written.
func (s *Service) FetchHistoricalData(ctx context.Context, pair string, g market.Granularity, daysBack int) (int, error) {
	if daysBack <= 0 {
		return 0, fmt.Errorf("daysBack must be positive, got %d", daysBack)
	}
	now := s.nowFn().UTC()
	start := now.Add(-time.Duration(daysBack) * 24 * time.Hour)
	return s.ingestRange(ctx, pair, g, start, now)
}

// FillRecentGaps unconditionally re-fetches the trailing lookbackHours and
// upserts. Recent data is where missed ticks cluster, and re-writing
// identical candles is a no-op.
func (s *Service) FillRecentGaps(ctx context.Context, pair string, g market.Granularity, lookbackHours int) (int, error) {
	if lookbackHours <= 0 {
		lookbackHours = 1
	}
	now := s.nowFn().UTC()
	start := now.Add(-time.Duration(lookbackHours) * time.Hour)
	return s.ingestRange(ctx, pair, g, start, now)
}

func (s *Service) ingestRange(ctx context.Context, pair string, g market.Granularity, start, end time.Time) (int, error) {
	pageDur := time.Duration(pageCandles) * g.Duration()
	total := 0
	for pageStart := start; pageStart.Before(end); pageStart = pageStart.Add(pageDur) {
		pageEnd := pageStart.Add(pageDur)
		if pageEnd.After(end) {
			pageEnd = end
		}
		candles, err := s.fetchPage(ctx, pair, g, pageStart, pageEnd)
		if err != nil {
			return total, fmt.Errorf("backfill %s %s page at %s: %w", pair, g, pageStart.Format(time.RFC3339), err)
		}
		// The final page can carry the still-open candle; persisting it
		// would freeze a partial OHLC until the next overwrite.
		candles = scheduler.DropUnclosedCandle(candles, g)
		n, err := s.writer.WriteBatch(ctx, pair, g, candles)
		total += n
		if err != nil {
			return total, err
		}
	}
	logger.Infof("backfill: %s %s ingested %d candles (%s..%s)",
		pair, g, total, start.Format(time.RFC3339), end.Format(time.RFC3339))
	return total, nil
}

// fetchPage wraps one upstream call with the circuit breaker and the
// taxonomy-aware retry policy: exponential backoff, more patience for rate
// limiting than for plain unavailability.
func (s *Service) fetchPage(ctx context.Context, pair string, g market.Granularity, start, end time.Time) ([]market.Candle, error) {
	delay := s.cfg.InitialBackoff
	var lastErr error
	maxAttempts := s.cfg.RateLimitAttempts
	if maxAttempts < s.cfg.UnavailableAttempts {
		maxAttempts = s.cfg.UnavailableAttempts
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !s.breaker.Allow() {
			return nil, fmt.Errorf("%w: circuit open", market.ErrUpstreamUnavailable)
		}
		candles, err := s.source.GetCandles(ctx, pair, g, start, end)
		if err == nil {
			s.breaker.RecordSuccess()
			return candles, nil
		}
		lastErr = err
		s.breaker.RecordFailure()
		switch {
		case errors.Is(err, market.ErrUpstreamRateLimited):
			if attempt >= s.cfg.RateLimitAttempts {
				return nil, lastErr
			}
			logger.Warnf("backfill: rate limited on %s %s, retry %d/%d in %s",
				pair, g, attempt, s.cfg.RateLimitAttempts, delay)
		case errors.Is(err, market.ErrUpstreamUnavailable):
			if attempt >= s.cfg.UnavailableAttempts {
				return nil, lastErr
			}
			logger.Warnf("backfill: upstream unavailable for %s %s, retry %d/%d in %s",
				pair, g, attempt, s.cfg.UnavailableAttempts, delay)
		default:
			return nil, err
		}
		if !sleepWithContext(ctx, delay) {
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > s.cfg.MaxBackoff {
			delay = s.cfg.MaxBackoff
		}
	}
	return nil, lastErr
}

// DeleteOldCandles removes everything before cutoff (unix seconds) across all
// affected day-buckets and rebuilds the metadata afterwards. Incremental
// count updates are unsafe for bulk deletes.
func (s *Service) DeleteOldCandles(ctx context.Context, pair string, g market.Granularity, cutoff int64) (int64, error) {
	keys, err := s.store.KeysMatching(ctx, candlestore.SeriesPattern(pair, g))
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, key := range keys {
		bucket, err := candlestore.BucketFromKey(key)
		if err != nil {
			logger.Warnf("retention: skipping unparseable key %s: %v", key, err)
			continue
		}
		if bucket >= cutoff {
			continue
		}
		// DeleteRange drops the key once emptied, so a fully-expired
		// bucket disappears here too.
		n, err := s.store.DeleteRange(ctx, key, 0, cutoff-1)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if _, err := s.meta.Rebuild(ctx, pair, g); err != nil {
		return removed, fmt.Errorf("metadata rebuild after retention %s %s: %w", pair, g, err)
	}
	return removed, nil
}

// BackfillAll fans out over (pair x granularity). A failing series aborts
// only itself; the rest of the run proceeds.
func (s *Service) BackfillAll(ctx context.Context, pairs []string, granularities []market.Granularity, daysBack int) error {
	var eg errgroup.Group
	for _, pair := range pairs {
		for _, g := range granularities {
			pair, g := pair, g
			eg.Go(func() error {
				if _, err := s.FetchHistoricalData(ctx, pair, g, daysBack); err != nil {
					logger.Errorf("backfill: %s %s failed: %v", pair, g, err)
				}
				return nil
			})
		}
	}
	return eg.Wait()
}

// SweepRetention applies per-granularity horizons (in days) to every pair.
func (s *Service) SweepRetention(ctx context.Context, pairs []string, horizons map[market.Granularity]int) {
	now := s.nowFn().UTC().Unix()
	for _, pair := range pairs {
		for g, days := range horizons {
			if days <= 0 {
				continue
			}
			cutoff := now - int64(days)*86400
			removed, err := s.DeleteOldCandles(ctx, pair, g, cutoff)
			if err != nil {
				logger.Warnf("retention: sweep %s %s failed: %v", pair, g, err)
				continue
			}
			if removed > 0 {
				logger.Infof("retention: dropped %d candles for %s %s older than %d days", removed, pair, g, days)
			}
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
