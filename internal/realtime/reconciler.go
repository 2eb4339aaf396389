package realtime

import (
	"context"
	"errors"
	"time"

	"candlevault/internal/logger"
	"candlevault/internal/market"
)

// StoredReader is the read-path slice the reconciler compares against;
// candlestore.Fetcher satisfies it.
type StoredReader interface {
	GetCandles(ctx context.Context, pair string, g market.Granularity, start, end int64) ([]market.Candle, error)
}

type ReconcilerConfig struct {
	// InitialDelay is how long after a candle closes before the first
	// authoritative re-read; the upstream needs a moment to settle.
	InitialDelay time.Duration
	MaxAttempts  int
	Backoff      time.Duration
	MaxBackoff   time.Duration
	CallTimeout  time.Duration
	QueueSize    int
}

func (c *ReconcilerConfig) withDefaults() ReconcilerConfig {
	out := *c
	if out.InitialDelay <= 0 {
		out.InitialDelay = 5 * time.Second
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 4
	}
	if out.Backoff <= 0 {
		out.Backoff = 2 * time.Second
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 30 * time.Second
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = 10 * time.Second
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 512
	}
	return out
}

type reconcileJob struct {
	pair      string
	minute    int64
	attempt   int
	notBefore time.Time
}

// Reconciler overwrites tick-derived minutes with the authoritative API
// values when they differ. The tick stream can under-sample extremes that
// the polled source captures. Failures back off and retry a bounded number
// of times; permanent failure leaves the tick-derived candle standing and
// never touches the live pipeline.
type Reconciler struct {
	source market.Source
	writer Persister
	reader StoredReader
	cfg    ReconcilerConfig
	jobs   chan reconcileJob
	nowFn  func() time.Time

	// OnCorrection is invoked after an authoritative overwrite so the
	// aggregator can re-emit an update event.
	OnCorrection func(pair string, c market.Candle)
}

func NewReconciler(source market.Source, writer Persister, reader StoredReader, cfg ReconcilerConfig) *Reconciler {
	final := cfg.withDefaults()
	return &Reconciler{
		source: source,
		writer: writer,
		reader: reader,
		cfg:    final,
		jobs:   make(chan reconcileJob, final.QueueSize),
		nowFn:  time.Now,
	}
}

// Enqueue schedules one finalized minute for reconciliation. A full queue
// drops the job; the slow-cadence sweep will pick the minute up later.
func (r *Reconciler) Enqueue(pair string, minute int64) {
	job := reconcileJob{
		pair:      pair,
		minute:    minute,
		attempt:   1,
		notBefore: r.nowFn().Add(r.cfg.InitialDelay),
	}
	select {
	case r.jobs <- job:
	default:
		logger.Warnf("reconcile: queue full, dropping %s @%d", pair, minute)
	}
}

// EnqueueRecent schedules the last `minutes` finalized minutes of a pair;
// the fixed slower cadence runs this to catch anything the fast path missed.
func (r *Reconciler) EnqueueRecent(pair string, minutes int) {
	if minutes <= 0 {
		return
	}
	// Skip the minute currently being built.
	last := r.nowFn().Unix()/minuteSeconds*minuteSeconds - minuteSeconds
	for i := 0; i < minutes; i++ {
		r.Enqueue(pair, last-int64(i)*minuteSeconds)
	}
}

// Run processes the job queue until ctx ends.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.jobs:
			if wait := time.Until(job.notBefore); wait > 0 {
				if !sleepWithContext(ctx, wait) {
					return
				}
			}
			r.process(ctx, job)
		}
	}
}

func (r *Reconciler) process(ctx context.Context, job reconcileJob) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	start := time.Unix(job.minute, 0).UTC()
	end := start.Add(time.Minute)
	authoritative, err := r.source.GetCandles(callCtx, job.pair, market.Granularity1m, start, end)
	cancel()
	if err != nil {
		r.retry(job, err)
		return
	}
	var auth *market.Candle
	for i := range authoritative {
		if authoritative[i].Time == job.minute {
			auth = &authoritative[i]
			break
		}
	}
	if auth == nil {
		// Upstream has nothing for that minute; tick-derived values stand.
		return
	}
	stored, err := r.reader.GetCandles(ctx, job.pair, market.Granularity1m, job.minute, job.minute)
	if err != nil {
		r.retry(job, err)
		return
	}
	if len(stored) > 0 && stored[0] == *auth {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	err = r.writer.WriteCandle(writeCtx, job.pair, market.Granularity1m, *auth)
	cancel()
	if err != nil {
		r.retry(job, err)
		return
	}
	logger.Debugf("reconcile: corrected %s @%d from authoritative source", job.pair, job.minute)
	if r.OnCorrection != nil {
		r.OnCorrection(job.pair, *auth)
	}
}

func (r *Reconciler) retry(job reconcileJob, cause error) {
	if job.attempt >= r.cfg.MaxAttempts {
		logger.Warnf("reconcile: giving up on %s @%d after %d attempts: %v",
			job.pair, job.minute, job.attempt, cause)
		return
	}
	delay := r.cfg.Backoff << (job.attempt - 1)
	if delay > r.cfg.MaxBackoff {
		delay = r.cfg.MaxBackoff
	}
	if errors.Is(cause, market.ErrUpstreamRateLimited) {
		logger.Debugf("reconcile: rate limited on %s @%d, retry in %s", job.pair, job.minute, delay)
	}
	job.attempt++
	job.notBefore = r.nowFn().Add(delay)
	select {
	case r.jobs <- job:
	default:
		logger.Warnf("reconcile: queue full, dropping retry %s @%d", job.pair, job.minute)
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
