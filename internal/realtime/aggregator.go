package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"candlevault/internal/logger"
	"candlevault/internal/market"
)

type EventType int

const (
	EventUpdate EventType = iota
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventUpdate:
		return "update"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is emitted on every in-progress mutation (update) and on every
// finalized minute (closed).
type Event struct {
	Type   EventType
	Pair   string
	Candle market.Candle
}

// Persister is the write-path slice the aggregator needs; backfill.Writer
// satisfies it.
type Persister interface {
	WriteCandle(ctx context.Context, pair string, g market.Granularity, c market.Candle) error
}

type AggregatorConfig struct {
	// BoundaryBuffer is how far past the minute edge the rollover timer
	// fires, giving late ticks a moment to land first.
	BoundaryBuffer time.Duration
	EventBuffer    int
	PersistTimeout time.Duration
}

func (c *AggregatorConfig) withDefaults() AggregatorConfig {
	out := *c
	if out.BoundaryBuffer <= 0 {
		out.BoundaryBuffer = 2 * time.Second
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = 256
	}
	if out.PersistTimeout <= 0 {
		out.PersistTimeout = 5 * time.Second
	}
	return out
}

// Aggregator maintains the in-progress 1-minute candle per subscribed pair.
// Each pair gets one worker goroutine that serializes tick handling and the
// rollover timer, so the mutable candle has exactly one owner.
type Aggregator struct {
	writer     Persister
	reconciler *Reconciler
	cfg        AggregatorConfig
	events     chan Event
	nowFn      func() time.Time

	mu      sync.Mutex
	workers map[string]*pairWorker
}

type pairWorker struct {
	pair   string
	ticks  chan market.Tick
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAggregator(writer Persister, reconciler *Reconciler, cfg AggregatorConfig) *Aggregator {
	final := cfg.withDefaults()
	return &Aggregator{
		writer:     writer,
		reconciler: reconciler,
		cfg:        final,
		events:     make(chan Event, final.EventBuffer),
		nowFn:      time.Now,
		workers:    make(map[string]*pairWorker),
	}
}

// Events is the shared stream of update/closed events across all pairs.
func (a *Aggregator) Events() <-chan Event {
	return a.events
}

// Subscribe starts the worker for a pair. Subscribing an already-active pair
// is an error; callers stop first.
func (a *Aggregator) Subscribe(ctx context.Context, pair string) error {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if pair == "" {
		return fmt.Errorf("pair is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.workers[pair]; exists {
		return fmt.Errorf("pair %s already subscribed", pair)
	}
	wctx, cancel := context.WithCancel(ctx)
	w := &pairWorker{
		pair:   pair,
		ticks:  make(chan market.Tick, 256),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.workers[pair] = w
	go a.runWorker(wctx, w)
	logger.Infof("realtime: subscribed %s", pair)
	return nil
}

// Stop cancels a pair's worker and discards its in-progress candle. Stopping
// an unsubscribed pair is a no-op. A later Subscribe starts from empty.
func (a *Aggregator) Stop(pair string) {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	a.mu.Lock()
	w, ok := a.workers[pair]
	if ok {
		delete(a.workers, pair)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	<-w.done
	logger.Infof("realtime: stopped %s, in-progress candle dropped", pair)
}

// StopAll tears down every worker.
func (a *Aggregator) StopAll() {
	a.mu.Lock()
	workers := make([]*pairWorker, 0, len(a.workers))
	for pair, w := range a.workers {
		workers = append(workers, w)
		delete(a.workers, pair)
	}
	a.mu.Unlock()
	for _, w := range workers {
		w.cancel()
		<-w.done
	}
}

// HandleTick routes a tick to its pair's worker. Ticks for unsubscribed
// pairs are dropped silently; a full worker queue drops with a warning
// rather than blocking the feed.
func (a *Aggregator) HandleTick(tick market.Tick) {
	pair := strings.ToUpper(strings.TrimSpace(tick.Pair))
	a.mu.Lock()
	w, ok := a.workers[pair]
	a.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.ticks <- tick:
	default:
		logger.Warnf("realtime: tick queue full for %s, dropping", pair)
	}
}

// Consume drains a tick channel (e.g. from market.Source.SubscribeTicks)
// into the aggregator until the channel closes or ctx ends.
func (a *Aggregator) Consume(ctx context.Context, ticks <-chan market.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			a.HandleTick(tick)
		}
	}
}

func (a *Aggregator) runWorker(ctx context.Context, w *pairWorker) {
	defer close(w.done)
	var b minuteBuilder
	timer := time.NewTimer(a.timerDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			// Incomplete candle is dropped, never partially persisted.
			return
		case tick := <-w.ticks:
			closed, updated := b.applyTick(tick.Price, tick.Timestamp)
			if closed != nil {
				a.finalize(w.pair, *closed)
			}
			a.emit(Event{Type: EventUpdate, Pair: w.pair, Candle: updated})
		case <-timer.C:
			if closed := b.forceRollover(a.nowFn().Unix()); closed != nil {
				a.finalize(w.pair, *closed)
				a.emit(Event{Type: EventUpdate, Pair: w.pair, Candle: b.current})
			}
			timer.Reset(a.timerDelay())
		}
	}
}

// timerDelay targets nextMinuteBoundary + buffer from now.
func (a *Aggregator) timerDelay() time.Duration {
	now := a.nowFn()
	next := now.Truncate(time.Minute).Add(time.Minute).Add(a.cfg.BoundaryBuffer)
	d := next.Sub(now)
	if d <= 0 {
		d = a.cfg.BoundaryBuffer
	}
	return d
}

func (a *Aggregator) finalize(pair string, c market.Candle) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.PersistTimeout)
	defer cancel()
	if err := a.writer.WriteCandle(ctx, pair, market.Granularity1m, c); err != nil {
		logger.Errorf("realtime: persist %s @%d failed: %v", pair, c.Time, err)
	}
	a.emit(Event{Type: EventClosed, Pair: pair, Candle: c})
	if a.reconciler != nil {
		a.reconciler.Enqueue(pair, c.Time)
	}
}

// EmitCorrection re-publishes an update event after a reconciliation
// overwrite, so downstream consumers see the authoritative OHLC.
func (a *Aggregator) EmitCorrection(pair string, c market.Candle) {
	a.emit(Event{Type: EventUpdate, Pair: pair, Candle: c})
}

func (a *Aggregator) emit(evt Event) {
	select {
	case a.events <- evt:
	default:
		logger.Warnf("realtime: event channel full, drop %s %s", evt.Type, evt.Pair)
	}
}
