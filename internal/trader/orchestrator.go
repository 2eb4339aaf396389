package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"candlevault/internal/logger"
	"candlevault/internal/market"
	"candlevault/internal/realtime"
	"candlevault/internal/strategy"
)

// HistoryReader supplies the candle history a strategy analyzes against.
type HistoryReader interface {
	GetLatestCandles(ctx context.Context, pair string, g market.Granularity, n int) ([]market.Candle, error)
}

// Backfiller triggers historical ingestion on demand.
type Backfiller interface {
	FetchHistoricalData(ctx context.Context, pair string, g market.Granularity, daysBack int) (int, error)
}

// TickFeed is the slice of the realtime layer the orchestrator drives.
type TickFeed interface {
	Subscribe(ctx context.Context, pair string) error
	Stop(pair string)
}

type OrchestratorConfig struct {
	// StartingBalance is the simulated quote balance each new session gets.
	StartingBalance float64
	// HistoryCandles is how much 1m history Analyze sees.
	HistoryCandles int
	// CallTimeout bounds the store reads issued from the event path.
	CallTimeout time.Duration
}

func (c *OrchestratorConfig) withDefaults() OrchestratorConfig {
	out := *c
	if out.StartingBalance <= 0 {
		out.StartingBalance = 10_000
	}
	if out.HistoryCandles <= 0 {
		out.HistoryCandles = 120
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = 5 * time.Second
	}
	return out
}

// Orchestrator enforces at-most-one active session per pair and routes closed
// candle events into each session's strategy engine. It is an explicitly
// constructed component: callers inject the history reader, backfiller, tick
// feed, profile registry and ledger.
type Orchestrator struct {
	history  HistoryReader
	backfill Backfiller
	feed     TickFeed
	registry *strategy.Registry
	ledger   *Ledger
	cfg      OrchestratorConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewOrchestrator(history HistoryReader, backfill Backfiller, feed TickFeed, registry *strategy.Registry, ledger *Ledger, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		history:  history,
		backfill: backfill,
		feed:     feed,
		registry: registry,
		ledger:   ledger,
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// StartSession opens a session for pair with an engine built from kind and
// params. At most one session may be active per pair.
func (o *Orchestrator) StartSession(ctx context.Context, pair string, kind strategy.Kind, params map[string]any) (*Session, error) {
	engine, err := strategy.New(kind, params)
	if err != nil {
		return nil, err
	}
	return o.startWithEngine(ctx, pair, engine)
}

// StartSessionFromProfile builds the engine from a named registry profile.
func (o *Orchestrator) StartSessionFromProfile(ctx context.Context, pair, profileID string) (*Session, error) {
	if o.registry == nil {
		return nil, fmt.Errorf("no strategy registry configured")
	}
	engine, err := o.registry.Build(profileID)
	if err != nil {
		return nil, err
	}
	return o.startWithEngine(ctx, pair, engine)
}

func (o *Orchestrator) startWithEngine(ctx context.Context, pair string, engine strategy.Engine) (*Session, error) {
	o.mu.Lock()
	if existing, ok := o.sessions[pair]; ok && existing.State() != SessionStopped {
		o.mu.Unlock()
		return nil, fmt.Errorf("session already active for %s", pair)
	}
	s := newSession(pair, engine, o.cfg.StartingBalance)
	o.sessions[pair] = s
	o.mu.Unlock()

	if o.feed != nil {
		if err := o.feed.Subscribe(ctx, pair); err != nil {
			o.mu.Lock()
			delete(o.sessions, pair)
			o.mu.Unlock()
			return nil, fmt.Errorf("subscribing %s: %w", pair, err)
		}
	}
	logger.Infof("Trading session %s started for %s (%s)", s.ID, pair, engine.Kind())
	return s, nil
}

// StopSession halts the pair's feed and drops the session. Stopping a pair
// with no session is a no-op.
func (o *Orchestrator) StopSession(pair string) {
	o.mu.Lock()
	s, ok := o.sessions[pair]
	if ok {
		delete(o.sessions, pair)
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	if o.feed != nil {
		o.feed.Stop(pair)
	}
	s.mu.Lock()
	s.state = SessionStopped
	s.mu.Unlock()
	logger.Infof("Trading session %s stopped for %s", s.ID, pair)
}

// Pause keeps the session and its positions but suppresses new signals.
func (o *Orchestrator) Pause(pair string) error {
	s, err := o.session(pair)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionStopped {
		return fmt.Errorf("session for %s is stopped", pair)
	}
	s.state = SessionPaused
	return nil
}

func (o *Orchestrator) Resume(pair string) error {
	s, err := o.session(pair)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionStopped {
		return fmt.Errorf("session for %s is stopped", pair)
	}
	s.state = SessionRunning
	return nil
}

// UpdateConfig swaps in a freshly built engine of the same kind with new
// params. Open positions carry over so an in-flight grid keeps its exit.
func (o *Orchestrator) UpdateConfig(pair string, params map[string]any) error {
	s, err := o.session(pair)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	engine, err := strategy.New(s.engine.Kind(), params)
	if err != nil {
		return err
	}
	for _, pos := range s.engine.Positions() {
		engine.RecordEntry(pos)
	}
	s.engine = engine
	logger.Infof("Session %s (%s) strategy config updated", s.ID, pair)
	return nil
}

// ResetSession clears the engine's cycle state and restores the starting
// balance. Recorded trades in the ledger are untouched.
func (o *Orchestrator) ResetSession(pair string) error {
	s, err := o.session(pair)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.Reset()
	s.balance = o.cfg.StartingBalance
	s.cycleBalance = o.cfg.StartingBalance
	s.cycleID = uuid.NewString()
	logger.Infof("Session %s (%s) reset", s.ID, pair)
	return nil
}

// RequestBackfill runs a foreground historical fetch for the pair.
func (o *Orchestrator) RequestBackfill(ctx context.Context, pair string, g market.Granularity, daysBack int) (int, error) {
	if o.backfill == nil {
		return 0, fmt.Errorf("no backfiller configured")
	}
	if !g.Valid() {
		return 0, fmt.Errorf("unsupported granularity %q", g)
	}
	return o.backfill.FetchHistoricalData(ctx, pair, g, daysBack)
}

// Sessions lists a snapshot of every live session.
func (o *Orchestrator) Sessions() []SessionView {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]SessionView, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s.view())
	}
	return out
}

func (o *Orchestrator) session(pair string) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[pair]
	if !ok {
		return nil, fmt.Errorf("no session for %s", pair)
	}
	return s, nil
}

// Run consumes closed-candle events until ctx is done. Update events carry
// in-progress candles and are ignored here; strategies act on closes only.
func (o *Orchestrator) Run(ctx context.Context, events <-chan realtime.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Type != realtime.EventClosed {
				continue
			}
			o.handleClose(ctx, evt)
		}
	}
}

func (o *Orchestrator) handleClose(ctx context.Context, evt realtime.Event) {
	o.mu.Lock()
	s, ok := o.sessions[evt.Pair]
	o.mu.Unlock()
	if !ok || s.State() != SessionRunning {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	history, err := o.history.GetLatestCandles(callCtx, evt.Pair, market.Granularity1m, o.cfg.HistoryCandles)
	if err != nil {
		logger.Warnf("Session %s: history read failed: %v", s.ID, err)
		return
	}

	price := evt.Candle.Close
	o.step(callCtx, s, history, price)
}

// step runs one analyze/execute round. Exposed to the event path and tests
// only; callers must not run two steps for one session concurrently.
func (o *Orchestrator) step(ctx context.Context, s *Session, history []market.Candle, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionRunning {
		return
	}

	sig := s.engine.Analyze(history, price)
	switch sig.Type {
	case strategy.SignalBuy:
		o.executeBuy(ctx, s, sig)
	case strategy.SignalSell:
		o.executeSell(ctx, s, sig)
	}
}

func (o *Orchestrator) executeBuy(ctx context.Context, s *Session, sig strategy.Signal) {
	size := s.engine.PositionSize(sig.Level, s.cycleBalance, sig.Price)
	if size <= 0 || size > s.balance {
		logger.Warnf("Session %s: level %d size %.2f not fundable (balance %.2f)", s.ID, sig.Level, size, s.balance)
		return
	}

	pos := strategy.Position{
		EntryPrice: sig.Price,
		Size:       size,
		Level:      sig.Level,
		Timestamp:  time.Now().Unix(),
	}
	s.engine.RecordEntry(pos)
	s.balance -= size

	if o.ledger != nil {
		_, err := o.ledger.RecordEntry(ctx, TradeModel{
			SessionID:  s.ID,
			CycleID:    s.cycleID,
			Pair:       s.Pair,
			Level:      sig.Level,
			EntryPrice: sig.Price,
			Size:       size,
			Metadata:   tradeMetadata(sig.Reason, sig.Level),
			OpenedAt:   pos.Timestamp,
		})
		if err != nil {
			logger.Errorf("Session %s: ledger write failed: %v", s.ID, err)
		}
	}
	logger.Infof("Session %s: buy %s level %d @ %.8f size %.2f", s.ID, s.Pair, sig.Level, sig.Price, size)
}

func (o *Orchestrator) executeSell(ctx context.Context, s *Session, sig strategy.Signal) {
	closed := s.engine.CloseAll()
	if len(closed) == 0 {
		return
	}

	var proceeds float64
	for _, pos := range closed {
		if pos.EntryPrice <= 0 {
			continue
		}
		proceeds += pos.Size / pos.EntryPrice * sig.Price
	}
	s.balance += proceeds

	if o.ledger != nil {
		if _, err := o.ledger.CloseCycle(ctx, s.ID, s.cycleID, sig.Price); err != nil {
			logger.Errorf("Session %s: ledger close failed: %v", s.ID, err)
		}
	}
	s.cycleID = uuid.NewString()
	s.cycleBalance = s.balance
	logger.Infof("Session %s: sell-all %s @ %.8f across %d levels, proceeds %.2f", s.ID, s.Pair, sig.Price, len(closed), proceeds)
}
