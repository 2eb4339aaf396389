package trader

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"candlevault/internal/strategy"
)

type SessionState string

const (
	SessionRunning SessionState = "running"
	SessionPaused  SessionState = "paused"
	SessionStopped SessionState = "stopped"
)

// Session owns one pair's strategy engine and simulated balance. The engine's
// position list is touched only through the session, which is itself driven
// from the orchestrator's single event path per pair.
type Session struct {
	ID        string
	Pair      string
	StartedAt time.Time

	mu      sync.Mutex
	engine  strategy.Engine
	state   SessionState
	balance float64
	// cycleBalance is the balance at the start of the current entry cycle.
	// Sizing works from it so level sizes keep their configured geometry
	// while earlier entries in the same cycle consume cash.
	cycleBalance float64
	cycleID      string
}

func newSession(pair string, engine strategy.Engine, balance float64) *Session {
	return &Session{
		ID:           uuid.NewString(),
		Pair:         pair,
		StartedAt:    time.Now(),
		engine:       engine,
		state:        SessionRunning,
		balance:      balance,
		cycleBalance: balance,
		cycleID:      uuid.NewString(),
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Balance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

func (s *Session) Positions() []strategy.Position {
	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()
	return eng.Positions()
}

// SessionView is a read-only snapshot for status queries.
type SessionView struct {
	ID            string
	Pair          string
	Kind          strategy.Kind
	State         SessionState
	Balance       float64
	OpenPositions int
	StartedAt     time.Time
}

func (s *Session) view() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionView{
		ID:            s.ID,
		Pair:          s.Pair,
		Kind:          s.engine.Kind(),
		State:         s.state,
		Balance:       s.balance,
		OpenPositions: len(s.engine.Positions()),
		StartedAt:     s.StartedAt,
	}
}
