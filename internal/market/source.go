package market

import (
	"context"
	"time"
)

// Tick is one live price observation from the upstream feed. Timestamp is
// unix seconds. Delivery within a pair is assumed monotonic in time but not
// gap-free.
type Tick struct {
	Pair      string
	Price     float64
	Quantity  float64
	Timestamp int64
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}

// Source is the upstream price API plus its live tick feed. REST calls carry
// the caller's context and a bounded timeout; a timeout surfaces as
// ErrUpstreamUnavailable, never as a silent empty result.
type Source interface {
	GetCandles(ctx context.Context, pair string, g Granularity, start, end time.Time) ([]Candle, error)

	SubscribeTicks(ctx context.Context, pairs []string, opts SubscribeOptions) (<-chan Tick, error)

	Stats() SourceStats

	Close() error
}
