// Package realtime turns the live tick feed into finalized 1-minute candles:
// one single-owner state machine per pair, a wall-clock timer that forces
// boundary rollover during silence, and a reconciler that overlays the
// authoritative API values after the fact.
package realtime

import "candlevault/internal/market"

const minuteSeconds = 60

// minuteBuilder owns the one mutable in-progress candle for a pair. It is
// only ever touched from that pair's worker goroutine, so it needs no locks.
type minuteBuilder struct {
	current   market.Candle
	open      bool
	lastPrice float64
}

// applyTick folds one tick into the state machine. When the tick crosses a
// minute boundary the previous candle is returned as closed and a new one is
// opened, seeded with the previous close as its open.
func (b *minuteBuilder) applyTick(price float64, ts int64) (closed *market.Candle, updated market.Candle) {
	boundary := ts / minuteSeconds * minuteSeconds
	if !b.open || b.current.Time != boundary {
		if b.open {
			done := b.current
			closed = &done
		}
		b.openCandle(boundary, price)
	} else {
		if price > b.current.High {
			b.current.High = price
		}
		if price < b.current.Low {
			b.current.Low = price
		}
		b.current.Close = price
	}
	b.lastPrice = price
	return closed, b.current
}

// forceRollover synthesizes the boundary transition when no tick arrived
// near a minute edge, using the last known price. Returns the finalized
// candle, or nil when there is nothing to close yet.
func (b *minuteBuilder) forceRollover(now int64) *market.Candle {
	if !b.open {
		return nil
	}
	boundary := now / minuteSeconds * minuteSeconds
	if boundary <= b.current.Time {
		return nil
	}
	done := b.current
	b.openCandle(boundary, b.lastPrice)
	return &done
}

// openCandle starts the next minute, seeded with the previous close as the
// open when one exists. High/low span both open and the seeding price so the
// OHLC invariant holds from the first tick.
func (b *minuteBuilder) openCandle(boundary int64, price float64) {
	openPrice := price
	if b.open {
		openPrice = b.current.Close
	}
	high, low := price, price
	if openPrice > high {
		high = openPrice
	}
	if openPrice < low {
		low = openPrice
	}
	b.current = market.Candle{
		Time:  boundary,
		Open:  openPrice,
		High:  high,
		Low:   low,
		Close: price,
	}
	b.open = true
}
