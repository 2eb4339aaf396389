package market

import "fmt"

// Candle is one OHLCV bar. Time is unix seconds aligned to the granularity
// boundary. A finalized candle is immutable; the only mutable instance per
// pair is the in-progress one owned by the realtime aggregator.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type Candles []Candle

// Validate enforces low <= min(open, close) <= max(open, close) <= high
// and a non-negative timestamp/volume.
func (c Candle) Validate() error {
	if c.Time < 0 {
		return fmt.Errorf("%w: negative time %d", ErrMalformedRecord, c.Time)
	}
	if c.Volume < 0 {
		return fmt.Errorf("%w: negative volume %f", ErrMalformedRecord, c.Volume)
	}
	lo, hi := c.Open, c.Open
	if c.Close < lo {
		lo = c.Close
	}
	if c.Close > hi {
		hi = c.Close
	}
	if c.Low > lo || c.High < hi {
		return fmt.Errorf("%w: ohlc out of order o=%f h=%f l=%f c=%f",
			ErrMalformedRecord, c.Open, c.High, c.Low, c.Close)
	}
	return nil
}

// Aligned reports whether the candle time sits on a g boundary.
func (c Candle) Aligned(g Granularity) bool {
	period := g.Seconds()
	return period > 0 && c.Time%period == 0
}
