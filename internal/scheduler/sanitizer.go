package scheduler

import (
	"time"

	"candlevault/internal/market"
)

const DefaultKlineGrace = 10 * time.Second

// DropUnclosedCandle drops the last element if its period has not closed
// yet. Upstream kline endpoints include the current, in-progress candle as
// the final row.
func DropUnclosedCandle(candles []market.Candle, g market.Granularity) []market.Candle {
	return dropUnclosedCandleAt(candles, g, time.Now().UTC(), DefaultKlineGrace)
}

func dropUnclosedCandleAt(candles []market.Candle, g market.Granularity, now time.Time, grace time.Duration) []market.Candle {
	if len(candles) == 0 || !g.Valid() {
		return candles
	}
	if grace < 0 {
		grace = 0
	}
	last := candles[len(candles)-1]
	if last.Time <= 0 {
		return candles
	}
	closeAt := last.Time + g.Seconds()
	cutoff := closeAt + int64(grace/time.Second)
	if now.Unix() < cutoff {
		return candles[:len(candles)-1]
	}
	return candles
}
