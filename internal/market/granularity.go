package market

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the duration of a single candle. The 1-minute series is
// canonical; everything coarser can be derived from it.
type Granularity string

const (
	Granularity1m  Granularity = "1m"
	Granularity5m  Granularity = "5m"
	Granularity15m Granularity = "15m"
	Granularity1h  Granularity = "1h"
	Granularity6h  Granularity = "6h"
	Granularity1d  Granularity = "1d"
)

var granularitySeconds = map[Granularity]int64{
	Granularity1m:  60,
	Granularity5m:  300,
	Granularity15m: 900,
	Granularity1h:  3600,
	Granularity6h:  21600,
	Granularity1d:  86400,
}

// Granularities lists every supported resolution, finest first.
func Granularities() []Granularity {
	return []Granularity{
		Granularity1m, Granularity5m, Granularity15m,
		Granularity1h, Granularity6h, Granularity1d,
	}
}

func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := granularitySeconds[g]; !ok {
		return "", fmt.Errorf("unsupported granularity %q", s)
	}
	return g, nil
}

func (g Granularity) Valid() bool {
	_, ok := granularitySeconds[g]
	return ok
}

// Seconds returns the period length in seconds, 0 for invalid values.
func (g Granularity) Seconds() int64 {
	return granularitySeconds[g]
}

func (g Granularity) Duration() time.Duration {
	return time.Duration(g.Seconds()) * time.Second
}

// Align floors ts (unix seconds) to the period boundary containing it.
func (g Granularity) Align(ts int64) int64 {
	period := g.Seconds()
	if period <= 0 {
		return ts
	}
	return ts / period * period
}

// Interval returns the exchange interval token. Supported granularities map
// one to one onto Binance kline intervals.
func (g Granularity) Interval() string {
	return string(g)
}
