package strategy

import (
	"fmt"
	"sync"

	"candlevault/internal/market"
)

// DCAConfig tunes the interval-based dollar-cost-averaging engine. It buys a
// fixed slice of balance every IntervalCandles closed candles and exits the
// whole stack at ProfitTargetPercent over the average entry.
type DCAConfig struct {
	IntervalCandles     int     `mapstructure:"interval_candles"`
	MaxEntries          int     `mapstructure:"max_entries"`
	ProfitTargetPercent float64 `mapstructure:"profit_target_percent"`
	BasePositionPercent float64 `mapstructure:"base_position_percent"`
}

func (c DCAConfig) withDefaults() DCAConfig {
	if c.IntervalCandles <= 0 {
		c.IntervalCandles = 60
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10
	}
	if c.ProfitTargetPercent <= 0 {
		c.ProfitTargetPercent = 1.0
	}
	if c.BasePositionPercent <= 0 {
		c.BasePositionPercent = 0.1
	}
	return c
}

// DCA accumulates on a candle cadence instead of chasing pullbacks. Cadence
// is derived from candle timestamps rather than a clock so Analyze stays
// deterministic.
type DCA struct {
	cfg DCAConfig

	mu        sync.Mutex
	positions []Position
}

func NewDCA(cfg DCAConfig) *DCA {
	return &DCA{cfg: cfg.withDefaults()}
}

func (d *DCA) Kind() Kind { return KindDCA }

func (d *DCA) Analyze(history []market.Candle, price float64) Signal {
	if price <= 0 {
		return Signal{Type: SignalHold, Price: price, Reason: "no tradable price"}
	}

	d.mu.Lock()
	positions := make([]Position, len(d.positions))
	copy(positions, d.positions)
	d.mu.Unlock()

	if len(positions) > 0 {
		avg := averageEntry(positions)
		if gain := gainPercent(avg, price); gain >= d.cfg.ProfitTargetPercent {
			return Signal{
				Type:   SignalSell,
				Price:  price,
				Reason: fmt.Sprintf("profit target hit: %.4f%% over avg entry %.8f", gain, avg),
			}
		}
		if len(positions) >= d.cfg.MaxEntries {
			return Signal{Type: SignalHold, Price: price, Reason: "max entries reached"}
		}
	}

	if len(history) == 0 {
		return Signal{Type: SignalHold, Price: price, Reason: "no candle history"}
	}

	if len(positions) == 0 {
		return Signal{Type: SignalBuy, Price: price, Level: 1, Reason: "starting accumulation"}
	}

	last := positions[len(positions)-1]
	elapsed := history[len(history)-1].Time - last.Timestamp
	interval := int64(d.cfg.IntervalCandles) * market.Granularity1m.Seconds()
	if elapsed >= interval {
		level := len(positions) + 1
		return Signal{
			Type:   SignalBuy,
			Price:  price,
			Level:  level,
			Reason: fmt.Sprintf("entry %d: interval elapsed", level),
		}
	}
	return Signal{Type: SignalHold, Price: price, Reason: "waiting for next interval"}
}

func (d *DCA) PositionSize(level int, totalBalance, price float64) float64 {
	if level < 1 || totalBalance <= 0 {
		return 0
	}
	return totalBalance * d.cfg.BasePositionPercent
}

func (d *DCA) RecordEntry(pos Position) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.positions = append(d.positions, pos)
}

func (d *DCA) Positions() []Position {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Position, len(d.positions))
	copy(out, d.positions)
	return out
}

func (d *DCA) CloseAll() []Position {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.positions
	d.positions = nil
	return out
}

func (d *DCA) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.positions = nil
}
