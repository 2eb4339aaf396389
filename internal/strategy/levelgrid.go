package strategy

import (
	"fmt"
	"sync"

	"github.com/markcheno/go-talib"

	"candlevault/internal/market"
)

// LevelGridConfig tunes the martingale level-grid engine. All percent fields
// are expressed as plain percentages (0.85 means 0.85%).
type LevelGridConfig struct {
	// InitialDropPercent is the pullback from the recent high required for
	// the first entry of a cycle. Later cycles use it too.
	InitialDropPercent float64 `mapstructure:"initial_drop_percent"`
	// LevelDropPercent is the further drop from the most recent entry
	// price required to add the next level.
	LevelDropPercent float64 `mapstructure:"level_drop_percent"`
	MaxLevels        int     `mapstructure:"max_levels"`
	// ProfitTargetPercent is measured against the quantity-weighted
	// average entry price of all open levels.
	ProfitTargetPercent float64 `mapstructure:"profit_target_percent"`
	// BasePositionPercent is the fraction of deployable balance committed
	// at level 1; later levels scale by Multiplier^(level-1).
	BasePositionPercent float64 `mapstructure:"base_position_percent"`
	Multiplier          float64 `mapstructure:"multiplier"`
	// LookbackCandles bounds the window used for the recent high.
	LookbackCandles int `mapstructure:"lookback_candles"`
	// ReservePercent of the balance is held back until price has fallen
	// DeepDipPercent below the recent high, after which the full balance
	// is deployable.
	ReservePercent float64 `mapstructure:"reserve_percent"`
	DeepDipPercent float64 `mapstructure:"deep_dip_percent"`
}

func (c LevelGridConfig) withDefaults() LevelGridConfig {
	if c.InitialDropPercent <= 0 {
		c.InitialDropPercent = 0.1
	}
	if c.LevelDropPercent <= 0 {
		c.LevelDropPercent = 0.1
	}
	if c.MaxLevels <= 0 {
		c.MaxLevels = 3
	}
	if c.ProfitTargetPercent <= 0 {
		c.ProfitTargetPercent = 0.85
	}
	if c.BasePositionPercent <= 0 {
		c.BasePositionPercent = 0.2
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 1.5
	}
	if c.LookbackCandles <= 0 {
		c.LookbackCandles = 20
	}
	if c.ReservePercent < 0 || c.ReservePercent >= 1 {
		c.ReservePercent = 0.5
	}
	if c.DeepDipPercent <= 0 {
		c.DeepDipPercent = 3.0
	}
	return c
}

// minHistoryForHigh is the history length below which the engine treats any
// tradable price as an acceptable first entry instead of demanding a
// measured pullback.
const minHistoryForHigh = 5

// LevelGrid buys staged pullbacks and exits the whole grid at a profit
// target over the average entry. State is guarded so a session loop and an
// inspection endpoint can touch the same engine.
type LevelGrid struct {
	cfg LevelGridConfig

	mu          sync.Mutex
	positions   []Position
	everEntered bool
}

func NewLevelGrid(cfg LevelGridConfig) *LevelGrid {
	return &LevelGrid{cfg: cfg.withDefaults()}
}

func (g *LevelGrid) Kind() Kind { return KindLevelGrid }

func (g *LevelGrid) Analyze(history []market.Candle, price float64) Signal {
	if price <= 0 {
		return Signal{Type: SignalHold, Price: price, Reason: "no tradable price"}
	}

	g.mu.Lock()
	positions := make([]Position, len(g.positions))
	copy(positions, g.positions)
	everEntered := g.everEntered
	g.mu.Unlock()

	if len(positions) == 0 {
		return g.analyzeFirstEntry(history, price, everEntered)
	}

	// Exit check first: the whole grid closes together.
	avg := averageEntry(positions)
	if gain := gainPercent(avg, price); gain >= g.cfg.ProfitTargetPercent {
		return Signal{
			Type:   SignalSell,
			Price:  price,
			Reason: fmt.Sprintf("profit target hit: %.4f%% over avg entry %.8f", gain, avg),
		}
	}

	if len(positions) >= g.cfg.MaxLevels {
		return Signal{Type: SignalHold, Price: price, Reason: "max levels reached"}
	}

	last := positions[len(positions)-1]
	if drop := dropPercent(last.EntryPrice, price); drop >= g.cfg.LevelDropPercent {
		level := len(positions) + 1
		return Signal{
			Type:   SignalBuy,
			Price:  price,
			Level:  level,
			Reason: fmt.Sprintf("level %d: %.4f%% below last entry %.8f", level, drop, last.EntryPrice),
		}
	}
	return Signal{Type: SignalHold, Price: price, Reason: "waiting for next level or target"}
}

func (g *LevelGrid) analyzeFirstEntry(history []market.Candle, price float64, everEntered bool) Signal {
	if len(history) < minHistoryForHigh {
		return Signal{
			Type:   SignalBuy,
			Price:  price,
			Level:  1,
			Reason: "insufficient history, entering at market",
		}
	}

	high := g.recentHigh(history)
	drop := dropPercent(high, price)

	// The very first entry of a fresh engine is permissive: any measurable
	// pullback counts. Subsequent cycles demand the configured drop.
	if !everEntered {
		if drop > 0 {
			return Signal{
				Type:   SignalBuy,
				Price:  price,
				Level:  1,
				Reason: fmt.Sprintf("first entry: %.4f%% below recent high %.8f", drop, high),
			}
		}
		return Signal{Type: SignalHold, Price: price, Reason: "price at or above recent high"}
	}

	if drop >= g.cfg.InitialDropPercent {
		return Signal{
			Type:   SignalBuy,
			Price:  price,
			Level:  1,
			Reason: fmt.Sprintf("new cycle: %.4f%% below recent high %.8f", drop, high),
		}
	}
	return Signal{Type: SignalHold, Price: price, Reason: "pullback below entry threshold"}
}

// recentHigh returns the highest high over the lookback window.
func (g *LevelGrid) recentHigh(history []market.Candle) float64 {
	window := history
	if len(window) > g.cfg.LookbackCandles {
		window = window[len(window)-g.cfg.LookbackCandles:]
	}
	highs := make([]float64, len(window))
	for i, c := range window {
		highs[i] = c.High
	}
	if len(highs) >= 2 {
		out := talib.Max(highs, len(highs))
		return out[len(out)-1]
	}
	return highs[0]
}

// PositionSize returns base*multiplier^(level-1) of the deployable balance.
// Half the balance (ReservePercent) stays back until price sits
// DeepDipPercent under the last recorded reference, approximated here by the
// average entry when a grid is open.
func (g *LevelGrid) PositionSize(level int, totalBalance, price float64) float64 {
	if level < 1 || totalBalance <= 0 {
		return 0
	}

	deployable := totalBalance * (1 - g.cfg.ReservePercent)

	g.mu.Lock()
	positions := make([]Position, len(g.positions))
	copy(positions, g.positions)
	g.mu.Unlock()

	if len(positions) > 0 && price > 0 {
		if drop := dropPercent(averageEntry(positions), price); drop >= g.cfg.DeepDipPercent {
			deployable = totalBalance
		}
	}

	size := deployable * g.cfg.BasePositionPercent
	for i := 1; i < level; i++ {
		size *= g.cfg.Multiplier
	}
	if size > deployable {
		size = deployable
	}
	return size
}

func (g *LevelGrid) RecordEntry(pos Position) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions = append(g.positions, pos)
	g.everEntered = true
}

func (g *LevelGrid) Positions() []Position {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Position, len(g.positions))
	copy(out, g.positions)
	return out
}

func (g *LevelGrid) CloseAll() []Position {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.positions
	g.positions = nil
	return out
}

func (g *LevelGrid) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions = nil
	g.everEntered = false
}

// averageEntry is the quantity-weighted mean entry price of the open grid.
func averageEntry(positions []Position) float64 {
	var totalCost, totalQty float64
	for _, p := range positions {
		if p.EntryPrice <= 0 || p.Size <= 0 {
			continue
		}
		qty := p.Size / p.EntryPrice
		totalCost += p.Size
		totalQty += qty
	}
	if totalQty == 0 {
		return 0
	}
	return totalCost / totalQty
}
