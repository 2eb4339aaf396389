// Package strategy hosts the signal engines. The set of strategy kinds is
// closed: construction rejects anything it does not know, instead of
// dispatching on arbitrary strings.
package strategy

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"candlevault/internal/market"
)

type SignalType string

const (
	SignalBuy  SignalType = "buy"
	SignalSell SignalType = "sell"
	SignalHold SignalType = "hold"
)

// Signal is the transient result of one Analyze call; it is never persisted.
type Signal struct {
	Type   SignalType
	Price  float64
	Reason string
	Level  int
}

// Position is one open grid entry, owned by the engine for the duration of a
// cycle and collected into a trade when the aggregate exit fires.
type Position struct {
	EntryPrice float64
	Size       float64
	Level      int
	Timestamp  int64
}

type Kind string

const (
	KindLevelGrid Kind = "level_grid"
	KindDCA       Kind = "dca"
)

// Kinds lists every supported strategy kind.
func Kinds() []Kind {
	return []Kind{KindLevelGrid, KindDCA}
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindLevelGrid, KindDCA:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", market.ErrUnknownStrategyType, s)
}

// Engine is a stateful signal generator. Analyze is read-only and
// deterministic for fixed history/price/config/state: it consults no clock
// and no randomness. State moves only through the explicit mutators, driven
// by the session that owns the engine.
type Engine interface {
	Kind() Kind

	Analyze(history []market.Candle, price float64) Signal

	// PositionSize returns the quote-currency amount to commit for the
	// given entry level, applying the capital-reservation rule against
	// the current price.
	PositionSize(level int, totalBalance, price float64) float64

	RecordEntry(pos Position)
	Positions() []Position
	// CloseAll returns the open positions and empties the grid.
	CloseAll() []Position
	// Reset clears all cycle state, including first-entry permissiveness.
	Reset()
}

// New constructs an engine of the given kind from loosely-typed parameters
// (config file or API payload). Unknown kinds fail fast.
func New(kind Kind, params map[string]any) (Engine, error) {
	switch kind {
	case KindLevelGrid:
		var cfg LevelGridConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewLevelGrid(cfg), nil
	case KindDCA:
		var cfg DCAConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewDCA(cfg), nil
	}
	return nil, fmt.Errorf("%w: %q", market.ErrUnknownStrategyType, kind)
}

func decodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("decoding strategy params: %w", err)
	}
	return nil
}
