package candlestore

import (
	"encoding/json"
	"fmt"

	"candlevault/internal/market"
)

// Encode serializes a candle into its stored member representation.
func Encode(c market.Candle) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}

// Decode parses a stored member back into a candle. Any parse failure or
// OHLC-invariant violation is reported as ErrMalformedRecord so range readers
// can skip the record instead of aborting the scan.
func Decode(data []byte) (market.Candle, error) {
	var c market.Candle
	if err := json.Unmarshal(data, &c); err != nil {
		return market.Candle{}, fmt.Errorf("%w: %v", market.ErrMalformedRecord, err)
	}
	if err := c.Validate(); err != nil {
		return market.Candle{}, err
	}
	return c, nil
}
