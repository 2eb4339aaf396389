package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandleValidate(t *testing.T) {
	valid := Candle{Time: 1_700_000_000, Open: 10, High: 12, Low: 9, Close: 11, Volume: 5}
	assert.NoError(t, valid.Validate())

	// High and low may equal open/close.
	flat := Candle{Time: 60, Open: 10, High: 10, Low: 10, Close: 10}
	assert.NoError(t, flat.Validate())

	cases := map[string]Candle{
		"high below close":  {Time: 60, Open: 10, High: 10.5, Low: 9, Close: 11},
		"low above open":    {Time: 60, Open: 10, High: 12, Low: 10.5, Close: 11},
		"negative time":     {Time: -1, Open: 10, High: 12, Low: 9, Close: 11},
		"negative volume":   {Time: 60, Open: 10, High: 12, Low: 9, Close: 11, Volume: -1},
		"inverted high-low": {Time: 60, Open: 10, High: 9, Low: 12, Close: 10},
	}
	for name, c := range cases {
		err := c.Validate()
		require.Error(t, err, name)
		assert.ErrorIs(t, err, ErrMalformedRecord, name)
	}
}

func TestCandleAligned(t *testing.T) {
	assert.True(t, Candle{Time: 3600}.Aligned(Granularity1h))
	assert.False(t, Candle{Time: 3660}.Aligned(Granularity1h))
	assert.True(t, Candle{Time: 3660}.Aligned(Granularity1m))
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("1h")
	require.NoError(t, err)
	assert.Equal(t, Granularity1h, g)
	assert.EqualValues(t, 3600, g.Seconds())

	_, err = ParseGranularity("7m")
	assert.Error(t, err)
}

func TestGranularityAlign(t *testing.T) {
	assert.EqualValues(t, 3600, Granularity1h.Align(3725))
	assert.EqualValues(t, 3720, Granularity1m.Align(3725))
	assert.EqualValues(t, 0, Granularity1d.Align(86399))
}
