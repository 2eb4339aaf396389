package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenAM = int64(36000) // 10:00:00

func TestBuilderMinuteBoundary(t *testing.T) {
	var b minuteBuilder

	closed, updated := b.applyTick(100, tenAM+5) // 10:00:05
	assert.Nil(t, closed)
	assert.EqualValues(t, tenAM, updated.Time)
	assert.EqualValues(t, 100, updated.Open)

	closed, updated = b.applyTick(101, tenAM+59) // 10:00:59
	assert.Nil(t, closed)
	assert.EqualValues(t, 101, updated.Close)
	assert.EqualValues(t, 101, updated.High)

	// 10:01:01 closes exactly one candle for the 10:00 bucket.
	closed, updated = b.applyTick(99, tenAM+61)
	require.NotNil(t, closed)
	assert.EqualValues(t, tenAM, closed.Time)
	assert.EqualValues(t, 100, closed.Open)
	assert.EqualValues(t, 101, closed.Close)

	// The new candle opens at the previous close so the series has no
	// price gaps, with high/low spanning the first tick.
	assert.EqualValues(t, tenAM+60, updated.Time)
	assert.EqualValues(t, 101, updated.Open)
	assert.EqualValues(t, 99, updated.Close)
	assert.EqualValues(t, 101, updated.High)
	assert.EqualValues(t, 99, updated.Low)
	assert.NoError(t, updated.Validate())
}

func TestBuilderIntraMinuteExtremes(t *testing.T) {
	var b minuteBuilder
	b.applyTick(100, tenAM+1)
	b.applyTick(105, tenAM+10)
	b.applyTick(95, tenAM+20)
	_, updated := b.applyTick(102, tenAM+30)

	assert.EqualValues(t, 100, updated.Open)
	assert.EqualValues(t, 105, updated.High)
	assert.EqualValues(t, 95, updated.Low)
	assert.EqualValues(t, 102, updated.Close)
}

func TestBuilderForceRollover(t *testing.T) {
	var b minuteBuilder

	// Nothing to roll before any tick arrives.
	assert.Nil(t, b.forceRollover(tenAM+62))

	b.applyTick(100, tenAM+5)
	// Still inside the same minute.
	assert.Nil(t, b.forceRollover(tenAM+30))

	closed := b.forceRollover(tenAM + 62)
	require.NotNil(t, closed)
	assert.EqualValues(t, tenAM, closed.Time)
	assert.EqualValues(t, 100, closed.Close)

	// The synthesized candle carries the last known price forward.
	assert.EqualValues(t, tenAM+60, b.current.Time)
	assert.EqualValues(t, 100, b.current.Open)
	assert.EqualValues(t, 100, b.current.Close)

	// Rearming in the same minute does nothing.
	assert.Nil(t, b.forceRollover(tenAM+65))
}

func TestBuilderGapSkipsToCurrentBoundary(t *testing.T) {
	var b minuteBuilder
	b.applyTick(100, tenAM+5)

	// A tick three minutes later closes the old candle and opens at the
	// tick's own boundary; intermediate empty minutes are not fabricated.
	closed, updated := b.applyTick(110, tenAM+185)
	require.NotNil(t, closed)
	assert.EqualValues(t, tenAM, closed.Time)
	assert.EqualValues(t, tenAM+180, updated.Time)
	assert.NoError(t, updated.Validate())
}

func TestBuilderValidatesThroughout(t *testing.T) {
	var b minuteBuilder
	prices := []float64{100, 99.5, 101.2, 98.7, 100.1}
	for i, p := range prices {
		closed, updated := b.applyTick(p, tenAM+int64(i)*45)
		if closed != nil {
			assert.NoError(t, closed.Validate())
		}
		assert.NoError(t, updated.Validate())
	}
}
