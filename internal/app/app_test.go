package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"candlevault/internal/market"
)

func TestSourceHealthLine(t *testing.T) {
	_, ok := sourceHealthLine(market.SourceStats{})
	assert.False(t, ok)

	line, ok := sourceHealthLine(market.SourceStats{Reconnects: 3})
	assert.True(t, ok)
	assert.Equal(t, "upstream feed: 3 reconnects, 0 subscribe errors", line)

	line, ok = sourceHealthLine(market.SourceStats{SubscribeErrors: 1, LastError: "dial timeout"})
	assert.True(t, ok)
	assert.Equal(t, "upstream feed: 0 reconnects, 1 subscribe errors, last error: dial timeout", line)
}
