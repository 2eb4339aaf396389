package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
candles:
  pairs: ["BTCUSDT"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 7, cfg.Candles.BackfillDays)
	assert.Equal(t, []string{"1m", "5m", "15m", "1h", "6h", "1d"}, cfg.Candles.Granularities)
	assert.Equal(t, 2, cfg.Realtime.BoundaryBufferSec)
	assert.InDelta(t, 10_000, cfg.Trading.StartingBalance, 1e-9)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
redis:
  addr: "redis-base:6379"
candles:
  pairs: ["BTCUSDT"]
  backfill_days: 3
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
candles:
  backfill_days: 14
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	// The including file wins on conflicts; everything else merges through.
	assert.Equal(t, 14, cfg.Candles.BackfillDays)
	assert.Equal(t, "redis-base:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Candles.Pairs)
}

func TestLoadRejectsBadGranularity(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
candles:
  pairs: ["BTCUSDT"]
  granularities: ["1m", "7m"]
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingPairs(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
redis:
  addr: "localhost:6379"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadTradingRequiresProfile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
candles:
  pairs: ["BTCUSDT"]
trading:
  enabled: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", `
include: ["b.yaml"]
`)
	writeConfig(t, dir, "b.yaml", `
include: ["a.yaml"]
`)
	_, err := Load(filepath.Join(dir, "a.yaml"))
	assert.Error(t, err)
}
