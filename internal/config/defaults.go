package config

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.DialTimeoutSec <= 0 {
		c.Redis.DialTimeoutSec = 5
	}
	if c.Redis.ReadTimeoutSec <= 0 {
		c.Redis.ReadTimeoutSec = 3
	}

	if c.Binance.HTTPTimeoutSec <= 0 {
		c.Binance.HTTPTimeoutSec = 15
	}

	if len(c.Candles.Granularities) == 0 {
		c.Candles.Granularities = []string{"1m", "5m", "15m", "1h", "6h", "1d"}
	}
	if c.Candles.BackfillDays <= 0 {
		c.Candles.BackfillDays = 7
	}
	if c.Candles.RecentGapHours <= 0 {
		c.Candles.RecentGapHours = 2
	}
	if c.Candles.RetentionSweepInterval == "" {
		c.Candles.RetentionSweepInterval = "6h"
	}
	if c.Candles.GapRepairInterval == "" {
		c.Candles.GapRepairInterval = "1h"
	}

	if c.Realtime.BoundaryBufferSec <= 0 {
		c.Realtime.BoundaryBufferSec = 2
	}
	if c.Realtime.EventBuffer <= 0 {
		c.Realtime.EventBuffer = 256
	}
	if c.Realtime.ReconcileDelaySec <= 0 {
		c.Realtime.ReconcileDelaySec = 5
	}
	if c.Realtime.ReconcileMaxAttempts <= 0 {
		c.Realtime.ReconcileMaxAttempts = 4
	}
	if c.Realtime.SlowReconcileInterval == "" {
		c.Realtime.SlowReconcileInterval = "15m"
	}
	if c.Realtime.SlowReconcileMinutes <= 0 {
		c.Realtime.SlowReconcileMinutes = 15
	}

	if c.Trading.StartingBalance <= 0 {
		c.Trading.StartingBalance = 10_000
	}
	if c.Trading.HistoryCandles <= 0 {
		c.Trading.HistoryCandles = 120
	}
	if c.Trading.LedgerPath == "" {
		c.Trading.LedgerPath = "data/trades.db"
	}
}
