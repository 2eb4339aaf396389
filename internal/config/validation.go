package config

import (
	"fmt"
	"strings"

	"candlevault/internal/market"
	"candlevault/internal/scheduler"
)

func validate(c *Config) error {
	if len(c.Candles.Pairs) == 0 {
		return fmt.Errorf("candles.pairs cannot be empty")
	}
	for _, pair := range c.Candles.Pairs {
		if strings.TrimSpace(pair) == "" {
			return fmt.Errorf("candles.pairs contains an empty entry")
		}
	}

	for _, raw := range c.Candles.Granularities {
		if _, err := market.ParseGranularity(raw); err != nil {
			return fmt.Errorf("candles.granularities: %w", err)
		}
	}
	for raw, days := range c.Candles.RetentionDays {
		if _, err := market.ParseGranularity(raw); err != nil {
			return fmt.Errorf("candles.retention_days: %w", err)
		}
		if days < 0 {
			return fmt.Errorf("candles.retention_days[%s] cannot be negative", raw)
		}
	}

	for field, raw := range map[string]string{
		"candles.retention_sweep_interval": c.Candles.RetentionSweepInterval,
		"candles.gap_repair_interval":      c.Candles.GapRepairInterval,
		"realtime.slow_reconcile_interval": c.Realtime.SlowReconcileInterval,
	} {
		if _, ok := scheduler.ParseIntervalDuration(raw); !ok {
			return fmt.Errorf("%s: invalid interval %q", field, raw)
		}
	}

	if c.Trading.Enabled {
		if strings.TrimSpace(c.Strategy.ProfilesPath) == "" {
			return fmt.Errorf("strategy.profiles_path is required when trading is enabled")
		}
		if strings.TrimSpace(c.Strategy.DefaultProfile) == "" {
			return fmt.Errorf("strategy.default_profile is required when trading is enabled")
		}
	}
	return nil
}
