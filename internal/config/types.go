package config

// Config is the main configuration carrier.
type Config struct {
	App      AppConfig      `toml:"app"`
	Redis    RedisConfig    `toml:"redis"`
	Binance  BinanceConfig  `toml:"binance"`
	Candles  CandlesConfig  `toml:"candles"`
	Realtime RealtimeConfig `toml:"realtime"`
	Strategy StrategyConfig `toml:"strategy"`
	Trading  TradingConfig  `toml:"trading"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

type RedisConfig struct {
	Addr           string `toml:"addr"`
	Password       string `toml:"password"`
	DB             int    `toml:"db"`
	DialTimeoutSec int    `toml:"dial_timeout_seconds"`
	ReadTimeoutSec int    `toml:"read_timeout_seconds"`
}

type BinanceConfig struct {
	RESTBaseURL    string `toml:"rest_base_url"`
	HTTPTimeoutSec int    `toml:"http_timeout_seconds"`
	ProxyEnabled   bool   `toml:"proxy_enabled"`
	RESTProxyURL   string `toml:"rest_proxy_url"`
	WSProxyURL     string `toml:"ws_proxy_url"`
}

// CandlesConfig drives backfill, gap repair and retention.
type CandlesConfig struct {
	Pairs         []string `toml:"pairs"`
	Granularities []string `toml:"granularities"`
	BackfillDays  int      `toml:"backfill_days"`
	// RecentGapHours is how far back the periodic gap repair re-fetches.
	RecentGapHours int `toml:"recent_gap_hours"`
	// RetentionDays maps granularity to how many days of history to keep;
	// zero or missing means keep forever.
	RetentionDays map[string]int `toml:"retention_days"`
	// RetentionSweepInterval is a duration string like "1h".
	RetentionSweepInterval string `toml:"retention_sweep_interval"`
	GapRepairInterval      string `toml:"gap_repair_interval"`
}

type RealtimeConfig struct {
	BoundaryBufferSec    int `toml:"boundary_buffer_seconds"`
	EventBuffer          int `toml:"event_buffer"`
	ReconcileDelaySec    int `toml:"reconcile_delay_seconds"`
	ReconcileMaxAttempts int `toml:"reconcile_max_attempts"`
	// SlowReconcileInterval re-checks the trailing SlowReconcileMinutes on
	// a fixed cadence, catching corrections the fast pass missed.
	SlowReconcileInterval string `toml:"slow_reconcile_interval"`
	SlowReconcileMinutes  int    `toml:"slow_reconcile_minutes"`
}

type StrategyConfig struct {
	ProfilesPath   string `toml:"profiles_path"`
	DefaultProfile string `toml:"default_profile"`
}

type TradingConfig struct {
	Enabled         bool    `toml:"enabled"`
	StartingBalance float64 `toml:"starting_balance"`
	HistoryCandles  int     `toml:"history_candles"`
	LedgerPath      string  `toml:"ledger_path"`
}
