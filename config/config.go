// Package config loads the pipeline configuration from an optional JSON file
// with environment-variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	EngineConfig    EngineConfig    `json:"engine"`
	StreamConfig    StreamConfig    `json:"stream"`
	FallbackConfig  FallbackConfig  `json:"fallback"`
	IndicatorConfig IndicatorConfig `json:"indicators"`
	ProviderConfig  ProviderConfig  `json:"providers"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	VaultConfig     VaultConfig     `json:"vault"`
	ServerConfig    ServerConfig    `json:"server"`
	LoggingConfig   LoggingConfig   `json:"logging"`
}

// EngineConfig holds the orchestrator's trigger and dedup settings
type EngineConfig struct {
	MonitoredSymbols []string `json:"monitored_symbols"` // canonical ids; empty = top-30 bootstrap

	// Base trigger thresholds, scaled by the volatility regime
	PriceChangePct      float64 `json:"price_change_pct"`      // default 0.10
	VelocityPctPerSec   float64 `json:"velocity_pct_per_sec"`  // default 0.35
	SpreadWideningRatio float64 `json:"spread_widening_ratio"` // default 1.8
	VolumeSurgeRatio    float64 `json:"volume_surge_ratio"`    // default 1.8

	// Tier cadence
	TierIntervalsMs [3]int64 `json:"tier_intervals_ms"` // 5000/1000/500
	TierTimeoutsMs  [2]int64 `json:"tier_timeouts_ms"`  // tier2 30000, tier3 10000

	CooldownMs         int64 `json:"cooldown_ms"`          // 30000
	SignalDedupMs      int64 `json:"signal_dedup_ms"`      // 7200000 (2h)
	AggregatorDedupMs  int64 `json:"aggregator_dedup_ms"`  // 1000
	PendingQueueBound  int   `json:"pending_queue_bound"`  // 8
	NoiseLogThrottleMs int64 `json:"noise_log_throttle_ms"` // 300000 (5 min)
}

// StreamConfig holds websocket source settings
type StreamConfig struct {
	BinanceURL           string `json:"binance_url"`
	CoinbaseURL          string `json:"coinbase_url"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts"` // 10
	ReconnectBaseDelayMs int64  `json:"reconnect_base_delay_ms"` // 3000, linear × attempt, cap 30s
}

// FallbackConfig holds the HTTP fallback poller settings
type FallbackConfig struct {
	PollIntervalMs   int64 `json:"poll_interval_ms"`   // 5000
	StaleAfterMs     int64 `json:"stale_after_ms"`     // 30000
	PerRequestGapMs  int64 `json:"per_request_gap_ms"` // 100
	BootstrapTopN    int   `json:"bootstrap_top_n"`    // 30
}

// IndicatorConfig holds the indicator cache and pre-computation settings
type IndicatorConfig struct {
	CacheTTLMs       int64 `json:"cache_ttl_ms"`        // 5000
	CacheSoftCap     int   `json:"cache_soft_cap"`      // 100
	PrecomputeMs     int64 `json:"precompute_ms"`       // 30000
	PrecomputeBatch  int   `json:"precompute_batch"`    // 5
	InterBatchMs     int64 `json:"inter_batch_ms"`      // 100
	HotSymbolCap     int   `json:"hot_symbol_cap"`      // 20
	MinCandles       int   `json:"min_candles"`         // 50
}

// ProviderConfig holds external HTTP provider endpoints
type ProviderConfig struct {
	ListingURL   string `json:"listing_url"`   // top-N market-ranked assets
	OHLCURL      string `json:"ohlc_url"`      // candles per symbol
	SentimentURL string `json:"sentiment_url"` // Fear & Greed index
	IntelURL     string `json:"intel_url"`     // on-chain proxies + funding
	IntelAPIKey  string `json:"intel_api_key"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	SecretPath string `json:"secret_path"`
}

type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Output  string `json:"output"`
	Console bool   `json:"console"`
}

// Default returns the configuration with all documented defaults applied.
func Default() *Config {
	return &Config{
		EngineConfig: EngineConfig{
			PriceChangePct:      0.10,
			VelocityPctPerSec:   0.35,
			SpreadWideningRatio: 1.8,
			VolumeSurgeRatio:    1.8,
			TierIntervalsMs:     [3]int64{5000, 1000, 500},
			TierTimeoutsMs:      [2]int64{30000, 10000},
			CooldownMs:          30000,
			SignalDedupMs:       7200000,
			AggregatorDedupMs:   1000,
			PendingQueueBound:   8,
			NoiseLogThrottleMs:  300000,
		},
		StreamConfig: StreamConfig{
			BinanceURL:           "wss://stream.binance.com:9443/stream",
			CoinbaseURL:          "wss://ws-feed.exchange.coinbase.com",
			MaxReconnectAttempts: 10,
			ReconnectBaseDelayMs: 3000,
		},
		FallbackConfig: FallbackConfig{
			PollIntervalMs:  5000,
			StaleAfterMs:    30000,
			PerRequestGapMs: 100,
			BootstrapTopN:   30,
		},
		IndicatorConfig: IndicatorConfig{
			CacheTTLMs:      5000,
			CacheSoftCap:    100,
			PrecomputeMs:    30000,
			PrecomputeBatch: 5,
			InterBatchMs:    100,
			HotSymbolCap:    20,
			MinCandles:      50,
		},
		ProviderConfig: ProviderConfig{
			ListingURL:   "https://api.coingecko.com/api/v3/coins/markets",
			OHLCURL:      "https://api.coingecko.com/api/v3/coins/%s/ohlc",
			SentimentURL: "https://api.alternative.me/fng/",
			IntelURL:     "",
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "quantumx",
			Password: "quantumx",
			Database: "quantumx",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		VaultConfig: VaultConfig{
			SecretPath: "secret/data/quantumx/providers",
		},
		ServerConfig: ServerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
		},
		LoggingConfig: LoggingConfig{
			Level: "INFO",
		},
	}
}

// Load reads the config file named by CONFIG_FILE (if set) over the defaults,
// then applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MONITORED_SYMBOLS"); v != "" {
		c.EngineConfig.MonitoredSymbols = splitList(v)
	}
	c.DatabaseConfig.Enabled = getEnvBool("DB_ENABLED", c.DatabaseConfig.Enabled)
	c.DatabaseConfig.Host = getEnv("DB_HOST", c.DatabaseConfig.Host)
	c.DatabaseConfig.Port = getEnvInt("DB_PORT", c.DatabaseConfig.Port)
	c.DatabaseConfig.User = getEnv("DB_USER", c.DatabaseConfig.User)
	c.DatabaseConfig.Password = getEnv("DB_PASSWORD", c.DatabaseConfig.Password)
	c.DatabaseConfig.Database = getEnv("DB_NAME", c.DatabaseConfig.Database)
	c.DatabaseConfig.SSLMode = getEnv("DB_SSLMODE", c.DatabaseConfig.SSLMode)

	c.RedisConfig.Enabled = getEnvBool("REDIS_ENABLED", c.RedisConfig.Enabled)
	c.RedisConfig.Address = getEnv("REDIS_ADDRESS", c.RedisConfig.Address)
	c.RedisConfig.Password = getEnv("REDIS_PASSWORD", c.RedisConfig.Password)

	c.VaultConfig.Enabled = getEnvBool("VAULT_ENABLED", c.VaultConfig.Enabled)
	c.VaultConfig.Address = getEnv("VAULT_ADDR", c.VaultConfig.Address)
	c.VaultConfig.Token = getEnv("VAULT_TOKEN", c.VaultConfig.Token)

	c.ProviderConfig.IntelURL = getEnv("INTEL_URL", c.ProviderConfig.IntelURL)
	c.ProviderConfig.IntelAPIKey = getEnv("INTEL_API_KEY", c.ProviderConfig.IntelAPIKey)

	c.ServerConfig.Port = getEnvInt("SERVER_PORT", c.ServerConfig.Port)
	c.LoggingConfig.Level = getEnv("LOG_LEVEL", c.LoggingConfig.Level)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
