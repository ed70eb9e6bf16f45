// Package config defines the top-level configuration for the deribot market
// maker and provides validation helpers.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by DERIBOT_* environment
// variables.
type Config struct {
	Deribit  DeribitConfig  `toml:"deribit"`
	Strategy StrategyConfig `toml:"strategy"`
	Redis    RedisConfig    `toml:"redis"`
	LogLevel string         `toml:"log_level"`
}

// DeribitConfig holds the exchange endpoint, credentials, and session
// parameters.
type DeribitConfig struct {
	URL                  string   `toml:"url"`
	ClientID             string   `toml:"client_id"`
	ClientSecret         string   `toml:"client_secret"`
	Instrument           string   `toml:"instrument"`
	Currency             string   `toml:"currency"`
	HeartbeatIntervalSec int      `toml:"heartbeat_interval_sec"`
	SettleDelay          duration `toml:"settle_delay"`
}

// StrategyConfig holds quoting parameters.
type StrategyConfig struct {
	QuoteAmount float64 `toml:"quote_amount"`
}

// RedisConfig holds the optional monitoring cache connection. The cache is
// disabled when Addr is empty.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	PoolSize int    `toml:"pool_size"`
}

// duration wraps time.Duration so TOML values like "1s" decode directly.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns the built-in configuration, targeting the exchange's test
// environment.
func Defaults() Config {
	return Config{
		Deribit: DeribitConfig{
			URL:                  "wss://test.deribit.com/ws/api/v2",
			Instrument:           "BTC-PERPETUAL",
			Currency:             "btc",
			HeartbeatIntervalSec: 60,
			SettleDelay:          duration{Duration: time.Second},
		},
		Strategy: StrategyConfig{
			QuoteAmount: 10,
		},
		Redis: RedisConfig{
			PoolSize: 4,
		},
		LogLevel: "info",
	}
}

// Validate checks that the configuration is complete enough to run.
func (c *Config) Validate() error {
	if c.Deribit.URL == "" {
		return fmt.Errorf("config: deribit.url is required")
	}
	if c.Deribit.ClientID == "" || c.Deribit.ClientSecret == "" {
		return fmt.Errorf("config: deribit.client_id and deribit.client_secret are required")
	}
	if c.Deribit.Instrument == "" {
		return fmt.Errorf("config: deribit.instrument is required")
	}
	if c.Deribit.Currency == "" {
		return fmt.Errorf("config: deribit.currency is required")
	}
	if c.Deribit.HeartbeatIntervalSec < 10 {
		return fmt.Errorf("config: deribit.heartbeat_interval_sec must be at least 10, got %d", c.Deribit.HeartbeatIntervalSec)
	}
	if c.Strategy.QuoteAmount <= 0 {
		return fmt.Errorf("config: strategy.quote_amount must be positive, got %v", c.Strategy.QuoteAmount)
	}
	return nil
}
