package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DERIBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DERIBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject credentials at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Deribit.URL, "DERIBOT_DERIBIT_URL")
	setStr(&cfg.Deribit.ClientID, "DERIBOT_DERIBIT_CLIENT_ID")
	setStr(&cfg.Deribit.ClientSecret, "DERIBOT_DERIBIT_CLIENT_SECRET")
	setStr(&cfg.Deribit.Instrument, "DERIBOT_DERIBIT_INSTRUMENT")
	setStr(&cfg.Deribit.Currency, "DERIBOT_DERIBIT_CURRENCY")
	setInt(&cfg.Deribit.HeartbeatIntervalSec, "DERIBOT_DERIBIT_HEARTBEAT_INTERVAL_SEC")
	setDuration(&cfg.Deribit.SettleDelay, "DERIBOT_DERIBIT_SETTLE_DELAY")

	setFloat64(&cfg.Strategy.QuoteAmount, "DERIBOT_STRATEGY_QUOTE_AMOUNT")

	setStr(&cfg.Redis.Addr, "DERIBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DERIBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DERIBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DERIBOT_REDIS_POOL_SIZE")

	setStr(&cfg.LogLevel, "DERIBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
