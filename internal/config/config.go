// Package config loads the engine's runtime settings from the
// environment, in the getEnv/getIntEnv pattern of
// DimaJoyti-ai-agentic-crypto-browser/internal/config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all settings for cmd/server.
type Config struct {
	Server      ServerConfig
	Fees        FeesConfig
	Persistence PersistenceConfig
	Log         LogConfig
	Money       MoneyConfig
}

type ServerConfig struct {
	ListenAddr    string
	SnapshotDepth int
	ShutdownGrace time.Duration
}

type FeesConfig struct {
	MakerRate decimal.Decimal
	TakerRate decimal.Decimal
}

type PersistenceConfig struct {
	RedisAddr      string
	SnapshotPeriod time.Duration
}

type LogConfig struct {
	Level string
}

// MoneyConfig controls internal/money's shared rounding context.
type MoneyConfig struct {
	DecimalPlaces int32
}

// Load builds a Config from the environment, falling back to the
// defaults spec.md §4.4 and §6 describe.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
			SnapshotDepth: getIntEnv("SNAPSHOT_DEPTH", 10),
			ShutdownGrace: getDurationEnv("SHUTDOWN_GRACE", 5*time.Second),
		},
		Fees: FeesConfig{
			MakerRate: getDecimalEnv("MAKER_FEE_RATE", decimal.NewFromFloat(0.001)),
			TakerRate: getDecimalEnv("TAKER_FEE_RATE", decimal.NewFromFloat(0.002)),
		},
		Persistence: PersistenceConfig{
			RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
			SnapshotPeriod: getDurationEnv("SNAPSHOT_PERIOD", 30*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Money: MoneyConfig{
			DecimalPlaces: int32(getIntEnv("DECIMAL_PLACES", 8)),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.SnapshotDepth <= 0 {
		return fmt.Errorf("SNAPSHOT_DEPTH must be positive")
	}
	if c.Fees.MakerRate.IsNegative() || c.Fees.TakerRate.IsNegative() {
		return fmt.Errorf("fee rates must not be negative")
	}
	if c.Money.DecimalPlaces <= 0 {
		return fmt.Errorf("DECIMAL_PLACES must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
