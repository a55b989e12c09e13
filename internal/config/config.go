// Package config loads engine configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration.
type Config struct {
	// Instrument
	Symbol string

	// HTTP
	Port int

	// Logging
	LogLevel string

	// Persistence
	DataDir      string
	DatabasePath string

	// Snapshot cadence
	SnapshotInterval time.Duration

	// Risk
	DailyLossLimit decimal.Decimal // negative

	// Telegram (optional)
	TelegramToken  string
	TelegramChatID int64
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Symbol:           getEnv("SYMBOL", "BTCUSDT"),
		Port:             getEnvInt("PORT", 3000),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DataDir:          getEnv("DATA_DIR", "data"),
		DatabasePath:     getEnv("DATABASE_PATH", "data/engine.db"),
		SnapshotInterval: getEnvDuration("SNAPSHOT_INTERVAL", 60*time.Second),
		DailyLossLimit:   getEnvDecimal("DAILY_LOSS_LIMIT", decimal.NewFromInt(-100)),
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.Symbol == "" {
		return nil, fmt.Errorf("SYMBOL must not be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT out of range: %d", cfg.Port)
	}
	if cfg.DailyLossLimit.IsPositive() {
		cfg.DailyLossLimit = cfg.DailyLossLimit.Neg()
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
