package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "data/engine.db", cfg.DatabasePath)
	assert.Equal(t, 60*time.Second, cfg.SnapshotInterval)
	assert.True(t, cfg.DailyLossLimit.Equal(decimal.NewFromInt(-100)))
	assert.Empty(t, cfg.TelegramToken)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYMBOL", "ETHUSDT")
	t.Setenv("PORT", "8080")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATA_DIR", "/var/lib/engine")
	t.Setenv("SNAPSHOT_INTERVAL", "30s")
	t.Setenv("DAILY_LOSS_LIMIT", "-250.5")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/lib/engine", cfg.DataDir)
	assert.Equal(t, 30*time.Second, cfg.SnapshotInterval)
	assert.True(t, cfg.DailyLossLimit.Equal(decimal.RequireFromString("-250.5")))
	assert.Equal(t, "tok", cfg.TelegramToken)
	assert.Equal(t, int64(12345), cfg.TelegramChatID)
}

func TestPositiveLossLimitNegated(t *testing.T) {
	t.Setenv("DAILY_LOSS_LIMIT", "75")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.DailyLossLimit.Equal(decimal.NewFromInt(-75)))
}

func TestInvalidChatIDFails(t *testing.T) {
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestPortOutOfRangeFails(t *testing.T) {
	t.Setenv("PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}
