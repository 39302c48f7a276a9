package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_MODE", "prod")
	t.Setenv("NOTIFY_WEBHOOK_URL", "https://hooks.test/settlements")
	t.Setenv("EXCHANGE_FALLBACK_RATE", "128.50")
	t.Setenv("SETTLEMENT_PENDING_TIMEOUT_MINUTES", "45")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, "https://hooks.test/settlements", cfg.Notify.WebhookURL)
	assert.True(t, decimal.RequireFromString("128.50").Equal(cfg.Exchange.FallbackRate))
	assert.Equal(t, 45, cfg.Settlement.PendingTimeoutMinutes)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_MODE", "dev")
	t.Setenv("NOTIFY_WEBHOOK_URL", "")
	t.Setenv("EXCHANGE_FALLBACK_RATE", "")
	t.Setenv("SETTLEMENT_PENDING_TIMEOUT_MINUTES", "")

	cfg, err := Load()
	require.NoError(t, err)

	// No webhook configured means notifications are disabled.
	assert.Empty(t, cfg.Notify.WebhookURL)
	assert.True(t, decimal.RequireFromString("130.00").Equal(cfg.Exchange.FallbackRate))
	assert.Equal(t, 120, cfg.Settlement.PendingTimeoutMinutes)
	assert.Equal(t, "@every 1m", cfg.Settlement.SweepSchedule)
}

func TestLoadRejectsInvalidAppMode(t *testing.T) {
	t.Setenv("APP_MODE", "staging")

	_, err := Load()
	assert.Error(t, err)
}
