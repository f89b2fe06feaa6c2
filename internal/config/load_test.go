package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, 5*time.Minute, cfg.Provider.WebhookTolerance)
	assert.Equal(t, "SOAP", cfg.GiftCard.Prefix)
	assert.Equal(t, 8, cfg.Notify.MaxAttempts)
	assert.Equal(t, int64(1), cfg.OrderNodeID)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")
	t.Setenv("PROVIDER_BASE_API_URL", "https://provider.test")
	t.Setenv("PROVIDER_WEBHOOK_TOLERANCE", "2m")
	t.Setenv("NOTIFY_URL", "https://hooks.test/orders")
	t.Setenv("ADMIN_JWT_SECRET", "s3cret")
	t.Setenv("GIFT_CARD_PREFIX", "GIFT")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "https://provider.test", cfg.Provider.BaseApiURL)
	assert.Equal(t, 2*time.Minute, cfg.Provider.WebhookTolerance)
	assert.Equal(t, "https://hooks.test/orders", cfg.Notify.URL)
	assert.Equal(t, "s3cret", cfg.Admin.JWTSecret)
	assert.Equal(t, "GIFT", cfg.GiftCard.Prefix)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("NOTIFY_RETRY_DELAY", "soon")

	_, err := Load()
	assert.Error(t, err)
}
