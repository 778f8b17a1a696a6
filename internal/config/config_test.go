package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.ManagerPIN)
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "GST_RATE", "LOYALTY_POINT_DIVISOR", "REDIS_DB", "ACCESS_TOKEN_TTL_MINUTES", "CART_STATE_KEY"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address())
	assert.True(t, cfg.GSTRate.Equal(decimal.NewFromInt(8)))
	assert.True(t, cfg.LoyaltyPointDivisor.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 480, cfg.AccessTokenTTLMinutes)
	assert.Equal(t, "pos:carts:v1", cfg.CartStateKey)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GST_RATE", "6.5")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.True(t, cfg.GSTRate.Equal(decimal.RequireFromString("6.5")))
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 480, cfg.AccessTokenTTLMinutes)
}

func TestLoadRejectsBadRates(t *testing.T) {
	t.Setenv("GST_RATE", "eight")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("GST_RATE", "8")
	t.Setenv("LOYALTY_POINT_DIVISOR", "0")
	_, err = Load()
	require.Error(t, err)
}
