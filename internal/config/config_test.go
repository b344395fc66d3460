package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"APP_ENV":    "test",
		"APP_PORT":   "8080",
		"DB_USER":    "app",
		"DB_HOST":    "localhost",
		"DB_PORT":    "3306",
		"DB_NAME":    "tickets",
		"JWT_SECRET": "jwt",
		"QR_SECRET":  "qr",
	} {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, cfg.HoldTTL)
	require.Equal(t, 48*time.Hour, cfg.TransferTTL)
	require.Equal(t, time.Minute, cfg.SweepInterval)
	require.Equal(t, 100, cfg.SweepBatch)
	require.Equal(t, "tickets.issued", cfg.TicketsQueue)
	require.False(t, cfg.IsDev())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("HOLD_TTL", "5m")
	t.Setenv("SWEEP_BATCH", "0")
	t.Setenv("RABBITMQ_URL", "amqp://broker/")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.HoldTTL)
	require.Equal(t, 1, cfg.SweepBatch)
	require.Equal(t, "amqp://broker/", cfg.AMQPURL)
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("QR_SECRET", "")
	t.Setenv("DB_NAME", "")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "QR_SECRET")
	require.Contains(t, err.Error(), "DB_NAME")
}

func TestRateLimitClamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	cfg := LoadRateLimitConfig()
	require.Equal(t, 1, cfg.Capacity)
	require.Equal(t, 10*time.Second, cfg.TTL)
}

func TestCacheMethods(t *testing.T) {
	t.Setenv("CACHE_METHODS", "get, head")
	cfg := LoadCacheConfig()
	require.True(t, cfg.Methods["GET"])
	require.True(t, cfg.Methods["HEAD"])
	require.False(t, cfg.Methods["POST"])
}
