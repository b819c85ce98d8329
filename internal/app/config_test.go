package app

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@db:5432/ferrochem")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.Equal(t, "notifications", cfg.NotifyQueue)
	require.False(t, cfg.IsProduction())
	require.Equal(t, "127.0.0.1:6379", cfg.Redis().Addr)
	require.Equal(t, "127.0.0.1:6379", cfg.Redis().Queue().Addr)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Config{PGDSN: " ", RedisAddr: "", RateLimitPerMinute: 0, LogLevel: "loud"}
	err := cfg.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "PG_DSN")
	require.ErrorContains(t, err, "REDIS_ADDR")
	require.ErrorContains(t, err, "RATE_LIMIT_PER_MINUTE")
	require.ErrorContains(t, err, "LOG_LEVEL")
}
