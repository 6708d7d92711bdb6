package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"llmratelimit/internal/ratelimit/config"
)

func TestDefaults_PassesValidate(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadStoreBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.StoreBackend = "postgres"
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsRedisBackendWithoutAddr(t *testing.T) {
	cfg := config.Defaults()
	cfg.StoreBackend = config.StoreRedis
	cfg.RedisAddr = ""
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsNegativeTimeout(t *testing.T) {
	cfg := config.Defaults()
	cfg.HTTPReadTimeout = -time.Second
	require.Error(t, cfg.Validate())
}

func TestLoad_AppliesEnvOverrides(t *testing.T) {
	environ := []string{
		"RATELIMIT_STORE_BACKEND=redis",
		"RATELIMIT_REDIS_ADDR=redis.internal:6379",
		"RATELIMIT_WINDOW_SECONDS=120",
		"RATELIMIT_MAX_INFLIGHT=42",
		"RATELIMIT_API_KEYS=key-a, key-b",
	}
	cfg, err := config.Load(environ)
	require.NoError(t, err)
	require.Equal(t, config.StoreRedis, cfg.StoreBackend)
	require.Equal(t, "redis.internal:6379", cfg.RedisAddr)
	require.Equal(t, 120*time.Second, cfg.Window)
	require.Equal(t, int64(42), cfg.MaxInflight)
	require.Contains(t, cfg.APIKeys, "key-a")
	require.Contains(t, cfg.APIKeys, "key-b")
}

func TestLoad_AppliesTraceSampleRateOverride(t *testing.T) {
	cfg, err := config.Load([]string{"RATELIMIT_TRACE_SAMPLE_RATE=10"})
	require.NoError(t, err)
	require.Equal(t, 10, cfg.TraceSampleRate)
}

func TestLoad_InvalidEnvValueFails(t *testing.T) {
	_, err := config.Load([]string{"RATELIMIT_MAX_INFLIGHT=not-a-number"})
	require.Error(t, err)
}

func TestLoadResolver_DefaultsWithoutPaths(t *testing.T) {
	cfg := config.Defaults()
	resolver, err := cfg.LoadResolver()
	require.NoError(t, err)
	require.NotNil(t, resolver)
	first := resolver.Resolve("some-key")
	second := resolver.Resolve("some-key")
	require.Equal(t, first, second)
}
