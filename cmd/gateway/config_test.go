package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("GATEWAY_UPSTREAM_URL", "http://localhost:3000")

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, ":9090", cfg.AdminAddr)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, "memory", cfg.RulesBackend)
	assert.Equal(t, 5*time.Minute, cfg.RuleRefreshEvery)
	assert.Equal(t, time.Minute, cfg.BlockSweepEvery)
	assert.Equal(t, 0, cfg.AutoBlockThreshold)
	assert.True(t, cfg.SeedDefaultRule)
	assert.Equal(t, 100, cfg.DefaultMaxReqs)
	assert.Equal(t, 15, cfg.DefaultWindowMins)
	assert.Equal(t, 30*time.Minute, cfg.MetricsCacheTTL)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_UPSTREAM_URL", "http://localhost:3000")
	t.Setenv("GATEWAY_LISTEN_ADDR", ":9999")
	t.Setenv("GATEWAY_CACHE_BACKEND", "redis")
	t.Setenv("GATEWAY_REDIS_ADDR", "localhost:6379")
	t.Setenv("GATEWAY_AUTO_BLOCK_THRESHOLD", "10")
	t.Setenv("GATEWAY_RULE_REFRESH_EVERY", "30s")
	t.Setenv("GATEWAY_TRUST_XFF", "true")

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "redis", cfg.CacheBackend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 10, cfg.AutoBlockThreshold)
	assert.Equal(t, 30*time.Second, cfg.RuleRefreshEvery)
	assert.True(t, cfg.TrustXFF)
}

func TestLoadConfig_RequiresUpstream(t *testing.T) {
	t.Setenv("GATEWAY_UPSTREAM_URL", "")

	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATEWAY_UPSTREAM_URL")
}

func TestLoadConfig_BackendValidation(t *testing.T) {
	t.Setenv("GATEWAY_UPSTREAM_URL", "http://localhost:3000")

	t.Setenv("GATEWAY_CACHE_BACKEND", "memcached")
	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache_backend")

	t.Setenv("GATEWAY_CACHE_BACKEND", "redis")
	_, err = loadConfig()
	require.Error(t, err, "redis backend without an address must fail")

	t.Setenv("GATEWAY_CACHE_BACKEND", "memory")
	t.Setenv("GATEWAY_RULES_BACKEND", "sql")
	_, err = loadConfig()
	require.Error(t, err, "sql backend without a DSN must fail")

	t.Setenv("GATEWAY_DB_DSN", "file:rules.db")
	t.Setenv("GATEWAY_DB_DRIVER", "mysql")
	_, err = loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db_driver")

	t.Setenv("GATEWAY_DB_DRIVER", "sqlite")
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sql", cfg.RulesBackend)
}

func TestLoadConfig_AutoBlockValidation(t *testing.T) {
	t.Setenv("GATEWAY_UPSTREAM_URL", "http://localhost:3000")
	t.Setenv("GATEWAY_AUTO_BLOCK_THRESHOLD", "5")
	t.Setenv("GATEWAY_AUTO_BLOCK_MINUTES", "0")

	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auto_block_minutes")
}
