package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuração do gateway, carregada do ambiente (prefixo GATEWAY_) com
// fallback para config.yaml no diretório corrente ou em /etc/gateway/.
type config struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	AdminAddr   string `mapstructure:"admin_addr"`
	UpstreamURL string `mapstructure:"upstream_url"`

	// cache compartilhado: memory | redis
	CacheBackend  string `mapstructure:"cache_backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// fonte de regras: memory | sql | redis
	RulesBackend string `mapstructure:"rules_backend"`
	DBDriver     string `mapstructure:"db_driver"`
	DBDSN        string `mapstructure:"db_dsn"`

	RuleRefreshEvery time.Duration `mapstructure:"rule_refresh_every"`
	BlockSweepEvery  time.Duration `mapstructure:"block_sweep_every"`

	// escalada automática de bloqueio; 0 desabilita
	AutoBlockThreshold int `mapstructure:"auto_block_threshold"`
	AutoBlockMinutes   int `mapstructure:"auto_block_minutes"`

	// regra padrão semeada quando a fonte está vazia
	SeedDefaultRule   bool `mapstructure:"seed_default_rule"`
	DefaultMaxReqs    int  `mapstructure:"default_max_requests"`
	DefaultWindowMins int  `mapstructure:"default_window_minutes"`

	KeyHeader           string        `mapstructure:"key_header"`
	TrustXFF            bool          `mapstructure:"trust_xff"`
	RetryAfter          time.Duration `mapstructure:"retry_after"`
	AddRateLimitHeaders bool          `mapstructure:"add_ratelimit_headers"`

	ConcurrencyMax     int           `mapstructure:"concurrency_max"`
	ConcurrencyTimeout time.Duration `mapstructure:"concurrency_timeout"`

	// sink de violações: none | memory | redis
	ViolationsBackend string        `mapstructure:"violations_backend"`
	ViolationsTTL     time.Duration `mapstructure:"violations_ttl"`

	AdminToken      string        `mapstructure:"admin_token"`
	AdminGuardRPS   float64       `mapstructure:"admin_guard_rps"`
	AdminGuardBurst int           `mapstructure:"admin_guard_burst"`
	MetricsCacheTTL time.Duration `mapstructure:"metrics_cache_ttl"`
}

func loadConfig() (config, error) {
	v := viper.New()
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("admin_addr", ":9090")
	v.SetDefault("upstream_url", "")

	v.SetDefault("cache_backend", "memory")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("rules_backend", "memory")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "")

	v.SetDefault("rule_refresh_every", 5*time.Minute)
	v.SetDefault("block_sweep_every", 1*time.Minute)

	v.SetDefault("auto_block_threshold", 0)
	v.SetDefault("auto_block_minutes", 60)

	v.SetDefault("seed_default_rule", true)
	v.SetDefault("default_max_requests", 100)
	v.SetDefault("default_window_minutes", 15)

	v.SetDefault("key_header", "")
	v.SetDefault("trust_xff", false)
	v.SetDefault("retry_after", 1*time.Second)
	v.SetDefault("add_ratelimit_headers", true)

	v.SetDefault("concurrency_max", 100)
	v.SetDefault("concurrency_timeout", 0*time.Second)

	v.SetDefault("violations_backend", "memory")
	v.SetDefault("violations_ttl", 24*time.Hour)

	v.SetDefault("admin_token", "")
	v.SetDefault("admin_guard_rps", 10.0)
	v.SetDefault("admin_guard_burst", 20)
	v.SetDefault("metrics_cache_ttl", 30*time.Minute)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gateway/")
	_ = v.ReadInConfig() // arquivo é opcional

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return errors.New("GATEWAY_UPSTREAM_URL is required")
	}
	if _, err := url.Parse(c.UpstreamURL); err != nil {
		return fmt.Errorf("invalid GATEWAY_UPSTREAM_URL: %w", err)
	}

	switch c.CacheBackend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("GATEWAY_REDIS_ADDR is required when cache_backend=redis")
		}
	default:
		return fmt.Errorf("unknown cache_backend: %s", c.CacheBackend)
	}

	switch c.RulesBackend {
	case "memory":
	case "sql":
		if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
			return fmt.Errorf("unknown db_driver: %s", c.DBDriver)
		}
		if strings.TrimSpace(c.DBDSN) == "" {
			return errors.New("GATEWAY_DB_DSN is required when rules_backend=sql")
		}
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("GATEWAY_REDIS_ADDR is required when rules_backend=redis")
		}
	default:
		return fmt.Errorf("unknown rules_backend: %s", c.RulesBackend)
	}

	switch c.ViolationsBackend {
	case "none", "memory":
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("GATEWAY_REDIS_ADDR is required when violations_backend=redis")
		}
	default:
		return fmt.Errorf("unknown violations_backend: %s", c.ViolationsBackend)
	}

	if c.SeedDefaultRule && (c.DefaultMaxReqs <= 0 || c.DefaultWindowMins <= 0) {
		return errors.New("default rule requires max_requests > 0 and window_minutes > 0")
	}
	if c.AutoBlockThreshold < 0 {
		return errors.New("auto_block_threshold must be >= 0")
	}
	if c.AutoBlockThreshold > 0 && c.AutoBlockMinutes <= 0 {
		return errors.New("auto_block_minutes must be > 0 when auto-block is enabled")
	}
	if c.ConcurrencyMax < 0 {
		return errors.New("concurrency_max must be >= 0")
	}
	if c.AdminGuardRPS <= 0 || c.AdminGuardBurst <= 0 {
		return errors.New("admin guard requires rps > 0 and burst > 0")
	}
	return nil
}
