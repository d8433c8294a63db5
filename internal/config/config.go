// Package config defines all configuration for the auction server.
// Config is loaded from an optional YAML file with every key overridable via
// AUCTION_* environment variables (AUCTION_AUTH_JWT_SECRET, ...).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Bidding  BiddingConfig  `mapstructure:"bidding"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Store    StoreConfig    `mapstructure:"store"`
	Webhooks WebhooksConfig `mapstructure:"webhooks"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig holds the shared secret for identity tokens
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type BiddingConfig struct {
	RateLimitWindow        time.Duration `mapstructure:"rate_limit_window"`
	RateLimitRetention     time.Duration `mapstructure:"rate_limit_retention"`
	RateLimitPruneInterval time.Duration `mapstructure:"rate_limit_prune_interval"`
	LockWaitTimeout        time.Duration `mapstructure:"lock_wait_timeout"`
	HistoryLimit           int           `mapstructure:"history_limit"`
	DisplayNameCacheSize   int           `mapstructure:"display_name_cache_size"`
}

type SweeperConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	EndingSoonThreshold time.Duration `mapstructure:"ending_soon_threshold"`
	PaymentGracePeriod  time.Duration `mapstructure:"payment_grace_period"`
}

// StoreConfig selects the auction store. The memory driver is seeded with
// demo data when SeedDemo is set.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	SeedDemo    bool   `mapstructure:"seed_demo"`
}

type WebhookSubscription struct {
	Event  string `mapstructure:"event"`
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
	UserID string `mapstructure:"user_id"`
}

type WebhooksConfig struct {
	Workers       int                   `mapstructure:"workers"`
	QueueSize     int                   `mapstructure:"queue_size"`
	MaxAttempts   int                   `mapstructure:"max_attempts"`
	Backoff       []time.Duration       `mapstructure:"backoff"`
	Timeout       time.Duration         `mapstructure:"timeout"`
	Subscriptions []WebhookSubscription `mapstructure:"subscriptions"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("bidding.rate_limit_window", time.Second)
	v.SetDefault("bidding.rate_limit_retention", 5*time.Minute)
	v.SetDefault("bidding.rate_limit_prune_interval", 5*time.Minute)
	v.SetDefault("bidding.lock_wait_timeout", 5*time.Second)
	v.SetDefault("bidding.history_limit", 10)
	v.SetDefault("bidding.display_name_cache_size", 4096)

	v.SetDefault("sweeper.interval", 30*time.Second)
	v.SetDefault("sweeper.ending_soon_threshold", 5*time.Minute)
	v.SetDefault("sweeper.payment_grace_period", 24*time.Hour)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.auto_migrate", false)
	v.SetDefault("store.seed_demo", true)

	v.SetDefault("webhooks.workers", 4)
	v.SetDefault("webhooks.queue_size", 1024)
	v.SetDefault("webhooks.max_attempts", 3)
	v.SetDefault("webhooks.backoff", []time.Duration{time.Second, 5 * time.Second, 15 * time.Second})
	v.SetDefault("webhooks.timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
}

// Load reads config from a YAML file with env var overrides. An empty path
// loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AUCTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set AUCTION_AUTH_JWT_SECRET)")
	}
	if c.Bidding.RateLimitWindow <= 0 {
		return fmt.Errorf("bidding.rate_limit_window must be > 0")
	}
	if c.Bidding.LockWaitTimeout <= 0 {
		return fmt.Errorf("bidding.lock_wait_timeout must be > 0")
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be > 0")
	}
	if c.Sweeper.EndingSoonThreshold < c.Sweeper.Interval {
		return fmt.Errorf("sweeper.ending_soon_threshold must be >= sweeper.interval")
	}
	switch c.Store.Driver {
	case "memory":
	case "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required when store.driver is mysql")
		}
	default:
		return fmt.Errorf("store.driver must be one of: memory, mysql")
	}
	if c.Webhooks.MaxAttempts <= 0 {
		return fmt.Errorf("webhooks.max_attempts must be > 0")
	}
	for i, sub := range c.Webhooks.Subscriptions {
		if sub.Event == "" || sub.URL == "" {
			return fmt.Errorf("webhooks.subscriptions[%d] needs event and url", i)
		}
	}
	return nil
}
