package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration, loaded from an optional YAML
// file with MATCHER_-prefixed environment overrides.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Matching MatchingConfig `mapstructure:"matching"`
	Orders   OrdersConfig   `mapstructure:"orders"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Env   string `mapstructure:"env"` // "production" or "development"
}

type PollerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type MatchingConfig struct {
	// ReferenceTolerancePct is the fractional amount tolerance at the
	// reference tier, computed from the order's amount.
	ReferenceTolerancePct float64       `mapstructure:"reference_tolerance_pct"`
	RecencyWindow         time.Duration `mapstructure:"recency_window"`
	AutoConfirmMin        int           `mapstructure:"auto_confirm_min"`
	ReviewMin             int           `mapstructure:"review_min"`
}

type OrdersConfig struct {
	// PendingTTL is how long an order may sit in pending before the
	// expiry sweep cancels it. Orders in awaiting_payment are never swept.
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
}

type RotationConfig struct {
	OrdersPerRotation int    `mapstructure:"orders_per_rotation"`
	EnforceDailyCap   bool   `mapstructure:"enforce_daily_cap"`
	MaxWriteAttempts  int    `mapstructure:"max_write_attempts"`
	DefaultAliasEmail string `mapstructure:"default_alias_email"`
	DefaultAliasLabel string `mapstructure:"default_alias_label"`
}

// Load reads configuration from the given file (may be empty for
// defaults-only) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "matcher.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.env", "production")
	v.SetDefault("poller.interval", 2*time.Minute)
	v.SetDefault("poller.batch_size", 50)
	v.SetDefault("matching.reference_tolerance_pct", 0.01)
	v.SetDefault("matching.recency_window", 30*time.Minute)
	v.SetDefault("matching.auto_confirm_min", 70)
	v.SetDefault("matching.review_min", 50)
	v.SetDefault("orders.pending_ttl", 24*time.Hour)
	v.SetDefault("rotation.orders_per_rotation", 20)
	v.SetDefault("rotation.enforce_daily_cap", true)
	v.SetDefault("rotation.max_write_attempts", 5)
	v.SetDefault("rotation.default_alias_email", "payments@maplepay.example")
	v.SetDefault("rotation.default_alias_label", "Default")

	v.SetEnvPrefix("MATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive")
	}
	if c.Poller.BatchSize <= 0 {
		return fmt.Errorf("poller.batch_size must be positive")
	}
	if c.Matching.ReferenceTolerancePct < 0 || c.Matching.ReferenceTolerancePct >= 1 {
		return fmt.Errorf("matching.reference_tolerance_pct out of range: %v", c.Matching.ReferenceTolerancePct)
	}
	if c.Matching.ReviewMin > c.Matching.AutoConfirmMin {
		return fmt.Errorf("matching.review_min exceeds auto_confirm_min")
	}
	if c.Rotation.OrdersPerRotation <= 0 {
		return fmt.Errorf("rotation.orders_per_rotation must be positive")
	}
	if c.Rotation.MaxWriteAttempts <= 0 {
		return fmt.Errorf("rotation.max_write_attempts must be positive")
	}
	if c.Rotation.DefaultAliasEmail == "" {
		return fmt.Errorf("rotation.default_alias_email is required")
	}
	return nil
}
