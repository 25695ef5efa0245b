package config

import (
	"time"

	redisclient "github.com/jbruns/curateur-sub000/internal/infra/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Service ServiceConfig      `yaml:"service"`
	Rate    RateConfig         `yaml:"rate"`
	Workers WorkersConfig      `yaml:"workers"`
	Retry   RetryConfig        `yaml:"retry"`
	Cache   CacheConfig        `yaml:"cache"`
	Scan    ScanConfig         `yaml:"scan"`
	Media   MediaConfig        `yaml:"media"`
	Journal JournalConfig      `yaml:"journal"`
	Redis   redisclient.Config `yaml:"redis"`
	Server  ServerConfig       `yaml:"server"`
	Logging LoggingConfig      `yaml:"logging"`
}

// ServiceConfig holds lookup service connection settings.
type ServiceConfig struct {
	BaseURL        string `yaml:"base_url"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-request HTTP timeout.
func (c ServiceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RateConfig holds rate limiting settings. Limits apply per endpoint.
type RateConfig struct {
	CallsPerWindow        int   `yaml:"calls_per_window"`
	WindowSeconds         int   `yaml:"window_seconds"`
	AdaptiveBackoff       *bool `yaml:"adaptive_backoff"` // nil = enabled
	DefaultBackoffSeconds int   `yaml:"default_backoff_seconds"`
}

// Window returns the sliding window length.
func (c RateConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// DefaultBackoff returns the overload backoff base.
func (c RateConfig) DefaultBackoff() time.Duration {
	return time.Duration(c.DefaultBackoffSeconds) * time.Second
}

// AdaptiveEnabled reports whether overload backoff is active.
func (c RateConfig) AdaptiveEnabled() bool {
	return c.AdaptiveBackoff == nil || *c.AdaptiveBackoff
}

// WorkersConfig holds pool sizing.
type WorkersConfig struct {
	Max int `yaml:"max"` // 0 = negotiate from the service profile
}

// RetryConfig holds retry budgets for tasks and single calls.
type RetryConfig struct {
	MaxAttempts           int     `yaml:"max_attempts"`
	InitialBackoffSeconds float64 `yaml:"initial_backoff_seconds"`
	BackoffFactor         float64 `yaml:"backoff_factor"`
}

// InitialBackoff returns the first retry delay for single-call retries.
func (c RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffSeconds * float64(time.Second))
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Enabled *bool `yaml:"enabled"` // nil = enabled
	TTLDays int   `yaml:"ttl_days"`
}

// IsEnabled reports whether the result cache is active.
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ScanConfig holds scanner settings.
type ScanConfig struct {
	Platforms []PlatformConfig `yaml:"platforms"`
}

// PlatformConfig describes one scanned platform directory.
type PlatformConfig struct {
	Name       string   `yaml:"name"`
	Path       string   `yaml:"path"`
	Extensions []string `yaml:"extensions"`
	Output     string   `yaml:"output"`
}

// MediaConfig selects which assets to download per game.
type MediaConfig struct {
	Kinds       []string `yaml:"kinds"`
	Concurrency int      `yaml:"concurrency"`
}

// JournalConfig holds run history settings.
type JournalConfig struct {
	Path          string `yaml:"path"`           // empty disables the journal
	RetentionDays int    `yaml:"retention_days"` // 0 keeps history forever
}

// Retention returns how long finished runs are kept.
func (c JournalConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ServerConfig holds stats server settings.
type ServerConfig struct {
	Port int `yaml:"port"` // 0 disables the server
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
