// Package config provides configuration loading for ProxyWarp using Viper.
//
// Settings come from plain environment variables with hardcoded defaults
// underneath:
//   - PORT                -> server.port
//   - BASE_DOMAIN         -> server.base_domain
//   - DB_FILE             -> directory.db_file
//   - TOKEN_EXPIRATION_MS -> directory.token_expiration_ms
//
// Command-line flags (handled in cmd/proxywarp) override both.
package config

import (
	"time"
)

// ServerConfig contains HTTP listener and dispatch settings.
type ServerConfig struct {
	Port       int    `mapstructure:"port"        json:"port"`
	BaseDomain string `mapstructure:"base_domain" json:"base_domain"`
	Debug      bool   `mapstructure:"debug"       json:"debug"`
	UserAgent  string `mapstructure:"user_agent"  json:"user_agent"`
}

// DirectoryConfig controls the token directory and its persistence.
type DirectoryConfig struct {
	DBFile          string `mapstructure:"db_file"          json:"db_file"`
	TokenLength     int    `mapstructure:"token_length"     json:"token_length"`
	DefaultProtocol string `mapstructure:"default_protocol" json:"default_protocol"`
	// Millisecond values as given in the environment; use the duration
	// accessors everywhere else.
	CleanupIntervalMS int64 `mapstructure:"cleanup_interval_ms" json:"cleanup_interval_ms"`
	TokenExpirationMS int64 `mapstructure:"token_expiration_ms" json:"token_expiration_ms"`
}

// CleanupInterval returns how often the expiry sweep runs.
func (d DirectoryConfig) CleanupInterval() time.Duration {
	return time.Duration(d.CleanupIntervalMS) * time.Millisecond
}

// TokenExpiration returns the idle lifetime of a token entry.
func (d DirectoryConfig) TokenExpiration() time.Duration {
	return time.Duration(d.TokenExpirationMS) * time.Millisecond
}

// TimeoutConfig groups the request watchdog and upstream timeouts.
type TimeoutConfig struct {
	ProxyRequestMS int64 `mapstructure:"proxy_request_ms" json:"proxy_request_ms"`
	RequestMS      int64 `mapstructure:"request_ms"       json:"request_ms"`
	AdminProbeMS   int64 `mapstructure:"admin_probe_ms"   json:"admin_probe_ms"`
}

// ProxyRequest is the total upstream round-trip budget.
func (t TimeoutConfig) ProxyRequest() time.Duration {
	return time.Duration(t.ProxyRequestMS) * time.Millisecond
}

// Request is the hard per-request watchdog on the proxy path.
func (t TimeoutConfig) Request() time.Duration {
	return time.Duration(t.RequestMS) * time.Millisecond
}

// AdminProbe bounds admin diagnostics such as connection tests.
func (t TimeoutConfig) AdminProbe() time.Duration {
	return time.Duration(t.AdminProbeMS) * time.Millisecond
}

// CacheConfig controls the short-lived token resolver cache.
type CacheConfig struct {
	TTLMS int64 `mapstructure:"ttl_ms" json:"ttl_ms"`
}

// TTL returns the resolver cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMS) * time.Millisecond
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// AdminConfig contains management-surface settings.
//
// Note: APIKey is a secret and must not be returned by API endpoints.
type AdminConfig struct {
	APIKey string `mapstructure:"api_key" json:"-"`
}

// SentryConfig contains optional error reporting settings.
type SentryConfig struct {
	DSN string `mapstructure:"dsn" json:"-"`
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Timeouts  TimeoutConfig   `mapstructure:"timeouts"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
}
