package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load builds the configuration from environment variables on top of
// defaults, then validates it. An optional config file path may be given
// (YAML, mainly for local development); environment variables win over it.
func Load(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadServerConfig(v, cfg)
	loadDirectoryConfig(v, cfg)
	loadTimeoutConfig(v, cfg)
	loadCacheConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadAdminConfig(v, cfg)
	loadSentryConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// initConfig sets up the config loader with defaults, env binding, and the
// optional config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures all default values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.base_domain", "proxywarp.com")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	// Directory defaults
	v.SetDefault("directory.db_file", "./data/tokens.json")
	v.SetDefault("directory.token_length", 6)
	v.SetDefault("directory.default_protocol", "https")
	v.SetDefault("directory.cleanup_interval_ms", int64(24*60*60*1000))
	v.SetDefault("directory.token_expiration_ms", int64(30*24*60*60*1000))

	// Timeout defaults
	v.SetDefault("timeouts.proxy_request_ms", int64(20_000))
	v.SetDefault("timeouts.request_ms", int64(30_000))
	v.SetDefault("timeouts.admin_probe_ms", int64(15_000))

	// Resolver cache defaults
	v.SetDefault("cache.ttl_ms", int64(30_000))

	// Logging defaults
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")

	// Admin / reporting defaults
	v.SetDefault("admin.api_key", "")
	v.SetDefault("sentry.dsn", "")
}

// bindEnv maps the plain environment variable names onto config keys.
func bindEnv(v *viper.Viper) {
	bindings := map[string]string{
		"server.port":                   "PORT",
		"server.base_domain":            "BASE_DOMAIN",
		"server.debug":                  "DEBUG",
		"server.user_agent":             "USER_AGENT",
		"directory.db_file":             "DB_FILE",
		"directory.token_length":        "TOKEN_LENGTH",
		"directory.default_protocol":    "DEFAULT_PROTOCOL",
		"directory.cleanup_interval_ms": "CLEANUP_INTERVAL_MS",
		"directory.token_expiration_ms": "TOKEN_EXPIRATION_MS",
		"timeouts.proxy_request_ms":     "PROXY_TIMEOUT_MS",
		"timeouts.request_ms":           "REQUEST_TIMEOUT_MS",
		"timeouts.admin_probe_ms":       "ADMIN_PROBE_TIMEOUT_MS",
		"cache.ttl_ms":                  "CACHE_TTL_MS",
		"logging.level":                 "LOG_LEVEL",
		"logging.format":                "LOG_FORMAT",
		"admin.api_key":                 "ADMIN_API_KEY",
		"sentry.dsn":                    "SENTRY_DSN",
	}
	for key, env := range bindings {
		// BindEnv only errors on an empty key.
		_ = v.BindEnv(key, env)
	}
}

func loadServerConfig(v *viper.Viper, cfg *Config) {
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.BaseDomain = strings.ToLower(strings.TrimSpace(v.GetString("server.base_domain")))
	cfg.Server.Debug = v.GetBool("server.debug")
	cfg.Server.UserAgent = v.GetString("server.user_agent")
}

func loadDirectoryConfig(v *viper.Viper, cfg *Config) {
	cfg.Directory.DBFile = v.GetString("directory.db_file")
	cfg.Directory.TokenLength = v.GetInt("directory.token_length")
	cfg.Directory.DefaultProtocol = strings.ToLower(v.GetString("directory.default_protocol"))
	cfg.Directory.CleanupIntervalMS = v.GetInt64("directory.cleanup_interval_ms")
	cfg.Directory.TokenExpirationMS = v.GetInt64("directory.token_expiration_ms")
}

func loadTimeoutConfig(v *viper.Viper, cfg *Config) {
	cfg.Timeouts.ProxyRequestMS = v.GetInt64("timeouts.proxy_request_ms")
	cfg.Timeouts.RequestMS = v.GetInt64("timeouts.request_ms")
	cfg.Timeouts.AdminProbeMS = v.GetInt64("timeouts.admin_probe_ms")
}

func loadCacheConfig(v *viper.Viper, cfg *Config) {
	cfg.Cache.TTLMS = v.GetInt64("cache.ttl_ms")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Format = strings.ToLower(v.GetString("logging.format"))
}

func loadAdminConfig(v *viper.Viper, cfg *Config) {
	cfg.Admin.APIKey = v.GetString("admin.api_key")
}

func loadSentryConfig(v *viper.Viper, cfg *Config) {
	cfg.Sentry.DSN = v.GetString("sentry.dsn")
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be 1..65535")
	}

	if cfg.Server.BaseDomain == "" {
		return errors.New("server.base_domain must not be empty")
	}

	if cfg.Directory.TokenLength < 4 || cfg.Directory.TokenLength > 32 {
		return errors.New("directory.token_length must be 4..32")
	}

	switch cfg.Directory.DefaultProtocol {
	case "http", "https":
	case "":
		cfg.Directory.DefaultProtocol = "https"
	default:
		return fmt.Errorf("directory.default_protocol must be http or https, got %q", cfg.Directory.DefaultProtocol)
	}

	if cfg.Directory.DBFile == "" {
		cfg.Directory.DBFile = "./data/tokens.json"
	}
	if cfg.Directory.CleanupIntervalMS <= 0 {
		cfg.Directory.CleanupIntervalMS = 24 * 60 * 60 * 1000
	}
	if cfg.Directory.TokenExpirationMS <= 0 {
		cfg.Directory.TokenExpirationMS = 30 * 24 * 60 * 60 * 1000
	}

	if cfg.Timeouts.ProxyRequestMS <= 0 {
		cfg.Timeouts.ProxyRequestMS = 20_000
	}
	if cfg.Timeouts.RequestMS <= 0 {
		cfg.Timeouts.RequestMS = 30_000
	}
	if cfg.Timeouts.AdminProbeMS <= 0 {
		cfg.Timeouts.AdminProbeMS = 15_000
	}
	if cfg.Cache.TTLMS <= 0 {
		cfg.Cache.TTLMS = 30_000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	return nil
}
