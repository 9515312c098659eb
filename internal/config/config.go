package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultAppName            = "WalletService"
	defaultAppEnv             = "development"
	defaultPort               = "8080"
	defaultLogLevel           = "info"
	defaultShutdownDelay      = 10 * time.Second
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultLockTimeout        = 5 * time.Second
	defaultRetryMaxAttempts   = 3
	defaultRetryBaseDelay     = 50 * time.Millisecond
	defaultBreakerFailures    = 5
	defaultBreakerOpenTimeout = 30 * time.Second
	defaultCurrency           = "USD"
	idemTTLSecondsKey         = "idempotency_ttl_seconds"
	idemTTLDurKey             = "idempotency_ttl"
	shutdownSecondsKey        = "shutdown_timeout_seconds"
	shutdownDurationKey       = "shutdown_timeout"
	developmentEnv            = "development"
)

// Config captures application runtime configuration loaded from environment
// variables and an optional config file.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	LockTimeout      time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	BreakerConsecutiveFailures uint32
	BreakerOpenTimeout         time.Duration

	DefaultCurrency string
}

// Load reads configuration values. Environment variables always win over
// values from configFile; an empty configFile means environment only.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetDefault("app_name", defaultAppName)
	v.SetDefault("app_env", defaultAppEnv)
	v.SetDefault("port", defaultPort)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("lock_timeout", defaultLockTimeout.String())
	v.SetDefault("retry_max_attempts", defaultRetryMaxAttempts)
	v.SetDefault("retry_base_delay", defaultRetryBaseDelay.String())
	v.SetDefault("breaker_consecutive_failures", defaultBreakerFailures)
	v.SetDefault("breaker_open_timeout", defaultBreakerOpenTimeout.String())
	v.SetDefault("default_currency", defaultCurrency)
	for _, key := range []string{idemTTLSecondsKey, idemTTLDurKey, shutdownSecondsKey, shutdownDurationKey} {
		v.SetDefault(key, "")
	}
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	cfg := Config{
		AppName:          v.GetString("app_name"),
		AppEnv:           strings.ToLower(v.GetString("app_env")),
		Port:             v.GetString("port"),
		LogLevel:         strings.ToLower(v.GetString("log_level")),
		DatabaseURL:      v.GetString("database_url"),
		RedisURL:         v.GetString("redis_url"),
		DefaultCurrency:  strings.ToUpper(v.GetString("default_currency")),
		RetryMaxAttempts: v.GetInt("retry_max_attempts"),
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(v, shutdownSecondsKey, shutdownDurationKey, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(v, idemTTLSecondsKey, idemTTLDurKey, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.LockTimeout, err = duration(v, "lock_timeout"); err != nil {
		return Config{}, err
	}
	if cfg.RetryBaseDelay, err = duration(v, "retry_base_delay"); err != nil {
		return Config{}, err
	}
	if cfg.BreakerOpenTimeout, err = duration(v, "breaker_open_timeout"); err != nil {
		return Config{}, err
	}

	failures := v.GetInt("breaker_consecutive_failures")
	if failures <= 0 {
		return Config{}, fmt.Errorf("invalid BREAKER_CONSECUTIVE_FAILURES: must be positive")
	}
	cfg.BreakerConsecutiveFailures = uint32(failures)

	if cfg.RetryMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("invalid RETRY_MAX_ATTEMPTS: must be positive")
	}
	if cfg.LockTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid LOCK_TIMEOUT: must be positive")
	}
	if cfg.RetryBaseDelay < 0 {
		return Config{}, fmt.Errorf("invalid RETRY_BASE_DELAY: must not be negative")
	}

	if cfg.DatabaseURL == "" && !cfg.IsDevelopment() {
		return Config{}, errors.New("DATABASE_URL must be set outside development")
	}

	return cfg, nil
}

// IsDevelopment reports whether in-memory fallbacks are allowed.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == developmentEnv
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// secondsOrDuration prefers an integer seconds key over a Go duration key.
func secondsOrDuration(v *viper.Viper, secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if raw := v.GetString(secondsKey); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", strings.ToUpper(secondsKey), err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if raw := v.GetString(durationKey); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", strings.ToUpper(durationKey), err)
		}
		return d, nil
	}
	return fallback, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", strings.ToUpper(key), err)
	}
	return d, nil
}
