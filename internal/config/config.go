package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "UbangiSwitch"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultLocalAddress   = "g.ubangi"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultCacheTTL       = 30 * time.Second
	defaultCacheSize      = 1024
	defaultExpiryMargin   = time.Second
	defaultMinExpiry      = 500 * time.Millisecond
	defaultEngineTimeout  = 10 * time.Second
	defaultPacketsPerSec  = 0 // unlimited

	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// LocalAddress names this node in rejects it generates itself.
	LocalAddress string
	// AccountCacheTTL and AccountCacheSize bound the settings cache.
	AccountCacheTTL  time.Duration
	AccountCacheSize int
	// ExpiryMargin is subtracted from each forwarded packet's expiry;
	// MinExpiryWindow is the smallest window still worth forwarding.
	ExpiryMargin    time.Duration
	MinExpiryWindow time.Duration
	// EngineTimeout bounds settlement engine HTTP calls.
	EngineTimeout time.Duration
	// MaxPacketsPerSecond throttles each source account; zero disables.
	MaxPacketsPerSecond int64
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:             getEnv("APP_NAME", defaultAppName),
		AppEnv:              getEnv("APP_ENV", defaultAppEnv),
		Port:                getEnv("PORT", defaultPort),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		ShutdownPeriod:      defaultShutdownDelay,
		IdempotencyTTL:      defaultIdempotencyTTL,
		LocalAddress:        getEnv("LOCAL_ADDRESS", defaultLocalAddress),
		AccountCacheTTL:     defaultCacheTTL,
		AccountCacheSize:    defaultCacheSize,
		ExpiryMargin:        defaultExpiryMargin,
		MinExpiryWindow:     defaultMinExpiry,
		EngineTimeout:       defaultEngineTimeout,
		MaxPacketsPerSecond: defaultPacketsPerSec,
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	if v := os.Getenv("ACCOUNT_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ACCOUNT_CACHE_TTL: %w", err)
		}
		cfg.AccountCacheTTL = d
	}
	if v := os.Getenv("ACCOUNT_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ACCOUNT_CACHE_SIZE: %w", err)
		}
		cfg.AccountCacheSize = n
	}
	if v := os.Getenv("EXPIRY_MARGIN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid EXPIRY_MARGIN: %w", err)
		}
		cfg.ExpiryMargin = d
	}
	if v := os.Getenv("MIN_EXPIRY_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MIN_EXPIRY_WINDOW: %w", err)
		}
		cfg.MinExpiryWindow = d
	}
	if v := os.Getenv("ENGINE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ENGINE_TIMEOUT: %w", err)
		}
		cfg.EngineTimeout = d
	}
	if v := os.Getenv("MAX_PACKETS_PER_SECOND"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MAX_PACKETS_PER_SECOND: %w", err)
		}
		cfg.MaxPacketsPerSecond = n
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
