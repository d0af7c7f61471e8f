package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "TokenMart"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour

	defaultEvaluateTimeout = 5 * time.Second
	defaultInvokeTimeout   = 30 * time.Second
	defaultRetryMax        = 3
	defaultRetryBaseDelay  = time.Second

	defaultCurrency   = "TOK"
	defaultDailyLimit = 1_000_00 // minor units

	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
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

	// Ledger gateway settings.
	LedgerPeerURL   string
	LedgerIdentity  string
	EvaluateTimeout time.Duration
	InvokeTimeout   time.Duration
	RetryMax        int
	RetryBaseDelay  time.Duration

	// Wallet policy defaults.
	Currency             string
	DailyWithdrawalLimit int64

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,

		LedgerPeerURL:   os.Getenv("LEDGER_PEER_URL"),
		LedgerIdentity:  getEnv("LEDGER_IDENTITY", "settlement-service"),
		EvaluateTimeout: defaultEvaluateTimeout,
		InvokeTimeout:   defaultInvokeTimeout,
		RetryMax:        defaultRetryMax,
		RetryBaseDelay:  defaultRetryBaseDelay,

		Currency:             getEnv("WALLET_CURRENCY", defaultCurrency),
		DailyWithdrawalLimit: defaultDailyLimit,

		JWTSecret:       getEnv("JWT_SECRET", "dev-access-secret"),
		RefreshSecret:   getEnv("JWT_REFRESH_SECRET", "dev-refresh-secret"),
		AccessTokenTTL:  defaultAccessTokenTTL,
		RefreshTokenTTL: defaultRefreshTokenTTL,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.EvaluateTimeout, err = durationEnv("LEDGER_EVALUATE_TIMEOUT", cfg.EvaluateTimeout); err != nil {
		return Config{}, err
	}
	if cfg.InvokeTimeout, err = durationEnv("LEDGER_INVOKE_TIMEOUT", cfg.InvokeTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RetryBaseDelay, err = durationEnv("LEDGER_RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("LEDGER_RETRY_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LEDGER_RETRY_MAX: %w", err)
		}
		cfg.RetryMax = n
	}

	if v := os.Getenv("DAILY_WITHDRAWAL_LIMIT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DAILY_WITHDRAWAL_LIMIT: %w", err)
		}
		cfg.DailyWithdrawalLimit = n
	}

	// Dev runs may omit the backends and fall back to in-memory stores and
	// an in-memory token ledger; anywhere else they are mandatory.
	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.LedgerPeerURL == "" {
			return Config{}, fmt.Errorf("LEDGER_PEER_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// IsDev reports whether the configured environment is a development one.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
