package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"klineKit/internal/adapters/logger" // Import the logger package for LogLevel
)

// Supported history providers.
const (
	ProviderBinance = "binance"
	ProviderUDF     = "udf"
)

// Config holds all application configuration.
type Config struct {
	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MirrorTTL     time.Duration // 0 disables kline:<s>:<r>:<ts> mirror keys
	MaxBars       int64         // 0 keeps every bar

	// SQLite archive, empty disables it
	DBPath string

	// History provider
	HistoryProvider string
	APIKey          string
	SecretKey       string
	IsTestnet       bool
	UDFBaseURL      string

	// Backfill bounds
	PageLimit   int
	MaxPages    int
	MaxLookback time.Duration
	MaxRetries  int
	BackoffMin  time.Duration
	BackoffMax  time.Duration

	// Sync daemon
	SyncTargets string // e.g. BTCUSDT:60,ETHUSDT:1D
	SyncCron    string // empty runs once
	MetricsAddr string // serves /metrics while scheduled, empty disables it

	// Tools
	EchoAddr    string
	ProbesFile  string
	HTTPTimeout time.Duration

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string // text | json
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Redis
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvAsIntRequired("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REDIS_DB: %v", err))
	} else if cfg.RedisDB < 0 {
		errs = append(errs, "REDIS_DB cannot be negative")
	}

	mirrorSeconds, err := getEnvAsIntRequired("KLINE_MIRROR_TTL_SECONDS", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid KLINE_MIRROR_TTL_SECONDS: %v", err))
	} else if mirrorSeconds < 0 {
		errs = append(errs, "KLINE_MIRROR_TTL_SECONDS cannot be negative")
	}
	cfg.MirrorTTL = time.Duration(mirrorSeconds) * time.Second

	maxBars, err := getEnvAsIntRequired("KLINE_MAX_BARS", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid KLINE_MAX_BARS: %v", err))
	} else if maxBars < 0 {
		errs = append(errs, "KLINE_MAX_BARS cannot be negative")
	}
	cfg.MaxBars = int64(maxBars)

	// Database, an explicitly empty DB_PATH disables the archive
	cfg.DBPath = getEnvAllowEmpty("DB_PATH", "./data/klines.db")

	// History provider
	cfg.HistoryProvider = strings.ToLower(getEnv("HISTORY_PROVIDER", ProviderBinance))
	if cfg.HistoryProvider != ProviderBinance && cfg.HistoryProvider != ProviderUDF {
		errs = append(errs, fmt.Sprintf("HISTORY_PROVIDER must be %q or %q", ProviderBinance, ProviderUDF))
	}
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)
	cfg.UDFBaseURL = getEnv("UDF_BASE_URL", "http://localhost:8000")

	// Backfill bounds
	cfg.PageLimit, err = getEnvAsIntRequired("HISTORY_PAGE_LIMIT", 500)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid HISTORY_PAGE_LIMIT: %v", err))
	} else if cfg.PageLimit <= 0 {
		errs = append(errs, "HISTORY_PAGE_LIMIT must be positive")
	}

	cfg.MaxPages, err = getEnvAsIntRequired("HISTORY_MAX_PAGES", 200)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid HISTORY_MAX_PAGES: %v", err))
	} else if cfg.MaxPages <= 0 {
		errs = append(errs, "HISTORY_MAX_PAGES must be positive")
	}

	lookbackDays, err := getEnvAsIntRequired("HISTORY_MAX_LOOKBACK_DAYS", 365)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid HISTORY_MAX_LOOKBACK_DAYS: %v", err))
	} else if lookbackDays <= 0 {
		errs = append(errs, "HISTORY_MAX_LOOKBACK_DAYS must be positive")
	}
	cfg.MaxLookback = time.Duration(lookbackDays) * 24 * time.Hour

	cfg.MaxRetries, err = getEnvAsIntRequired("HISTORY_MAX_RETRIES", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid HISTORY_MAX_RETRIES: %v", err))
	} else if cfg.MaxRetries < 0 {
		errs = append(errs, "HISTORY_MAX_RETRIES cannot be negative")
	}

	cfg.BackoffMin = time.Duration(getEnvAsInt("HISTORY_BACKOFF_MIN_MS", 500)) * time.Millisecond
	cfg.BackoffMax = time.Duration(getEnvAsInt("HISTORY_BACKOFF_MAX_MS", 30000)) * time.Millisecond
	if cfg.BackoffMin <= 0 {
		errs = append(errs, "HISTORY_BACKOFF_MIN_MS must be positive")
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		errs = append(errs, "HISTORY_BACKOFF_MAX_MS must not be less than HISTORY_BACKOFF_MIN_MS")
	}

	// Sync daemon
	cfg.SyncTargets = getEnv("SYNC_TARGETS", "BTCUSDT:60")
	cfg.SyncCron = getEnv("SYNC_CRON", "")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	// Tools
	cfg.EchoAddr = getEnv("ECHO_ADDR", ":8765")
	cfg.ProbesFile = getEnv("PROBES_FILE", "./probes.yaml")
	timeoutSeconds := getEnvAsInt("HTTP_TIMEOUT_SECONDS", 15)
	if timeoutSeconds <= 0 {
		errs = append(errs, "HTTP_TIMEOUT_SECONDS must be positive")
	}
	cfg.HTTPTimeout = time.Duration(timeoutSeconds) * time.Second

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be text or json")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// BackfillRetries converts MaxRetries to the backfiller convention where a
// negative value disables retries and zero selects the default.
func (c *Config) BackfillRetries() int {
	if c.MaxRetries == 0 {
		return -1
	}
	return c.MaxRetries
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
