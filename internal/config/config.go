// Package config provides configuration management for the custody ledger.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Ledger   LedgerConfig
	Worker   WorkerConfig
	Assets   AssetsConfig
	Logging  LoggingConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	Enabled        bool
}

// LedgerConfig holds ledger store configuration
type LedgerConfig struct {
	LockTimeout time.Duration
	CacheTTL    time.Duration
}

// WorkerConfig holds job worker configuration
type WorkerConfig struct {
	BatchSize       int
	MaxRunTime      time.Duration
	BackoffUnit     time.Duration
	StaleThreshold  time.Duration
	MaxAttempts     int
	PollInterval    time.Duration
	BatchesPerSec   float64
	ReportDirectory string
	ImportDirectory string
}

// AssetsConfig holds asset configuration
type AssetsConfig struct {
	// EVMAssets lists assets whose deposit addresses are hex EVM addresses
	// and are validated at provisioning time.
	EVMAssets []string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "custody_ledger"),
				User:           getEnv("POSTGRES_USER", "ledger"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
				Enabled:        getEnvAsBool("REDIS_ENABLED", true),
			},
		},
		Ledger: LedgerConfig{
			LockTimeout: getEnvAsDuration("LEDGER_LOCK_TIMEOUT", 3*time.Second),
			CacheTTL:    getEnvAsDuration("LEDGER_CACHE_TTL", 20*time.Second),
		},
		Worker: WorkerConfig{
			BatchSize:       getEnvAsInt("WORKER_BATCH_SIZE", 10),
			MaxRunTime:      getEnvAsDuration("WORKER_MAX_RUN_TIME", 5*time.Minute),
			BackoffUnit:     getEnvAsDuration("WORKER_BACKOFF_UNIT", 5*time.Minute),
			StaleThreshold:  getEnvAsDuration("WORKER_STALE_THRESHOLD", 15*time.Minute),
			MaxAttempts:     getEnvAsInt("WORKER_MAX_ATTEMPTS", 3),
			PollInterval:    getEnvAsDuration("WORKER_POLL_INTERVAL", time.Minute),
			BatchesPerSec:   getEnvAsFloat("WORKER_BATCHES_PER_SEC", 10),
			ReportDirectory: getEnv("WORKER_REPORT_DIR", "reports"),
			ImportDirectory: getEnv("WORKER_IMPORT_DIR", "imports"),
		},
		Assets: AssetsConfig{
			EVMAssets: splitList(getEnv("EVM_ASSETS", "ETH,USDT,USDC")),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if config.Worker.BatchSize <= 0 {
		return nil, fmt.Errorf("worker batch size must be positive, got %d", config.Worker.BatchSize)
	}
	if config.Worker.MaxAttempts <= 0 {
		return nil, fmt.Errorf("worker max attempts must be positive, got %d", config.Worker.MaxAttempts)
	}

	return config, nil
}

// splitList splits a comma-separated env value into trimmed entries
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
