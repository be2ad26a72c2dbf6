package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Backend names accepted by STORE_BACKEND and LEDGER_BACKEND
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// Config holds application configuration
type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// Redis
	RedisAddr     string
	RedisPassword string

	// Storage selection
	StoreBackend  string
	LedgerBackend string
	SeedFile      string

	// Gateways
	PaymentTimeout  time.Duration
	IdentityTimeout time.Duration
	PaymentLatency  time.Duration
	IdentityLatency time.Duration
	PaymentFailRate float64

	// Reconciliation
	ReconcileInterval   time.Duration
	ReconcileStaleAfter time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Server
	ServerPort string
}

// Load loads configuration from environment variables. envFiles are passed
// to godotenv; with none it tries ./.env.
func Load(envFiles ...string) *Config {
	// Try to load .env file (optional for local development)
	_ = godotenv.Load(envFiles...)

	config := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "trainpass123"),
		DBName:     getEnv("DB_NAME", "traintickets"),
		SQLitePath: getEnv("SQLITE_PATH", "traintickets.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		StoreBackend:  getEnv("STORE_BACKEND", BackendMemory),
		LedgerBackend: getEnv("LEDGER_BACKEND", ""),
		SeedFile:      getEnv("SEED_FILE", ""),

		PaymentTimeout:  getDuration("PAYMENT_TIMEOUT", 5*time.Second),
		IdentityTimeout: getDuration("IDENTITY_TIMEOUT", 2*time.Second),
		PaymentLatency:  getDuration("PAYMENT_LATENCY", 1500*time.Millisecond),
		IdentityLatency: getDuration("IDENTITY_LATENCY", 500*time.Millisecond),
		PaymentFailRate: getFloat("PAYMENT_FAIL_RATE", 0),

		ReconcileInterval:   getDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileStaleAfter: getDuration("RECONCILE_STALE_AFTER", 10*time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
	}

	config.Normalize()
	return config
}

// Normalize validates backend names, falling back to memory for unknown
// values. The ledger follows the store backend unless set explicitly.
func (c *Config) Normalize() {
	switch c.StoreBackend {
	case BackendMemory, BackendPostgres, BackendSQLite:
	default:
		logrus.Warnf("Unknown STORE_BACKEND: %s (using memory as fallback)", c.StoreBackend)
		c.StoreBackend = BackendMemory
	}

	if c.LedgerBackend == "" {
		c.LedgerBackend = c.StoreBackend
	}
	switch c.LedgerBackend {
	case BackendMemory, BackendPostgres, BackendSQLite, BackendRedis:
	default:
		logrus.Warnf("Unknown LEDGER_BACKEND: %s (using memory as fallback)", c.LedgerBackend)
		c.LedgerBackend = BackendMemory
	}

	if c.PaymentTimeout <= 0 {
		logrus.Warn("PAYMENT_TIMEOUT must be positive, using 5s")
		c.PaymentTimeout = 5 * time.Second
	}
	if c.IdentityTimeout <= 0 {
		c.IdentityTimeout = 2 * time.Second
	}
	if c.PaymentFailRate < 0 || c.PaymentFailRate > 1 {
		logrus.Warnf("PAYMENT_FAIL_RATE %.2f out of range, using 0", c.PaymentFailRate)
		c.PaymentFailRate = 0
	}
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logger.Warnf("Unknown LOG_LEVEL: %s (using info)", c.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logrus.Warnf("Invalid duration for %s: %q (using %s)", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logrus.Warnf("Invalid number for %s: %q (using %v)", key, value, defaultValue)
		return defaultValue
	}
	return f
}
