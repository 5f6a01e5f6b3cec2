// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Node identity
	NodeRole    string // "client" or "replicator"
	NodeKeyFile string // ed25519 seed, created on first start

	// Receipts
	ReceiptEveryBytes     uint64
	ReceiptInterval       time.Duration
	ReceiptToleranceBytes uint64
	MaxUnreceiptedBytes   uint64
	RegressionTolerance   int

	// Violations
	ImplausibleThreshold  int
	BadHandshakeThreshold int
	StrikeWindow          time.Duration

	// Bandwidth for Limited sessions
	LimitedMode        string // "rate" or "cap"
	LimitedBytesPerSec uint64
	LimitedBurstBytes  uint64
	LimitedCapBytes    uint64

	HandshakeChallengeTTL time.Duration
	HandshakeTimeout      time.Duration
	CheckpointInterval    time.Duration

	// Security
	AdminToken   string // Required for mutating operations API routes when set
	RateLimitRPM int

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort                  = "8080"
	DefaultEnv                   = "development"
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
	DefaultNodeRole              = "replicator"
	DefaultNodeKeyFile           = "node.key"
	DefaultReceiptEveryBytes     = 1 << 20
	DefaultReceiptInterval       = 10 * time.Second
	DefaultReceiptToleranceBytes = 256 << 10
	DefaultMaxUnreceiptedBytes   = 8 << 20
	DefaultImplausibleThreshold  = 3
	DefaultBadHandshakeThreshold = 3
	DefaultStrikeWindow          = 10 * time.Minute
	DefaultLimitedMode           = "rate"
	DefaultLimitedBytesPerSec    = 1 << 20
	DefaultLimitedBurstBytes     = 4 << 20
	DefaultLimitedCapBytes       = 64 << 20
	DefaultHandshakeChallengeTTL = 10 * time.Minute
	DefaultHandshakeTimeout      = 30 * time.Second
	DefaultCheckpointInterval    = 30 * time.Second
	DefaultRateLimitRPM          = 600
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:             getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		NodeRole:              getEnv("NODE_ROLE", DefaultNodeRole),
		NodeKeyFile:           getEnv("NODE_KEY_FILE", DefaultNodeKeyFile),
		ReceiptEveryBytes:     getEnvUint64("RECEIPT_EVERY_BYTES", DefaultReceiptEveryBytes),
		ReceiptInterval:       getEnvDuration("RECEIPT_INTERVAL", DefaultReceiptInterval),
		ReceiptToleranceBytes: getEnvUint64("RECEIPT_TOLERANCE_BYTES", DefaultReceiptToleranceBytes),
		MaxUnreceiptedBytes:   getEnvUint64("MAX_UNRECEIPTED_BYTES", DefaultMaxUnreceiptedBytes),
		RegressionTolerance:   int(getEnvInt64("REGRESSION_TOLERANCE", 0)),
		ImplausibleThreshold:  int(getEnvInt64("IMPLAUSIBLE_THRESHOLD", DefaultImplausibleThreshold)),
		BadHandshakeThreshold: int(getEnvInt64("BAD_HANDSHAKE_THRESHOLD", DefaultBadHandshakeThreshold)),
		StrikeWindow:          getEnvDuration("STRIKE_WINDOW", DefaultStrikeWindow),
		LimitedMode:           getEnv("LIMITED_MODE", DefaultLimitedMode),
		LimitedBytesPerSec:    getEnvUint64("LIMITED_BYTES_PER_SEC", DefaultLimitedBytesPerSec),
		LimitedBurstBytes:     getEnvUint64("LIMITED_BURST_BYTES", DefaultLimitedBurstBytes),
		LimitedCapBytes:       getEnvUint64("LIMITED_CAP_BYTES", DefaultLimitedCapBytes),
		HandshakeChallengeTTL: getEnvDuration("HANDSHAKE_CHALLENGE_TTL", DefaultHandshakeChallengeTTL),
		HandshakeTimeout:      getEnvDuration("HANDSHAKE_TIMEOUT", DefaultHandshakeTimeout),
		CheckpointInterval:    getEnvDuration("CHECKPOINT_INTERVAL", DefaultCheckpointInterval),
		AdminToken:            os.Getenv("ADMIN_TOKEN"),
		RateLimitRPM:          int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.NodeRole {
	case "client", "replicator":
	default:
		return fmt.Errorf("NODE_ROLE must be client or replicator, got %q", c.NodeRole)
	}
	if c.NodeKeyFile == "" {
		return fmt.Errorf("NODE_KEY_FILE is required")
	}

	switch c.LimitedMode {
	case "rate":
		if c.LimitedBytesPerSec == 0 {
			return fmt.Errorf("LIMITED_BYTES_PER_SEC must be positive in rate mode")
		}
	case "cap":
		if c.LimitedCapBytes == 0 {
			return fmt.Errorf("LIMITED_CAP_BYTES must be positive in cap mode")
		}
	default:
		return fmt.Errorf("LIMITED_MODE must be rate or cap, got %q", c.LimitedMode)
	}

	if c.ReceiptInterval <= 0 {
		return fmt.Errorf("RECEIPT_INTERVAL must be positive")
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("CHECKPOINT_INTERVAL must be positive")
	}
	if c.RegressionTolerance < 0 {
		return fmt.Errorf("REGRESSION_TOLERANCE must not be negative")
	}
	if c.ImplausibleThreshold < 1 || c.BadHandshakeThreshold < 1 {
		return fmt.Errorf("strike thresholds must be at least 1")
	}

	if c.IsProduction() && c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if u, err := strconv.ParseUint(value, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
