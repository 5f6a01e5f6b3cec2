package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func validConfig() Config {
	return Config{
		Env:                   "development",
		NodeRole:              "replicator",
		NodeKeyFile:           "node.key",
		ReceiptInterval:       time.Second,
		LimitedMode:           "rate",
		LimitedBytesPerSec:    1024,
		CheckpointInterval:    time.Second,
		ImplausibleThreshold:  1,
		BadHandshakeThreshold: 1,
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "ENV", "")
	setEnv(t, "NODE_ROLE", "")
	setEnv(t, "LIMITED_MODE", "")
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultNodeRole, cfg.NodeRole)
	assert.Equal(t, uint64(DefaultReceiptEveryBytes), cfg.ReceiptEveryBytes)
	assert.Equal(t, DefaultReceiptInterval, cfg.ReceiptInterval)
	assert.Equal(t, uint64(DefaultMaxUnreceiptedBytes), cfg.MaxUnreceiptedBytes)
	assert.Equal(t, 0, cfg.RegressionTolerance)
	assert.Equal(t, DefaultLimitedMode, cfg.LimitedMode)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "NODE_ROLE", "client")
	setEnv(t, "RECEIPT_INTERVAL", "250ms")
	setEnv(t, "RECEIPT_EVERY_BYTES", "4096")
	setEnv(t, "LIMITED_MODE", "cap")
	setEnv(t, "LIMITED_CAP_BYTES", "1000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "client", cfg.NodeRole)
	assert.Equal(t, 250*time.Millisecond, cfg.ReceiptInterval)
	assert.Equal(t, uint64(4096), cfg.ReceiptEveryBytes)
	assert.Equal(t, "cap", cfg.LimitedMode)
	assert.Equal(t, uint64(1000), cfg.LimitedCapBytes)
}

func TestLoad_InvalidRole(t *testing.T) {
	setEnv(t, "NODE_ROLE", "seeder")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NODE_ROLE")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "unknown limited mode",
			mutate:  func(c *Config) { c.LimitedMode = "burst" },
			wantErr: "LIMITED_MODE",
		},
		{
			name:    "zero rate",
			mutate:  func(c *Config) { c.LimitedBytesPerSec = 0 },
			wantErr: "LIMITED_BYTES_PER_SEC",
		},
		{
			name:    "zero cap",
			mutate:  func(c *Config) { c.LimitedMode = "cap" },
			wantErr: "LIMITED_CAP_BYTES",
		},
		{
			name:    "missing key file",
			mutate:  func(c *Config) { c.NodeKeyFile = "" },
			wantErr: "NODE_KEY_FILE is required",
		},
		{
			name:    "negative regression tolerance",
			mutate:  func(c *Config) { c.RegressionTolerance = -1 },
			wantErr: "REGRESSION_TOLERANCE",
		},
		{
			name:    "zero threshold",
			mutate:  func(c *Config) { c.ImplausibleThreshold = 0 },
			wantErr: "thresholds",
		},
		{
			name:    "production without admin token",
			mutate:  func(c *Config) { c.Env = "production" },
			wantErr: "ADMIN_TOKEN is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvNumbers(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")
	setEnv(t, "TEST_DURATION", "3s")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
	assert.Equal(t, uint64(42), getEnvUint64("TEST_INT", 0))
	assert.Equal(t, uint64(7), getEnvUint64("TEST_INVALID", 7))
	assert.Equal(t, 3*time.Second, getEnvDuration("TEST_DURATION", 0))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_INVALID", time.Minute))
}
