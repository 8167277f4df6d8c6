package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, time.Second, cfg.Sync.SettleDelay)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, "127.0.0.1:8090", cfg.Server.Address)
	assert.True(t, cfg.Connectivity.Enabled)
	assert.NotEmpty(t, cfg.Storage.DataDir)
	require.NoError(t, cfg.Validate())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heard.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
[api]
base_url = "http://localhost:3000/api"
timeout = "5s"

[sync]
interval = "1m"
max_retries = 5

[connectivity]
enabled = false

[logging]
level = "debug"
file = "/tmp/heard.log"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000/api", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.False(t, cfg.Connectivity.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// untouched sections keep defaults
	assert.Equal(t, time.Second, cfg.Sync.SettleDelay)
	assert.Equal(t, "/health", cfg.API.HealthPath)
	require.NoError(t, cfg.Validate())

	opts := cfg.LogOptions()
	assert.Equal(t, "/tmp/heard.log", opts.File)
	assert.Equal(t, 10, opts.MaxSizeMB)
}

func TestLoadFromFile_errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfig(t, "[sync\ninterval = 1"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfig(t, "[sync]\nintervall = \"1s\""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.intervall")
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://staging.example.com/api")
	t.Setenv(EnvDataDir, "/var/lib/heard")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvListen, "127.0.0.1:9999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://staging.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "/var/lib/heard", cfg.Storage.DataDir)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Address)
}

func TestApplyEnv_emptyIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(key string) (string, bool) { return "", true })
	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"relative base url", func(c *Config) { c.API.BaseURL = "/api" }},
		{"ftp base url", func(c *Config) { c.API.BaseURL = "ftp://example.com" }},
		{"zero timeout", func(c *Config) { c.API.Timeout = 0 }},
		{"health path", func(c *Config) { c.API.HealthPath = "health" }},
		{"empty data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"negative quota", func(c *Config) { c.Storage.QuotaChars = -1 }},
		{"negative interval", func(c *Config) { c.Sync.Interval = -time.Second }},
		{"zero retries", func(c *Config) { c.Sync.MaxRetries = 0 }},
		{"zero drain timeout", func(c *Config) { c.Sync.DrainTimeout = 0 }},
		{"zero check interval", func(c *Config) { c.Connectivity.CheckInterval = 0 }},
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.Connectivity.Enabled = false
	cfg.Connectivity.CheckInterval = 0
	assert.NoError(t, cfg.Validate(), "check interval unused when disabled")
}
