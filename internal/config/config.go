// Package config loads the sync core configuration from a TOML file and
// environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/eodiceanne-star/heard-app-beta/internal/logging"
)

// DefaultBaseURL is the remote API used when none is configured.
const DefaultBaseURL = "https://heard-app-beta.onrender.com/api"

// Environment variables that override file settings.
const (
	EnvAPIURL   = "HEARD_API_URL"
	EnvDataDir  = "HEARD_DATA_DIR"
	EnvLogLevel = "HEARD_LOG_LEVEL"
	EnvListen   = "HEARD_LISTEN"
)

// Config represents the application configuration
type Config struct {
	API          APIConfig          `toml:"api"`
	Storage      StorageConfig      `toml:"storage"`
	Sync         SyncConfig         `toml:"sync"`
	Connectivity ConnectivityConfig `toml:"connectivity"`
	Server       ServerConfig       `toml:"server"`
	Logging      LoggingConfig      `toml:"logging"`
}

// APIConfig holds remote API settings
type APIConfig struct {
	BaseURL    string        `toml:"base_url"`
	Timeout    time.Duration `toml:"timeout"`
	HealthPath string        `toml:"health_path"`
}

// StorageConfig holds local store settings
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
	// QuotaChars caps the stored characters; 0 disables the check.
	QuotaChars int64 `toml:"quota_chars"`
}

// SyncConfig holds drain scheduling settings
type SyncConfig struct {
	Interval     time.Duration `toml:"interval"`
	SettleDelay  time.Duration `toml:"settle_delay"`
	MaxRetries   int           `toml:"max_retries"`
	DrainTimeout time.Duration `toml:"drain_timeout"`
}

// ConnectivityConfig holds reachability probing settings
type ConnectivityConfig struct {
	Enabled       bool          `toml:"enabled"`
	CheckInterval time.Duration `toml:"check_interval"`
}

// ServerConfig holds the local status server settings
type ServerConfig struct {
	Address string `toml:"address"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:    DefaultBaseURL,
			Timeout:    15 * time.Second,
			HealthPath: "/health",
		},
		Storage: StorageConfig{
			DataDir:    defaultDataDir(),
			QuotaChars: 5 * 1024 * 1024,
		},
		Sync: SyncConfig{
			Interval:     30 * time.Second,
			SettleDelay:  time.Second,
			MaxRetries:   3,
			DrainTimeout: 5 * time.Minute,
		},
		Connectivity: ConnectivityConfig{
			Enabled:       true,
			CheckInterval: 10 * time.Second,
		},
		Server: ServerConfig{
			Address: "127.0.0.1:8090",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "heard")
	}
	return "./data"
}

// LoadFromFile loads configuration from a TOML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	md, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	return config, nil
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Environment variables
// 4. Command-line flags (handled by caller)
func Load(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		fileConfig, err := LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	config.ApplyEnv(os.LookupEnv)
	return config, nil
}

// ApplyEnv overrides settings from environment variables looked up with
// lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		c.API.BaseURL = v
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.Storage.DataDir = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Server.Address = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api base_url must be an http(s) URL: %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api timeout must be positive")
	}
	if !strings.HasPrefix(c.API.HealthPath, "/") {
		return fmt.Errorf("api health_path must start with /")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir must be specified")
	}
	if c.Storage.QuotaChars < 0 {
		return fmt.Errorf("storage quota_chars must not be negative")
	}

	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync interval must not be negative")
	}
	if c.Sync.SettleDelay < 0 {
		return fmt.Errorf("sync settle_delay must not be negative")
	}
	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("sync max_retries must be positive")
	}
	if c.Sync.DrainTimeout <= 0 {
		return fmt.Errorf("sync drain_timeout must be positive")
	}

	if c.Connectivity.Enabled && c.Connectivity.CheckInterval <= 0 {
		return fmt.Errorf("connectivity check_interval must be positive")
	}

	if c.Server.Address == "" {
		return fmt.Errorf("server address must be specified")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// LogOptions converts the logging section for logging.Setup.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}
