// Package config provides configuration loading for the chatspot client and
// the development relay.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chatspot configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Relay   RelayConfig   `yaml:"relay"`
}

// ServerConfig points the client at the hosted endpoint
type ServerConfig struct {
	// APIURL is the base URL of the REST auth API
	APIURL string `yaml:"api_url"`
	// WSURL is the real-time endpoint. Empty means derive it from APIURL.
	WSURL string `yaml:"ws_url"`
}

// StoreConfig configures the local message store
type StoreConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	// Addr serves /metrics when non-empty (e.g. ":9100")
	Addr string `yaml:"addr"`
}

// RelayConfig configures cmd/chatrelay
type RelayConfig struct {
	Addr   string `yaml:"addr"`
	Secret string `yaml:"secret"`
	DBPath string `yaml:"db_path"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			APIURL: "http://localhost:8080",
		},
		Store: StoreConfig{
			Path: defaultStorePath(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Relay: RelayConfig{
			Addr:   ":8080",
			DBPath: "chatrelay.db",
		},
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatspot.db"
	}
	return filepath.Join(home, UserConfigDir, "chatspot.db")
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.APIURL == "" {
		return fmt.Errorf("server.api_url is required")
	}
	if _, err := url.Parse(c.Server.APIURL); err != nil {
		return fmt.Errorf("server.api_url: %w", err)
	}
	if c.Server.WSURL != "" {
		if _, err := url.Parse(c.Server.WSURL); err != nil {
			return fmt.Errorf("server.ws_url: %w", err)
		}
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// WebsocketURL returns the configured real-time endpoint, falling back to
// the API base URL.
func (c *Config) WebsocketURL() string {
	if c.Server.WSURL != "" {
		return c.Server.WSURL
	}
	return c.Server.APIURL
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Server.APIURL != "" {
		c.Server.APIURL = other.Server.APIURL
	}
	if other.Server.WSURL != "" {
		c.Server.WSURL = other.Server.WSURL
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
	if other.Relay.Addr != "" {
		c.Relay.Addr = other.Relay.Addr
	}
	if other.Relay.Secret != "" {
		c.Relay.Secret = other.Relay.Secret
	}
	if other.Relay.DBPath != "" {
		c.Relay.DBPath = other.Relay.DBPath
	}
}

// Environment overrides.
const (
	EnvAPIURL   = "CHATSPOT_API_URL"
	EnvWSURL    = "CHATSPOT_WS_URL"
	EnvStore    = "CHATSPOT_STORE"
	EnvLogLevel = "CHATSPOT_LOG_LEVEL"
)

// ApplyEnv overrides fields from CHATSPOT_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvAPIURL); v != "" {
		c.Server.APIURL = v
	}
	if v := getenv(EnvWSURL); v != "" {
		c.Server.WSURL = v
	}
	if v := getenv(EnvStore); v != "" {
		c.Store.Path = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// ParseLevel maps a level name onto a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
	}
}
