package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// UserConfigDir is the directory for user-level config and the default store
	UserConfigDir = ".config/chatspot"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
	home   string
	getenv func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	home, _ := os.UserHomeDir()
	return &Loader{logger: logger, home: home, getenv: os.Getenv}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/chatspot/config.yaml)
// 3. Explicit file (the --config flag), when path is non-empty
// 4. CHATSPOT_* environment variables
//
// The result is not validated: callers layer their flags on top and call
// Validate themselves.
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	if userConfigPath := l.userConfigPath(); userConfigPath != "" {
		if userConfig, err := loadLayer(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	if path != "" {
		explicit, err := loadLayer(path)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config", slog.String("path", path))
		config.Merge(explicit)
	}

	config.ApplyEnv(l.getenv)
	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	if err := DefaultConfig().SaveToFile(userConfigPath); err != nil {
		return err
	}
	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// loadLayer reads a file without defaults so that Merge only applies the
// fields the file actually sets.
func loadLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	layer := &Config{}
	if err := yaml.Unmarshal(data, layer); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return layer, nil
}

func (l *Loader) userConfigPath() string {
	if l.home == "" {
		return ""
	}
	return filepath.Join(l.home, UserConfigDir, UserConfigFile)
}
