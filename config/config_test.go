package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "http://localhost:8080", cfg.Server.APIURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Relay.Addr)
	assert.NotEmpty(t, cfg.Store.Path)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "missing api url",
			modify:  func(c *Config) { c.Server.APIURL = "" },
			wantErr: true,
		},
		{
			name:    "bad ws url",
			modify:  func(c *Config) { c.Server.WSURL = "://nope" },
			wantErr: true,
		},
		{
			name:    "missing store path",
			modify:  func(c *Config) { c.Store.Path = "" },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  api_url: "http://chat.example:9000"
store:
  path: "/tmp/chat.db"
log:
  level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "http://chat.example:9000", cfg.Server.APIURL)
	assert.Equal(t, "/tmp/chat.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched fields keep their defaults.
	assert.Equal(t, ":8080", cfg.Relay.Addr)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Server.WSURL = "ws://localhost:1/ws"

	require.NoError(t, cfg.SaveToFile(path))
	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestMerge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge(&Config{
		Server:  ServerConfig{WSURL: "ws://x/ws"},
		Metrics: MetricsConfig{Addr: ":9100"},
	})

	assert.Equal(t, "http://localhost:8080", cfg.Server.APIURL)
	assert.Equal(t, "ws://x/ws", cfg.Server.WSURL)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)

	cfg.Merge(nil)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAPIURL:   "http://env:1",
		EnvStore:    "/env/store.db",
		EnvLogLevel: "warn",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "http://env:1", cfg.Server.APIURL)
	assert.Equal(t, "/env/store.db", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "http://env:1", cfg.WebsocketURL())
}

func TestLoaderPrecedence(t *testing.T) {
	home := t.TempDir()
	userPath := filepath.Join(home, UserConfigDir, UserConfigFile)
	user := DefaultConfig()
	user.Server.APIURL = "http://user:1"
	user.Log.Level = "debug"
	require.NoError(t, user.SaveToFile(userPath))

	explicitPath := filepath.Join(t.TempDir(), "explicit.yaml")
	require.NoError(t, os.WriteFile(explicitPath, []byte("server:\n  api_url: http://explicit:2\n"), 0644))

	l := NewLoader(nil)
	l.home = home
	l.getenv = func(k string) string {
		if k == EnvStore {
			return "/from/env.db"
		}
		return ""
	}

	cfg, err := l.Load(explicitPath)
	require.NoError(t, err)
	assert.Equal(t, "http://explicit:2", cfg.Server.APIURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/from/env.db", cfg.Store.Path)

	_, err = l.Load(filepath.Join(home, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoaderLeavesValidationToCaller(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0644))

	l := NewLoader(nil)
	l.home = ""
	l.getenv = func(string) string { return "" }

	cfg, err := l.Load(path)
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	cfg.Merge(&Config{Log: LogConfig{Level: "debug"}})
	assert.NoError(t, cfg.Validate())
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"", "info", "DEBUG", "warn", "error"} {
		_, err := ParseLevel(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseLevel("trace")
	assert.Error(t, err)
}
