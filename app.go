package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chatspot/chatspot/chat"
	"github.com/chatspot/chatspot/config"
	"github.com/chatspot/chatspot/db"
	"github.com/chatspot/chatspot/metrics"
)

var errNoSession = errors.New("not logged in, run `chatspot login` first")

// App is one opened client: config, local store and the chat core.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *db.BBoltDB
	metrics *metrics.Metrics
	client  *chat.Client
}

// loadConfig layers the config file, the environment and the flags.
func loadConfig(flags *globalFlags, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.NewLoader(logger).Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg.Merge(&config.Config{
		Server: config.ServerConfig{APIURL: flags.apiURL, WSURL: flags.wsURL},
		Store:  config.StoreConfig{Path: flags.storePath},
		Log:    config.LogConfig{Level: flags.logLevel},
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// openApp loads the configuration and opens the local store. Logs go to
// logOut.
func openApp(flags *globalFlags, logOut io.Writer) (*App, error) {
	bootLogger, err := newLogger(logOut, flags.logLevel)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(flags, bootLogger)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(logOut, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	store, err := db.NewDatabase(cfg.Store.Path, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	client := chat.New(store, chat.Options{
		APIURL:  cfg.Server.APIURL,
		WSURL:   cfg.WebsocketURL(),
		Logger:  logger,
		Metrics: m,
	})

	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: m,
		client:  client,
	}, nil
}

// restore loads the saved session, failing when there is none.
func (a *App) restore() error {
	ok, err := a.client.Restore()
	if err != nil {
		return err
	}
	if !ok {
		return errNoSession
	}
	return nil
}

// Close drops the connection and closes the store.
func (a *App) Close() error {
	a.client.Disconnect()
	return a.store.Close()
}
