// Package main provides chatrelay, a small development server for the chat
// client: REST auth plus a websocket relay between signed in users.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/chatspot/chatspot/config"
	"github.com/chatspot/chatspot/metrics"
	"github.com/chatspot/chatspot/router"
	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "chatrelay"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	addr        string
	secret      string
	dbPath      string
	logLevel    string
	metricsAddr string
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Development relay for chatspot",
		Long: `Chatrelay serves /auth/register, /auth/login and an authenticated
/ws endpoint that forwards message events between connected users.
Messages for users who are offline are dropped.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default from config, :8080)")
	cmd.Flags().StringVar(&opts.secret, "secret", "", "Token signing secret; random when empty")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "User database path")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Also serve metrics on a separate address")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// relayConfig layers the flags over the config file.
func relayConfig(opts *options, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.NewLoader(logger).Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Merge(&config.Config{
		Log:     config.LogConfig{Level: opts.logLevel},
		Metrics: config.MetricsConfig{Addr: opts.metricsAddr},
		Relay:   config.RelayConfig{Addr: opts.addr, Secret: opts.secret, DBPath: opts.dbPath},
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Relay.Addr == "" || cfg.Relay.DBPath == "" {
		return nil, fmt.Errorf("relay.addr and relay.db_path are required")
	}
	return cfg, nil
}

func run(cmd *cobra.Command, opts *options) error {
	bootLevel, err := config.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: bootLevel}))

	cfg, err := relayConfig(opts, logger)
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	m := metrics.New()
	relay, err := router.NewRelay(cfg.Relay.DBPath, cfg.Relay.Secret, logger, m)
	if err != nil {
		return err
	}
	defer relay.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Metrics listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("Metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	logger.Info("Chatrelay ready", "version", Version, "addr", cfg.Relay.Addr, "db", cfg.Relay.DBPath)
	return relay.ListenAndServe(ctx, cfg.Relay.Addr)
}
