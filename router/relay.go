package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatspot/chatspot/metrics"
	"github.com/chatspot/chatspot/token"
	"github.com/chatspot/chatspot/ws"
	"github.com/google/uuid"
)

// Relay bundles the user store, the hub and the routes into one server.
type Relay struct {
	Users *UserStore
	Hub   *ws.Hub

	handler http.Handler
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRelay opens the user store at dbPath and starts the hub. An empty secret
// gets a random one, so tokens do not survive a restart.
func NewRelay(dbPath, secret string, logger *slog.Logger, m *metrics.Metrics) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if secret == "" {
		secret = uuid.NewString() + uuid.NewString()
		logger.Warn("No relay secret configured, using a random one")
	}

	users, err := NewUserStore(dbPath)
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(logger.With("component", "hub"), m)
	ctx, cancel := context.WithCancel(context.Background())
	relay := &Relay{
		Users:  users,
		Hub:    hub,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	relay.handler = NewRouter(users, hub, token.NewIssuer(secret), logger.With("component", "router"), m).SetupRouter()

	go func() {
		defer close(relay.done)
		hub.Run(ctx)
	}()
	return relay, nil
}

func (r *Relay) Handler() http.Handler { return r.handler }

// Close stops the hub, dropping every connection, and closes the user store.
func (r *Relay) Close() error {
	r.cancel()
	<-r.done
	return r.Users.Close()
}

// ListenAndServe serves on addr until ctx is cancelled.
func (r *Relay) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("Relay listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("relay: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; stopping
	// the hub closes them.
	r.cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	return nil
}
