// Package chat is the client core: it keeps the local store in step with the
// real-time connection and owns auth and conversation state.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chatspot/chatspot/api"
	"github.com/chatspot/chatspot/db"
	"github.com/chatspot/chatspot/metrics"
	"github.com/chatspot/chatspot/token"
	"github.com/chatspot/chatspot/ws"
)

// LocalStore is everything the client needs from the local store.
type LocalStore interface {
	Store
	ObserveMessages(a, b db.UserName) *db.Subscription[[]db.Message]
	ObserveRooms(user db.UserName) *db.Subscription[[]db.Room]
	SaveSession(session db.Session) error
	GetSession() (*db.Session, error)
	ClearSession() error
}

// AuthState mirrors what a login form shows.
type AuthState struct {
	Authenticated bool
	User          string
	Loading       bool
	Err           string
}

type Options struct {
	// APIURL is the base URL of the REST auth API.
	APIURL string
	// WSURL is the real-time endpoint; empty means APIURL.
	WSURL      string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

type Client struct {
	store      LocalStore
	api        *api.Client
	manager    *ws.Manager
	typing     *Typing
	selection  *Selection
	dispatcher *Dispatcher
	composer   *Composer
	wsURL      string
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu    sync.RWMutex
	auth  AuthState
	token string
}

func New(store LocalStore, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wsURL := opts.WSURL
	if wsURL == "" {
		wsURL = opts.APIURL
	}

	c := &Client{
		store:     store,
		api:       api.NewClient(opts.APIURL, opts.HTTPClient),
		typing:    NewTyping(nil),
		selection: &Selection{},
		wsURL:     wsURL,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
	c.dispatcher = NewDispatcher(store, c.typing, c.selection, c.username, logger.With("component", "dispatcher"), opts.Metrics)
	c.manager = ws.NewManager(c.dispatcher.Dispatch, logger.With("component", "connection"), opts.Metrics)
	c.composer = NewComposer(c.manager, store, c.typing, c.selection, c.username, logger.With("component", "composer"), opts.Metrics)
	return c
}

func (c *Client) username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.auth.Authenticated {
		return ""
	}
	return c.auth.User
}

// ----------------------------- Auth -----------------------------

// Login authenticates against the API, persists the session and connects
// with the new token. A connect failure is returned but leaves the user
// logged in; the connection state carries the error.
func (c *Client) Login(ctx context.Context, username, password string) error {
	return c.authenticate(ctx, username, password, c.api.Login)
}

func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.authenticate(ctx, username, password, c.api.Register)
}

type authCall func(ctx context.Context, username, password string) (*api.AuthResponse, error)

func (c *Client) authenticate(ctx context.Context, username, password string, call authCall) error {
	c.mu.Lock()
	c.auth.Loading = true
	c.auth.Err = ""
	c.mu.Unlock()

	resp, err := call(ctx, username, password)
	if err != nil {
		c.mu.Lock()
		c.auth.Loading = false
		c.auth.Err = err.Error()
		c.mu.Unlock()
		return err
	}

	user := username
	if claims, err := (&token.Token{Token: resp.AccessToken}).Claims(); err == nil {
		user = claims.Username
	}
	if err := c.store.SaveSession(db.Session{Username: user, AccessToken: resp.AccessToken}); err != nil {
		c.metrics.ObserveStoreFailure("save_session")
		c.logger.Error("Failed to persist session", "error", err)
	}
	c.setSession(user, resp.AccessToken)

	return c.Connect(ctx)
}

func (c *Client) setSession(user, accessToken string) {
	c.api.SetToken(accessToken)
	c.mu.Lock()
	c.auth = AuthState{Authenticated: true, User: user}
	c.token = accessToken
	c.mu.Unlock()
}

// Restore loads the persisted session. It reports false when there is none
// or the stored token has expired; an expired session is discarded.
func (c *Client) Restore() (bool, error) {
	session, err := c.store.GetSession()
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if session == nil || session.AccessToken == "" {
		return false, nil
	}

	claims, err := (&token.Token{Token: session.AccessToken}).Claims()
	if err == nil && claims.Expired(c.now()) {
		c.logger.Info("Stored session expired", "user", session.Username)
		if err := c.store.ClearSession(); err != nil {
			c.logger.Warn("Failed to clear expired session", "error", err)
		}
		return false, nil
	}

	c.setSession(session.Username, session.AccessToken)
	return true, nil
}

// Logout drops the connection and every piece of per-user state.
func (c *Client) Logout() error {
	c.manager.Disconnect()
	c.typing.Clear()
	c.selection.Clear()
	c.api.SetToken("")
	c.mu.Lock()
	c.auth = AuthState{}
	c.token = ""
	c.mu.Unlock()

	if err := c.store.ClearSession(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (c *Client) Auth() AuthState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

// -------------------------- Connection --------------------------

// Connect opens the real-time connection with the current token.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	accessToken := c.token
	c.mu.RUnlock()
	if accessToken == "" {
		return ErrNotLoggedIn
	}
	return c.manager.Connect(ctx, c.wsURL, accessToken)
}

func (c *Client) Disconnect() { c.manager.Disconnect() }

func (c *Client) State() ws.State { return c.manager.State() }

// -------------------------- Conversations -----------------------

func (c *Client) SelectPeer(peer string) { c.selection.Select(peer) }
func (c *Client) ActivePeer() string     { return c.selection.Active() }
func (c *Client) ClearSelection()        { c.selection.Clear() }

func (c *Client) ObserveMessages(peer string) (*db.Subscription[[]db.Message], error) {
	me := c.username()
	if me == "" {
		return nil, ErrNotLoggedIn
	}
	return c.store.ObserveMessages(me, peer), nil
}

func (c *Client) ObserveRooms() (*db.Subscription[[]db.Room], error) {
	me := c.username()
	if me == "" {
		return nil, ErrNotLoggedIn
	}
	return c.store.ObserveRooms(me), nil
}

func (c *Client) IsTyping(peer string) bool { return c.typing.IsTyping(peer) }
func (c *Client) TypingPeers() []string     { return c.typing.Peers() }

// ---------------------------- Sending ---------------------------

func (c *Client) Send(ctx context.Context, receiver, body string, msgType db.MessageType) error {
	return c.composer.Send(ctx, receiver, body, msgType)
}

func (c *Client) SendText(ctx context.Context, receiver, body string) error {
	return c.composer.SendText(ctx, receiver, body)
}

func (c *Client) ClearChat(ctx context.Context, receiver string) error {
	return c.composer.ClearChat(ctx, receiver)
}

func (c *Client) DeleteUser(ctx context.Context, receiver string) error {
	return c.composer.DeleteUser(ctx, receiver)
}

func (c *Client) SetTyping(ctx context.Context, receiver string, typing bool) error {
	return c.composer.SetTyping(ctx, receiver, typing)
}

// TypingNotifier returns an input tracker for the conversation with receiver.
func (c *Client) TypingNotifier(receiver string) *TypingNotifier {
	return c.composer.Notifier(receiver, TypingIdle)
}

// IsNotConnected reports whether err means a send found no live connection.
func IsNotConnected(err error) bool {
	return errors.Is(err, ws.ErrNotConnected)
}
