package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chatspot/chatspot/metrics"
	"github.com/gorilla/websocket"
)

// State is a snapshot of the connection lifecycle.
type State struct {
	Connected  bool
	Connecting bool
	Err        string
	ServerURL  string
	AuthToken  string
}

// Handler receives inbound message events, one at a time, in arrival order.
type Handler func(MessageEvent)

// Manager owns at most one live connection to the real-time endpoint. It
// never reconnects on its own: every recovery is an explicit Connect call.
type Manager struct {
	dialer  *websocket.Dialer
	handler Handler
	logger  *slog.Logger
	metrics *metrics.Metrics

	// connectMu serializes Connect and Disconnect. mu guards state and conn.
	connectMu sync.Mutex
	mu        sync.Mutex
	state     State
	conn      *session

	// dispatchMu keeps a closing connection's last event from overlapping
	// the first event of its replacement.
	dispatchMu sync.Mutex
}

// session is one dialed connection and its pumps.
type session struct {
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	flushed chan struct{}

	// mu orders enqueue against close: a frame accepted by enqueue is in
	// send before done is closed, so the closing writePump flushes it.
	mu     sync.Mutex
	closed bool
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

func (s *session) enqueue(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotConnected
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func NewManager(handler Handler, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = func(MessageEvent) {}
	}
	return &Manager{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: writeWait,
		},
		handler: handler,
		logger:  logger,
		metrics: m,
	}
}

// Connect replaces any live connection with a new one to serverURL. authToken,
// when set, is sent as a bearer credential.
func (m *Manager) Connect(ctx context.Context, serverURL, authToken string) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.teardown()

	m.mu.Lock()
	m.state = State{Connecting: true, ServerURL: serverURL, AuthToken: authToken}
	m.mu.Unlock()

	conn, err := m.dial(ctx, serverURL, authToken)
	m.metrics.ObserveConnect(err)
	if err != nil {
		m.mu.Lock()
		m.state.Connecting = false
		m.state.Connected = false
		m.state.Err = err.Error()
		m.mu.Unlock()
		m.logger.Warn("Connection failed", "url", serverURL, "error", err)
		return err
	}

	s := &session{
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
	m.mu.Lock()
	m.conn = s
	m.state.Connecting = false
	m.state.Connected = true
	m.state.Err = ""
	m.mu.Unlock()

	m.logger.Info("Connected", "url", serverURL)
	go m.writePump(s)
	go m.readPump(s)
	return nil
}

func (m *Manager) dial(ctx context.Context, serverURL, authToken string) (*websocket.Conn, error) {
	target, err := NormalizeURL(serverURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if authToken != "" {
		header.Set("Authorization", "Bearer "+authToken)
	}
	conn, resp, err := m.dialer.DialContext(ctx, target, header)
	if err != nil {
		dialErr := DialError{URL: target, Err: err}
		if resp != nil {
			dialErr.Status = resp.StatusCode
			resp.Body.Close()
		}
		return nil, dialErr
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// Disconnect tears down the live connection, if any.
func (m *Manager) Disconnect() {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	m.teardown()
}

func (m *Manager) teardown() {
	m.mu.Lock()
	s := m.conn
	m.conn = nil
	m.state.Connected = false
	m.state.Connecting = false
	m.mu.Unlock()

	if s != nil {
		s.close()
		select {
		case <-s.flushed:
		case <-time.After(writeWait):
		}
		m.metrics.ObserveDisconnect()
		m.logger.Debug("Disconnected")
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Emit queues one message event on the live connection.
func (m *Manager) Emit(ev MessageEvent) error {
	frame, err := Encode(EventMessage, ev)
	if err != nil {
		return err
	}

	m.mu.Lock()
	s := m.conn
	m.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	return s.enqueue(frame)
}

func (m *Manager) current(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn == s
}

// dropped records a connection lost underneath us.
func (m *Manager) dropped(s *session, err error) {
	m.mu.Lock()
	if m.conn != s {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state.Connected = false
	m.state.Connecting = false
	if err != nil {
		m.state.Err = err.Error()
	}
	m.mu.Unlock()

	s.close()
	m.metrics.ObserveDisconnect()
	m.logger.Warn("Connection lost", "error", err)
}

// readPump is the single reader of a session. Inbound events are handed to
// the handler from here, so they are processed strictly in arrival order.
func (m *Manager) readPump(s *session) {
	defer s.conn.Close()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Closed by us.
			default:
				m.dropped(s, err)
			}
			return
		}
		m.handleFrame(s, frame)
	}
}

func (m *Manager) handleFrame(s *session, frame []byte) {
	event, err := EventName(frame)
	if err != nil {
		m.logger.Warn("Dropping malformed frame", "error", err)
		return
	}

	switch event {
	case EventMessage:
		ev, err := DecodeMessage(frame)
		if err != nil {
			m.logger.Warn("Dropping malformed message event", "error", err)
			return
		}
		m.dispatchMu.Lock()
		defer m.dispatchMu.Unlock()
		if !m.current(s) {
			return
		}
		m.handler(ev)
	case EventError:
		ev, err := DecodeError(frame)
		if err != nil {
			m.logger.Warn("Dropping malformed error event", "error", err)
			return
		}
		m.logger.Warn("Server error", "message", ev.Message)
		m.mu.Lock()
		if m.conn == s {
			m.state.Err = ev.Message
		}
		m.mu.Unlock()
	default:
		m.logger.Debug("Ignoring event", "event", event)
	}
}

// writePump is the single writer of a session.
func (m *Manager) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		close(s.flushed)
	}()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				m.dropped(s, err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.dropped(s, err)
				return
			}
		case <-s.done:
			// Frames already accepted by Emit still go out.
			for flushing := true; flushing; {
				select {
				case frame := <-s.send:
					s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					flushing = false
				}
			}
			s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}

// NormalizeURL maps an http(s) or ws(s) base URL onto the websocket endpoint.
// An empty path becomes /ws.
func NormalizeURL(raw string) (string, error) {
	if raw == "" {
		return "", InvalidURLError{raw, "empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", InvalidURLError{raw, err.Error()}
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", InvalidURLError{raw, "unsupported scheme"}
	}
	if u.Host == "" {
		return "", InvalidURLError{raw, "missing host"}
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
