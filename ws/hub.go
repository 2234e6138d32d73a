package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatspot/chatspot/metrics"
)

// Hub routes message events between authenticated connections. A single
// goroutine (Run) owns the username -> connections table.
type Hub struct {
	peers map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	route      chan MessageEvent
	rejects    chan rejection
	online     chan onlineQuery
	done       chan struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type rejection struct {
	client *Client
	reason string
}

type onlineQuery struct {
	username string
	reply    chan bool
}

func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		peers:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		route:      make(chan MessageEvent, sendBufferSize),
		rejects:    make(chan rejection, sendBufferSize),
		online:     make(chan onlineQuery),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Run serves the hub until ctx is cancelled. Every connection still
// registered is closed on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for _, conns := range h.peers {
			for c := range conns {
				close(c.send)
			}
		}
		h.peers = nil
		h.metrics.SetRelayPeers(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			conns, ok := h.peers[c.username]
			if !ok {
				conns = make(map[*Client]struct{})
				h.peers[c.username] = conns
			}
			conns[c] = struct{}{}
			h.metrics.SetRelayPeers(h.count())
			h.logger.Debug("Peer registered", "user", c.username, "connections", len(conns))
		case c := <-h.unregister:
			h.drop(c)
		case msg := <-h.route:
			h.deliver(msg)
		case r := <-h.rejects:
			h.sendError(r.client, r.reason)
		case q := <-h.online:
			q.reply <- len(h.peers[q.username]) > 0
		}
	}
}

// deliver sends msg to every connection of its receiver. Messages for users
// with no live connection are dropped.
func (h *Hub) deliver(msg MessageEvent) {
	if msg.Timestamp == 0 {
		msg.Timestamp = h.now().UnixMilli()
	}
	conns := h.peers[msg.Receiver]
	if len(conns) == 0 {
		h.metrics.ObserveRelay("dropped")
		h.logger.Info("Receiver offline, dropping message", "from", msg.Sender, "to", msg.Receiver, "type", msg.Type)
		return
	}

	frame, err := Encode(EventMessage, msg)
	if err != nil {
		h.logger.Error("Failed to encode message", "error", err)
		return
	}
	for c := range conns {
		select {
		case c.send <- frame:
		default:
			// Slow consumer; cut it loose like any other dead connection.
			h.drop(c)
		}
	}
	h.metrics.ObserveRelay("delivered")
}

func (h *Hub) sendError(c *Client, reason string) {
	if _, ok := h.peers[c.username][c]; !ok {
		return
	}
	frame, err := Encode(EventError, ErrorEvent{Message: reason})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (h *Hub) drop(c *Client) {
	conns, ok := h.peers[c.username]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.peers, c.username)
	}
	h.metrics.SetRelayPeers(h.count())
	h.logger.Debug("Peer unregistered", "user", c.username)
}

func (h *Hub) count() int {
	n := 0
	for _, conns := range h.peers {
		n += len(conns)
	}
	return n
}

// Online reports whether username has at least one live connection.
func (h *Hub) Online(username string) bool {
	q := onlineQuery{username: username, reply: make(chan bool, 1)}
	select {
	case h.online <- q:
		return <-q.reply
	case <-h.done:
		return false
	}
}

func (h *Hub) enter(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) forward(msg MessageEvent) bool {
	select {
	case h.route <- msg:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) reject(c *Client, reason string) {
	select {
	case h.rejects <- rejection{client: c, reason: reason}:
	case <-h.done:
	}
}
