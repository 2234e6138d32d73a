package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The relay is a development endpoint; browsers on any origin may use it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Client => The middleman between one authenticated websocket connection and
// the Hub.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	username string
	logger   *slog.Logger

	send chan []byte
}

// readPump pumps messages from the websocket connection to the Hub.
//
// The application runs readPump in a per-connection Goroutine. The
// application ensures that there is at most one reader on a connection
// by executing all reads from this Goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				c.logger.Debug("Peer read failed", "user", c.username, "error", err)
			}
			return
		}

		event, err := EventName(frame)
		if err != nil || event != EventMessage {
			c.reject("unsupported event")
			continue
		}
		msg, err := DecodeMessage(frame)
		if err != nil {
			c.reject("malformed message")
			continue
		}
		if msg.Receiver == "" {
			c.reject("receiver_username is required")
			continue
		}
		// The sender is whoever authenticated this connection, never what
		// the frame claims.
		msg.Sender = c.username
		if !c.hub.forward(msg) {
			return
		}
	}
}

// reject answers the peer with an error event. The hub owns c.send, so the
// reply goes through it.
func (c *Client) reject(reason string) {
	c.hub.reject(c, reason)
}

// writePump pumps messages from the hub to the websocket connection.
//
// A Goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection
// by executing all writes from this Goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("Peer write failed", "user", c.username, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades an already authenticated request and registers the
// connection with the hub under username.
func ServeWs(hub *Hub, username string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("Upgrade failed", "user", username, "error", err)
		return
	}
	client := &Client{
		hub:      hub,
		conn:     conn,
		username: username,
		logger:   hub.logger,
		send:     make(chan []byte, sendBufferSize),
	}
	if !client.hub.enter(client) {
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new Goroutines.
	go client.writePump()
	go client.readPump()
}
