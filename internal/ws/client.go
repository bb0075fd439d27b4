package ws

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Subscriber abstracts a streaming viewer connection. Send failures mark the
// subscriber dead; the owner prunes it on its own disconnect signal.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Client adapts a websocket connection to the Subscriber interface.
type Client struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *slog.Logger
}

// NewClient constructs a client wrapper.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger}
}

// Send writes one text message to the websocket connection. A failed write
// closes the connection.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}
