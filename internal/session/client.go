package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/commanddeck/internal/domain"
)

// Client is one websocket connection bound to a session.
// Writes are serialised; the pipeline worker and the hub share it.
type Client struct {
	sess         *domain.Session
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func newClient(sess *domain.Session, conn *websocket.Conn, writeTimeout time.Duration) *Client {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Client{sess: sess, conn: conn, writeTimeout: writeTimeout}
}

// ID returns the session id.
func (c *Client) ID() string { return c.sess.ID }

// Emit writes one envelope to the connection.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(outboundMessage{Type: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close ends the connection with a going-away status.
func (c *Client) Close(reason string) {
	if err := c.conn.Close(websocket.StatusGoingAway, reason); err != nil {
		slog.Debug("Failed to close websocket", "session_id", c.sess.ID, "error", err)
	}
}
