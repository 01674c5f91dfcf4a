// Package ws provides the WebSocket transport for event subscription
// and high-frequency publishing.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edupulse/event-pipeline/internal/events"
)

const writeTimeout = 5 * time.Second

// wsConn wraps a websocket connection with a write lock. The dispatch
// loop and the handler goroutine both write to the connection, and
// gorilla permits only one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

// Send delivers an event to the subscriber. Implements router.Conn.
func (c *wsConn) Send(ev events.Event) error {
	return c.writeJSON(ev)
}

func (c *wsConn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// writeClose sends a close frame with the given code and reason.
func (c *wsConn) writeClose(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
