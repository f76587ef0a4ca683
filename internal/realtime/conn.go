package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned by Send once a connection has shut down.
var ErrConnClosed = errors.New("connection closed")

// writeWait bounds a single websocket write.
const writeWait = 10 * time.Second

// Conn is a Subscriber backed by a websocket. Outbound frames are queued
// on a bounded buffer and written by a single writer goroutine.
type Conn struct {
	id             string
	userID         string
	conversationID string

	ws   *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, conversationID, userID string, buffer int) *Conn {
	if buffer < 1 {
		buffer = 1
	}
	return &Conn{
		id:             uuid.NewString(),
		userID:         userID,
		conversationID: conversationID,
		ws:             ws,
		send:           make(chan []byte, buffer),
		done:           make(chan struct{}),
	}
}

// ID implements Subscriber.
func (c *Conn) ID() string { return c.id }

// UserID is the authenticated participant behind the connection.
func (c *Conn) UserID() string { return c.userID }

// Send implements Subscriber. It waits for buffer space until ctx is done,
// so a stalled client costs the caller at most its send timeout.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown stops the writer. Safe to call more than once.
func (c *Conn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump drains the send buffer and keeps the peer alive with pings.
// It exits when the connection shuts down or a write fails.
func (c *Conn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.shutdown()
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				_ = c.ws.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
