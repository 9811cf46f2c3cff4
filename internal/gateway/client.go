package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	jsonx "github.com/ardrey/translate-hub/pkg/json"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 32
)

// client wraps one WebSocket connection. All writes go through the send
// channel and a single writer goroutine, so concurrent senders (read loop,
// result relay, heartbeat) never interleave on the wire.
type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	log       *zap.Logger
}

func newClient(sessionID string, conn *websocket.Conn, log *zap.Logger) *client {
	return &client{
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		log:       log,
	}
}

// SendJSON queues v for delivery. It never blocks: a full buffer means the
// client is not draining, and the frame is dropped with an error so callers
// can apply their own delivery semantics.
func (c *client) SendJSON(v interface{}) error {
	body, err := jsonx.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	select {
	case <-c.done:
		return fmt.Errorf("connection %s is closed", c.sessionID)
	case c.send <- body:
		return nil
	default:
		return fmt.Errorf("send buffer full for session %s", c.sessionID)
	}
}

// writePump owns all writes to the connection, including the application-level
// heartbeat ping. It exits when the client closes or a write fails, and exit
// tears the connection down so the read loop unblocks.
func (c *client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case body := <-c.send:
			if err := c.write(websocket.TextMessage, body); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			ping, err := jsonx.Marshal(PingFrame{Type: TypePing})
			if err != nil {
				return
			}
			if err := c.write(websocket.TextMessage, ping); err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *client) write(messageType int, body []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, body)
}

// closeWithCode sends a close frame with the given status, then tears the
// connection down.
func (c *client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(writeWait)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.log.Debug("close frame failed", zap.Error(err))
	}
	c.close()
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
