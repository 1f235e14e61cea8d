// Package session carries the signaling protocol over WebSocket: one Client
// per connection, a Hub that admits and upgrades connections, and the
// read/write pumps between the socket and the signaling handler.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/telemeet/sfu/internal/v1/logging"
	"github.com/telemeet/sfu/internal/v1/metrics"
	"github.com/telemeet/sfu/internal/v1/protocol"
	"github.com/telemeet/sfu/internal/v1/signaling"
)

// sendBufferSize bounds the per-connection outbound queue. A peer that stops
// reading loses broadcasts rather than stalling the room.
const sendBufferSize = 256

const writeWait = 10 * time.Second

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client is a single signaling connection. It implements room.Emitter: the
// room layer pushes events through SendEvent, and supersession tears the
// connection down through Disconnect.
type Client struct {
	conn    wsConnection
	handler *signaling.Handler
	sess    *signaling.Session

	onClose func(*Client)

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	send chan []byte
}

func newClient(conn wsConnection, handler *signaling.Handler, onClose func(*Client)) *Client {
	c := &Client{
		conn:    conn,
		handler: handler,
		onClose: onClose,
		send:    make(chan []byte, sendBufferSize),
	}
	c.sess = handler.NewSession(c)
	return c
}

// SendEvent queues a server-pushed event. Returns false when the message was
// dropped because the connection is closed or its buffer is full.
func (c *Client) SendEvent(event protocol.EventName, data any) bool {
	payload, err := json.Marshal(protocol.OutEnvelope{Event: event, Data: data})
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal event", zap.Error(err))
		return false
	}
	return c.sendRaw(payload)
}

// sendAck queues the response to one request.
func (c *Client) sendAck(requestID string, body any) {
	payload, err := json.Marshal(protocol.OutEnvelope{
		Event:     protocol.EventAck,
		RequestID: requestID,
		Data:      body,
	})
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal ack", zap.Error(err))
		return
	}
	if !c.sendRaw(payload) {
		logging.Warn(context.Background(), "Dropped ack to slow client",
			zap.String("connectionId", c.sess.ConnectionID),
			zap.String("requestId", requestID))
	}
}

func (c *Client) sendRaw(payload []byte) (ok bool) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	c.mu.RUnlock()

	// The channel can be closed between the flag check and the send.
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Disconnect forcefully closes the connection. Closing the send channel makes
// writePump drain, emit a close frame and close the socket, which in turn
// unblocks readPump.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
	})
}

// readPump reads requests off the socket and dispatches them in order. One
// goroutine per connection; per-connection request ordering follows from the
// serial loop.
func (c *Client) readPump() {
	ctx := context.WithValue(context.Background(), logging.CorrelationIDKey, c.sess.ConnectionID)

	defer func() {
		c.handler.HandleDisconnect(ctx, c.sess)
		c.Disconnect()
		c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logging.Warn(ctx, "Malformed signaling message",
				zap.String("connectionId", c.sess.ConnectionID), zap.Error(err))
			c.sendAck("", protocol.Errorf("malformed message"))
			continue
		}

		body := c.handler.Dispatch(ctx, c.sess, env)
		c.sendAck(env.RequestID, body)
	}
}

// writePump writes queued messages to the socket until the send channel is
// closed, then emits a close frame.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message", zap.Error(err))
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
