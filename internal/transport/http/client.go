package http

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"classroom-live/internal/app"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// SDP offers with many candidates run to a few tens of KB.
	maxMessageSize = 64 * 1024

	defaultSendBuffer = 64
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// client is one websocket connection. It implements app.Sink: Send never
// blocks, and a full buffer evicts its oldest message.
type client struct {
	conn   *websocket.Conn
	logger *slog.Logger
	send   chan app.Envelope
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

func newClient(conn *websocket.Conn, buffer int, logger *slog.Logger) *client {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &client{
		conn:   conn,
		logger: logger,
		send:   make(chan app.Envelope, buffer),
		done:   make(chan struct{}),
	}
}

func (c *client) Send(env app.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
	}
	// slow reader: make room by discarding the oldest queued message
	select {
	case <-c.send:
		c.dropped++
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		c.dropped++
		return false
	}
}

// Close asks the write pump to flush what is queued and hang up.
func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

func (c *client) droppedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// readPump reads frames until the connection fails, handing each to handle.
// All reads happen on the calling goroutine.
func (c *client) readPump(handle func(inboundMessage)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Debug("ws read failed", "err", err)
			}
			return
		}
		handle(msg)
	}
}

// writePump is the only writer on the connection. It exits on Close, after
// flushing queued messages, or on the first write error.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			if !c.write(env) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			for {
				select {
				case env := <-c.send:
					if !c.write(env) {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *client) write(env app.Envelope) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(env); err != nil {
		c.logger.Debug("ws write failed", "type", env.Type, "err", err)
		return false
	}
	return true
}
