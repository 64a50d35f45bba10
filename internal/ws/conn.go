package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nippledipple/gemeinsam-einrichten/internal/presence"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var (
	errConnClosed = errors.New("connection closed")
	errSendFull   = errors.New("send buffer full")
)

// conn adapts a websocket connection to presence.Conn. Frames are queued on
// send and written by writePump; readPump feeds inbound frames to the hub.
type conn struct {
	id  string
	ws  *websocket.Conn
	hub *presence.Hub
	log *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newConn(id string, wsConn *websocket.Conn, hub *presence.Hub, log *slog.Logger) *conn {
	return &conn{
		id:   id,
		ws:   wsConn,
		hub:  hub,
		log:  log,
		send: make(chan []byte, sendBuffer),
	}
}

func (c *conn) ID() string { return c.id }

// Send queues data without blocking. A full buffer is reported so the hub
// can drop the client instead of stalling the room.
func (c *conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendFull
	}
}

// Close stops the write pump, which sends a close frame and closes the
// socket. Safe to call more than once.
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

func (c *conn) readPump(maxMessageBytes int64) {
	defer func() {
		c.hub.Disconnect(c.id)
		c.Close()
	}()

	if maxMessageBytes > 0 {
		c.ws.SetReadLimit(maxMessageBytes)
	}
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("read error", "clientId", c.id, "error", err)
			}
			return
		}
		// Any inbound frame is proof of life for the transport deadline.
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.Handle(c, data)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.Disconnect(c.id)
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Disconnect(c.id)
				c.Close()
				return
			}
		}
	}
}
