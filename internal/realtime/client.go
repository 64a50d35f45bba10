// Package realtime is the client side of the presence channel: one websocket
// per Client, room join and leave, heartbeats, state broadcasts, bounded
// reconnects and a typed listener registry.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nippledipple/gemeinsam-einrichten/internal/protocol"
)

const (
	DefaultHeartbeatInterval    = 20 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultDialTimeout          = 10 * time.Second

	writeTimeout = 10 * time.Second
	readTimeout  = 70 * time.Second
)

var (
	ErrNotConnected       = errors.New("realtime: not connected")
	ErrConnectInProgress  = errors.New("realtime: connect already in progress")
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")

	errStopped = errors.New("realtime: disconnected while connecting")
)

type Options struct {
	URL string
	// SessionID identifies this client instance. A "session_" prefixed UUID
	// is generated when empty.
	SessionID            string
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	DialTimeout          time.Duration
	Dialer               *websocket.Dialer
	Logger               *slog.Logger
}

// Client owns at most one websocket to the presence server.
type Client struct {
	url         string
	sessionID   string
	heartbeat   time.Duration
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	dialTimeout time.Duration
	dialer      *websocket.Dialer
	log         *slog.Logger
	listeners   registry

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	stopped    bool // set by Disconnect, cleared by Connect
	selfID     string
	room       string // desired room, kept while disconnected
	joined     string // room joined on conn
	user       protocol.User
	attempts   int
	retry      *time.Timer
	stopBeat   context.CancelFunc

	writeMu sync.Mutex // serialises all conn writes
}

func New(opts Options) *Client {
	c := &Client{
		url:         opts.URL,
		sessionID:   opts.SessionID,
		heartbeat:   opts.HeartbeatInterval,
		baseDelay:   opts.ReconnectBaseDelay,
		maxDelay:    opts.ReconnectMaxDelay,
		maxAttempts: opts.MaxReconnectAttempts,
		dialTimeout: opts.DialTimeout,
		dialer:      opts.Dialer,
		log:         opts.Logger,
	}
	if c.sessionID == "" {
		c.sessionID = NewSessionID()
	}
	if c.heartbeat <= 0 {
		c.heartbeat = DefaultHeartbeatInterval
	}
	if c.baseDelay <= 0 {
		c.baseDelay = DefaultReconnectBaseDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = DefaultReconnectMaxDelay
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxReconnectAttempts
	}
	if c.dialTimeout <= 0 {
		c.dialTimeout = DefaultDialTimeout
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.dialTimeout,
		}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("sessionId", c.sessionID)
	return c
}

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	return "session_" + uuid.NewString()
}

// On registers fn for events of type t and returns a func that removes it.
func (c *Client) On(t EventType, fn Listener) (unsubscribe func()) {
	return c.listeners.add(t, fn)
}

// Connect opens the socket. It returns nil at once when already connected
// and ErrConnectInProgress while another attempt is dialing; it never opens
// a second socket. A failed Connect emits an ErrorEvent and schedules
// reconnects with the same backoff and attempt budget as a dropped socket.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		// A dial still in flight after Disconnect keeps its socket.
		c.stopped = false
		c.attempts = 0
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.connecting = true
	c.stopped = false
	c.attempts = 0
	c.stopRetryLocked()
	c.mu.Unlock()

	err := c.open(ctx, false)
	if err == nil || errors.Is(err, errStopped) {
		return err
	}

	c.mu.Lock()
	scheduled := c.scheduleLocked()
	c.mu.Unlock()

	c.log.Warn("realtime connect failed", "url", c.url, "error", err, "reconnect", scheduled)
	c.emit(ErrorEvent{Err: err, Terminal: !scheduled})
	return err
}

// open dials and installs the connection. The caller must have set
// c.connecting.
func (c *Client) open(ctx context.Context, reconnect bool) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.url, nil)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return errStopped
	}
	c.conn = conn
	c.joined = ""
	c.attempts = 0
	beatCtx, stopBeat := context.WithCancel(context.Background())
	c.stopBeat = stopBeat
	room, user := c.room, c.user
	c.mu.Unlock()

	go c.heartbeatLoop(beatCtx, conn)
	go c.readLoop(conn)
	c.log.Info("realtime connected", "url", c.url, "reconnect", reconnect)

	// The room may have been chosen while the socket was down.
	if room != "" {
		if err := c.sendJoin(conn, room, user); err != nil {
			c.log.Warn("rejoin failed", "spaceId", room, "error", err)
		}
	}
	c.emit(ConnectEvent{Reconnect: reconnect})
	return nil
}

// JoinRoom leaves the current room if it differs from spaceID, then joins
// spaceID announcing user. While disconnected it returns ErrNotConnected but
// records spaceID, and the next successful connect joins it.
func (c *Client) JoinRoom(spaceID string, user protocol.User) error {
	c.mu.Lock()
	conn := c.conn
	prev, prevUser := c.joined, c.user
	c.room = spaceID
	c.user = user
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if prev == spaceID && user == prevUser {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if prev != "" && prev != spaceID {
		err := c.sendOn(conn, protocol.MsgRoomLeave, protocol.LeavePayload{SpaceID: prev, SessionID: c.sessionID})
		if err != nil {
			return err
		}
	}
	c.log.Debug("joining room", "spaceId", spaceID, "userId", user.ID)
	return c.sendJoin(conn, spaceID, user)
}

func (c *Client) sendJoin(conn *websocket.Conn, spaceID string, user protocol.User) error {
	err := c.sendOn(conn, protocol.MsgRoomJoin, protocol.JoinPayload{
		SpaceID:   spaceID,
		SessionID: c.sessionID,
		User:      user,
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.conn == conn {
		c.joined = spaceID
	}
	c.mu.Unlock()
	return nil
}

// LeaveRoom leaves spaceID. While disconnected it returns ErrNotConnected
// and forgets spaceID so the next connect does not rejoin it.
func (c *Client) LeaveRoom(spaceID string) error {
	c.mu.Lock()
	conn := c.conn
	if c.room == spaceID {
		c.room = ""
	}
	if c.joined == spaceID {
		c.joined = ""
	}
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	return c.sendOn(conn, protocol.MsgRoomLeave, protocol.LeavePayload{SpaceID: spaceID, SessionID: c.sessionID})
}

// BroadcastStateChange sends state as a state:patch. The server relays it to
// the room this client is currently joined to; no acknowledgment is awaited.
func (c *Client) BroadcastStateChange(spaceID string, state any) error {
	c.mu.Lock()
	conn := c.conn
	room := c.room
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if room != spaceID {
		c.log.Debug("broadcast for a space other than the joined room", "spaceId", spaceID, "room", room)
	}
	return c.sendOn(conn, protocol.MsgStatePatch, state)
}

// Disconnect leaves the current room, closes the socket and cancels any
// pending reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	c.stopRetryLocked()
	conn := c.conn
	room := c.room
	c.conn = nil
	c.room = ""
	c.joined = ""
	c.selfID = ""
	c.attempts = 0
	if c.stopBeat != nil {
		c.stopBeat()
		c.stopBeat = nil
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if room != "" {
		if err := c.sendOn(conn, protocol.MsgRoomLeave, protocol.LeavePayload{SpaceID: room, SessionID: c.sessionID}); err != nil {
			c.log.Debug("leave on disconnect", "spaceId", room, "error", err)
		}
	}
	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()

	c.log.Info("realtime disconnected")
	c.emit(DisconnectEvent{})
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// CurrentRoom returns the joined space id. While disconnected it is the room
// the next successful connect joins.
func (c *Client) CurrentRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) SessionID() string { return c.sessionID }

// SelfID returns the socket id assigned by the server in its connection ack,
// or "" before the ack arrived.
func (c *Client) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *Client) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(conn, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Debug("ignoring frame", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg protocol.Message) {
	switch msg.Type {
	case protocol.MsgConnected:
		var p protocol.ConnectedPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			c.mu.Lock()
			c.selfID = p.ID
			c.mu.Unlock()
		}
	case protocol.MsgPresenceUpdate:
		var p protocol.PresenceUpdate
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.log.Warn("malformed presence:update", "error", err)
			return
		}
		c.emit(PresenceEvent{Update: p})
	case protocol.MsgStateBroadcast:
		c.emit(StateEvent{Payload: msg.Payload})
	}
}

// dropped handles the end of conn's read loop. Sockets closed by Disconnect
// or already replaced are ignored; anything else schedules a reconnect.
func (c *Client) dropped(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.joined = ""
	c.selfID = ""
	if c.stopBeat != nil {
		c.stopBeat()
		c.stopBeat = nil
	}
	scheduled := c.scheduleLocked()
	c.mu.Unlock()

	conn.Close()
	c.log.Warn("realtime connection lost", "error", cause, "reconnect", scheduled)
	c.emit(DisconnectEvent{Err: cause})
	if !scheduled {
		c.emit(ErrorEvent{Err: ErrReconnectExhausted, Terminal: true})
	}
}

// scheduleLocked arms the reconnect timer unless one is pending, the client
// was stopped or the attempt budget is spent. Caller must hold c.mu.
func (c *Client) scheduleLocked() bool {
	if c.stopped || c.attempts >= c.maxAttempts {
		return false
	}
	if c.retry != nil {
		return true
	}
	delay := backoff(c.baseDelay, c.maxDelay, c.attempts)
	c.retry = time.AfterFunc(delay, c.reconnect)
	c.log.Debug("reconnect scheduled", "attempt", c.attempts+1, "delay", delay)
	return true
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) reconnect() {
	c.mu.Lock()
	c.retry = nil
	if c.stopped || c.conn != nil || c.connecting {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	c.connecting = true
	c.mu.Unlock()

	err := c.open(context.Background(), true)
	if err == nil || errors.Is(err, errStopped) {
		return
	}

	c.mu.Lock()
	scheduled := c.scheduleLocked()
	stopped := c.stopped
	c.mu.Unlock()

	c.log.Warn("reconnect failed", "attempt", attempt, "error", err)
	switch {
	case stopped:
	case scheduled:
		c.emit(ErrorEvent{Err: err})
	default:
		c.log.Error("giving up on realtime connection", "attempts", attempt)
		c.emit(ErrorEvent{Err: fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, attempt, err), Terminal: true})
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ping, err := protocol.Encode(protocol.MsgPresencePing, nil)
	if err != nil {
		c.log.Error("encode presence:ping", "error", err)
		return
	}
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(conn, ping); err != nil {
				c.log.Debug("heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) sendOn(conn *websocket.Conn, t protocol.MessageType, payload any) error {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	if err := c.write(conn, data); err != nil {
		return fmt.Errorf("send %s: %w", t, err)
	}
	return nil
}

func (c *Client) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) emit(ev Event) {
	c.listeners.emit(c.log, ev)
}

// backoff returns base doubled attempt times, capped at limit.
func backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}
