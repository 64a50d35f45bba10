// Package presence tracks which connections are joined to which space room,
// evicts connections that stop heartbeating, and fans out presence and state
// frames to room members.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nippledipple/gemeinsam-einrichten/internal/protocol"
)

const (
	DefaultSweepInterval = 10 * time.Second
	DefaultTimeout       = 45 * time.Second
)

// ErrInvalidJoin is returned for join or leave payloads missing spaceId or
// sessionId.
var ErrInvalidJoin = errors.New("spaceId and sessionId are required")

// Conn is one live transport connection. Send must not block: it either
// queues the frame or returns an error.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// client is the presence record of one connection.
type client struct {
	conn      Conn
	spaceID   string
	sessionID string
	user      protocol.User
	joinedAt  time.Time
	lastSeen  time.Time
}

type Options struct {
	SweepInterval time.Duration
	Timeout       time.Duration
	Logger        *slog.Logger
	// Now overrides the clock used for lastSeen bookkeeping.
	Now func() time.Time
}

// Hub owns all membership state. Every mutation and the presence frame it
// causes are queued to member connections while mu is held, so no member
// can observe a count that disagrees with the membership set.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	rooms   map[string]map[string]*client

	sweepInterval time.Duration
	timeout       time.Duration
	now           func() time.Time
	log           *slog.Logger
}

func New(opts Options) *Hub {
	h := &Hub{
		clients:       make(map[string]*client),
		rooms:         make(map[string]map[string]*client),
		sweepInterval: opts.SweepInterval,
		timeout:       opts.Timeout,
		now:           opts.Now,
		log:           opts.Logger,
	}
	if h.sweepInterval <= 0 {
		h.sweepInterval = DefaultSweepInterval
	}
	if h.timeout <= 0 {
		h.timeout = DefaultTimeout
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	return h
}

// Connect registers a new connection and sends it the connection ack.
func (h *Hub) Connect(conn Conn) {
	now := h.now()
	ack, err := protocol.Encode(protocol.MsgConnected, protocol.ConnectedPayload{
		OK: true,
		TS: now.UTC(),
		ID: conn.ID(),
	})
	if err != nil {
		h.log.Error("encode ack", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn.ID()] = &client{conn: conn, lastSeen: now}
	count := len(h.clients)
	err = conn.Send(ack)
	h.mu.Unlock()

	h.log.Info("client connected", "clientId", conn.ID(), "clients", count)
	if err != nil {
		h.Disconnect(conn.ID())
	}
}

// Handle decodes one inbound frame and applies it. Malformed frames and
// unknown types are logged and dropped; the channel has no error path back
// to the sender.
func (h *Hub) Handle(conn Conn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		h.log.Warn("dropping frame", "clientId", conn.ID(), "error", err)
		return
	}

	switch msg.Type {
	case protocol.MsgRoomJoin:
		var p protocol.JoinPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.log.Warn("malformed room:join", "clientId", conn.ID(), "error", err)
			return
		}
		if err := h.Join(conn.ID(), p); err != nil {
			h.log.Warn("room:join ignored", "clientId", conn.ID(), "error", err)
		}
	case protocol.MsgRoomLeave:
		var p protocol.LeavePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.log.Warn("malformed room:leave", "clientId", conn.ID(), "error", err)
			return
		}
		if err := h.Leave(conn.ID(), p); err != nil {
			h.log.Warn("room:leave ignored", "clientId", conn.ID(), "error", err)
		}
	case protocol.MsgPresencePing:
		h.Ping(conn.ID())
	case protocol.MsgStatePatch:
		h.Patch(conn.ID(), msg.Payload)
	default:
		h.log.Debug("ignoring server-bound frame", "clientId", conn.ID(), "type", msg.Type)
	}
}

// Join moves the connection into the room for p.SpaceID, leaving its
// previous room first, and broadcasts presence to both rooms.
func (h *Hub) Join(id string, p protocol.JoinPayload) error {
	if p.SpaceID == "" || p.SessionID == "" {
		return ErrInvalidJoin
	}

	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("client %s not connected", id)
	}

	now := h.now()
	var failed []string
	if c.spaceID != "" && c.spaceID != p.SpaceID {
		prev := c.spaceID
		h.removeFromRoomLocked(c)
		failed = append(failed, h.broadcastPresenceLocked(prev)...)
	}
	if c.spaceID != p.SpaceID {
		c.joinedAt = now
	}
	c.spaceID = p.SpaceID
	c.sessionID = p.SessionID
	c.user = p.User
	c.lastSeen = now

	room, ok := h.rooms[p.SpaceID]
	if !ok {
		room = make(map[string]*client)
		h.rooms[p.SpaceID] = room
	}
	room[id] = c
	count := len(room)
	failed = append(failed, h.broadcastPresenceLocked(p.SpaceID)...)
	h.mu.Unlock()

	h.log.Info("room joined", "clientId", id, "spaceId", p.SpaceID, "sessionId", p.SessionID, "count", count)
	h.dropFailed(failed)
	return nil
}

// Leave removes the connection from the room for p.SpaceID. Leaving a room
// the connection is not in is a no-op.
func (h *Hub) Leave(id string, p protocol.LeavePayload) error {
	if p.SpaceID == "" || p.SessionID == "" {
		return ErrInvalidJoin
	}

	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok || c.spaceID != p.SpaceID {
		h.mu.Unlock()
		return nil
	}
	c.lastSeen = h.now()
	h.removeFromRoomLocked(c)
	failed := h.broadcastPresenceLocked(p.SpaceID)
	h.mu.Unlock()

	h.log.Info("room left", "clientId", id, "spaceId", p.SpaceID)
	h.dropFailed(failed)
	return nil
}

// Ping refreshes the liveness timestamp of the connection.
func (h *Hub) Ping(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		c.lastSeen = h.now()
	}
}

// Patch relays payload verbatim as state:broadcast to every member of the
// sender's current room, the sender included. Senders outside any room are
// ignored.
func (h *Hub) Patch(id string, payload json.RawMessage) {
	frame, err := protocol.EncodeRaw(protocol.MsgStateBroadcast, payload)
	if err != nil {
		h.log.Warn("encode state:broadcast", "clientId", id, "error", err)
		return
	}

	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok || c.spaceID == "" {
		h.mu.Unlock()
		h.log.Debug("state:patch outside a room dropped", "clientId", id)
		return
	}
	c.lastSeen = h.now()
	failed := h.sendRoomLocked(c.spaceID, frame)
	spaceID := c.spaceID
	h.mu.Unlock()

	h.log.Debug("state relayed", "clientId", id, "spaceId", spaceID, "bytes", len(payload))
	h.dropFailed(failed)
}

// Disconnect performs an implicit leave and forgets the connection.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	failed, ok := h.forgetLocked(id)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.log.Info("client disconnected", "clientId", id)
	h.dropFailed(failed)
}

// Sweep evicts every connection whose lastSeen is older than the timeout
// and closes its transport. It returns the number of evicted connections.
func (h *Hub) Sweep() int {
	cutoff := h.now().Add(-h.timeout)

	h.mu.Lock()
	var stale []*client
	for _, c := range h.clients {
		if c.lastSeen.Before(cutoff) {
			h.log.Info("presence timeout", "clientId", c.conn.ID(), "spaceId", c.spaceID, "lastSeen", c.lastSeen)
			stale = append(stale, c)
		}
	}
	var failed []string
	for _, c := range stale {
		f, _ := h.forgetLocked(c.conn.ID())
		failed = append(failed, f...)
	}
	h.mu.Unlock()

	for _, c := range stale {
		if err := c.conn.Close(); err != nil {
			h.log.Debug("close evicted conn", "clientId", c.conn.ID(), "error", err)
		}
	}
	h.dropFailed(failed)
	return len(stale)
}

// Run sweeps on the configured interval until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Stats reports the number of non-empty rooms and connected clients.
func (h *Hub) Stats() (rooms, clients int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms), len(h.clients)
}

// RoomSize returns the number of members in the room for spaceID.
func (h *Hub) RoomSize(spaceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[spaceID])
}

func (h *Hub) forgetLocked(id string) ([]string, bool) {
	c, ok := h.clients[id]
	if !ok {
		return nil, false
	}
	delete(h.clients, id)
	if c.spaceID == "" {
		return nil, true
	}
	spaceID := c.spaceID
	h.removeFromRoomLocked(c)
	return h.broadcastPresenceLocked(spaceID), true
}

// removeFromRoomLocked drops c from its room and deletes the room once it
// is empty. Caller must hold h.mu.
func (h *Hub) removeFromRoomLocked(c *client) {
	room, ok := h.rooms[c.spaceID]
	if ok {
		delete(room, c.conn.ID())
		if len(room) == 0 {
			delete(h.rooms, c.spaceID)
		}
	}
	c.spaceID = ""
	c.sessionID = ""
}

// broadcastPresenceLocked sends the current membership of spaceID to all of
// its members. Caller must hold h.mu.
func (h *Hub) broadcastPresenceLocked(spaceID string) []string {
	room := h.rooms[spaceID]
	if len(room) == 0 {
		return nil
	}

	update := protocol.PresenceUpdate{
		SpaceID: spaceID,
		Count:   len(room),
		Users:   make([]protocol.Member, 0, len(room)),
	}
	for id, c := range room {
		update.Users = append(update.Users, protocol.Member{
			ID:       id,
			UserID:   c.user.ID,
			Name:     c.user.Name,
			JoinedAt: c.joinedAt.UTC(),
		})
	}
	sort.Slice(update.Users, func(i, j int) bool {
		a, b := update.Users[i], update.Users[j]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID < b.ID
	})

	frame, err := protocol.Encode(protocol.MsgPresenceUpdate, update)
	if err != nil {
		h.log.Error("encode presence:update", "spaceId", spaceID, "error", err)
		return nil
	}
	return h.sendRoomLocked(spaceID, frame)
}

// sendRoomLocked queues frame on every member of spaceID and returns the
// ids whose send buffer rejected it. Caller must hold h.mu.
func (h *Hub) sendRoomLocked(spaceID string, frame []byte) []string {
	var failed []string
	for id, c := range h.rooms[spaceID] {
		if err := c.conn.Send(frame); err != nil {
			failed = append(failed, id)
		}
	}
	return failed
}

// dropFailed disconnects connections that could not keep up. Each drop can
// fail further sends, so it runs until no failures remain.
func (h *Hub) dropFailed(ids []string) {
	for len(ids) > 0 {
		id := ids[0]
		ids = ids[1:]

		h.mu.Lock()
		c, ok := h.clients[id]
		var failed []string
		if ok {
			failed, _ = h.forgetLocked(id)
		}
		h.mu.Unlock()
		if !ok {
			continue
		}

		h.log.Warn("client too slow, disconnecting", "clientId", id)
		c.conn.Close()
		ids = append(ids, failed...)
	}
}
