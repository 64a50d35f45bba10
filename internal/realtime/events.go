package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nippledipple/gemeinsam-einrichten/internal/protocol"
)

// EventType names a class of local client event.
type EventType int

const (
	EventConnect EventType = iota
	EventDisconnect
	EventError
	EventPresence
	EventState
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventError:
		return "error"
	case EventPresence:
		return "presence:update"
	case EventState:
		return "state:broadcast"
	default:
		return "unknown"
	}
}

// Event is one of ConnectEvent, DisconnectEvent, ErrorEvent, PresenceEvent
// or StateEvent.
type Event interface {
	Type() EventType
}

// ConnectEvent is emitted after a socket opens, including automatic
// reconnects.
type ConnectEvent struct {
	Reconnect bool
}

// DisconnectEvent is emitted when the socket closes. Err is nil for an
// explicit Disconnect.
type DisconnectEvent struct {
	Err error
}

// ErrorEvent reports a failed connect. Terminal is set once automatic
// reconnection has given up.
type ErrorEvent struct {
	Err      error
	Terminal bool
}

type PresenceEvent struct {
	Update protocol.PresenceUpdate
}

// StateEvent carries a state:broadcast payload exactly as received.
type StateEvent struct {
	Payload json.RawMessage
}

func (ConnectEvent) Type() EventType    { return EventConnect }
func (DisconnectEvent) Type() EventType { return EventDisconnect }
func (ErrorEvent) Type() EventType      { return EventError }
func (PresenceEvent) Type() EventType   { return EventPresence }
func (StateEvent) Type() EventType      { return EventState }

// Listener receives events of the type it was registered for.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// registry keeps listeners per event type in registration order.
type registry struct {
	mu     sync.Mutex
	nextID int
	byType map[EventType][]listenerEntry
}

func (r *registry) add(t EventType, fn Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byType == nil {
		r.byType = make(map[EventType][]listenerEntry)
	}
	r.nextID++
	id := r.nextID
	r.byType[t] = append(r.byType[t], listenerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(t, id) })
	}
}

func (r *registry) remove(t EventType, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.byType[t]
	for i, e := range entries {
		if e.id == id {
			r.byType[t] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// emit calls every listener for ev's type outside the lock. A panicking
// listener is logged and skipped.
func (r *registry) emit(log *slog.Logger, ev Event) {
	r.mu.Lock()
	entries := append([]listenerEntry(nil), r.byType[ev.Type()]...)
	r.mu.Unlock()

	for _, e := range entries {
		call(log, e.fn, ev)
	}
}

func call(log *slog.Logger, fn Listener, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("realtime listener panicked", "event", ev.Type().String(), "panic", rec)
		}
	}()
	fn(ev)
}
