package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nippledipple/gemeinsam-einrichten/internal/config"
	"github.com/nippledipple/gemeinsam-einrichten/internal/presence"
	"github.com/nippledipple/gemeinsam-einrichten/internal/protocol"
	"github.com/nippledipple/gemeinsam-einrichten/internal/ws"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + ws.RealtimePath
}

// presenceServer runs a real hub behind the websocket transport. skew
// shifts the hub clock forward.
func presenceServer(t *testing.T) (*httptest.Server, *presence.Hub, *atomic.Int64) {
	t.Helper()
	skew := new(atomic.Int64)
	hub := presence.New(presence.Options{
		Logger: quietLogger(),
		Now:    func() time.Time { return time.Now().Add(time.Duration(skew.Load())) },
	})
	srv := httptest.NewServer(ws.NewServer(config.ServerConfig{}, hub, quietLogger()).Handler())
	t.Cleanup(srv.Close)
	return srv, hub, skew
}

func newTestClient(t *testing.T, url string, opts Options) *Client {
	t.Helper()
	opts.URL = url
	opts.Logger = quietLogger()
	if opts.ReconnectBaseDelay == 0 {
		opts.ReconnectBaseDelay = 10 * time.Millisecond
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 2 * time.Second
	}
	c := New(opts)
	t.Cleanup(c.Disconnect)
	return c
}

// recorder collects events of one type on a channel.
func recorder(c *Client, t EventType) <-chan Event {
	ch := make(chan Event, 32)
	c.On(t, func(ev Event) { ch <- ev })
	return ch
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func nextPresence(t *testing.T, ch <-chan Event) protocol.PresenceUpdate {
	t.Helper()
	return next(t, ch).(PresenceEvent).Update
}

func TestNewGeneratesSessionID(t *testing.T) {
	a := New(Options{Logger: quietLogger()})
	b := New(Options{Logger: quietLogger()})
	assert.True(t, strings.HasPrefix(a.SessionID(), "session_"))
	assert.NotEqual(t, a.SessionID(), b.SessionID())

	fixed := New(Options{SessionID: "session_fixed", Logger: quietLogger()})
	assert.Equal(t, "session_fixed", fixed.SessionID())
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(time.Second, 30*time.Second, tt.attempt); got != tt.want {
			t.Errorf("backoff(attempt=%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestOperationsRequireConnection(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/realtime", Logger: quietLogger()})
	assert.ErrorIs(t, c.JoinRoom("S1", protocol.User{ID: "u1"}), ErrNotConnected)
	assert.Equal(t, "S1", c.CurrentRoom())
	assert.ErrorIs(t, c.LeaveRoom("S1"), ErrNotConnected)
	assert.Equal(t, "", c.CurrentRoom())
	assert.ErrorIs(t, c.BroadcastStateChange("S1", map[string]any{}), ErrNotConnected)
	assert.False(t, c.IsConnected())
	c.Disconnect()
}

func TestConnectFailureEmitsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, wsURL(srv), Options{
		ReconnectBaseDelay:   5 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})
	errs := recorder(c, EventError)

	require.Error(t, c.Connect(context.Background()))
	ev := next(t, errs).(ErrorEvent)
	assert.False(t, ev.Terminal)

	assert.False(t, next(t, errs).(ErrorEvent).Terminal)
	last := next(t, errs).(ErrorEvent)
	assert.True(t, last.Terminal)
	assert.ErrorIs(t, last.Err, ErrReconnectExhausted)
	assert.False(t, c.IsConnected())
}

func TestConnectFailureRetriesUntilServerRecovers(t *testing.T) {
	var dials atomic.Int32
	hub := presence.New(presence.Options{Logger: quietLogger()})
	handler := ws.NewServer(config.ServerConfig{}, hub, quietLogger()).Handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dials.Add(1) == 1 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, wsURL(srv), Options{})
	connects := recorder(c, EventConnect)
	errs := recorder(c, EventError)

	assert.ErrorIs(t, c.JoinRoom("S1", protocol.User{ID: "u1"}), ErrNotConnected)
	require.Error(t, c.Connect(context.Background()))
	assert.False(t, next(t, errs).(ErrorEvent).Terminal)

	assert.True(t, next(t, connects).(ConnectEvent).Reconnect)
	assert.True(t, c.IsConnected())
	assert.EqualValues(t, 2, dials.Load())
	require.Eventually(t, func() bool { return hub.RoomSize("S1") == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestConnectAfterDisconnectDuringDial(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := newTestClient(t, wsURL(srv), Options{})
	first := make(chan error, 1)
	go func() { first <- c.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	c.Disconnect()
	assert.ErrorIs(t, c.Connect(context.Background()), ErrConnectInProgress)

	close(release)
	require.NoError(t, <-first)
	assert.True(t, c.IsConnected())
	assert.EqualValues(t, 1, hits.Load())
}

func TestConnectIsIdempotent(t *testing.T) {
	var upgrades, hits atomic.Int32
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgrades.Add(1)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := newTestClient(t, wsURL(srv), Options{})
	connects := recorder(c, EventConnect)

	first := make(chan error, 1)
	go func() { first <- c.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, c.Connect(context.Background()), ErrConnectInProgress)

	close(release)
	require.NoError(t, <-first)
	next(t, connects)

	assert.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	assert.EqualValues(t, 1, hits.Load())
	assert.EqualValues(t, 1, upgrades.Load())
}

func TestJoinRoomReceivesPresence(t *testing.T) {
	srv, _, _ := presenceServer(t)

	a := newTestClient(t, wsURL(srv), Options{})
	b := newTestClient(t, wsURL(srv), Options{})
	aPresence := recorder(a, EventPresence)
	bPresence := recorder(b, EventPresence)

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.JoinRoom("S1", protocol.User{ID: "ua", Name: "Anna"}))
	p := nextPresence(t, aPresence)
	assert.Equal(t, "S1", p.SpaceID)
	assert.Equal(t, 1, p.Count)
	assert.Equal(t, "ua", p.Users[0].UserID)

	require.NoError(t, b.Connect(context.Background()))
	require.NoError(t, b.JoinRoom("S1", protocol.User{ID: "ub", Name: "Ben"}))
	assert.Equal(t, 2, nextPresence(t, aPresence).Count)
	assert.Equal(t, 2, nextPresence(t, bPresence).Count)

	assert.Equal(t, "S1", a.CurrentRoom())
	require.Eventually(t, func() bool { return a.SelfID() != "" }, time.Second, 5*time.Millisecond)
}

func TestJoinRoomLeavesPrevious(t *testing.T) {
	srv, hub, _ := presenceServer(t)

	a := newTestClient(t, wsURL(srv), Options{})
	b := newTestClient(t, wsURL(srv), Options{})
	bPresence := recorder(b, EventPresence)
	aPresence := recorder(a, EventPresence)

	require.NoError(t, b.Connect(context.Background()))
	require.NoError(t, b.JoinRoom("A", protocol.User{ID: "ub"}))
	nextPresence(t, bPresence)

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.JoinRoom("A", protocol.User{ID: "ua"}))
	assert.Equal(t, 2, nextPresence(t, bPresence).Count)
	nextPresence(t, aPresence)

	require.NoError(t, a.JoinRoom("B", protocol.User{ID: "ua"}))
	assert.Equal(t, 1, nextPresence(t, bPresence).Count)
	p := nextPresence(t, aPresence)
	assert.Equal(t, "B", p.SpaceID)
	assert.Equal(t, 1, p.Count)
	assert.Equal(t, 1, hub.RoomSize("A"))
	assert.Equal(t, 1, hub.RoomSize("B"))
}

func TestLeaveRoomClearsCurrentRoom(t *testing.T) {
	srv, hub, _ := presenceServer(t)
	c := newTestClient(t, wsURL(srv), Options{})
	events := recorder(c, EventPresence)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.JoinRoom("S1", protocol.User{ID: "u1"}))
	nextPresence(t, events)

	require.NoError(t, c.LeaveRoom("other"))
	assert.Equal(t, "S1", c.CurrentRoom())

	require.NoError(t, c.LeaveRoom("S1"))
	assert.Equal(t, "", c.CurrentRoom())
	require.Eventually(t, func() bool { return hub.RoomSize("S1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestBroadcastStateChangeReachesPeers(t *testing.T) {
	srv, _, _ := presenceServer(t)

	a := newTestClient(t, wsURL(srv), Options{})
	b := newTestClient(t, wsURL(srv), Options{})
	aPresence := recorder(a, EventPresence)
	bPresence := recorder(b, EventPresence)
	aState := recorder(a, EventState)
	bState := recorder(b, EventState)

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, b.Connect(context.Background()))
	require.NoError(t, a.JoinRoom("S1", protocol.User{ID: "ua"}))
	nextPresence(t, aPresence)
	require.NoError(t, b.JoinRoom("S1", protocol.User{ID: "ub"}))
	nextPresence(t, bPresence)

	state := map[string]any{"items": []map[string]string{{"id": "x1"}}}
	require.NoError(t, a.BroadcastStateChange("S1", state))

	for _, ch := range []<-chan Event{aState, bState} {
		ev := next(t, ch).(StateEvent)
		assert.JSONEq(t, `{"items":[{"id":"x1"}]}`, string(ev.Payload))
	}
}

func TestHeartbeatSendsPresencePing(t *testing.T) {
	frames := make(chan protocol.Message, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msg, err := protocol.Decode(data); err == nil {
				frames <- msg
			}
		}
	}))
	defer srv.Close()

	c := newTestClient(t, wsURL(srv), Options{HeartbeatInterval: 20 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.JoinRoom("S1", protocol.User{ID: "u1", Name: "Uli"}))

	deadline := time.After(2 * time.Second)
	var sawJoin, sawPing bool
	for !sawJoin || !sawPing {
		select {
		case msg := <-frames:
			switch msg.Type {
			case protocol.MsgRoomJoin:
				var p protocol.JoinPayload
				require.NoError(t, json.Unmarshal(msg.Payload, &p))
				assert.Equal(t, c.SessionID(), p.SessionID)
				assert.Equal(t, protocol.User{ID: "u1", Name: "Uli"}, p.User)
				sawJoin = true
			case protocol.MsgPresencePing:
				assert.Empty(t, msg.Payload)
				sawPing = true
			}
		case <-deadline:
			t.Fatalf("join=%v ping=%v", sawJoin, sawPing)
		}
	}
}

func TestReconnectRejoinsRoom(t *testing.T) {
	srv, hub, skew := presenceServer(t)

	c := newTestClient(t, wsURL(srv), Options{})
	connects := recorder(c, EventConnect)
	disconnects := recorder(c, EventDisconnect)
	presenceEvents := recorder(c, EventPresence)

	require.NoError(t, c.Connect(context.Background()))
	assert.False(t, next(t, connects).(ConnectEvent).Reconnect)
	require.NoError(t, c.JoinRoom("S1", protocol.User{ID: "u1"}))
	nextPresence(t, presenceEvents)

	// Evicting the client closes its socket server side.
	skew.Store(int64(time.Minute))
	require.Equal(t, 1, hub.Sweep())
	skew.Store(0)

	assert.NotNil(t, next(t, disconnects).(DisconnectEvent).Err)
	assert.True(t, next(t, connects).(ConnectEvent).Reconnect)

	p := nextPresence(t, presenceEvents)
	assert.Equal(t, "S1", p.SpaceID)
	assert.Equal(t, 1, p.Count)
	assert.Equal(t, "S1", c.CurrentRoom())
	assert.True(t, c.IsConnected())
}

func TestJoinRoomWhileReconnecting(t *testing.T) {
	srv, hub, skew := presenceServer(t)

	c := newTestClient(t, wsURL(srv), Options{ReconnectBaseDelay: 150 * time.Millisecond})
	connects := recorder(c, EventConnect)
	disconnects := recorder(c, EventDisconnect)

	require.NoError(t, c.Connect(context.Background()))
	next(t, connects)
	require.NoError(t, c.JoinRoom("A", protocol.User{ID: "u1"}))
	require.Eventually(t, func() bool { return hub.RoomSize("A") == 1 }, time.Second, 5*time.Millisecond)

	skew.Store(int64(time.Minute))
	require.Equal(t, 1, hub.Sweep())
	skew.Store(0)
	next(t, disconnects)

	assert.ErrorIs(t, c.JoinRoom("B", protocol.User{ID: "u1"}), ErrNotConnected)
	assert.Equal(t, "B", c.CurrentRoom())

	assert.True(t, next(t, connects).(ConnectEvent).Reconnect)
	require.Eventually(t, func() bool { return hub.RoomSize("B") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.RoomSize("A"))

	// Joining the room the reconnect already joined sends nothing new.
	require.NoError(t, c.JoinRoom("B", protocol.User{ID: "u1"}))
	assert.Equal(t, 1, hub.RoomSize("B"))
}

func TestLeaveRoomWhileReconnecting(t *testing.T) {
	srv, hub, skew := presenceServer(t)

	c := newTestClient(t, wsURL(srv), Options{ReconnectBaseDelay: 150 * time.Millisecond})
	connects := recorder(c, EventConnect)
	disconnects := recorder(c, EventDisconnect)

	require.NoError(t, c.Connect(context.Background()))
	next(t, connects)
	require.NoError(t, c.JoinRoom("A", protocol.User{ID: "u1"}))
	require.Eventually(t, func() bool { return hub.RoomSize("A") == 1 }, time.Second, 5*time.Millisecond)

	skew.Store(int64(time.Minute))
	require.Equal(t, 1, hub.Sweep())
	skew.Store(0)
	next(t, disconnects)

	assert.ErrorIs(t, c.LeaveRoom("A"), ErrNotConnected)
	assert.True(t, next(t, connects).(ConnectEvent).Reconnect)

	time.Sleep(50 * time.Millisecond)
	_, clients := hub.Stats()
	assert.Equal(t, 1, clients)
	assert.Equal(t, 0, hub.RoomSize("A"))
	assert.Equal(t, "", c.CurrentRoom())
}

func TestReconnectGivesUp(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dials.Add(1) > 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	c := newTestClient(t, wsURL(srv), Options{
		ReconnectBaseDelay:   5 * time.Millisecond,
		ReconnectMaxDelay:    20 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})
	errs := recorder(c, EventError)

	require.NoError(t, c.Connect(context.Background()))

	first := next(t, errs).(ErrorEvent)
	assert.False(t, first.Terminal)
	last := next(t, errs).(ErrorEvent)
	assert.True(t, last.Terminal)
	assert.ErrorIs(t, last.Err, ErrReconnectExhausted)

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 3, dials.Load())
	assert.False(t, c.IsConnected())
}

func TestDisconnectLeavesRoomAndStopsReconnect(t *testing.T) {
	srv, hub, _ := presenceServer(t)

	a := newTestClient(t, wsURL(srv), Options{})
	connects := recorder(a, EventConnect)
	disconnects := recorder(a, EventDisconnect)
	events := recorder(a, EventPresence)

	require.NoError(t, a.Connect(context.Background()))
	next(t, connects)
	require.NoError(t, a.JoinRoom("S1", protocol.User{ID: "ua"}))
	nextPresence(t, events)

	a.Disconnect()
	assert.Nil(t, next(t, disconnects).(DisconnectEvent).Err)
	assert.False(t, a.IsConnected())
	assert.Equal(t, "", a.CurrentRoom())
	require.Eventually(t, func() bool {
		_, clients := hub.Stats()
		return clients == 0
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	select {
	case <-connects:
		t.Fatal("client reconnected after Disconnect")
	default:
	}
}

func TestListenerPanicDoesNotStopDelivery(t *testing.T) {
	var r registry
	var mu sync.Mutex
	var got []string

	r.add(EventState, func(Event) { panic("boom") })
	r.add(EventState, func(ev Event) {
		mu.Lock()
		got = append(got, string(ev.(StateEvent).Payload))
		mu.Unlock()
	})

	r.emit(quietLogger(), StateEvent{Payload: json.RawMessage(`{"a":1}`)})
	r.emit(quietLogger(), StateEvent{Payload: json.RawMessage(`{"a":2}`)})

	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, got)
}

func TestUnsubscribe(t *testing.T) {
	var r registry
	var calls atomic.Int32
	off := r.add(EventConnect, func(Event) { calls.Add(1) })
	r.add(EventDisconnect, func(Event) { calls.Add(100) })

	r.emit(quietLogger(), ConnectEvent{})
	off()
	off()
	r.emit(quietLogger(), ConnectEvent{})

	assert.EqualValues(t, 1, calls.Load())
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "presence:update", PresenceEvent{}.Type().String())
	assert.Equal(t, "state:broadcast", StateEvent{}.Type().String())
	assert.True(t, errors.Is(ErrorEvent{Err: ErrReconnectExhausted}.Err, ErrReconnectExhausted))
}
