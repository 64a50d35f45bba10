package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func alwaysReachable(context.Context) bool { return true }

func TestStabilizerHysteresis(t *testing.T) {
	var flips []bool
	s := NewStabilizer(StabilizerOptions{
		Threshold: 2,
		OnChange:  func(online bool) { flips = append(flips, online) },
		Logger:    quietLogger(),
	})

	seq := []bool{false, true, false, true, true, true}
	var changedAt []int
	for i, ok := range seq {
		if s.Observe(ok) {
			changedAt = append(changedAt, i)
		}
	}

	if len(flips) != 1 || !flips[0] {
		t.Fatalf("flips = %v, want exactly [true]", flips)
	}
	if len(changedAt) != 1 || changedAt[0] != 4 {
		t.Errorf("changed at %v, want [4]", changedAt)
	}
	if !s.Online() {
		t.Error("Online() = false after stable ok streak")
	}
}

func TestStabilizerGoesOfflineAfterStreak(t *testing.T) {
	var flips []bool
	s := NewStabilizer(StabilizerOptions{
		Threshold: 2,
		OnChange:  func(online bool) { flips = append(flips, online) },
		Logger:    quietLogger(),
	})

	for _, ok := range []bool{true, true, false, true, false, false, false} {
		s.Observe(ok)
	}

	want := []bool{true, false}
	if len(flips) != len(want) {
		t.Fatalf("flips = %v, want %v", flips, want)
	}
	for i := range want {
		if flips[i] != want[i] {
			t.Fatalf("flips = %v, want %v", flips, want)
		}
	}
	if s.Online() {
		t.Error("Online() = true after fail streak")
	}
}

func TestStabilizerThresholdOne(t *testing.T) {
	calls := 0
	s := NewStabilizer(StabilizerOptions{Threshold: 1, OnChange: func(bool) { calls++ }, Logger: quietLogger()})
	s.Observe(true)
	s.Observe(false)
	s.Observe(false)
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestStabilizerRunChecksImmediately(t *testing.T) {
	var probes atomic.Int32
	changed := make(chan bool, 4)
	s := NewStabilizer(StabilizerOptions{
		Probe: func(context.Context) bool {
			probes.Add(1)
			return true
		},
		Interval:  10 * time.Millisecond,
		Threshold: 2,
		OnChange:  func(online bool) { changed <- online },
		Logger:    quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case online := <-changed:
		if !online {
			t.Fatal("first change should be online")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stabilizer never went online")
	}
	cancel()
	<-done

	if n := probes.Load(); n < 2 {
		t.Errorf("probes = %d, want at least 2", n)
	}
}

func TestProberHealthy(t *testing.T) {
	cacheControl := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cacheControl <- r.Header.Get("Cache-Control")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	p := NewProber(ProberOptions{HealthURL: srv.URL + "/healthz", Reachable: alwaysReachable, Logger: quietLogger()})
	if !p.Probe(context.Background()) {
		t.Fatal("Probe() = false against healthy server")
	}
	if got := <-cacheControl; got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestProberFailures(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	tests := []struct {
		name      string
		url       string
		reachable Reachability
	}{
		{"server error", failing.URL, alwaysReachable},
		{"timeout", slow.URL, alwaysReachable},
		{"unreachable network", failing.URL, func(context.Context) bool { return false }},
		{"bad url", "://nope", alwaysReachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProber(ProberOptions{
				HealthURL: tt.url,
				Timeout:   50 * time.Millisecond,
				Reachable: tt.reachable,
				Logger:    quietLogger(),
			})
			start := time.Now()
			if p.Probe(context.Background()) {
				t.Error("Probe() = true, want false")
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("Probe() took %s, timeout not applied", elapsed)
			}
		})
	}
}

func TestProberRejectsOverlap(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() { close(entered) })
		<-release
	}))
	defer srv.Close()

	p := NewProber(ProberOptions{HealthURL: srv.URL, Timeout: 5 * time.Second, Reachable: alwaysReachable, Logger: quietLogger()})

	first := make(chan bool, 1)
	go func() { first <- p.Probe(context.Background()) }()
	<-entered

	if p.Probe(context.Background()) {
		t.Error("overlapping Probe() = true, want false")
	}
	close(release)
	if !<-first {
		t.Error("first Probe() = false, want true")
	}
	if p.inFlight.Load() {
		t.Error("in-flight guard not released")
	}
}

func TestHasUsableInterface(t *testing.T) {
	up := psnet.InterfaceStat{Name: "eth0", Flags: []string{"up", "broadcast"}, Addrs: psnet.InterfaceAddrList{{Addr: "192.168.1.5/24"}}}
	loopback := psnet.InterfaceStat{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}}
	down := psnet.InterfaceStat{Name: "eth1", Flags: []string{"broadcast"}, Addrs: psnet.InterfaceAddrList{{Addr: "10.0.0.2/8"}}}
	noAddr := psnet.InterfaceStat{Name: "wlan0", Flags: []string{"up"}}

	tests := []struct {
		name   string
		ifaces psnet.InterfaceStatList
		want   bool
	}{
		{"none", nil, false},
		{"loopback only", psnet.InterfaceStatList{loopback}, false},
		{"down and unaddressed", psnet.InterfaceStatList{down, noAddr}, false},
		{"usable", psnet.InterfaceStatList{loopback, up}, true},
	}
	for _, tt := range tests {
		if got := hasUsableInterface(tt.ifaces); got != tt.want {
			t.Errorf("%s: hasUsableInterface = %v, want %v", tt.name, got, tt.want)
		}
	}
}
