// Package connectivity turns noisy network signals into a debounced online
// flag: a Prober combines OS reachability with an HTTP health probe, and a
// Stabilizer applies streak hysteresis to the probe results.
package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
)

const DefaultProbeTimeout = 3 * time.Second

// Reachability reports whether the OS considers the network usable.
type Reachability func(ctx context.Context) bool

// InterfaceReachability is true when at least one non-loopback interface is
// up and carries an address. An error listing interfaces counts as
// reachable; the HTTP probe has the final say.
func InterfaceReachability(ctx context.Context) bool {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return true
	}
	return hasUsableInterface(ifaces)
}

func hasUsableInterface(ifaces psnet.InterfaceStatList) bool {
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		if len(iface.Addrs) > 0 {
			return true
		}
	}
	return false
}

type ProberOptions struct {
	HealthURL string
	Timeout   time.Duration
	// Reachable defaults to InterfaceReachability.
	Reachable Reachability
	Client    *http.Client
	Logger    *slog.Logger
}

// Prober runs at most one probe at a time.
type Prober struct {
	url       string
	timeout   time.Duration
	reachable Reachability
	client    *http.Client
	log       *slog.Logger

	inFlight atomic.Bool
}

func NewProber(opts ProberOptions) *Prober {
	p := &Prober{
		url:       opts.HealthURL,
		timeout:   opts.Timeout,
		reachable: opts.Reachable,
		client:    opts.Client,
		log:       opts.Logger,
	}
	if p.timeout <= 0 {
		p.timeout = DefaultProbeTimeout
	}
	if p.reachable == nil {
		p.reachable = InterfaceReachability
	}
	if p.client == nil {
		p.client = &http.Client{}
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Probe reports whether the network is reachable and the health endpoint
// answered 2xx within the timeout. A call that overlaps a running probe
// returns false at once.
func (p *Prober) Probe(ctx context.Context) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.log.Debug("probe already in flight")
		return false
	}
	defer p.inFlight.Store(false)

	if !p.reachable(ctx) {
		p.log.Debug("network unreachable")
		return false
	}
	return p.ping(ctx)
}

func (p *Prober) ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.log.Warn("health probe request", "url", p.url, "error", err)
		return false
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("health probe failed", "url", p.url, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
