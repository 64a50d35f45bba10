package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultStreakThreshold = 2
)

type StabilizerOptions struct {
	// Probe is evaluated once per tick.
	Probe     func(ctx context.Context) bool
	Interval  time.Duration
	Threshold int
	// OnChange is called after every flip of the online flag.
	OnChange func(online bool)
	Logger   *slog.Logger
}

// Stabilizer flips its online flag only after Threshold consecutive
// agreeing observations. It starts offline.
type Stabilizer struct {
	probe     func(ctx context.Context) bool
	interval  time.Duration
	threshold int
	onChange  func(online bool)
	log       *slog.Logger

	mu         sync.Mutex
	online     bool
	okStreak   int
	failStreak int
}

func NewStabilizer(opts StabilizerOptions) *Stabilizer {
	s := &Stabilizer{
		probe:     opts.Probe,
		interval:  opts.Interval,
		threshold: opts.Threshold,
		onChange:  opts.OnChange,
		log:       opts.Logger,
	}
	if s.interval <= 0 {
		s.interval = DefaultPollInterval
	}
	if s.threshold < 1 {
		s.threshold = DefaultStreakThreshold
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Observe feeds one probe result and reports whether it flipped the online
// flag. OnChange runs after the state lock is released; callers other than
// Run must serialise Observe themselves to keep notifications ordered.
func (s *Stabilizer) Observe(ok bool) bool {
	s.mu.Lock()
	changed := false
	if ok {
		s.okStreak++
		s.failStreak = 0
		if !s.online && s.okStreak >= s.threshold {
			s.online = true
			changed = true
		}
	} else {
		s.failStreak++
		s.okStreak = 0
		if s.online && s.failStreak >= s.threshold {
			s.online = false
			changed = true
		}
	}
	online := s.online
	s.mu.Unlock()

	if changed {
		s.log.Info("connectivity changed", "online", online)
		if s.onChange != nil {
			s.onChange(online)
		}
	}
	return changed
}

func (s *Stabilizer) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Check runs the probe once and observes the result.
func (s *Stabilizer) Check(ctx context.Context) bool {
	return s.Observe(s.probe(ctx))
}

// Run checks immediately and then once per interval until ctx is
// cancelled. Checks never overlap.
func (s *Stabilizer) Run(ctx context.Context) {
	s.Check(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}
