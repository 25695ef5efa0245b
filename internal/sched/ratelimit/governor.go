// Package ratelimit paces calls to the lookup service.
//
// This package contains:
//   - Governor: per-endpoint sliding-window admission with adaptive backoff
//   - Stats: per-endpoint usage statistics for the stats server
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jbruns/curateur-sub000/internal/sched/metrics"
)

// Config holds rate limiting configuration. Limits apply per endpoint.
type Config struct {
	CallsPerWindow  int
	Window          time.Duration
	AdaptiveBackoff bool
	DefaultBackoff  time.Duration
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	CallsPerWindow:  30,
	Window:          60 * time.Second,
	AdaptiveBackoff: true,
	DefaultBackoff:  60 * time.Second,
}

// Stats holds admission statistics for one endpoint.
type Stats struct {
	Endpoint         string        `json:"endpoint"`
	InWindow         int           `json:"in_window"`
	WindowLimit      int           `json:"window_limit"`
	Window           time.Duration `json:"window"`
	Admitted         uint64        `json:"admitted"`
	Overloads        int           `json:"overloads"`
	TotalWait        time.Duration `json:"total_wait"`
	InBackoff        bool          `json:"in_backoff"`
	BackoffRemaining time.Duration `json:"backoff_remaining"`
	Multiplier       float64       `json:"multiplier"`
}

// endpointState tracks one endpoint's window and backoff. Each endpoint has
// its own lock so a suspended endpoint never blocks admission on another.
type endpointState struct {
	mu sync.Mutex

	window       []time.Time
	backoffUntil time.Time
	multiplier   float64

	admitted  uint64
	overloads int
	totalWait time.Duration
}

// Governor enforces a sliding-window call budget per endpoint and backs off
// multiplicatively when the service reports overload.
type Governor struct {
	cfg Config
	log *slog.Logger

	mu        sync.RWMutex // guards the endpoints map only
	endpoints map[string]*endpointState
}

// New creates a governor with the given config.
func New(cfg Config, log *slog.Logger) *Governor {
	if cfg.CallsPerWindow <= 0 {
		cfg.CallsPerWindow = DefaultConfig.CallsPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig.Window
	}
	if cfg.DefaultBackoff <= 0 {
		cfg.DefaultBackoff = DefaultConfig.DefaultBackoff
	}
	if log == nil {
		log = slog.Default()
	}
	return &Governor{
		cfg:       cfg,
		log:       log,
		endpoints: make(map[string]*endpointState),
	}
}

// Admit blocks until a call to endpoint is allowed under the sliding window
// and any active backoff, then records the call. It returns the total time
// spent waiting. The recorded window never exceeds CallsPerWindow entries
// inside any trailing Window.
func (g *Governor) Admit(ctx context.Context, endpoint string) (time.Duration, error) {
	st := g.state(endpoint)

	var waited time.Duration
	for {
		st.mu.Lock()
		now := time.Now()

		// Active backoff suspends all admission on this endpoint.
		if remaining := st.backoffUntil.Sub(now); remaining > 0 {
			st.mu.Unlock()
			if err := sleepCtx(ctx, remaining); err != nil {
				return waited, err
			}
			waited += remaining
			continue
		}

		st.pruneUnsafe(now, g.cfg.Window)
		if len(st.window) < g.cfg.CallsPerWindow {
			st.window = append(st.window, now)
			st.admitted++
			st.totalWait += waited
			// A successful admission after backoff ends the overload
			// streak.
			if st.multiplier > 1 {
				st.multiplier = 1
			}
			st.backoffUntil = time.Time{}
			st.mu.Unlock()
			if waited > 0 {
				metrics.RateLimitWait.WithLabelValues(endpoint).Observe(waited.Seconds())
				g.log.Debug("admission delayed", "endpoint", endpoint, "waited", waited)
			}
			return waited, nil
		}

		// Window full: wait for the oldest entry to age out, then
		// re-check. Concurrent admits racing for the freed slot loop
		// again, so the ceiling holds.
		wait := st.window[0].Add(g.cfg.Window).Sub(now)
		st.mu.Unlock()
		if wait <= 0 {
			continue
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

// SignalOverload records that the service rejected a call on endpoint for
// load reasons. With adaptive backoff enabled it suspends the endpoint for
// retryAfter (or DefaultBackoff when no hint is given) times the current
// multiplier, doubles the multiplier for the next consecutive overload, and
// clears the recorded window so traffic resumes conservatively.
func (g *Governor) SignalOverload(endpoint string, retryAfter time.Duration) {
	st := g.state(endpoint)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.overloads++
	metrics.RateLimitOverloads.WithLabelValues(endpoint).Inc()

	if !g.cfg.AdaptiveBackoff {
		g.log.Debug("overload signaled, adaptive backoff disabled", "endpoint", endpoint)
		return
	}

	if st.multiplier < 1 {
		st.multiplier = 1
	}
	base := retryAfter
	if base <= 0 {
		base = g.cfg.DefaultBackoff
	}
	backoff := time.Duration(float64(base) * st.multiplier)
	st.backoffUntil = time.Now().Add(backoff)
	st.multiplier *= 2
	st.window = st.window[:0]

	g.log.Warn("endpoint overloaded, backing off",
		"endpoint", endpoint,
		"backoff", backoff,
		"overloads", st.overloads)
}

// Stats returns current statistics for one endpoint.
func (g *Governor) Stats(endpoint string) Stats {
	st := g.state(endpoint)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.pruneUnsafe(now, g.cfg.Window)

	mult := st.multiplier
	if mult < 1 {
		mult = 1
	}
	s := Stats{
		Endpoint:    endpoint,
		InWindow:    len(st.window),
		WindowLimit: g.cfg.CallsPerWindow,
		Window:      g.cfg.Window,
		Admitted:    st.admitted,
		Overloads:   st.overloads,
		TotalWait:   st.totalWait,
		Multiplier:  mult,
	}
	if remaining := st.backoffUntil.Sub(now); remaining > 0 {
		s.InBackoff = true
		s.BackoffRemaining = remaining
	}
	return s
}

// StatsAll returns statistics for every endpoint seen so far.
func (g *Governor) StatsAll() map[string]Stats {
	g.mu.RLock()
	names := make([]string, 0, len(g.endpoints))
	for name := range g.endpoints {
		names = append(names, name)
	}
	g.mu.RUnlock()

	out := make(map[string]Stats, len(names))
	for _, name := range names {
		out[name] = g.Stats(name)
	}
	return out
}

func (g *Governor) state(endpoint string) *endpointState {
	g.mu.RLock()
	st, ok := g.endpoints[endpoint]
	g.mu.RUnlock()
	if ok {
		return st
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok = g.endpoints[endpoint]; ok {
		return st
	}
	st = &endpointState{multiplier: 1}
	g.endpoints[endpoint] = st
	return st
}

// pruneUnsafe drops window entries older than the trailing window. Caller
// must hold st.mu.
func (st *endpointState) pruneUnsafe(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(st.window) && !st.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		st.window = append(st.window[:0], st.window[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
