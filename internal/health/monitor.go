package health

import (
	"sync"
	"time"

	"github.com/jbruns/curateur-sub000/internal/sched/pool"
	"github.com/jbruns/curateur-sub000/internal/sched/queue"
	"github.com/jbruns/curateur-sub000/internal/sched/ratelimit"
)

// ThrottleStats exposes per-endpoint governor state.
type ThrottleStats interface {
	StatsAll() map[string]ratelimit.Stats
}

// QueueStats exposes queue progress counters.
type QueueStats interface {
	Stats() queue.Stats
}

// PoolStats exposes pool occupancy.
type PoolStats interface {
	Stats() pool.Stats
}

// Monitor aggregates health status from the scheduling components.
type Monitor struct {
	throttle ThrottleStats
	queue    QueueStats
	pool     PoolStats

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *Report
}

// NewMonitor creates a new health monitor. Nil components are skipped.
func NewMonitor(throttle ThrottleStats, queue QueueStats, pool PoolStats) *Monitor {
	return &Monitor{
		throttle: throttle,
		queue:    queue,
		pool:     pool,
	}
}

// CheckHealth builds a snapshot of the current run state.
func (m *Monitor) CheckHealth() *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Serve the cached snapshot to bursts of pollers.
	if time.Since(m.lastCheck) < time.Second && m.lastReport != nil {
		return m.lastReport
	}

	report := &Report{
		SystemStatus: StatusHealthy,
		Endpoints:    make(map[string]EndpointHealth),
	}

	if m.throttle != nil {
		for name, st := range m.throttle.StatsAll() {
			ep := EndpointHealth{
				Endpoint:         name,
				Status:           StatusHealthy,
				WindowUsed:       st.InWindow,
				WindowLimit:      st.WindowLimit,
				InBackoff:        st.InBackoff,
				BackoffRemaining: st.BackoffRemaining.Seconds(),
				Overloads:        st.Overloads,
			}
			if st.InBackoff {
				ep.Status = StatusDegraded
			}
			// Multiplier 8 means three consecutive overloads without a
			// successful admission in between.
			if st.Multiplier >= 8 {
				ep.Status = StatusCritical
			}
			report.Endpoints[name] = ep
		}
	}
	if m.queue != nil {
		report.Queue = m.queue.Stats()
	}
	if m.pool != nil {
		report.Pool = m.pool.Stats()
	}

	// Aggregate status (worst case wins)
	for _, ep := range report.Endpoints {
		if ep.Status == StatusCritical {
			report.SystemStatus = StatusCritical
			break
		}
		if ep.Status == StatusDegraded {
			report.SystemStatus = StatusDegraded
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
