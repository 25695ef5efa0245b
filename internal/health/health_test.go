package health

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jbruns/curateur-sub000/internal/sched/pool"
	"github.com/jbruns/curateur-sub000/internal/sched/queue"
	"github.com/jbruns/curateur-sub000/internal/sched/ratelimit"
)

// =============================================================================
// Mocks
// =============================================================================

type stubThrottle struct {
	stats map[string]ratelimit.Stats
}

func (s *stubThrottle) StatsAll() map[string]ratelimit.Stats { return s.stats }

type stubQueue struct {
	stats queue.Stats
}

func (s *stubQueue) Stats() queue.Stats { return s.stats }

type stubPool struct {
	stats pool.Stats
}

func (s *stubPool) Stats() pool.Stats { return s.stats }

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_Healthy(t *testing.T) {
	monitor := NewMonitor(
		&stubThrottle{stats: map[string]ratelimit.Stats{
			"gameinfo": {Endpoint: "gameinfo", InWindow: 5, WindowLimit: 30, Multiplier: 1},
		}},
		&stubQueue{stats: queue.Stats{Pending: 3}},
		&stubPool{stats: pool.Stats{Running: true, Budget: 4, InFlight: 2}},
	)

	report := monitor.CheckHealth()

	if report.SystemStatus != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.SystemStatus)
	}
	if report.Endpoints["gameinfo"].WindowUsed != 5 {
		t.Errorf("window usage not reported: %+v", report.Endpoints["gameinfo"])
	}
	if report.Pool.Budget != 4 {
		t.Errorf("pool stats not reported: %+v", report.Pool)
	}
}

func TestMonitor_Degraded(t *testing.T) {
	monitor := NewMonitor(
		&stubThrottle{stats: map[string]ratelimit.Stats{
			"gameinfo": {Endpoint: "gameinfo", InBackoff: true, BackoffRemaining: 30 * time.Second, Multiplier: 2},
			"media":    {Endpoint: "media", Multiplier: 1},
		}},
		nil,
		nil,
	)

	report := monitor.CheckHealth()

	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.SystemStatus)
	}
	if report.Endpoints["media"].Status != StatusHealthy {
		t.Errorf("unaffected endpoint should stay healthy, got %s", report.Endpoints["media"].Status)
	}
}

func TestMonitor_Critical(t *testing.T) {
	monitor := NewMonitor(
		&stubThrottle{stats: map[string]ratelimit.Stats{
			"gameinfo": {Endpoint: "gameinfo", InBackoff: true, Overloads: 3, Multiplier: 8},
		}},
		nil,
		nil,
	)

	report := monitor.CheckHealth()

	if report.SystemStatus != StatusCritical {
		t.Errorf("expected critical, got %s", report.SystemStatus)
	}
}

func TestServer_Health(t *testing.T) {
	monitor := NewMonitor(
		&stubThrottle{stats: map[string]ratelimit.Stats{
			"gameinfo": {Endpoint: "gameinfo", Multiplier: 1},
		}},
		nil,
		nil,
	)
	server := NewServer(monitor, 0)

	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != 200 {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", body["status"])
	}
}

func TestServer_HealthCritical(t *testing.T) {
	monitor := NewMonitor(
		&stubThrottle{stats: map[string]ratelimit.Stats{
			"gameinfo": {Endpoint: "gameinfo", InBackoff: true, Multiplier: 16},
		}},
		nil,
		nil,
	)
	server := NewServer(monitor, 0)

	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != 503 {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestServer_Stats(t *testing.T) {
	monitor := NewMonitor(
		&stubThrottle{stats: map[string]ratelimit.Stats{
			"profile": {Endpoint: "profile", InWindow: 1, WindowLimit: 30, Multiplier: 1},
		}},
		&stubQueue{stats: queue.Stats{Pending: 7, Processed: 2}},
		&stubPool{stats: pool.Stats{Running: true, Budget: 4}},
	)
	server := NewServer(monitor, 0)

	rec := httptest.NewRecorder()
	server.handleStats(rec, httptest.NewRequest("GET", "/stats", nil))

	if rec.Code != 200 {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Queue.Pending != 7 {
		t.Errorf("queue stats not served: %+v", report.Queue)
	}
	if report.Endpoints["profile"].WindowLimit != 30 {
		t.Errorf("endpoint stats not served: %+v", report.Endpoints)
	}
}
