// Package health provides run health monitoring and status reporting.
package health

import (
	"github.com/jbruns/curateur-sub000/internal/sched/pool"
	"github.com/jbruns/curateur-sub000/internal/sched/queue"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// EndpointHealth contains throttle health for one service endpoint.
type EndpointHealth struct {
	Endpoint         string       `json:"endpoint"`
	Status           SystemStatus `json:"status"`
	WindowUsed       int          `json:"window_used"`
	WindowLimit      int          `json:"window_limit"`
	InBackoff        bool         `json:"in_backoff"`
	BackoffRemaining float64      `json:"backoff_remaining_seconds"`
	Overloads        int          `json:"overloads"`
}

// Report contains the full system snapshot served by the stats server.
type Report struct {
	SystemStatus SystemStatus              `json:"system_status"`
	Endpoints    map[string]EndpointHealth `json:"endpoints"`
	Queue        queue.Stats               `json:"queue"`
	Pool         pool.Stats                `json:"pool"`
}
