// health.go - Component health checks served at /healthz.

package main

import (
	"sync"
	"time"
)

// HealthStatus of a component or the whole system.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is one probe result.
type ComponentHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LastCheck time.Time    `json:"last_check"`
}

// SystemHealth is the /healthz response body.
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Uptime        string            `json:"uptime"`
	Components    []ComponentHealth `json:"components"`
}

// HealthChecker runs registered probes on demand.
type HealthChecker struct {
	mu        sync.Mutex
	startTime time.Time
	names     []string
	probes    map[string]func() error
}

// NewHealthChecker creates an empty checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		probes:    make(map[string]func() error),
	}
}

// Register adds a named probe. Probe order is the registration order.
func (hc *HealthChecker) Register(name string, probe func() error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if _, ok := hc.probes[name]; !ok {
		hc.names = append(hc.names, name)
	}
	hc.probes[name] = probe
}

// Check runs all probes and aggregates the result.
func (hc *HealthChecker) Check() SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	now := time.Now()
	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.names))
	for _, name := range hc.names {
		ch := ComponentHealth{Name: name, Status: Healthy, LastCheck: now}
		if err := hc.probes[name](); err != nil {
			ch.Status = Unhealthy
			ch.Message = err.Error()
			overall = Unhealthy
		}
		components = append(components, ch)
	}
	return SystemHealth{
		OverallStatus: overall,
		Timestamp:     now,
		Uptime:        now.Sub(hc.startTime).Round(time.Second).String(),
		Components:    components,
	}
}
