package resilience

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
)

// rank orders statuses from best to worst.
func (s HealthStatus) rank() int {
	switch s {
	case HealthStatusHealthy:
		return 0
	case HealthStatusDegraded:
		return 1
	}
	return 2
}

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name    string                 `json:"name"`
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Latency time.Duration          `json:"latency_ns"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck reports the health of one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth is the combined result of every registered check.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	CheckedAt  time.Time         `json:"checked_at"`
	Uptime     time.Duration     `json:"uptime_ns"`
	Goroutines int               `json:"goroutines"`
	Components []ComponentHealth `json:"components"`
}

// Health runs registered checks on demand.
type Health struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	timeout   time.Duration
	startTime time.Time
}

// NewHealth creates a checker whose checks share timeout.
func NewHealth(timeout time.Duration) *Health {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Health{
		checks:    make(map[string]HealthCheck),
		timeout:   timeout,
		startTime: time.Now(),
	}
}

// RegisterComponent registers a health check for a component.
func (h *Health) RegisterComponent(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every check concurrently. A check that panics is reported
// unhealthy; the overall status is the worst component status.
func (h *Health) Check(ctx context.Context) SystemHealth {
	h.mu.RLock()
	checks := make(map[string]HealthCheck, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	p := pool.NewWithResults[ComponentHealth]()
	for name, check := range checks {
		name, check := name, check
		p.Go(func() ComponentHealth {
			start := time.Now()
			var res ComponentHealth
			var pc panics.Catcher
			pc.Try(func() { res = check(ctx) })
			if r := pc.Recovered(); r != nil {
				res = ComponentHealth{Status: HealthStatusUnhealthy, Message: r.AsError().Error()}
			}
			res.Name = name
			res.Latency = time.Since(start)
			return res
		})
	}
	components := p.Wait()
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	overall := HealthStatusHealthy
	for _, c := range components {
		if c.Status.rank() > overall.rank() {
			overall = c.Status
		}
	}

	return SystemHealth{
		Status:     overall,
		CheckedAt:  time.Now(),
		Uptime:     time.Since(h.startTime),
		Goroutines: runtime.NumGoroutine(),
		Components: components,
	}
}

// Handler serves the health report as JSON. Degraded is still 200.
func (h *Health) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}

// PingCheck reports unhealthy when ping fails.
func PingCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error()}
		}
		return ComponentHealth{Status: HealthStatusHealthy}
	}
}

// BreakerCheck reports degraded while any circuit is open.
func BreakerCheck(stats func() []CircuitBreakerStats) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		var open []string
		var probe time.Time
		for _, s := range stats() {
			if s.State != CircuitOpen {
				continue
			}
			open = append(open, s.Name)
			if probe.IsZero() || s.ProbeAt.Before(probe) {
				probe = s.ProbeAt
			}
		}
		if len(open) > 0 {
			return ComponentHealth{
				Status:  HealthStatusDegraded,
				Message: "circuits open",
				Details: map[string]interface{}{
					"open":     open,
					"probe_at": probe.UTC().Format(time.RFC3339),
				},
			}
		}
		return ComponentHealth{Status: HealthStatusHealthy}
	}
}

// HeartbeatCheck reports degraded when the last beat is older than
// maxAge and unhealthy when stopped returns true.
func HeartbeatCheck(last func() time.Time, maxAge time.Duration, stopped func() bool) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if stopped() {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: "stopped"}
		}
		at := last()
		if at.IsZero() {
			return ComponentHealth{Status: HealthStatusDegraded, Message: "no heartbeat yet"}
		}
		age := time.Since(at)
		details := map[string]interface{}{"last": at.UTC().Format(time.RFC3339)}
		if age > maxAge {
			return ComponentHealth{Status: HealthStatusDegraded, Message: "heartbeat overdue", Details: details}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Details: details}
	}
}
