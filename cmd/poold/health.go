// health.go - Health monitoring for the shielded pool daemon
package main

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"shieldpool/internal/ledger"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// degradedAt is the accumulator fill ratio from which the pool reports degraded.
const degradedAt = 0.9

// ErrDegraded marks a checker result as degraded rather than unhealthy.
var ErrDegraded = errors.New("degraded")

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// HealthChecker manages health checks for the daemon
type HealthChecker struct {
	mu         sync.Mutex
	components map[string]*ComponentHealth
	startTime  time.Time
	version    string
	checkers   map[string]func() error
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*ComponentHealth),
		startTime:  time.Now(),
		version:    version,
		checkers:   make(map[string]func() error),
	}
}

// RegisterComponent registers a health check for a component. The checker
// reports degraded by returning an error wrapping ErrDegraded.
func (hc *HealthChecker) RegisterComponent(name string, checker func() error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.components[name] = &ComponentHealth{
		Name:      name,
		Status:    Healthy,
		Message:   "registered",
		LastCheck: time.Now(),
	}
	hc.checkers[name] = checker
}

// CheckHealth performs health checks for all registered components
func (hc *HealthChecker) CheckHealth() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	names := make([]string, 0, len(hc.components))
	for name := range hc.components {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := Healthy
	components := make([]ComponentHealth, 0, len(names))
	for _, name := range names {
		component := hc.components[name]
		start := time.Now()
		err := hc.checkers[name]()
		component.Latency = time.Since(start)
		component.LastCheck = time.Now()

		switch {
		case err == nil:
			component.Status = Healthy
			component.Message = "OK"
		case errors.Is(err, ErrDegraded):
			component.Status = Degraded
			component.Message = err.Error()
		default:
			component.Status = Unhealthy
			component.Message = err.Error()
		}

		if component.Status == Unhealthy {
			overall = Unhealthy
		} else if component.Status == Degraded && overall == Healthy {
			overall = Degraded
		}
		components = append(components, *component)
	}

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}

// accumulatorCheck reports the pool unhealthy when it is full and degraded
// when it is close to full.
func accumulatorCheck(l *ledger.Ledger) func() error {
	return func() error {
		s := l.Stats()
		if s.Commitments >= s.Capacity {
			return fmt.Errorf("%w: %d of %d leaves used", ledger.ErrAccumulatorFull, s.Commitments, s.Capacity)
		}
		if float64(s.Commitments) >= degradedAt*float64(s.Capacity) {
			return fmt.Errorf("%w: %d of %d leaves used", ErrDegraded, s.Commitments, s.Capacity)
		}
		return nil
	}
}
