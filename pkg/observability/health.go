package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is implemented by store backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
	Name() string
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	dependencies []Pinger
}

// NewHealthChecker creates a new health checker over the given dependencies.
// A nil or empty list means liveness-only operation (cookie transport with
// a local crypto key has no external dependency to check).
func NewHealthChecker(deps ...Pinger) *HealthChecker {
	return &HealthChecker{dependencies: deps}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns a readiness probe (checks all dependencies)
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")

	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(status)
}

// Check performs a comprehensive health check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus),
	}

	for _, dep := range h.dependencies {
		depStatus := h.checkDependency(ctx, dep)
		status.Dependencies[dep.Name()] = depStatus
		if depStatus.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
	}

	return status
}

// checkDependency pings a single dependency and records latency
func (h *HealthChecker) checkDependency(ctx context.Context, dep Pinger) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}

	err := dep.Ping(ctx)
	status.Latency = time.Since(start)

	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}

	return status
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
