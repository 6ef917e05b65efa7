package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of the controller
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

var (
	healthChecker = newHealthChecker()
)

// ComponentHealth tracks the health of a single supervised module
type ComponentHealth struct {
	Name     string
	Healthy  bool
	Degraded bool
	Message  string
	Updated  time.Time
}

// HealthChecker aggregates module health for the /health and /ready endpoints
type HealthChecker struct {
	mu            sync.RWMutex
	components    map[string]ComponentHealth
	critical      []string
	emergencyStop bool
	startTime     time.Time
	version       string
}

func newHealthChecker() *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// SetCriticalComponents sets the modules that must be healthy for readiness
func SetCriticalComponents(names []string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.critical = append([]string(nil), names...)
}

// SetEmergencyStop records whether the emergency stop is latched
func SetEmergencyStop(active bool) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.emergencyStop = active
	if active {
		EmergencyStopActive.Set(1)
	} else {
		EmergencyStopActive.Set(0)
	}
}

// UpdateComponent records the latest health of a module
func UpdateComponent(name string, healthy, degraded bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Name:     name,
		Healthy:  healthy,
		Degraded: degraded,
		Message:  message,
		Updated:  time.Now(),
	}
}

// RemoveComponent forgets a module that is no longer supervised
func RemoveComponent(name string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	delete(healthChecker.components, name)
}

// GetHealth returns the overall health status
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string)

	for name, comp := range healthChecker.components {
		switch {
		case !comp.Healthy && !comp.Degraded:
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.Message
		case comp.Degraded:
			if status == "healthy" {
				status = "degraded"
			}
			components[name] = "degraded: " + comp.Message
		default:
			components[name] = "healthy"
		}
	}

	message := ""
	if healthChecker.emergencyStop {
		status = "unhealthy"
		message = "emergency stop active"
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    healthChecker.version,
		Uptime:     time.Since(healthChecker.startTime).String(),
		StartTime:  healthChecker.startTime,
	}
}

// GetReadiness returns readiness status (checks if critical modules are ready)
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string)

	critical := healthChecker.critical
	if len(critical) == 0 {
		for name := range healthChecker.components {
			critical = append(critical, name)
		}
		sort.Strings(critical)
	}

	for _, name := range critical {
		comp, exists := healthChecker.components[name]
		switch {
		case !exists:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.Healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + comp.Message
		default:
			components[name] = "ready"
		}
	}

	if healthChecker.emergencyStop {
		status = "not_ready"
		message = "emergency stop active"
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    healthChecker.version,
		Uptime:     time.Since(healthChecker.startTime).String(),
		StartTime:  healthChecker.startTime,
	}
}

// HealthHandler returns an HTTP handler for the /health endpoint
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()

		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, health)
	}
}

// ReadyHandler returns an HTTP handler for the /ready endpoint
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()

		statusCode := http.StatusOK
		if readiness.Status != "ready" {
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, readiness)
	}
}

// LivenessHandler returns a simple liveness check (always returns 200 if process is running)
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
