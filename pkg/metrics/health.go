package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Report statuses
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the body served by the health and readiness endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// DefaultCritical lists the daemon components that gate readiness. A failing
// critical component makes the node unhealthy, any other one only degraded.
var DefaultCritical = []string{"storage", "replication", "monitor", "api"}

// ComponentHealth is the last state reported by a component
type ComponentHealth struct {
	Healthy bool
	Message string
	Updated time.Time
}

// Registry collects component states of the daemon
type Registry struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   map[string]bool
	order      []string
	started    time.Time
	version    string
}

// NewRegistry returns a registry gated by DefaultCritical
func NewRegistry() *Registry {
	r := &Registry{
		components: make(map[string]ComponentHealth),
		started:    time.Now(),
	}
	r.SetCritical(DefaultCritical...)
	return r
}

var defaultRegistry = NewRegistry()

// SetCritical replaces the components gating readiness
func (r *Registry) SetCritical(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append([]string(nil), names...)
	r.critical = make(map[string]bool, len(names))
	for _, name := range names {
		r.critical[name] = true
	}
}

// SetVersion sets the version reported by the endpoints
func (r *Registry) SetVersion(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version = version
}

// Set records the state of a component
func (r *Registry) Set(name string, healthy bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = ComponentHealth{Healthy: healthy, Message: message, Updated: time.Now()}
}

// Health reports every registered component
func (r *Registry) Health() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report := r.report(StatusHealthy)
	for name, comp := range r.components {
		if comp.Healthy {
			report.Components[name] = StatusHealthy
			continue
		}
		report.Components[name] = StatusUnhealthy + ": " + comp.Message
		if r.critical[name] {
			report.Status = StatusUnhealthy
		} else if report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
	}
	return report
}

// Readiness reports the critical components only
func (r *Registry) Readiness() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report := r.report(StatusReady)
	for _, name := range r.order {
		comp, ok := r.components[name]
		switch {
		case !ok:
			report.Components[name] = "not registered"
			report.Status, report.Message = StatusNotReady, "waiting for "+name+" initialization"
		case !comp.Healthy:
			report.Components[name] = "not ready: " + comp.Message
			report.Status, report.Message = StatusNotReady, "waiting for "+name
		default:
			report.Components[name] = StatusReady
		}
	}
	return report
}

func (r *Registry) report(status string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]string),
		Version:    r.version,
		Uptime:     time.Since(r.started).Round(time.Second).String(),
	}
}

// SetCritical replaces the components gating readiness of the daemon
func SetCritical(names ...string) { defaultRegistry.SetCritical(names...) }

// SetVersion sets the version reported by the daemon endpoints
func SetVersion(version string) { defaultRegistry.SetVersion(version) }

// RegisterComponent records the initial state of a daemon component
func RegisterComponent(name string, healthy bool, message string) {
	defaultRegistry.Set(name, healthy, message)
}

// UpdateComponent records a state change of a daemon component
func UpdateComponent(name string, healthy bool, message string) {
	defaultRegistry.Set(name, healthy, message)
}

// GetHealth reports the daemon components
func GetHealth() HealthStatus { return defaultRegistry.Health() }

// GetReadiness reports the critical daemon components
func GetReadiness() HealthStatus { return defaultRegistry.Readiness() }

// HealthHandler serves GetHealth. Only an unhealthy node answers 503.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		writeStatus(w, health, health.Status != StatusUnhealthy)
	}
}

// ReadyHandler serves GetReadiness
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		writeStatus(w, readiness, readiness.Status == StatusReady)
	}
}

// LivenessHandler answers 200 as long as the process serves HTTP
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, map[string]string{
			"status": "alive",
			"uptime": time.Since(defaultRegistry.started).Round(time.Second).String(),
		}, true)
	}
}

func writeStatus(w http.ResponseWriter, body interface{}, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}
