// health.go - Component health checks for the ledger daemon
package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status is the health of a component or of the whole daemon.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// ComponentHealth is the last observed health of one component.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// Report is the health of every component.
type Report struct {
	Status     Status            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
	Uptime     time.Duration     `json:"uptime"`
	Version    string            `json:"version"`
}

// CheckFunc reports a component failure as an error. A Degraded error marks the
// component degraded instead of unhealthy.
type CheckFunc func() error

// DegradedError marks a check result as degraded.
type DegradedError struct{ Reason string }

func (e *DegradedError) Error() string { return e.Reason }

// Checker runs the registered checks.
type Checker struct {
	mu         sync.Mutex
	components map[string]*ComponentHealth
	checks     map[string]CheckFunc
	startTime  time.Time
	version    string
}

func NewChecker(version string) *Checker {
	return &Checker{
		components: make(map[string]*ComponentHealth),
		checks:     make(map[string]CheckFunc),
		startTime:  time.Now(),
		version:    version,
	}
}

// RegisterComponent adds or replaces the check of a component.
func (c *Checker) RegisterComponent(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[name] = &ComponentHealth{
		Name:      name,
		Status:    Healthy,
		Message:   "registered",
		LastCheck: time.Now(),
	}
	c.checks[name] = check
}

// CheckHealth runs every check and returns the report, components sorted by name.
func (c *Checker) CheckHealth() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	overall := Healthy
	components := make([]ComponentHealth, 0, len(c.components))
	for name, component := range c.components {
		if check := c.checks[name]; check != nil {
			start := time.Now()
			err := check()
			component.Latency = time.Since(start)
			component.LastCheck = time.Now()

			switch e := err.(type) {
			case nil:
				component.Status = Healthy
				component.Message = "OK"
			case *DegradedError:
				component.Status = Degraded
				component.Message = e.Reason
			default:
				component.Status = Unhealthy
				component.Message = err.Error()
			}
		}

		if component.Status == Unhealthy {
			overall = Unhealthy
		} else if component.Status == Degraded && overall == Healthy {
			overall = Degraded
		}
		components = append(components, *component)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return &Report{
		Status:     overall,
		Timestamp:  time.Now(),
		Components: components,
		Uptime:     time.Since(c.startTime),
		Version:    c.version,
	}
}

// Handler serves the report as JSON, with 503 when unhealthy.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		report := c.CheckHealth()
		w.Header().Set("Content-Type", "application/json")
		if report.Status == Unhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}
