package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

// readinessTimeout bounds one readiness evaluation.
const readinessTimeout = 5 * time.Second

// Probe reports the health of one dependency.
type Probe interface {
	Healthy(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

// Healthy implements Probe.
func (f ProbeFunc) Healthy(ctx context.Context) error { return f(ctx) }

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// errPoolExhausted marks a reachable database with no free connections.
var errPoolExhausted = errors.New("connection pool exhausted")

// HealthStatus is the body of /readyz.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the outcome of one probe.
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type namedProbe struct {
	name     string
	probe    Probe
	critical bool
}

// HealthChecker evaluates the database and any registered probes. A failing
// database makes the service unhealthy; any other failing probe only
// degrades it.
type HealthChecker struct {
	version string

	mu     sync.RWMutex
	probes []namedProbe
}

// NewHealthChecker creates a checker. db may be nil.
func NewHealthChecker(db *sql.DB, version string) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.probes = append(h.probes, namedProbe{name: "database", probe: databaseProbe{db}, critical: true})
	}
	return h
}

// AddProbe registers a non-critical dependency under name.
func (h *HealthChecker) AddProbe(name string, p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, namedProbe{name: name, probe: p})
}

// Check runs every probe concurrently.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := append([]namedProbe(nil), h.probes...)
	h.mu.RUnlock()

	results := make([]DependencyStatus, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			results[i] = runProbe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(probes)),
	}
	for i, p := range probes {
		dep := results[i]
		status.Dependencies[p.name] = dep
		switch {
		case dep.Status == StatusUnhealthy:
			status.Status = StatusUnhealthy
		case dep.Status == StatusDegraded && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

func runProbe(ctx context.Context, p namedProbe) DependencyStatus {
	start := time.Now()
	dep := DependencyStatus{Status: StatusHealthy, Timestamp: start.UTC()}
	err := p.probe.Healthy(ctx)
	dep.Latency = time.Since(start)
	if err == nil {
		return dep
	}
	dep.Message = err.Error()
	dep.Status = StatusDegraded
	if p.critical && !errors.Is(err, errPoolExhausted) {
		dep.Status = StatusUnhealthy
	}
	return dep
}

type databaseProbe struct {
	db *sql.DB
}

func (d databaseProbe) Healthy(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return err
	}
	var one int
	if err := d.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return errors.New("query failed: " + err.Error())
	}
	if stats := d.db.Stats(); stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		return errPoolExhausted
	}
	return nil
}

// Liveness answers 200 while the process serves requests.
func (h *HealthChecker) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, map[string]any{
		"status":    StatusHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness answers 503 when a critical dependency fails, 200 otherwise.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// RegisterHealthRoutes mounts /healthz, /readyz and, with metrics, /metrics.
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker, metrics *Metrics) {
	router.HandleFunc("/healthz", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", checker.Readiness).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
}
