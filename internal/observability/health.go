package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker backs the /healthz and /readyz endpoints. Liveness holds
// as long as the process answers; readiness flips on once ledgers are
// registered, feeds are seeded, and the optional Postgres and NATS
// connections are up.
type HealthChecker struct {
	started time.Time
	ready   atomic.Bool
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{started: time.Now()}
}

// SetReady flips whether /readyz reports the service ready for traffic.
func (h *HealthChecker) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports the current readiness state.
func (h *HealthChecker) IsReady() bool { return h.ready.Load() }

type healthStatus struct {
	Status string `json:"status"`
	Uptime string `json:"uptime,omitempty"`
}

func writeStatus(w http.ResponseWriter, code int, s healthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(s)
}

// LivenessHandler answers 200 whenever the process is up.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, healthStatus{
		Status: "alive",
		Uptime: time.Since(h.started).String(),
	})
}

// ReadinessHandler answers 200 once startup wiring is complete, 503 before.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.ready.Load() {
		writeStatus(w, http.StatusOK, healthStatus{Status: "ready"})
		return
	}
	writeStatus(w, http.StatusServiceUnavailable, healthStatus{Status: "not_ready"})
}
