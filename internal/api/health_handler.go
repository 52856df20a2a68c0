package api

import (
	"net/http"
	"time"
)

// HealthzHandler handles GET /healthz.
// Always returns 200 OK with {"status":"ok"}.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type transportStatus struct {
	Healthy             bool      `json:"healthy"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

type readyResponse struct {
	Status     string                     `json:"status"`
	QueueMode  string                     `json:"queue_mode"`
	Broker     string                     `json:"broker"`
	Transports map[string]transportStatus `json:"transports"`
	Error      string                     `json:"error,omitempty"`
}

// ReadyzHandler handles GET /readyz. It reports the queue mode and the
// transport health, and returns 503 with Retry-After when the transport is
// unhealthy or a durable broker stops answering. Degraded mode alone is
// not a readiness failure.
func ReadyzHandler(n Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := readyResponse{
			Status:     "ok",
			QueueMode:  string(n.Mode()),
			Broker:     n.Broker(),
			Transports: map[string]transportStatus{},
		}
		for name, s := range n.TransportStatuses() {
			resp.Transports[name] = transportStatus{
				Healthy:             s.Healthy,
				LastCheck:           s.LastCheck,
				ConsecutiveFailures: s.ConsecutiveFailures,
				LastError:           s.LastError,
			}
		}

		if err := n.Ready(r.Context()); err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			w.Header().Set("Retry-After", "30")
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}
}
