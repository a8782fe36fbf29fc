package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opsdeck/realtime/internal/connection"
	"github.com/opsdeck/realtime/internal/metrics"
)

type statusSource interface {
	Status() connection.Status
}

type healthResponse struct {
	Status            string     `json:"status"`
	State             string     `json:"state"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	QueuedMessages    int        `json:"queued_messages"`
	Subscriptions     int        `json:"subscriptions"`
	ConnectedAt       *time.Time `json:"connected_at,omitempty"`
	LastHeartbeat     *time.Time `json:"last_heartbeat,omitempty"`
}

// newMux serves metrics on metricsPath and the connection status on /health.
func newMux(metricsPath string, reg *prometheus.Registry, client statusSource) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, metrics.Handler(reg))
	mux.HandleFunc("/health", healthHandler(client))
	return mux
}

// healthHandler reports 200 while connected and 503 otherwise.
func healthHandler(client statusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := client.Status()

		resp := healthResponse{
			Status:            "healthy",
			State:             st.State.String(),
			ReconnectAttempts: st.ReconnectAttempts,
			QueuedMessages:    st.QueuedMessages,
			Subscriptions:     st.Subscriptions,
		}
		if !st.ConnectedAt.IsZero() {
			resp.ConnectedAt = &st.ConnectedAt
		}
		if !st.LastHeartbeat.IsZero() {
			resp.LastHeartbeat = &st.LastHeartbeat
		}

		code := http.StatusOK
		if st.State != connection.StateConnected {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}
