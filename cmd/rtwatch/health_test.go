package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/realtime/internal/connection"
	"github.com/opsdeck/realtime/internal/metrics"
)

type staticStatus connection.Status

func (s staticStatus) Status() connection.Status { return connection.Status(s) }

func TestHealthHandler_Connected(t *testing.T) {
	connectedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := healthHandler(staticStatus{
		State:         connection.StateConnected,
		Subscriptions: 4,
		ConnectedAt:   connectedAt,
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "CONNECTED", body.State)
	assert.Equal(t, 4, body.Subscriptions)
	require.NotNil(t, body.ConnectedAt)
	assert.True(t, connectedAt.Equal(*body.ConnectedAt))
	assert.Nil(t, body.LastHeartbeat)
}

func TestHealthHandler_Reconnecting(t *testing.T) {
	h := healthHandler(staticStatus{
		State:             connection.StateDisconnected,
		ReconnectAttempts: 3,
		QueuedMessages:    7,
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "DISCONNECTED", body.State)
	assert.Equal(t, 3, body.ReconnectAttempts)
	assert.Equal(t, 7, body.QueuedMessages)
}

func TestNewMux_ServesMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	m := metrics.NewTransportMetrics(reg, "pods")
	m.FrameReceived("pods")

	srv := httptest.NewServer(newMux("/metrics", reg, staticStatus{State: connection.StateConnected}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `realtime_frames_received_total{channel="pods"} 1`)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
