package config

import (
	"time"

	"github.com/opsdeck/realtime/internal/connection"
	"github.com/opsdeck/realtime/internal/message"
)

// Default values for optional configuration fields.
const (
	DefaultInstanceID    = "rtwatch"
	DefaultBatchSize     = 500
	DefaultFlushInterval = 1 * time.Second
	DefaultBufferSize    = 10000
	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 10
	DefaultMinConns      = 2
	DefaultMetricsPort   = 9090
	DefaultMetricsPath   = "/metrics"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// DefaultSubscriptions are the dashboard channels watched when none are configured.
var DefaultSubscriptions = []string{
	message.ChannelMetrics,
	message.ChannelPods,
	message.ChannelEvents,
	message.ChannelWorkflowUpdate,
}

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Realtime defaults come from the client. A negative heartbeat interval
	// disables heartbeats and is left alone.
	rt := connection.DefaultConfig()
	if c.Realtime.HeartbeatInterval == 0 {
		c.Realtime.HeartbeatInterval = rt.HeartbeatInterval
	}
	if c.Realtime.ReconnectBaseDelay == 0 {
		c.Realtime.ReconnectBaseDelay = rt.ReconnectBaseDelay
	}
	if c.Realtime.ReconnectMaxDelay == 0 {
		c.Realtime.ReconnectMaxDelay = rt.ReconnectMaxDelay
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = rt.WriteTimeout
	}
	if c.Realtime.HandshakeTimeout == 0 {
		c.Realtime.HandshakeTimeout = rt.HandshakeTimeout
	}

	if len(c.Subscriptions) == 0 {
		c.Subscriptions = append([]string(nil), DefaultSubscriptions...)
	}

	// Recorder defaults
	if len(c.Recorder.Channels) == 0 {
		c.Recorder.Channels = append([]string(nil), c.Subscriptions...)
	}
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	applyDBDefaults(&c.Database)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
