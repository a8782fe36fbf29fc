package config

import (
	"net/http"
	"time"

	"github.com/opsdeck/realtime/internal/connection"
)

// Config is the root configuration for an rtwatch instance.
type Config struct {
	Instance      InstanceConfig `yaml:"instance"`
	Realtime      RealtimeConfig `yaml:"realtime"`
	Subscriptions []string       `yaml:"subscriptions"` // Channels printed by the CLI
	Recorder      RecorderConfig `yaml:"recorder"`
	Database      DBConfig       `yaml:"database"`
	Metrics       MetricsConfig  `yaml:"metrics"`
	Logging       LoggingConfig  `yaml:"logging"`
}

// InstanceConfig identifies this process in logs and recorded rows.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// RealtimeConfig holds the dashboard connection settings.
type RealtimeConfig struct {
	URL                  string            `yaml:"url"`
	Headers              map[string]string `yaml:"headers"` // Extra handshake headers
	HeartbeatInterval    time.Duration     `yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration     `yaml:"heartbeat_timeout"`
	ReconnectBaseDelay   time.Duration     `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration     `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int               `yaml:"max_reconnect_attempts"` // 0 = unlimited
	MaxQueuedMessages    int               `yaml:"max_queued_messages"`    // 0 = unbounded
	WriteTimeout         time.Duration     `yaml:"write_timeout"`
	HandshakeTimeout     time.Duration     `yaml:"handshake_timeout"`
	ReadLimit            int64             `yaml:"read_limit"`
}

// ConnectionConfig converts r into the client configuration.
func (r RealtimeConfig) ConnectionConfig() connection.Config {
	var header http.Header
	if len(r.Headers) > 0 {
		header = make(http.Header, len(r.Headers))
		for k, v := range r.Headers {
			header.Set(k, v)
		}
	}

	return connection.Config{
		URL:                  r.URL,
		Header:               header,
		HeartbeatInterval:    r.HeartbeatInterval,
		HeartbeatTimeout:     r.HeartbeatTimeout,
		ReconnectBaseDelay:   r.ReconnectBaseDelay,
		ReconnectMaxDelay:    r.ReconnectMaxDelay,
		MaxReconnectAttempts: r.MaxReconnectAttempts,
		MaxQueuedMessages:    r.MaxQueuedMessages,
		WriteTimeout:         r.WriteTimeout,
		HandshakeTimeout:     r.HandshakeTimeout,
		ReadLimit:            r.ReadLimit,
	}
}

// RecorderConfig holds the message recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Channels      []string      `yaml:"channels"` // Defaults to Subscriptions
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
