package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/opsdeck/realtime/internal/message"
)

// Errors
var (
	ErrClosed          = errors.New("client disconnected")
	ErrEmptyChannel    = message.ErrEmptyChannel
	ErrNilHandler      = errors.New("handler is nil")
	ErrStaleConnection = errors.New("connection stale (no inbound frames)")
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a read-only snapshot of the client.
type Status struct {
	State             State
	ReconnectAttempts int // Reset to 0 on every successful connect
	QueuedMessages    int
	Subscriptions     int
	ConnectedAt       time.Time // Zero unless State is CONNECTED
	LastHeartbeat     time.Time // Last inbound heartbeat frame

	seq uint64 // Transition sequence, orders watcher notifications
}

// Handler receives the data field of each message on a subscribed channel.
type Handler func(data json.RawMessage)

// Config configures a Client.
type Config struct {
	URL    string      // WebSocket URL (e.g., wss://console.example.com/ws)
	Header http.Header // Extra handshake headers

	HeartbeatInterval time.Duration // Period of outbound heartbeats (< 0 disables)
	HeartbeatTimeout  time.Duration // Max silence before the connection is stale (0 disables)

	ReconnectBaseDelay   time.Duration // Delay before the first reconnect attempt
	ReconnectMaxDelay    time.Duration // Backoff ceiling
	MaxReconnectAttempts int           // 0 = retry until Disconnect

	MaxQueuedMessages int // Outbound queue cap, oldest dropped first (0 = unbounded)

	WriteTimeout     time.Duration // Write deadline per frame
	HandshakeTimeout time.Duration // Dial + upgrade timeout
	ReadLimit        int64         // Max inbound frame size in bytes (0 = no limit)
}

// DefaultConfig returns sensible defaults. URL must still be set.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  30 * time.Second,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		WriteTimeout:       5 * time.Second,
		HandshakeTimeout:   10 * time.Second,
	}
}

// withDefaults fills zero durations from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = d.ReconnectMaxDelay
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	return c
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.ReconnectBaseDelay <= 0 {
		return errors.New("reconnect base delay must be > 0")
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("reconnect max delay (%s) cannot be less than base delay (%s)",
			c.ReconnectMaxDelay, c.ReconnectBaseDelay)
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("max reconnect attempts must be >= 0")
	}
	if c.MaxQueuedMessages < 0 {
		return errors.New("max queued messages must be >= 0")
	}
	if c.HeartbeatTimeout < 0 {
		return errors.New("heartbeat timeout must be >= 0")
	}
	if c.WriteTimeout <= 0 || c.HandshakeTimeout <= 0 {
		return errors.New("write and handshake timeouts must be > 0")
	}
	return nil
}
