package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open transport. The Client is its only user: ReadFrame is called
// from a single read goroutine, WriteFrame is serialised by the Client, and
// Close may be called concurrently with both.
type Conn interface {
	// ReadFrame blocks until the next data frame arrives.
	ReadFrame() ([]byte, error)

	// WriteFrame writes one text frame.
	WriteFrame(data []byte) error

	// Close sends a normal-closure frame and releases the transport.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebSocketDialer dials gorilla/websocket connections.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}

// NewWebSocketDialer creates a dialer using the timeouts from cfg.
func NewWebSocketDialer(cfg Config) *WebSocketDialer {
	return &WebSocketDialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		ReadLimit:        cfg.ReadLimit,
	}
}

// Dial establishes the WebSocket connection.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	h := http.Header{}
	h.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &wsConn{conn: conn, writeTimeout: writeTimeout}, nil
}

// wsConn adapts *websocket.Conn to Conn.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// ReadFrame returns the next text or binary frame. Control frames are handled
// by gorilla's default handlers (pings are answered with pongs).
func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteFrame writes data as a single text frame.
func (c *wsConn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the underlying connection.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		// Best effort; the peer may already be gone.
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// isCloseError reports whether err means the peer closed the connection
// (close frame received or connection dropped without one), as opposed to a
// local I/O or protocol failure.
func isCloseError(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}
