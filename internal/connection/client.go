package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/opsdeck/realtime/internal/buffer"
	"github.com/opsdeck/realtime/internal/message"
)

// Client is a realtime transport client: one connection, many subscriptions.
// All methods are safe for concurrent use and none of them block on the
// network.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	clock    clockwork.Clock
	dialer   Dialer
	observer Observer
	backoff  Backoff

	// Lifecycle state, guarded by mu.
	mu             sync.Mutex
	state          State
	attempts       int
	closed         bool   // Disconnect called; terminal
	gen            uint64 // Dial generation; bumping it orphans an in-flight dial
	dialing        bool
	cancelDial     context.CancelFunc
	reconnectTimer clockwork.Timer
	session        *session
	lastHeartbeat  time.Time
	seq            uint64

	// Outbound path. sendMu orders direct writes against queue drains.
	sendMu sync.Mutex
	queue  *buffer.Ring[message.Message]

	subs *registry

	// State watchers
	watchMu      sync.Mutex
	watchers     []*watcher
	nextWatchID  int
	lastNotified uint64
}

// session is one open transport and the goroutines bound to it.
type session struct {
	conn        Conn
	done        chan struct{} // Closed when the session ends
	connectedAt time.Time

	lastFrameMu sync.Mutex
	lastFrameAt time.Time
}

func (s *session) touch(now time.Time) {
	s.lastFrameMu.Lock()
	s.lastFrameAt = now
	s.lastFrameMu.Unlock()
}

func (s *session) lastFrame() time.Time {
	s.lastFrameMu.Lock()
	defer s.lastFrameMu.Unlock()
	return s.lastFrameAt
}

type watcher struct {
	id int
	fn func(Status)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock used for backoff and heartbeat timers.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithObserver installs a telemetry observer.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// New creates a Client. It does not connect; call Connect.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    clockwork.NewRealClock(),
		observer: NopObserver{},
		backoff:  Backoff{Base: cfg.ReconnectBaseDelay, Max: cfg.ReconnectMaxDelay},
		state:    StateDisconnected,
		queue:    buffer.New[message.Message](64, cfg.MaxQueuedMessages),
		subs:     newRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWebSocketDialer(cfg)
	}
	c.logger = c.logger.With("component", "realtime", "url", cfg.URL)

	return c, nil
}

// Status returns a snapshot of the connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WatchState registers fn to be called after every state transition.
// The returned function cancels the registration.
func (c *Client) WatchState(fn func(Status)) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	c.watchMu.Lock()
	c.nextWatchID++
	id := c.nextWatchID
	c.watchers = append(c.watchers, &watcher{id: id, fn: fn})
	c.watchMu.Unlock()

	return func() {
		c.watchMu.Lock()
		defer c.watchMu.Unlock()
		for i, w := range c.watchers {
			if w.id == id {
				c.watchers = append(c.watchers[:i:i], c.watchers[i+1:]...)
				return
			}
		}
	}
}

// statusLocked builds a snapshot. Must be called with mu held.
func (c *Client) statusLocked() Status {
	st := Status{
		State:             c.state,
		ReconnectAttempts: c.attempts,
		QueuedMessages:    c.queue.Len(),
		Subscriptions:     c.subs.len(),
		LastHeartbeat:     c.lastHeartbeat,
		seq:               c.seq,
	}
	if c.state == StateConnected && c.session != nil {
		st.ConnectedAt = c.session.connectedAt
	}
	return st
}

// setStateLocked records a transition. Must be called with mu held.
func (c *Client) setStateLocked(s State) {
	c.state = s
	c.seq++
}

// notify delivers a transition to the observer and watchers. Must be called
// without holding mu. Snapshots older than one already delivered are skipped.
func (c *Client) notify(st Status) {
	c.watchMu.Lock()
	if st.seq <= c.lastNotified {
		c.watchMu.Unlock()
		return
	}
	c.lastNotified = st.seq
	watchers := make([]*watcher, len(c.watchers))
	copy(watchers, c.watchers)
	c.watchMu.Unlock()

	c.observer.StateChanged(st)
	for _, w := range watchers {
		c.callWatcher(w, st)
	}
}

func (c *Client) callWatcher(w *watcher, st Status) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("state watcher panicked", "panic", r)
		}
	}()
	w.fn(st)
}
