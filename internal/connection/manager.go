package connection

import "context"

// Connect starts connecting in the background and returns immediately.
// Progress is observable through Status and WatchState. Calling Connect while
// a transport is open or a dial is in flight is a no-op. After Disconnect it
// returns ErrClosed.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.session != nil || c.dialing {
		c.mu.Unlock()
		return nil
	}

	c.stopReconnectTimerLocked()
	c.startDialLocked()
	st := c.statusLocked()
	c.mu.Unlock()

	c.notify(st)
	return nil
}

// Disconnect tears the client down for good: it cancels any pending
// reconnect, closes the transport, drops queued messages and removes every
// subscription and state watcher. The client never reconnects afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	c.dialing = false
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.stopReconnectTimerLocked()
	s := c.endSessionLocked()
	c.setStateLocked(StateDisconnected)
	st := c.statusLocked()
	c.mu.Unlock()

	if s != nil {
		if err := s.conn.Close(); err != nil {
			c.logger.Debug("close transport", "error", err)
		}
	}

	c.sendMu.Lock()
	n := c.queue.Clear()
	c.sendMu.Unlock()
	if n > 0 {
		c.logger.Info("discarded queued messages", "count", n)
		for i := 0; i < n; i++ {
			c.observer.FrameDropped(DropClosed)
		}
	}
	c.observer.QueueDepth(0)
	c.subs.clear()
	c.observer.SubscriptionCount(0)

	st.QueuedMessages = 0
	st.Subscriptions = 0
	c.notify(st)

	c.watchMu.Lock()
	c.watchers = nil
	c.watchMu.Unlock()

	c.logger.Info("realtime client disconnected")
}

// startDialLocked moves to CONNECTING and dials in a new goroutine.
// Must be called with mu held.
func (c *Client) startDialLocked() {
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	c.cancelDial = cancel
	c.dialing = true
	c.setStateLocked(StateConnecting)

	go c.dial(ctx, cancel, gen)
}

// dial opens the transport and installs it as the current session.
func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	conn, err := c.dialer.Dial(ctx, c.cfg.URL, c.cfg.Header)
	cancel()

	c.mu.Lock()
	if gen != c.gen || c.closed {
		// Superseded by Disconnect or a newer dial.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.dialing = false
	c.cancelDial = nil

	if err != nil {
		c.logger.Warn("connect failed", "attempt", c.attempts, "error", err)
		c.setStateLocked(StateError)
		c.scheduleReconnectLocked()
		st := c.statusLocked()
		c.mu.Unlock()
		c.notify(st)
		return
	}

	now := c.clock.Now()
	s := &session{
		conn:        conn,
		done:        make(chan struct{}),
		connectedAt: now,
		lastFrameAt: now,
	}
	c.session = s
	c.attempts = 0
	c.setStateLocked(StateConnected)
	st := c.statusLocked()
	c.mu.Unlock()

	c.logger.Info("realtime connected")
	c.notify(st)

	go c.readLoop(s)
	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeatLoop(s)
	}

	if failed, ok := c.flushQueue(s); ok {
		c.notify(failed)
	}
}

// readLoop reads frames from the session's transport and dispatches them in
// arrival order until the transport fails or the session ends.
func (c *Client) readLoop(s *session) {
	for {
		data, err := s.conn.ReadFrame()
		if err != nil {
			select {
			case <-s.done:
				// Ended locally (Disconnect, stale heartbeat, write failure).
				return
			default:
			}
			if st, ok := c.fail(s, err); ok {
				c.notify(st)
			}
			return
		}

		s.touch(c.clock.Now())
		c.dispatch(data)
	}
}

// fail ends session s after a transport failure and schedules a reconnect.
// It reports false when s is no longer the current session, so each session
// fails at most once. Must be called without holding mu.
func (c *Client) fail(s *session, err error) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.session != s {
		return Status{}, false
	}
	c.endSessionLocked()

	next := StateError
	if isCloseError(err) {
		next = StateDisconnected
		c.logger.Warn("realtime connection closed", "error", err)
	} else {
		c.logger.Warn("realtime connection error", "error", err)
	}
	c.setStateLocked(next)
	c.scheduleReconnectLocked()

	// Close outside the state transition; ReadFrame unblocks with an error
	// that readLoop ignores because s.done is closed.
	go s.conn.Close()

	return c.statusLocked(), true
}

// endSessionLocked detaches the current session and stops its goroutines.
// Must be called with mu held.
func (c *Client) endSessionLocked() *session {
	s := c.session
	if s == nil {
		return nil
	}
	c.session = nil
	close(s.done)
	return s
}

// scheduleReconnectLocked arms the backoff timer for the next attempt.
// Must be called with mu held.
func (c *Client) scheduleReconnectLocked() {
	if c.closed {
		return
	}
	if limit := c.cfg.MaxReconnectAttempts; limit > 0 && c.attempts >= limit {
		c.logger.Error("reconnect attempts exhausted, giving up",
			"attempts", c.attempts,
			"state", c.state,
		)
		return
	}

	c.attempts++
	attempt := c.attempts
	delay := c.backoff.Delay(attempt)
	gen := c.gen

	c.stopReconnectTimerLocked()
	c.reconnectTimer = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })

	c.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	c.observer.ReconnectScheduled(attempt, delay)
}

// reconnect is the backoff timer callback.
func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.session != nil || c.dialing {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.logger.Info("attempting reconnection", "attempt", c.attempts)
	c.startDialLocked()
	st := c.statusLocked()
	c.mu.Unlock()

	c.notify(st)
}

// stopReconnectTimerLocked cancels a pending reconnect. Must be called with
// mu held.
func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// currentSession returns s if it is still the live session.
func (c *Client) currentSession(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.session == s
}
