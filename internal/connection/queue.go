package connection

import (
	"github.com/opsdeck/realtime/internal/message"
)

// Send builds a message for channel and sends it. It never reports
// connectivity problems: while the client is not connected the message is
// queued and flushed, in order, on the next successful connect. Errors are
// returned only for an unmarshalable payload, an empty channel, or a client
// that has been disconnected.
func (c *Client) Send(channel string, data any) error {
	msg, err := message.New(channel, data)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// SendMessage sends a prebuilt message with the same semantics as Send.
func (c *Client) SendMessage(msg message.Message) error {
	frame, err := msg.Encode()
	if err != nil {
		return err
	}

	c.sendMu.Lock()

	c.mu.Lock()
	closed := c.closed
	s := c.session
	c.mu.Unlock()

	if closed {
		c.sendMu.Unlock()
		return ErrClosed
	}

	// Write directly only when nothing is waiting, so a send never overtakes
	// queued messages.
	if s == nil || c.queue.Len() > 0 {
		c.enqueue(msg)
		c.sendMu.Unlock()
		return nil
	}

	if err := s.conn.WriteFrame(frame); err != nil {
		c.enqueue(msg)
		c.sendMu.Unlock()

		if st, ok := c.fail(s, err); ok {
			c.notify(st)
		}
		return nil
	}
	c.sendMu.Unlock()

	c.observer.FrameSent(msg.Type)
	return nil
}

// enqueue appends msg to the outbound queue. Must be called with sendMu held.
func (c *Client) enqueue(msg message.Message) {
	if dropped := c.queue.PushBack(msg); dropped {
		c.logger.Warn("outbound queue full, dropped oldest message",
			"limit", c.cfg.MaxQueuedMessages,
		)
		c.observer.FrameDropped(DropQueueFull)
	}
	c.observer.QueueDepth(c.queue.Len())
}

// flushQueue drains the outbound queue into session s in FIFO order. If a
// write fails the message goes back to the head of the queue, the session is
// failed, and the returned status must be passed to notify.
func (c *Client) flushQueue(s *session) (Status, bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	sent := 0
	for c.currentSession(s) {
		msg, ok := c.queue.PopFront()
		if !ok {
			break
		}

		frame, err := msg.Encode()
		if err != nil {
			// Only messages that encoded once are ever queued.
			c.logger.Error("dropping unencodable queued message", "channel", msg.Type, "error", err)
			continue
		}

		if err := s.conn.WriteFrame(frame); err != nil {
			c.queue.PushFront(msg)
			c.observer.QueueDepth(c.queue.Len())
			c.logger.Warn("flush interrupted", "sent", sent, "remaining", c.queue.Len(), "error", err)
			return c.fail(s, err)
		}
		sent++
		c.observer.FrameSent(msg.Type)
	}

	if sent > 0 {
		c.logger.Info("flushed queued messages", "count", sent)
	}
	c.observer.QueueDepth(c.queue.Len())
	return Status{}, false
}
