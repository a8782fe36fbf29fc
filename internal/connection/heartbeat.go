package connection

import (
	"github.com/opsdeck/realtime/internal/message"
)

// heartbeatLoop sends a heartbeat every HeartbeatInterval while session s is
// live. With HeartbeatTimeout set, a session that has received no frame for
// longer than the timeout is failed as stale.
func (c *Client) heartbeatLoop(s *session) {
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.Chan():
		}

		// The session may have ended while the tick was pending.
		select {
		case <-s.done:
			return
		default:
		}

		if timeout := c.cfg.HeartbeatTimeout; timeout > 0 {
			if silent := c.clock.Since(s.lastFrame()); silent > timeout {
				c.logger.Warn("no inbound frames, connection stale",
					"silent_for", silent,
					"timeout", timeout,
				)
				if st, ok := c.fail(s, ErrStaleConnection); ok {
					c.notify(st)
				}
				return
			}
		}

		hb := message.Heartbeat{SentAt: c.clock.Now().UnixMilli()}
		if err := c.Send(message.ChannelHeartbeat, hb); err != nil {
			c.logger.Debug("heartbeat not sent", "error", err)
			return
		}
	}
}
