package connection

import "time"

// Backoff computes reconnect delays: Base doubled per attempt, capped at Max.
// Delays never decrease as the attempt number grows.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := b.Base
	for i := 1; i < attempt; i++ {
		if wait >= b.Max/2 {
			return b.Max
		}
		wait *= 2
	}
	if wait > b.Max {
		wait = b.Max
	}
	return wait
}
