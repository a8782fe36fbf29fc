package connection

import "time"

// Reasons passed to Observer.FrameDropped.
const (
	DropMalformed   = "malformed"   // Inbound frame failed to parse
	DropUnrouted    = "unrouted"    // Inbound frame with no subscriber
	DropUndecodable = "undecodable" // Payload did not match a typed subscriber
	DropQueueFull   = "queue_full"  // Oldest outbound message evicted
	DropClosed      = "closed"      // Outbound message discarded by Disconnect
)

// Observer receives transport telemetry. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	StateChanged(status Status)
	ReconnectScheduled(attempt int, delay time.Duration)
	FrameReceived(channel string)
	FrameSent(channel string)
	FrameDropped(reason string)
	HandlerPanicked(channel string)
	QueueDepth(n int)
	SubscriptionCount(n int)
}

// NopObserver discards all telemetry.
type NopObserver struct{}

func (NopObserver) StateChanged(Status) {}
func (NopObserver) ReconnectScheduled(int, time.Duration) {}
func (NopObserver) FrameReceived(string) {}
func (NopObserver) FrameSent(string) {}
func (NopObserver) FrameDropped(string) {}
func (NopObserver) HandlerPanicked(string) {}
func (NopObserver) QueueDepth(int) {}
func (NopObserver) SubscriptionCount(int) {}
