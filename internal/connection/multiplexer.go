package connection

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opsdeck/realtime/internal/message"
)

// subscription is one handler registered on one channel.
type subscription struct {
	id      string
	channel string
	handler func(message.Message)
	active  atomic.Bool // Cleared by Unsubscribe; checked before every call
}

// registry maps channel names to subscriptions in registration order.
// Channel slices are copy-on-write so dispatch can iterate a snapshot
// while handlers subscribe or unsubscribe.
type registry struct {
	mu        sync.RWMutex
	byChannel map[string][]*subscription
	byID      map[string]*subscription
}

func newRegistry() *registry {
	return &registry{
		byChannel: make(map[string][]*subscription),
		byID:      make(map[string]*subscription),
	}
}

func (r *registry) add(channel string, h func(message.Message)) *subscription {
	sub := &subscription{
		id:      uuid.NewString(),
		channel: channel,
		handler: h,
	}
	sub.active.Store(true)

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byChannel[channel]
	next := make([]*subscription, len(list), len(list)+1)
	copy(next, list)
	r.byChannel[channel] = append(next, sub)
	r.byID[sub.id] = sub
	return sub
}

func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return false
	}
	sub.active.Store(false)
	delete(r.byID, id)

	list := r.byChannel[sub.channel]
	next := make([]*subscription, 0, len(list))
	for _, s := range list {
		if s != sub {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(r.byChannel, sub.channel)
	} else {
		r.byChannel[sub.channel] = next
	}
	return true
}

// snapshot returns the channel's subscriptions at this instant.
func (r *registry) snapshot(channel string) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byChannel[channel]
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.byID {
		sub.active.Store(false)
	}
	r.byChannel = make(map[string][]*subscription)
	r.byID = make(map[string]*subscription)
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Subscribe registers h for every inbound message whose type equals channel
// and returns an id for Unsubscribe. Handlers on one channel run in
// registration order on the client's read goroutine; a slow handler delays
// every later frame.
func (c *Client) Subscribe(channel string, h Handler) (string, error) {
	if h == nil {
		return "", ErrNilHandler
	}
	return c.subscribe(channel, func(m message.Message) { h(m.Data) })
}

// SubscribeMessage is Subscribe for consumers that need the whole envelope
// (id and timestamp) rather than just the payload.
func (c *Client) SubscribeMessage(channel string, fn func(message.Message)) (string, error) {
	if fn == nil {
		return "", ErrNilHandler
	}
	return c.subscribe(channel, fn)
}

func (c *Client) subscribe(channel string, fn func(message.Message)) (string, error) {
	if channel == "" {
		return "", ErrEmptyChannel
	}

	// Disconnect sets closed under mu before clearing the registry, so an
	// add made while holding mu is either rejected or cleared.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	sub := c.subs.add(channel, fn)
	n := c.subs.len()
	c.mu.Unlock()

	c.observer.SubscriptionCount(n)
	c.logger.Debug("subscribed", "channel", channel, "subscription", sub.id)
	return sub.id, nil
}

// SubscribeJSON subscribes fn to channel, decoding each payload into T.
// Payloads that do not decode are logged and skipped for this subscriber only.
func SubscribeJSON[T any](c *Client, channel string, fn func(T)) (string, error) {
	if fn == nil {
		return "", ErrNilHandler
	}
	return c.Subscribe(channel, func(data json.RawMessage) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			c.logger.Debug("payload does not match subscriber type",
				"channel", channel,
				"error", err,
			)
			c.observer.FrameDropped(DropUndecodable)
			return
		}
		fn(v)
	})
}

// Unsubscribe removes the subscription with the given id. Once it returns,
// no frame whose delivery to this subscription has not begun reaches the
// handler, including the rest of a frame being dispatched right now.
// Unsubscribe does not wait for a delivery that has already begun, so when
// called from another goroutine the handler may still be running (or about
// to run) for that one frame. Called from a handler on the read goroutine
// the cut is exact. Unknown ids are ignored.
func (c *Client) Unsubscribe(id string) {
	if c.subs.remove(id) {
		c.observer.SubscriptionCount(c.subs.len())
		c.logger.Debug("unsubscribed", "subscription", id)
	}
}

// dispatch routes one inbound frame. Malformed frames and frames nobody
// subscribed to are dropped without error.
func (c *Client) dispatch(frame []byte) {
	msg, err := message.Decode(frame)
	if err != nil {
		c.logger.Debug("dropping malformed frame", "error", err, "size", len(frame))
		c.observer.FrameDropped(DropMalformed)
		return
	}

	c.observer.FrameReceived(msg.Type)
	if msg.Type == message.ChannelHeartbeat {
		c.markHeartbeat()
	}

	subs := c.subs.snapshot(msg.Type)
	if len(subs) == 0 {
		c.observer.FrameDropped(DropUnrouted)
		return
	}

	for _, sub := range subs {
		c.invoke(sub, msg)
	}
}

// invoke calls one handler unless it was unsubscribed, isolating panics
// from the other subscribers and from the read loop.
func (c *Client) invoke(sub *subscription, msg message.Message) {
	if !sub.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscription handler panicked",
				"channel", sub.channel,
				"subscription", sub.id,
				"panic", r,
			)
			c.observer.HandlerPanicked(sub.channel)
		}
	}()
	sub.handler(msg)
}

func (c *Client) markHeartbeat() {
	now := c.clock.Now()
	c.mu.Lock()
	c.lastHeartbeat = now
	c.mu.Unlock()
}
