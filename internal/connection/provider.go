package connection

import (
	"context"
	"sync"
)

// Provider lazily constructs one Client and hands the same instance to every
// caller, so unrelated consumers share a single physical connection.
// A failed construction is not memoised; the next Get tries again.
type Provider struct {
	mu      sync.Mutex
	factory func() (*Client, error)
	client  *Client
}

// NewProvider creates a provider around factory.
func NewProvider(factory func() (*Client, error)) *Provider {
	return &Provider{factory: factory}
}

// Get returns the shared client, constructing it on first use.
func (p *Provider) Get() (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	c, err := p.factory()
	if err != nil {
		return nil, err
	}
	p.client = c
	return c, nil
}

// Reset disconnects and forgets the shared client. The next Get builds a new one.
func (p *Provider) Reset() {
	p.mu.Lock()
	c := p.client
	p.client = nil
	p.mu.Unlock()

	if c != nil {
		c.Disconnect()
	}
}

var (
	defaultMu       sync.Mutex
	defaultProvider *Provider
)

// Instance returns the process-wide client. The first successful call builds
// it from cfg and opts; later calls return that same instance and ignore
// their arguments. Prefer passing the client explicitly (or via WithClient)
// and keep Instance at the composition root.
func Instance(cfg Config, opts ...Option) (*Client, error) {
	defaultMu.Lock()
	if defaultProvider == nil {
		defaultProvider = NewProvider(func() (*Client, error) {
			return New(cfg, opts...)
		})
	}
	p := defaultProvider
	defaultMu.Unlock()

	c, err := p.Get()
	if err != nil {
		// Let a later call retry with its own arguments.
		defaultMu.Lock()
		if defaultProvider == p {
			defaultProvider = nil
		}
		defaultMu.Unlock()
	}
	return c, err
}

type contextKey struct{}

// WithClient returns a context carrying c.
func WithClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the client stored by WithClient, if any.
func FromContext(ctx context.Context) (*Client, bool) {
	c, ok := ctx.Value(contextKey{}).(*Client)
	return c, ok && c != nil
}
