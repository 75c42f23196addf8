package network

import (
	"context"
	"sync"
	"time"

	"AirModes-Relay/internal/metrics"
)

// Options are shared by every endpoint created from one Context.
type Options struct {
	// IdentityKeyFile keeps the publisher's peer id stable across restarts.
	IdentityKeyFile string
	EnableMDNS      bool
	Rendezvous      string

	ConnectAttempts int
	ConnectTimeout  time.Duration
	RetryInterval   time.Duration

	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Rendezvous == "" {
		o.Rendezvous = "modes-relay"
	}
	if o.ConnectAttempts < 1 {
		o.ConnectAttempts = 3
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = time.Second
	}
	return o
}

type inprocEndpoint struct {
	ps    *MemoryPubSub
	bound bool
}

// Context is the process-wide messaging context. It owns the in-process
// endpoint registry and is handed to both the radio publisher and the relay.
type Context struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options

	mu     sync.Mutex
	inproc map[string]*inprocEndpoint
	closed bool
}

func NewContext(parent context.Context, opts Options) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		ctx:    ctx,
		cancel: cancel,
		opts:   opts.withDefaults(),
		inproc: make(map[string]*inprocEndpoint),
	}
}

func (c *Context) Metrics() *metrics.Metrics {
	return c.opts.Metrics
}

func (c *Context) endpointLocked(tag string) *inprocEndpoint {
	ep, ok := c.inproc[tag]
	if !ok {
		ps := NewLosslessMemoryPubSub()
		ep = &inprocEndpoint{ps: ps}
		c.inproc[tag] = ep
	}
	return ep
}

// bindInproc claims tag for one publisher.
func (c *Context) bindInproc(tag string) (*MemoryPubSub, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &TransportError{Op: "bind", Address: inprocScheme + tag, Err: ErrClosed}
	}
	ep := c.endpointLocked(tag)
	if ep.bound {
		return nil, &TransportError{Op: "bind", Address: inprocScheme + tag, Err: ErrAddressInUse}
	}
	ep.bound = true
	return ep.ps, nil
}

// connectInproc may run before the matching bind.
func (c *Context) connectInproc(tag string) (*MemoryPubSub, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &TransportError{Op: "connect", Address: inprocScheme + tag, Err: ErrClosed}
	}
	return c.endpointLocked(tag).ps, nil
}

// unbindInproc tears the endpoint down; connected subscribers see their
// channels close.
func (c *Context) unbindInproc(tag string, ps *MemoryPubSub) {
	c.mu.Lock()
	if ep, ok := c.inproc[tag]; ok && ep.ps == ps {
		delete(c.inproc, tag)
	}
	c.mu.Unlock()
	_ = ps.Close()
}

func (c *Context) libp2pOptions() Libp2pOptions {
	return Libp2pOptions{
		Rendezvous:      c.opts.Rendezvous,
		EnableMDNS:      c.opts.EnableMDNS,
		ConnectAttempts: c.opts.ConnectAttempts,
		ConnectTimeout:  c.opts.ConnectTimeout,
		RetryInterval:   c.opts.RetryInterval,
		OnDrop:          c.opts.Metrics.Dropped,
	}
}

// Close terminates the context. Endpoints should be closed first; anything
// still registered is shut down here.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	endpoints := c.inproc
	c.inproc = make(map[string]*inprocEndpoint)
	c.mu.Unlock()

	for _, ep := range endpoints {
		_ = ep.ps.Close()
	}
	c.cancel()
	return nil
}
