package network

import (
	"errors"
	"fmt"
	"sync"

	ma "github.com/multiformats/go-multiaddr"
)

// Publisher broadcasts on one in-process address and at most one network
// address. Publish may be called from any goroutine.
type Publisher struct {
	nc    *Context
	addrs []Address

	mu     sync.Mutex
	local  *MemoryPubSub
	tag    string
	remote *Libp2pPubSub
	closed bool
}

// NewPublisher binds every address. On failure nothing stays bound.
func NewPublisher(nc *Context, addrs []Address) (*Publisher, error) {
	var inproc, network []Address
	for _, a := range addrs {
		if a.Kind == KindInproc {
			inproc = append(inproc, a)
		} else {
			network = append(network, a)
		}
	}
	if len(inproc) != 1 {
		return nil, &TransportError{Op: "bind", Address: joinAddrs(addrs), Err: fmt.Errorf("%w: publisher needs exactly one inproc address", ErrInvalidAddress)}
	}
	if len(network) > 1 {
		return nil, &TransportError{Op: "bind", Address: joinAddrs(network), Err: fmt.Errorf("%w: at most one network publish address", ErrInvalidAddress)}
	}

	local, err := nc.bindInproc(inproc[0].Tag)
	if err != nil {
		return nil, err
	}
	p := &Publisher{nc: nc, addrs: addrs, local: local, tag: inproc[0].Tag}

	if len(network) == 1 {
		opts := nc.libp2pOptions()
		opts.ListenAddrs = []ma.Multiaddr{network[0].Multiaddr}
		opts.IdentityKeyFile = nc.opts.IdentityKeyFile
		remote, err := NewLibp2pPubSub(nc.ctx, opts)
		if err != nil {
			nc.unbindInproc(p.tag, local)
			return nil, &TransportError{Op: "bind", Address: network[0].Raw, Err: err}
		}
		p.remote = remote
	}
	return p, nil
}

func (p *Publisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	err := p.local.Publish(topic, payload)
	if p.remote != nil {
		err = errors.Join(err, p.remote.Publish(topic, payload))
	}
	if err == nil {
		p.nc.opts.Metrics.Published(topic)
	}
	return err
}

// ListenAddrs lists the dialable network addresses including the peer id,
// which is what remote relays need to subscribe.
func (p *Publisher) ListenAddrs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil || p.closed {
		return nil
	}
	return p.remote.ListenAddrs()
}

// PeerID is the network identity remote relays dial, empty for an
// in-process only publisher.
func (p *Publisher) PeerID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil || p.closed {
		return ""
	}
	return p.remote.PeerID()
}

func (p *Publisher) Addresses() []Address {
	return append([]Address(nil), p.addrs...)
}

// Close unbinds every address. Calling it again is a no-op.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.nc.unbindInproc(p.tag, p.local)
	if p.remote != nil {
		return p.remote.Close()
	}
	return nil
}

func joinAddrs(addrs []Address) string {
	s := ""
	for i, a := range addrs {
		if i > 0 {
			s += ","
		}
		s += a.Raw
	}
	return s
}
