package network

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// Handler receives one message. Handlers for a topic run one at a time.
type Handler func(Message)

type endpoint struct {
	addr Address
	ps   PubSub
}

type topicStream struct {
	mu       sync.Mutex
	handlers []Handler
	merged   chan Message
}

// Subscriber listens on several addresses at once and merges what arrives
// into a single callback stream per topic. Nothing is deduplicated.
type Subscriber struct {
	nc    *Context
	addrs []Address

	mu        sync.Mutex
	endpoints []endpoint
	remote    *Libp2pPubSub
	topics    map[string]*topicStream
	cancels   []func()
	stop      chan struct{}
	closed    bool
	wg        sync.WaitGroup
}

// NewSubscriber connects to every address. In-process addresses may be
// connected before their publisher binds. Network addresses share one
// dial-only libp2p host.
func NewSubscriber(nc *Context, addrs []Address) (*Subscriber, error) {
	s := &Subscriber{
		nc:     nc,
		addrs:  append([]Address(nil), addrs...),
		topics: make(map[string]*topicStream),
		stop:   make(chan struct{}),
	}

	var remoteAddrs []Address
	opts := nc.libp2pOptions()
	for _, a := range addrs {
		switch a.Kind {
		case KindInproc:
			ps, err := nc.connectInproc(a.Tag)
			if err != nil {
				return nil, err
			}
			s.endpoints = append(s.endpoints, endpoint{addr: a, ps: ps})
		case KindNetwork:
			info, err := a.PeerInfo()
			if err != nil {
				return nil, err
			}
			opts.Peers = append(opts.Peers, info)
			remoteAddrs = append(remoteAddrs, a)
		}
	}

	if len(remoteAddrs) > 0 {
		remote, err := NewLibp2pPubSub(nc.ctx, opts)
		if err != nil {
			return nil, &TransportError{Op: "connect", Address: joinAddrs(remoteAddrs), Err: err}
		}
		s.remote = remote
		s.endpoints = append(s.endpoints, endpoint{addr: remoteAddrs[0], ps: remote})
	}
	return s, nil
}

// Subscribe registers fn for topic on every connected address. Topics match
// by exact string equality.
func (s *Subscriber) Subscribe(topic string, fn Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if ts, ok := s.topics[topic]; ok {
		ts.mu.Lock()
		ts.handlers = append(ts.handlers, fn)
		ts.mu.Unlock()
		return nil
	}

	ts := &topicStream{handlers: []Handler{fn}, merged: make(chan Message)}
	var cancels []func()
	for _, ep := range s.endpoints {
		ch, cancel, err := ep.ps.Subscribe(topic)
		if err != nil {
			for _, c := range cancels {
				c()
			}
			return &TransportError{Op: "subscribe", Address: ep.addr.Raw, Err: err}
		}
		cancels = append(cancels, cancel)
		s.wg.Add(1)
		go s.pump(ep.addr, ch, ts.merged)
	}
	s.cancels = append(s.cancels, cancels...)
	s.topics[topic] = ts
	s.wg.Add(1)
	go s.dispatch(topic, ts)
	return nil
}

func (s *Subscriber) pump(addr Address, in <-chan Message, out chan<- Message) {
	defer s.wg.Done()
	for msg := range in {
		select {
		case out <- msg:
		case <-s.stop:
			return
		}
	}
	log.Printf("[DEBUG] subscription on %s ended", addr.Raw)
}

func (s *Subscriber) dispatch(topic string, ts *topicStream) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case msg := <-ts.merged:
			select {
			case <-s.stop:
				return
			default:
			}
			ts.mu.Lock()
			handlers := append([]Handler(nil), ts.handlers...)
			ts.mu.Unlock()
			for _, fn := range handlers {
				fn(msg)
			}
			s.nc.opts.Metrics.Delivered(topic)
		}
	}
}

func (s *Subscriber) Addresses() []Address {
	return append([]Address(nil), s.addrs...)
}

// Peers lists the remote peers the network endpoint is connected to.
func (s *Subscriber) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil || s.closed {
		return nil
	}
	return s.remote.ConnectedPeers()
}

// Close stops all delivery and waits for running handlers to return, so no
// handler runs once Close returns. It must not be called from a Handler.
// Calling it again is a no-op.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()

	var err error
	if s.remote != nil {
		if cerr := s.remote.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close network endpoint: %w", cerr))
		}
	}
	return err
}
