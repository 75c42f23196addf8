package network

import (
	"sync"
)

const subscriberBuffer = 256

// MemoryPubSub is a process-local transport backing inproc:// addresses.
type MemoryPubSub struct {
	mu       sync.RWMutex
	nextID   int
	subs     map[string]map[int]*memorySub
	closed   bool
	lossless bool

	// OnDrop is called with the topic whenever a slow subscriber misses a message.
	OnDrop func(topic string)
}

// NewMemoryPubSub drops messages for subscribers whose buffer is full.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[string]map[int]*memorySub)}
}

// NewLosslessMemoryPubSub gives every subscriber an unbounded backlog. A slow
// reader costs memory, never messages, and publishers never block.
func NewLosslessMemoryPubSub() *MemoryPubSub {
	m := NewMemoryPubSub()
	m.lossless = true
	return m
}

type memorySub struct {
	out chan Message

	// Lossless subscriptions only.
	mu      sync.Mutex
	backlog []Message
	ending  bool
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// cancel stops the forwarder even after the publisher side has closed.
func (s *memorySub) cancel() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySub) push(msg Message) {
	s.mu.Lock()
	s.backlog = append(s.backlog, msg)
	s.mu.Unlock()
	s.wake()
}

func (s *memorySub) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// end lets the forwarder flush the backlog, then close out.
func (s *memorySub) end() {
	s.mu.Lock()
	s.ending = true
	s.mu.Unlock()
	s.wake()
}

func (s *memorySub) next() (msg Message, ok bool, ending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.backlog) == 0 {
		return Message{}, false, s.ending
	}
	msg = s.backlog[0]
	s.backlog[0] = Message{}
	s.backlog = s.backlog[1:]
	return msg, true, false
}

func (s *memorySub) forward() {
	defer close(s.out)
	for {
		msg, ok, ending := s.next()
		if !ok {
			if ending {
				return
			}
			select {
			case <-s.notify:
			case <-s.done:
				return
			}
			continue
		}
		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
}

func (m *MemoryPubSub) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, sub := range m.subs[topic] {
		msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
		if m.lossless {
			sub.push(msg)
			continue
		}
		select {
		case sub.out <- msg:
		default:
			// Non-blocking send to avoid one slow subscriber stalling all publishers.
			if m.OnDrop != nil {
				m.OnDrop(topic)
			}
		}
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	if _, ok := m.subs[topic]; !ok {
		m.subs[topic] = make(map[int]*memorySub)
	}
	id := m.nextID
	m.nextID++
	sub := &memorySub{out: make(chan Message, subscriberBuffer)}
	if m.lossless {
		sub.notify = make(chan struct{}, 1)
		sub.done = make(chan struct{})
		go sub.forward()
	}
	m.subs[topic][id] = sub

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if subsByTopic, ok := m.subs[topic]; ok {
			if _, exists := subsByTopic[id]; exists {
				delete(subsByTopic, id)
				if !m.lossless {
					close(sub.out)
				}
			}
			if len(subsByTopic) == 0 {
				delete(m.subs, topic)
			}
		}
		if m.lossless {
			sub.cancel()
		}
	}
	return sub.out, cancel, nil
}

// Close ends every subscription; their channels are closed and later
// publishes fail with ErrClosed.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, subsByTopic := range m.subs {
		for id, sub := range subsByTopic {
			delete(subsByTopic, id)
			// Lossless subscribers still receive their backlog.
			if m.lossless {
				sub.end()
			} else {
				close(sub.out)
			}
		}
		delete(m.subs, topic)
	}
	return nil
}
