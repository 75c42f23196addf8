package msgqueue

import (
	"context"
	"errors"
	"log"
	"sync"

	"AirModes-Relay/internal/metrics"
)

var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO of frames. Put never blocks the producer;
// growth is visible through the depth gauge and a high-water warning.
type Queue struct {
	mu        sync.Mutex
	items     [][]byte
	notify    chan struct{}
	done      chan struct{}
	closed    bool
	highWater int
	above     bool
	metrics   *metrics.Metrics
}

// NewQueue returns an empty queue. highWater <= 0 disables the warning.
func NewQueue(highWater int, m *metrics.Metrics) *Queue {
	return &Queue{
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		highWater: highWater,
		metrics:   m,
	}
}

// Put appends frame. It returns ErrClosed once the queue is closed.
func (q *Queue) Put(frame []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, frame)
	depth := len(q.items)
	crossed := q.highWater > 0 && depth >= q.highWater && !q.above
	if crossed {
		q.above = true
	}
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)
	if crossed {
		q.metrics.QueueHighWater()
		log.Printf("[WARN] msgqueue: depth %d reached high-water mark %d, consumer is falling behind", depth, q.highWater)
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Get blocks until a frame is available, the queue is closed and empty, or
// ctx ends.
func (q *Queue) Get(ctx context.Context) ([]byte, error) {
	for {
		if frame, ok, err := q.TryGet(); ok || err != nil {
			return frame, err
		}
		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryGet pops a frame without blocking. ok is false when the queue is empty.
func (q *Queue) TryGet() (frame []byte, ok bool, err error) {
	q.mu.Lock()
	if len(q.items) == 0 {
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false, ErrClosed
		}
		return nil, false, nil
	}
	frame = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	depth := len(q.items)
	if q.above && depth < q.highWater/2 {
		q.above = false
	}
	q.mu.Unlock()
	q.metrics.SetQueueDepth(depth)
	if depth > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return frame, true, nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further puts. Frames already queued can still be read.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
