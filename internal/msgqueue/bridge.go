package msgqueue

import (
	"context"
	"log"
	"sync"
)

// Callback handles one frame on the bridge worker.
type Callback func(frame []byte) error

// Bridge drains a Queue into a callback on exactly one worker goroutine, so
// callbacks never overlap.
type Bridge struct {
	q  *Queue
	fn Callback

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	drain   chan context.Context
	done    chan struct{}
}

func NewBridge(q *Queue, fn Callback) *Bridge {
	return &Bridge{
		q:     q,
		fn:    fn,
		drain: make(chan context.Context, 1),
		done:  make(chan struct{}),
	}
}

// Start launches the worker. Later calls do nothing.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.stopped {
		return
	}
	b.started = true
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.run(ctx)
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	for ctx.Err() == nil {
		frame, err := b.q.Get(ctx)
		if err != nil {
			break
		}
		b.handle(frame)
	}

	var drainCtx context.Context
	select {
	case drainCtx = <-b.drain:
	default:
		return
	}
	for drainCtx.Err() == nil {
		frame, ok, _ := b.q.TryGet()
		if !ok {
			return
		}
		b.handle(frame)
	}
	if n := b.q.Len(); n > 0 {
		log.Printf("[WARN] msgqueue: drain deadline reached, dropping %d queued frames", n)
	}
}

func (b *Bridge) handle(frame []byte) {
	err := b.fn(frame)
	b.q.metrics.BridgeHandled(err)
	if err != nil {
		log.Printf("[WARN] msgqueue: callback failed: %v", err)
	}
}

// Stop closes the queue, lets the worker hand over frames already queued
// until the queue is empty or ctx ends, then waits for the worker to exit.
// It returns ctx.Err() if the worker was still busy when ctx ended.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	started := b.started
	b.mu.Unlock()

	b.q.Close()
	if !started {
		return nil
	}
	b.drain <- ctx
	b.cancel()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
