package msgqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"AirModes-Relay/internal/metrics"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(0, nil)
	for i := 0; i < 5; i++ {
		if err := q.Put([]byte{byte(i)}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if q.Len() != 5 {
		t.Fatalf("len = %d", q.Len())
	}
	for i := 0; i < 5; i++ {
		frame, err := q.Get(context.Background())
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if frame[0] != byte(i) {
			t.Fatalf("expected %d, got %d", i, frame[0])
		}
	}
}

func TestQueuePutNeverBlocks(t *testing.T) {
	q := NewQueue(0, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100000; i++ {
			_ = q.Put([]byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked with no consumer")
	}
	if q.Len() != 100000 {
		t.Fatalf("len = %d", q.Len())
	}
}

func TestQueueGetHonorsContext(t *testing.T) {
	q := NewQueue(0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestQueueCloseKeepsQueuedFrames(t *testing.T) {
	q := NewQueue(0, nil)
	_ = q.Put([]byte("a"))
	q.Close()
	q.Close()
	if err := q.Put([]byte("b")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	frame, err := q.Get(context.Background())
	if err != nil || string(frame) != "a" {
		t.Fatalf("expected queued frame, got %q %v", frame, err)
	}
	if _, err := q.Get(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on empty closed queue, got %v", err)
	}
}

func TestQueueDepthMetrics(t *testing.T) {
	m := metrics.New()
	q := NewQueue(3, m)
	for i := 0; i < 4; i++ {
		_ = q.Put([]byte("x"))
	}
	if got := m.Value("modes_queue_depth"); got != 4 {
		t.Fatalf("depth gauge = %v", got)
	}
	if got := m.Value("modes_queue_high_water_total"); got != 1 {
		t.Fatalf("high-water crossings = %v, want 1", got)
	}
	for i := 0; i < 4; i++ {
		_, _, _ = q.TryGet()
	}
	for i := 0; i < 3; i++ {
		_ = q.Put([]byte("x"))
	}
	if got := m.Value("modes_queue_high_water_total"); got != 2 {
		t.Fatalf("high-water crossings = %v, want 2", got)
	}
}

func TestBridgeDeliversInOrderWithoutOverlap(t *testing.T) {
	q := NewQueue(0, nil)
	var (
		mu      sync.Mutex
		got     []string
		running int32
	)
	b := NewBridge(q, func(frame []byte) error {
		if atomic.AddInt32(&running, 1) != 1 {
			t.Error("callbacks overlapped")
		}
		defer atomic.AddInt32(&running, -1)
		mu.Lock()
		got = append(got, string(frame))
		mu.Unlock()
		return nil
	})
	b.Start()
	b.Start()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = q.Put([]byte(fmt.Sprintf("%d-%02d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("expected 100 frames, got %d", len(got))
	}
	last := map[byte]string{}
	for _, f := range got {
		if prev, ok := last[f[0]]; ok && prev > f {
			t.Fatalf("producer %c out of order: %s after %s", f[0], f, prev)
		}
		last[f[0]] = f
	}
}

func TestBridgeCallbackErrorsDoNotStopWorker(t *testing.T) {
	m := metrics.New()
	q := NewQueue(0, m)
	var n int32
	b := NewBridge(q, func(frame []byte) error {
		atomic.AddInt32(&n, 1)
		if string(frame) == "bad" {
			return errors.New("publish failed")
		}
		return nil
	})
	b.Start()
	_ = q.Put([]byte("bad"))
	_ = q.Put([]byte("good"))
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if atomic.LoadInt32(&n) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", n)
	}
	if got := m.Value("modes_bridge_errors_total"); got != 1 {
		t.Fatalf("bridge errors = %v", got)
	}
}

func TestBridgeStopDrainDeadline(t *testing.T) {
	q := NewQueue(0, nil)
	release := make(chan struct{})
	var handled int32
	b := NewBridge(q, func([]byte) error {
		<-release
		atomic.AddInt32(&handled, 1)
		return nil
	})
	b.Start()
	for i := 0; i < 10; i++ {
		_ = q.Put([]byte("x"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected drain deadline, got %v", err)
	}
	close(release)
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&handled); got >= 10 {
		t.Fatalf("worker kept draining after the deadline: %d frames", got)
	}
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestBridgeStopWithoutStart(t *testing.T) {
	q := NewQueue(0, nil)
	b := NewBridge(q, func([]byte) error { return nil })
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := q.Put(nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("queue should be closed, got %v", err)
	}
}
