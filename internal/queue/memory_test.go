package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryBackendFIFO(t *testing.T) {
	backend := NewMemoryBackend(WithMemoryWait(10 * time.Millisecond))
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := backend.Enqueue(ctx, Job{ID: id, Queue: "q"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	first, err := backend.Receive(ctx, "q", "c1", 2)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(first) != 2 || first[0].Job.ID != "a" || first[1].Job.ID != "b" {
		t.Fatalf("unexpected deliveries %+v", first)
	}
	second, err := backend.Receive(ctx, "q", "c1", 5)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(second) != 1 || second[0].Job.ID != "c" {
		t.Fatalf("unexpected deliveries %+v", second)
	}
}

func TestMemoryBackendReceiveTimesOut(t *testing.T) {
	backend := NewMemoryBackend(WithMemoryWait(10 * time.Millisecond))
	deliveries, err := backend.Receive(context.Background(), "empty", "c1", 1)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(deliveries) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(deliveries))
	}
}

func TestMemoryBackendReceiveWakesOnEnqueue(t *testing.T) {
	backend := NewMemoryBackend(WithMemoryWait(5 * time.Second))
	done := make(chan []Delivery, 1)
	go func() {
		deliveries, _ := backend.Receive(context.Background(), "q", "c1", 1)
		done <- deliveries
	}()

	time.Sleep(20 * time.Millisecond)
	if err := backend.Enqueue(context.Background(), Job{ID: "late", Queue: "q"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case deliveries := <-done:
		if len(deliveries) != 1 || deliveries[0].Job.ID != "late" {
			t.Fatalf("unexpected deliveries %+v", deliveries)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not wake up")
	}
}

func TestMemoryBackendReclaim(t *testing.T) {
	clock := newFakeClock()
	backend := NewMemoryBackend(WithMemoryWait(10*time.Millisecond), WithMemoryClock(clock.Now))
	ctx := context.Background()

	if err := backend.Enqueue(ctx, Job{ID: "stale", Queue: "q", Attempt: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := backend.Enqueue(ctx, Job{ID: "acked", Queue: "q"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	deliveries, err := backend.Receive(ctx, "q", "c1", 2)
	if err != nil || len(deliveries) != 2 {
		t.Fatalf("Receive: %v (%d)", err, len(deliveries))
	}
	if err := backend.Ack(ctx, "q", deliveries[1]); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	if moved, _ := backend.Reclaim(ctx, "q", "c2", time.Minute); moved != 0 {
		t.Fatalf("expected nothing reclaimed before idle time, got %d", moved)
	}
	clock.Advance(2 * time.Minute)
	moved, err := backend.Reclaim(ctx, "q", "c2", time.Minute)
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected one reclaimed job, got %d", moved)
	}

	again, err := backend.Receive(ctx, "q", "c2", 5)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(again) != 1 || again[0].Job.ID != "stale" {
		t.Fatalf("expected the unacked job back, got %+v", again)
	}
	if again[0].Job.Attempt != 2 {
		t.Fatalf("expected reclaim to count the stalled attempt, got attempt %d", again[0].Job.Attempt)
	}
}

func TestMemoryBackendClose(t *testing.T) {
	backend := NewMemoryBackend(WithMemoryWait(5 * time.Second))
	done := make(chan error, 1)
	go func() {
		_, err := backend.Receive(context.Background(), "q", "c1", 1)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := backend.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not observe close")
	}
	if err := backend.Enqueue(context.Background(), Job{Queue: "q"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on enqueue, got %v", err)
	}
	if err := backend.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on ping, got %v", err)
	}
}
