package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const defaultMemoryWait = time.Second

type memoryInflight struct {
	job         Job
	deliveredAt time.Time
}

type memoryQueue struct {
	ready    []Job
	inflight map[string]memoryInflight
	// signal is closed and replaced whenever a job is enqueued.
	signal chan struct{}
}

type memoryBackend struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	seq    uint64
	closed bool
	wait   time.Duration
	now    func() time.Time
}

// MemoryOption configures the memory backend.
type MemoryOption func(*memoryBackend)

// WithMemoryWait bounds how long Receive blocks when a queue is empty.
func WithMemoryWait(wait time.Duration) MemoryOption {
	return func(b *memoryBackend) {
		if wait > 0 {
			b.wait = wait
		}
	}
}

// WithMemoryClock replaces the clock used to age deliveries.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(b *memoryBackend) {
		if now != nil {
			b.now = now
		}
	}
}

// NewMemoryBackend returns a process-local backend suitable for tests and
// single-process deployments.
func NewMemoryBackend(opts ...MemoryOption) Backend {
	backend := &memoryBackend{
		queues: make(map[string]*memoryQueue),
		wait:   defaultMemoryWait,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(backend)
		}
	}
	return backend
}

func (b *memoryBackend) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{inflight: make(map[string]memoryInflight), signal: make(chan struct{})}
		b.queues[name] = q
	}
	return q
}

func (b *memoryBackend) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.push(b.queue(job.Queue), job)
	return nil
}

func (b *memoryBackend) push(q *memoryQueue, job Job) {
	q.ready = append(q.ready, job)
	close(q.signal)
	q.signal = make(chan struct{})
}

func (b *memoryBackend) Receive(ctx context.Context, queue, _ string, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	timer := time.NewTimer(b.wait)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		q := b.queue(queue)
		if len(q.ready) > 0 {
			n := max
			if n > len(q.ready) {
				n = len(q.ready)
			}
			deliveries := make([]Delivery, 0, n)
			for _, job := range q.ready[:n] {
				b.seq++
				ref := strconv.FormatUint(b.seq, 10)
				q.inflight[ref] = memoryInflight{job: job, deliveredAt: b.now()}
				deliveries = append(deliveries, Delivery{Job: job, ref: ref})
			}
			q.ready = append([]Job(nil), q.ready[n:]...)
			b.mu.Unlock()
			return deliveries, nil
		}
		signal := q.signal
		b.mu.Unlock()

		select {
		case <-signal:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *memoryBackend) Ack(_ context.Context, queue string, delivery Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queue(queue).inflight, delivery.ref)
	return nil
}

func (b *memoryBackend) Reclaim(_ context.Context, queue, _ string, minIdle time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	q := b.queue(queue)
	cutoff := b.now().Add(-minIdle)
	moved := 0
	for ref, entry := range q.inflight {
		if entry.deliveredAt.After(cutoff) {
			continue
		}
		delete(q.inflight, ref)
		job := entry.job
		job.Attempt++
		b.push(q, job)
		moved++
	}
	return moved, nil
}

func (b *memoryBackend) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *memoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q.signal)
		q.signal = make(chan struct{})
	}
	return nil
}
