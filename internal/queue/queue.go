// Package queue runs named background jobs on a pluggable backend.
//
// A Service owns the queue definitions and the worker loops. Backends store
// jobs and track deliveries: the memory backend serves development and tests
// while the Redis backend uses Streams with consumer groups so several worker
// processes can share one queue. Deliveries that are never acknowledged are
// picked up again by Service.Reconcile.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrClosed is returned once a backend or service has been closed.
	ErrClosed = errors.New("queue closed")
	// ErrUnknownQueue is returned when publishing to an undefined queue.
	ErrUnknownQueue = errors.New("unknown queue")
	// ErrInvalidPayload marks payloads that can never be processed. Jobs
	// failing with it are not retried.
	ErrInvalidPayload = errors.New("invalid job payload")
)

// Job is a unit of work stored on a backend.
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Delivery is a job handed to a consumer. It stays pending on the backend
// until acknowledged.
type Delivery struct {
	Job Job
	ref string
}

// Backend stores jobs and tracks their deliveries.
type Backend interface {
	Enqueue(ctx context.Context, job Job) error
	// Receive waits a backend-defined interval for up to max jobs and
	// returns an empty slice when none arrive.
	Receive(ctx context.Context, queue, consumer string, max int) ([]Delivery, error)
	Ack(ctx context.Context, queue string, delivery Delivery) error
	// Reclaim re-enqueues deliveries pending for longer than minIdle and
	// reports how many were moved.
	Reclaim(ctx context.Context, queue, consumer string, minIdle time.Duration) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// ProcessFunc handles one job payload. The returned value is logged on
// success.
type ProcessFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Options tune how a queue retries and parallelises its jobs.
type Options struct {
	// Attempts is the total number of tries, the first included.
	Attempts int
	// Backoff is the base of the exponential delay between attempts.
	Backoff     time.Duration
	Timeout     time.Duration
	Concurrency int
}

// Definition declares a queue and its processor.
type Definition struct {
	Name    string
	Process ProcessFunc
	Options Options
}

const (
	defaultAttempts    = 1
	defaultTimeout     = 30 * time.Second
	defaultConcurrency = 1
)

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = defaultAttempts
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	return o
}

// backoffDelay returns the wait before the attempt following attempt.
func (o Options) backoffDelay(attempt int) time.Duration {
	if o.Backoff <= 0 || attempt < 1 {
		return 0
	}
	delay := o.Backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
