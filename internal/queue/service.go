package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"template-backend/internal/observability/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultReclaimIdle = time.Minute
	receiveRetryDelay  = 200 * time.Millisecond
	ackTimeout         = 2 * time.Second
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for job outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder records job outcomes on recorder.
func WithRecorder(recorder *metrics.Recorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// WithConsumerName sets the consumer name workers register under.
func WithConsumerName(name string) Option {
	return func(s *Service) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			s.consumer = trimmed
		}
	}
}

// WithReclaimIdle sets how long a delivery may stay unacknowledged before
// Reconcile moves it back onto its queue.
func WithReclaimIdle(idle time.Duration) Option {
	return func(s *Service) {
		if idle > 0 {
			s.reclaimIdle = idle
		}
	}
}

// Service publishes jobs and runs the workers for every defined queue.
type Service struct {
	backend     Backend
	logger      *slog.Logger
	recorder    *metrics.Recorder
	consumer    string
	reclaimIdle time.Duration
	now         func() time.Time

	mu     sync.RWMutex
	defs   map[string]Definition
	closed bool
}

// NewService wraps backend. A nil backend selects the memory backend.
func NewService(backend Backend, opts ...Option) *Service {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	svc := &Service{
		backend:     backend,
		logger:      slog.Default(),
		consumer:    "consumer-" + uuid.NewString()[:8],
		reclaimIdle: defaultReclaimIdle,
		now:         time.Now,
		defs:        make(map[string]Definition),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Define registers a queue. Names must be unique.
func (s *Service) Define(def Definition) error {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return errors.New("queue: name is required")
	}
	if def.Process == nil {
		return fmt.Errorf("queue: %s has no processor", def.Name)
	}
	def.Options = def.Options.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.defs[def.Name]; exists {
		return fmt.Errorf("queue: %s already defined", def.Name)
	}
	s.defs[def.Name] = def
	return nil
}

// Names lists the defined queues in sorted order.
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.defs))
	for name := range s.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) definition(name string) (Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[name]
	return def, ok
}

func (s *Service) definitions() []Definition {
	names := s.Names()
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		if def, ok := s.definition(name); ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// Publish enqueues payload as JSON on the named queue and returns the job id.
func (s *Service) Publish(ctx context.Context, name string, payload any) (string, error) {
	if s.isClosed() {
		return "", ErrClosed
	}
	if _, ok := s.definition(name); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", name, err)
	}
	job := Job{
		ID:         uuid.NewString(),
		Queue:      name,
		Payload:    data,
		Attempt:    1,
		EnqueuedAt: s.now().UTC(),
	}
	if err := s.backend.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("publish %s: %w", name, err)
	}
	s.recorder.JobPublished(name)
	return job.ID, nil
}

// Run starts Concurrency workers per queue and blocks until ctx is cancelled
// or the backend is closed.
func (s *Service) Run(ctx context.Context) error {
	defs := s.definitions()
	if len(defs) == 0 {
		return errors.New("queue: no queues defined")
	}
	group, ctx := errgroup.WithContext(ctx)
	for _, def := range defs {
		def := def
		for i := 0; i < def.Options.Concurrency; i++ {
			consumer := fmt.Sprintf("%s-%d", s.consumer, i)
			group.Go(func() error {
				return s.work(ctx, def, consumer)
			})
		}
	}
	s.logger.Info("queue workers started", "queues", len(defs), "consumer", s.consumer)
	err := group.Wait()
	s.logger.Info("queue workers stopped")
	return err
}

func (s *Service) work(ctx context.Context, def Definition, consumer string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		deliveries, err := s.backend.Receive(ctx, def.Name, consumer, 1)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			s.logger.Warn("queue receive failed", "queue", def.Name, "error", err)
			if !sleepContext(ctx, receiveRetryDelay) {
				return nil
			}
			continue
		}
		for _, delivery := range deliveries {
			s.handle(ctx, def, delivery)
		}
	}
}

func (s *Service) handle(ctx context.Context, def Definition, delivery Delivery) {
	job := delivery.Job
	logger := s.logger.With("queue", def.Name, "job_id", job.ID, "attempt", job.Attempt)
	s.recorder.JobStarted(def.Name)

	// Reclaim counts a stalled delivery as an attempt.
	if job.Attempt > def.Options.Attempts {
		s.recorder.JobFailed(def.Name, true)
		logger.Error("job abandoned after stalled attempts", "attempts", def.Options.Attempts)
		s.ack(def.Name, delivery, logger)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, def.Options.Timeout)
	result, err := runProcess(jobCtx, def.Process, job.Payload)
	cancel()

	if err == nil {
		s.recorder.JobCompleted(def.Name)
		logger.Debug("job completed", "result", result)
		s.ack(def.Name, delivery, logger)
		return
	}

	if ctx.Err() != nil {
		// Left pending; Reconcile hands it to another worker.
		s.recorder.JobFailed(def.Name, false)
		logger.Warn("job interrupted by shutdown", "error", err)
		return
	}

	exhausted := job.Attempt >= def.Options.Attempts || errors.Is(err, ErrInvalidPayload)
	s.recorder.JobFailed(def.Name, exhausted)
	if exhausted {
		logger.Error("job failed", "error", err, "attempts", job.Attempt)
		s.ack(def.Name, delivery, logger)
		return
	}

	delay := def.Options.backoffDelay(job.Attempt)
	logger.Warn("job attempt failed, retrying", "error", err, "backoff", delay)
	if !sleepContext(ctx, delay) {
		return
	}
	retry := job
	retry.Attempt++
	if err := s.backend.Enqueue(ctx, retry); err != nil {
		logger.Error("job retry enqueue failed", "error", err)
		return
	}
	s.ack(def.Name, delivery, logger)
}

func (s *Service) ack(queue string, delivery Delivery, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := s.backend.Ack(ctx, queue, delivery); err != nil {
		logger.Warn("job ack failed", "error", err)
	}
}

func runProcess(ctx context.Context, process ProcessFunc, payload json.RawMessage) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("job panicked: %v", recovered)
		}
	}()
	return process(ctx, payload)
}

// Reconcile moves deliveries that stayed unacknowledged for longer than the
// reclaim idle time back onto their queues.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	total := 0
	var errs []error
	for _, name := range s.Names() {
		moved, err := s.backend.Reclaim(ctx, name, s.consumer, s.reclaimIdle)
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile %s: %w", name, err))
		}
		if moved > 0 {
			s.recorder.JobReclaimed(name, moved)
			s.logger.Info("reclaimed stale jobs", "queue", name, "count", moved)
		}
		total += moved
	}
	return total, errors.Join(errs...)
}

// Ping reports whether the backend is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.backend.Ping(ctx)
}

// Close stops accepting jobs and closes the backend.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.backend.Close()
}

func (s *Service) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
