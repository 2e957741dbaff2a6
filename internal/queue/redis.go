package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix       = "queues"
	defaultRedisGroup        = "workers"
	defaultRedisBlockTimeout = 2 * time.Second
	reclaimBatch             = 64
	payloadField             = "payload"
)

// RedisConfig configures the Redis Streams backend. The client is owned by
// the caller and is not closed by the backend.
type RedisConfig struct {
	Client       redis.UniversalClient
	Prefix       string
	Group        string
	BlockTimeout time.Duration
	Logger       *slog.Logger
}

type redisBackend struct {
	client       redis.UniversalClient
	prefix       string
	group        string
	blockTimeout time.Duration
	logger       *slog.Logger

	groupMu    sync.Mutex
	groupReady map[string]bool
}

// NewRedisBackend stores each queue in the stream "<prefix>:<queue>" consumed
// by a single consumer group.
func NewRedisBackend(cfg RedisConfig) (Backend, error) {
	if cfg.Client == nil {
		return nil, errors.New("queue: redis client is required")
	}
	backend := &redisBackend{
		client:       cfg.Client,
		prefix:       strings.TrimSpace(cfg.Prefix),
		group:        strings.TrimSpace(cfg.Group),
		blockTimeout: cfg.BlockTimeout,
		logger:       cfg.Logger,
		groupReady:   make(map[string]bool),
	}
	if backend.prefix == "" {
		backend.prefix = defaultRedisPrefix
	}
	if backend.group == "" {
		backend.group = defaultRedisGroup
	}
	if backend.blockTimeout <= 0 {
		backend.blockTimeout = defaultRedisBlockTimeout
	}
	if backend.logger == nil {
		backend.logger = slog.Default()
	}
	return backend, nil
}

func (b *redisBackend) stream(queue string) string {
	return b.prefix + ":" + queue
}

func (b *redisBackend) ensureGroup(ctx context.Context, stream string) error {
	b.groupMu.Lock()
	defer b.groupMu.Unlock()
	if b.groupReady[stream] {
		return nil
	}
	err := b.client.XGroupCreateMkStream(ctx, stream, b.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group on %s: %w", stream, err)
	}
	b.groupReady[stream] = true
	return nil
}

func (b *redisBackend) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream(job.Queue),
		Values: map[string]interface{}{payloadField: string(data)},
	}).Err()
}

func (b *redisBackend) Receive(ctx context.Context, queue, consumer string, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	stream := b.stream(queue)
	if err := b.ensureGroup(ctx, stream); err != nil {
		return nil, err
	}
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(max),
		Block:    b.blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var deliveries []Delivery
	for _, s := range streams {
		for _, message := range s.Messages {
			job, err := decodeMessage(message)
			if err != nil {
				b.logger.Error("redis queue decode failed", "stream", stream, "id", message.ID, "error", err)
				b.ackID(ctx, stream, message.ID)
				continue
			}
			deliveries = append(deliveries, Delivery{Job: job, ref: message.ID})
		}
	}
	return deliveries, nil
}

func (b *redisBackend) Ack(ctx context.Context, queue string, delivery Delivery) error {
	if delivery.ref == "" {
		return nil
	}
	return b.client.XAck(ctx, b.stream(queue), b.group, delivery.ref).Err()
}

func (b *redisBackend) ackID(ctx context.Context, stream, id string) {
	if err := b.client.XAck(ctx, stream, b.group, id).Err(); err != nil {
		b.logger.Warn("redis ack failed", "stream", stream, "id", id, "error", err)
	}
}

// Reclaim claims idle pending entries with XAUTOCLAIM and moves each one to
// the tail of the stream as a fresh entry.
func (b *redisBackend) Reclaim(ctx context.Context, queue, consumer string, minIdle time.Duration) (int, error) {
	stream := b.stream(queue)
	if err := b.ensureGroup(ctx, stream); err != nil {
		return 0, err
	}

	moved := 0
	start := "0-0"
	for {
		messages, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    b.group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Start:    start,
			Count:    reclaimBatch,
		}).Result()
		if err != nil {
			return moved, fmt.Errorf("autoclaim %s: %w", stream, err)
		}
		for _, message := range messages {
			if err := b.requeue(ctx, stream, message); err != nil {
				return moved, err
			}
			moved++
		}
		if next == "" || next == "0-0" {
			return moved, nil
		}
		start = next
	}
}

// requeue re-adds message with its attempt counter raised. Entries that no
// longer decode are only acknowledged.
func (b *redisBackend) requeue(ctx context.Context, stream string, message redis.XMessage) error {
	var data []byte
	job, err := decodeMessage(message)
	if err != nil {
		b.logger.Error("redis queue dropping undecodable entry", "stream", stream, "id", message.ID, "error", err)
	} else {
		job.Attempt++
		if data, err = json.Marshal(job); err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if data != nil {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: stream,
				Values: map[string]interface{}{payloadField: string(data)},
			})
		}
		pipe.XAck(ctx, stream, b.group, message.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue %s %s: %w", stream, message.ID, err)
	}
	return nil
}

func (b *redisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *redisBackend) Close() error {
	return nil
}

func decodeMessage(message redis.XMessage) (Job, error) {
	raw, ok := message.Values[payloadField]
	if !ok {
		return Job{}, errors.New("missing payload field")
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return Job{}, fmt.Errorf("unexpected payload type %T", raw)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
