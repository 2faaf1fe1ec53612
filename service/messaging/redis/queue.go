package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gpumesh/marketplace/service/messaging"
)

// Config for the redis queue implementation.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Key is the redis list the queue lives on.
	Key        string
	MaxRetries int
	RetryDelay time.Duration
	// PopTimeout bounds a single blocking pop so Consume can honour context
	// cancellation.
	PopTimeout time.Duration
}

// DefaultConfig returns a standard configuration for the redis queue.
func DefaultConfig(addr, key string) Config {
	return Config{
		Addr:       addr,
		Key:        key,
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
		PopTimeout: time.Second,
	}
}

// envelope wraps the payload with delivery metadata so that retries survive
// the round-trip through redis.
type envelope[T any] struct {
	Payload T   `json:"payload"`
	Retries int `json:"retries"`
}

// Message implements messaging.Message for the redis queue.
type Message[T any] struct {
	payload T
	retries int
	queue   *Queue[T]
}

// T returns the message payload.
func (m *Message[T]) T() *T {
	return &m.payload
}

// Ack acknowledges the message; the entry was already removed from the list
// by the blocking pop so there is nothing left to do.
func (m *Message[T]) Ack() error {
	return nil
}

// Nack requeues the message unless the retry limit is exhausted.
func (m *Message[T]) Nack(err error) error {
	if m.retries >= m.queue.config.MaxRetries {
		return nil
	}
	time.Sleep(m.queue.config.RetryDelay)
	return m.queue.publish(context.Background(), envelope[T]{Payload: m.payload, Retries: m.retries + 1})
}

// Queue implements messaging.Queue on top of a redis list, so that multiple
// worker processes can share one execution queue.
type Queue[T any] struct {
	client *redis.Client
	config Config
}

// NewQueue creates a redis-backed queue.
func NewQueue[T any](config Config) *Queue[T] {
	if config.PopTimeout <= 0 {
		config.PopTimeout = time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return &Queue[T]{client: client, config: config}
}

// Publish adds a new item to the queue.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	return q.publish(ctx, envelope[T]{Payload: *t})
}

func (q *Queue[T]) publish(ctx context.Context, env envelope[T]) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return q.client.LPush(ctx, q.config.Key, data).Err()
}

// Consume blocks until a message is available or the context is cancelled.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := q.client.BRPop(ctx, q.config.PopTimeout, q.config.Key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var env envelope[T]
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		return &Message[T]{payload: env.Payload, retries: env.Retries, queue: q}, nil
	}
}

// Close releases the underlying redis client.
func (q *Queue[T]) Close() error {
	return q.client.Close()
}

// ensure Queue implements messaging.Queue interface
var _ messaging.Queue[any] = (*Queue[any])(nil)
