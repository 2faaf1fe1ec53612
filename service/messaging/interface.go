package messaging

import (
	"context"
)

// Vendor represents the name of a messaging vendor
type Vendor string

// Queue represents an abstract message queue for any payload type
type Queue[T any] interface {
	// Publish adds a new message with payload to the queue
	Publish(ctx context.Context, t *T) error

	// Consume retrieves a single message from the queue
	Consume(ctx context.Context) (Message[T], error)
}

// BestEffortQueue is implemented by queues that can refuse a publish instead
// of blocking when full.  Callers that prefer dropping a message over stalling
// the producer (e.g. lifecycle notifications) type-assert for it.
type BestEffortQueue[T any] interface {
	// TryPublish adds the message without blocking; it reports false when the
	// queue has no capacity left.
	TryPublish(ctx context.Context, t *T) (bool, error)
}

// Message represents a message retrieved from a queue
type Message[T any] interface {
	// T returns the payload of this message
	T() *T

	// Ack acknowledges successful processing of this message
	Ack() error

	// Nack indicates failure in processing this message
	Nack(err error) error
}
