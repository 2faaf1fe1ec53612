package event

import (
	"context"
	"log"
	"time"

	"github.com/gpumesh/marketplace/service/messaging"
)

// Publisher fans lifecycle events of one payload type into a queue so that
// listeners observe task outcomes instead of losing them to fire-and-forget
// goroutines.
type Publisher[T any] struct {
	queue messaging.Queue[Event[T]]
}

func NewPublisher[T any](queue messaging.Queue[Event[T]]) *Publisher[T] {
	return &Publisher[T]{queue: queue}
}

// Publish hands the event to the queue.  Events are notifications, not state:
// when the queue is full because nothing is draining it, the event is dropped
// and logged rather than stalling the task flow behind it.
func (p *Publisher[T]) Publish(ctx context.Context, event *Event[T]) error {
	event.CreatedAt = time.Now()
	if queue, ok := p.queue.(messaging.BestEffortQueue[Event[T]]); ok {
		published, err := queue.TryPublish(ctx, event)
		if err == nil && !published {
			log.Printf("event: dropped %s, queue full and no listener draining it", event.Context.EventType)
		}
		return err
	}
	return p.queue.Publish(ctx, event)
}

func (p *Publisher[T]) Consume(ctx context.Context) (*Event[T], error) {
	msg, err := p.queue.Consume(ctx)
	if err != nil || msg == nil {
		return nil, err
	}
	if err = msg.Ack(); err != nil {
		return nil, err
	}
	return msg.T(), nil
}
