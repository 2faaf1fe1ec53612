package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	ID string
}

func TestQueue_PublishConsumeAck(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue[testPayload](DefaultConfig())

	require.NoError(t, queue.Publish(ctx, &testPayload{ID: "p-1"}))
	assert.Equal(t, 1, queue.Size())

	msg, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p-1", msg.T().ID)
	require.NoError(t, msg.Ack())

	// Double ack is rejected.
	assert.Error(t, msg.Ack())
	assert.Equal(t, 0, queue.Size())
}

func TestQueue_NackRequeues(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue[testPayload](Config{
		MaxRetries:  2,
		RetryDelay:  time.Millisecond,
		DeadLetter:  true,
		QueueBuffer: 10,
	})

	require.NoError(t, queue.Publish(ctx, &testPayload{ID: "p-1"}))

	msg, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Nack(fmt.Errorf("transient")))

	consumeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	retried, err := queue.Consume(consumeCtx)
	require.NoError(t, err)
	assert.Equal(t, "p-1", retried.T().ID)
	require.NoError(t, retried.Ack())
}

func TestQueue_DeadLetterAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue[testPayload](Config{
		MaxRetries:  1,
		RetryDelay:  time.Millisecond,
		DeadLetter:  true,
		QueueBuffer: 10,
	})

	require.NoError(t, queue.Publish(ctx, &testPayload{ID: "p-1"}))

	for i := 0; i < 2; i++ {
		consumeCtx, cancel := context.WithTimeout(ctx, time.Second)
		msg, err := queue.Consume(consumeCtx)
		cancel()
		require.NoError(t, err)
		require.NoError(t, msg.Nack(fmt.Errorf("attempt %d", i)))
	}

	assert.Eventually(t, func() bool {
		return queue.DLQSize() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestQueue_TryPublishDropsWhenFull(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue[testPayload](Config{
		MaxRetries:  1,
		RetryDelay:  time.Millisecond,
		QueueBuffer: 2,
	})

	ok, err := queue.TryPublish(ctx, &testPayload{ID: "p-1"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = queue.TryPublish(ctx, &testPayload{ID: "p-2"})
	require.NoError(t, err)
	assert.True(t, ok)

	// Buffer is full and nothing consumes: the publish is declined, never
	// blocked.
	ok, err = queue.TryPublish(ctx, &testPayload{ID: "p-3"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, queue.Size())

	msg, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Ack())

	ok, err = queue.TryPublish(ctx, &testPayload{ID: "p-4"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQueue_ConsumeHonoursContext(t *testing.T) {
	queue := NewQueue[testPayload](DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := queue.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
