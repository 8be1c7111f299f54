package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ktask/service/messaging"
)

type scanCode struct {
	Code byte
}

func TestQueue(t *testing.T) {
	queue := NewQueue[scanCode](DefaultConfig())
	ctx := context.Background()

	require.NoError(t, queue.Publish(ctx, &scanCode{Code: 'a'}))
	assert.Equal(t, 1, queue.Size())

	message, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 'a', message.T().Code)
	assert.Equal(t, 0, queue.Size())
	assert.NoError(t, message.Ack())
	assert.Error(t, message.Ack())

	_, err = queue.TryConsume()
	assert.True(t, errors.Is(err, messaging.ErrEmpty))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = queue.Consume(cancelled)
	assert.Error(t, err)
	assert.Error(t, queue.Publish(cancelled, &scanCode{}))
}

func TestQueue_DropWhenFull(t *testing.T) {
	queue := NewQueue[scanCode](Config{QueueBuffer: 2, DropWhenFull: true})
	ctx := context.Background()
	require.NoError(t, queue.Publish(ctx, &scanCode{Code: 1}))
	require.NoError(t, queue.Publish(ctx, &scanCode{Code: 2}))
	assert.True(t, errors.Is(queue.Publish(ctx, &scanCode{Code: 3}), messaging.ErrFull))
	assert.Equal(t, 1, queue.Dropped())

	message, err := queue.TryConsume()
	require.NoError(t, err)
	assert.EqualValues(t, 1, message.T().Code)
}

func TestQueue_Concurrency(t *testing.T) {
	queue := NewQueue[scanCode](DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	producers, perProducer := 8, 10

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				assert.NoError(t, queue.Publish(ctx, &scanCode{Code: byte(i)}))
			}
		}(i)
	}
	consumed := 0
	for consumed < producers*perProducer {
		message, err := queue.Consume(ctx)
		require.NoError(t, err)
		require.NoError(t, message.Ack())
		consumed++
	}
	wg.Wait()
	assert.Equal(t, 0, queue.Size())
}
