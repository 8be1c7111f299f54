package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/viant/ktask/internal/idgen"
	"github.com/viant/ktask/service/messaging"
)

// Config for the in-memory queue.
type Config struct {
	QueueBuffer int
	// DropWhenFull makes Publish fail with messaging.ErrFull instead of
	// blocking. Interrupt handlers publish with it set.
	DropWhenFull bool
}

// DefaultConfig returns the standard queue settings.
func DefaultConfig() Config {
	return Config{QueueBuffer: 100}
}

// Message is an in-memory queue entry.
type Message[T any] struct {
	id        string
	payload   T
	mu        sync.Mutex
	processed bool
}

// ID returns the message identifier.
func (m *Message[T]) ID() string {
	return m.id
}

// T returns the payload.
func (m *Message[T]) T() *T {
	return &m.payload
}

// Ack marks the message processed.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message %v already processed", m.id)
	}
	m.processed = true
	return nil
}

// Queue is a buffered channel backed messaging.Queue.
type Queue[T any] struct {
	messages chan *Message[T]
	config   Config
	mu       sync.Mutex
	dropped  int
}

// NewQueue creates a queue.
func NewQueue[T any](config Config) *Queue[T] {
	if config.QueueBuffer <= 0 {
		config.QueueBuffer = DefaultConfig().QueueBuffer
	}
	return &Queue[T]{
		messages: make(chan *Message[T], config.QueueBuffer),
		config:   config,
	}
}

// Publish adds t to the queue.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &Message[T]{id: idgen.New(), payload: *t}
	if q.config.DropWhenFull {
		select {
		case q.messages <- msg:
			return nil
		default:
			q.markDropped()
			return messaging.ErrFull
		}
	}
	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume waits for the next message.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryConsume returns the next message or messaging.ErrEmpty.
func (q *Queue[T]) TryConsume() (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	default:
		return nil, messaging.ErrEmpty
	}
}

// Size returns the number of queued messages.
func (q *Queue[T]) Size() int {
	return len(q.messages)
}

// Dropped returns how many messages were discarded.
func (q *Queue[T]) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue[T]) markDropped() {
	q.mu.Lock()
	q.dropped++
	q.mu.Unlock()
}

var _ messaging.Queue[any] = (*Queue[any])(nil)
