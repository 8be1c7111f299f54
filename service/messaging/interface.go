package messaging

import (
	"context"
	"errors"
)

// ErrFull is returned by non-blocking publishers when the queue has no room.
var ErrFull = errors.New("messaging: queue full")

// ErrEmpty is returned by TryConsume when nothing is queued.
var ErrEmpty = errors.New("messaging: queue empty")

// Queue carries payloads between an interrupt-side producer and a consumer.
type Queue[T any] interface {
	// Publish adds a message with payload t.
	Publish(ctx context.Context, t *T) error

	// Consume blocks until a message is available or ctx is done.
	Consume(ctx context.Context) (Message[T], error)

	// TryConsume returns the next message or ErrEmpty without blocking.
	TryConsume() (Message[T], error)
}

// Message is a dequeued payload.
type Message[T any] interface {
	// T returns the payload.
	T() *T

	// Ack marks the message processed.
	Ack() error
}
