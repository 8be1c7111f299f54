package event

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Listener drains a publisher on its own goroutine.
type Listener[T any] struct {
	publisher *Publisher[T]
	handler   func(*Event[T])
	ctx       context.Context
	cancel    context.CancelFunc
	done      sync.WaitGroup
}

func NewListener[T any](publisher *Publisher[T], handler func(*Event[T])) *Listener[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener[T]{
		publisher: publisher,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Stop cancels the consumer and waits for it to exit.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.done.Wait()
}

func (l *Listener[T]) Start() {
	l.done.Add(1)
	go func() {
		defer l.done.Done()
		for {
			event, err := l.publisher.Consume(l.ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				log.Printf("error consuming event: %v", err)
				continue
			}
			if event != nil {
				l.handler(event)
			}
		}
	}()
}
