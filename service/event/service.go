package event

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/viant/ktask/service/messaging"
	"github.com/viant/ktask/service/messaging/memory"
)

// Service hands out typed publishers backed by in-memory queues.
type Service struct {
	publisher       *Publisher[any]
	listener        *Listener[any]
	typedPublishers map[reflect.Type]any
	typedListener   map[reflect.Type]any
	mux             *sync.RWMutex
	queueConfig     memory.Config
}

// SetListener installs the catch-all handler, replacing the previous one.
func (s *Service) SetListener(handler func(*Event[any])) {
	if s.listener != nil {
		s.listener.Stop()
	}
	s.listener = NewListener[any](s.publisher, handler)
	s.listener.Start()
}

// Close stops every listener.
func (s *Service) Close() {
	if s.listener != nil {
		s.listener.Stop()
		s.listener = nil
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	for key, listener := range s.typedListener {
		listener.(interface{ Stop() }).Stop()
		delete(s.typedListener, key)
	}
}

// New creates the service. Every queue drops events when full so publishers
// on the trap path never block.
func New(config memory.Config) (*Service, error) {
	if config.QueueBuffer < 0 {
		return nil, fmt.Errorf("event queue buffer must be >= 0")
	}
	config.DropWhenFull = true
	ret := &Service{
		typedPublishers: make(map[reflect.Type]any),
		typedListener:   make(map[reflect.Type]any),
		mux:             &sync.RWMutex{},
		queueConfig:     config,
	}
	ret.publisher = NewPublisher[any](QueueOf[Event[any]](ret))
	return ret, nil
}

// QueueOf creates a queue for T with the service settings.
func QueueOf[T any](s *Service) messaging.Queue[T] {
	return memory.NewQueue[T](s.queueConfig)
}

func keyOf[T any]() reflect.Type {
	var t T
	rType := reflect.TypeOf(t)
	if rType.Kind() == reflect.Ptr {
		rType = rType.Elem()
	}
	return rType
}

// SetListenerOf installs a handler for events of type T.
func SetListenerOf[T any](s *Service, handler func(*Event[T])) {
	key := keyOf[T]()
	s.mux.RLock()
	ret, ok := s.typedListener[key]
	s.mux.RUnlock()
	if ok {
		ret.(*Listener[T]).Stop()
	}
	listener := NewListener[T](PublisherOf[T](s), handler)
	s.mux.Lock()
	s.typedListener[key] = listener
	listener.Start()
	s.mux.Unlock()
}

// PublisherOf returns the publisher for T, creating it on first use.
func PublisherOf[T any](s *Service) *Publisher[T] {
	key := keyOf[T]()
	s.mux.RLock()
	ret, ok := s.typedPublishers[key]
	s.mux.RUnlock()
	if ok {
		return ret.(*Publisher[T])
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if ret, ok = s.typedPublishers[key]; ok {
		return ret.(*Publisher[T])
	}
	publisher := NewPublisher[T](QueueOf[Event[T]](s))
	publisher.anyQueue = s.publisher.queue
	s.typedPublishers[key] = publisher
	return publisher
}
