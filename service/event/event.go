package event

import (
	"time"

	"github.com/viant/ktask/internal/clock"
)

// Context identifies where an event happened.
type Context struct {
	BootID    string `json:"bootID"`
	EventType string `json:"eventType"`
	Service   string `json:"service"`
	CPU       int    `json:"cpu"`
}

// Event wraps a payload with its origin and time.
type Event[T any] struct {
	Context   *Context  `json:"context"`
	CreatedAt time.Time `json:"createdAt"`
	Data      T         `json:"data"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: clock.Now(),
		Data:      data,
	}
}
