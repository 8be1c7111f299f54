package event

import (
	"context"
	"fmt"
)

// Kind names a task lifecycle transition.
type Kind string

const (
	KindBooted    Kind = "booted"
	KindCreated   Kind = "created"
	KindForked    Kind = "forked"
	KindKilled    Kind = "killed"
	KindSlept     Kind = "slept"
	KindWoke      Kind = "woke"
	KindPreempted Kind = "preempted"
	KindDropped   Kind = "dropped"
	KindHalted    Kind = "halted"
)

// Task is the payload of a lifecycle event.
type Task struct {
	Kind     Kind   `json:"kind"`
	PID      int    `json:"pid"`
	ParentID int    `json:"parentId"`
	CPU      int    `json:"cpu"`
	Tick     uint64 `json:"tick"`
}

func (t Task) String() string {
	return fmt.Sprintf("%s pid=%d parent=%d cpu=%d tick=%d", t.Kind, t.PID, t.ParentID, t.CPU, t.Tick)
}

// Emitter publishes task events for one kernel service. A nil Emitter
// discards everything.
type Emitter struct {
	publisher *Publisher[Task]
	bootID    string
	service   string
}

// NewEmitter returns an emitter publishing through s.
func NewEmitter(s *Service, bootID, service string) *Emitter {
	if s == nil {
		return nil
	}
	return &Emitter{publisher: PublisherOf[Task](s), bootID: bootID, service: service}
}

// Emit publishes data. Full queues drop the event.
func (e *Emitter) Emit(ctx context.Context, data Task) {
	if e == nil {
		return
	}
	evt := NewEvent(&Context{BootID: e.bootID, EventType: string(data.Kind), Service: e.service, CPU: data.CPU}, data)
	_ = e.publisher.Publish(ctx, evt)
}
