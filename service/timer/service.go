package timer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/viant/ktask/model/desc"
	"github.com/viant/ktask/model/task"
	"github.com/viant/ktask/model/trap"
	"github.com/viant/ktask/platform"
	"github.com/viant/ktask/service/cpu"
	"github.com/viant/ktask/service/event"
	"github.com/viant/ktask/service/interrupt"
)

// Vector is the timer interrupt vector.
const Vector = trap.IRQOffset + trap.IRQTimer

// Service owns the global tick counter and the per-tick scheduling work.
type Service struct {
	ticks     atomic.Uint64
	hz        int
	platform  platform.Platform
	scheduler *cpu.Scheduler
	tasks     cpu.Tasks
	events    *event.Emitter
}

// New creates the timer service; events may be nil.
func New(plat platform.Platform, scheduler *cpu.Scheduler, tasks cpu.Tasks, hz int, events *event.Emitter) (*Service, error) {
	if plat == nil {
		return nil, fmt.Errorf("platform is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task table is required")
	}
	if hz <= 0 {
		return nil, fmt.Errorf("timer.hz must be > 0")
	}
	return &Service{hz: hz, platform: plat, scheduler: scheduler, tasks: tasks, events: events}, nil
}

// Init programs the interval timer and registers the tick handler.
func (s *Service) Init(registry *interrupt.Registry, stub platform.Stub) error {
	s.platform.SetTimer(platform.TimerDivisor(s.hz))
	return registry.Register(Vector, s.Handle, stub, false, desc.KernelPL)
}

// Ticks returns the number of timer interrupts seen by any CPU.
func (s *Service) Ticks() uint64 {
	return s.ticks.Load()
}

// Hz returns the configured tick rate.
func (s *Service) Hz() int {
	return s.hz
}

// Handle runs one tick on c: count it, acknowledge the controller, age the
// sleepers on c's queue, then charge the running task and reschedule once its
// quantum is used up. A current task c no longer owns was killed from another
// CPU; it is dropped without being charged or requeued. An idle CPU always
// reschedules so it picks up tasks that became runnable.
func (s *Service) Handle(ctx context.Context, c *cpu.CPU, tf *trap.Frame) error {
	tick := s.ticks.Add(1)
	s.platform.EOI(c.ID)

	var woken []int
	c.Queue.Each(func(id int) {
		aTask, ok := s.tasks.Get(id)
		if !ok || aTask.State() != task.StateSleep {
			return
		}
		aTask.Remaining--
		if aTask.Remaining <= 0 && aTask.Transition(task.StateSleep, task.StateRunnable) {
			woken = append(woken, id)
		}
	})
	for _, id := range woken {
		s.events.Emit(ctx, event.Task{Kind: event.KindWoke, PID: id, CPU: c.ID, Tick: tick})
	}

	current := c.Current()
	if current == nil {
		s.scheduler.Yield(c)
		return nil
	}
	current.Lock()
	owned := c.Owns(current)
	expired := false
	if owned {
		current.Remaining--
		expired = current.Remaining <= 0
	}
	current.Unlock()
	switch {
	case !owned:
		c.SetCurrent(nil)
		s.events.Emit(ctx, event.Task{Kind: event.KindDropped, PID: current.ID, CPU: c.ID, Tick: tick})
	case !expired:
		return nil
	case current.Transition(task.StateRunning, task.StateRunnable):
		s.events.Emit(ctx, event.Task{Kind: event.KindPreempted, PID: current.ID, CPU: c.ID, Tick: tick})
	default:
		c.SetCurrent(nil)
		s.events.Emit(ctx, event.Task{Kind: event.KindDropped, PID: current.ID, CPU: c.ID, Tick: tick})
	}
	s.scheduler.Yield(c)
	return nil
}
