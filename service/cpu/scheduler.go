package cpu

import (
	"fmt"

	"github.com/viant/ktask/model/task"
	"github.com/viant/ktask/platform"
	"github.com/viant/ktask/service/vm"
)

// Tasks resolves task ids to control blocks.
type Tasks interface {
	Get(id int) (*task.Task, bool)
}

// Scheduler owns the per-CPU state and implements round-robin selection.
type Scheduler struct {
	platform platform.Platform
	kernel   *vm.AddressSpace
	tasks    Tasks
	quantum  int
	cpus     []*CPU
}

// NewScheduler creates count CPUs whose queues can each hold capacity tasks.
func NewScheduler(plat platform.Platform, kernel *vm.AddressSpace, tasks Tasks, count, capacity, quantum int) (*Scheduler, error) {
	if plat == nil {
		return nil, fmt.Errorf("platform is required")
	}
	if kernel == nil {
		return nil, fmt.Errorf("kernel address space is required")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task table is required")
	}
	if count <= 0 {
		return nil, fmt.Errorf("cpu count must be > 0")
	}
	ret := &Scheduler{platform: plat, kernel: kernel, tasks: tasks, quantum: quantum}
	for i := 0; i < count; i++ {
		ret.cpus = append(ret.cpus, New(i, capacity))
	}
	return ret, nil
}

// CPU returns processor id.
func (s *Scheduler) CPU(id int) (*CPU, error) {
	if id < 0 || id >= len(s.cpus) {
		return nil, fmt.Errorf("cpu %d out of range [0,%d)", id, len(s.cpus))
	}
	return s.cpus[id], nil
}

// CPUs returns every processor.
func (s *Scheduler) CPUs() []*CPU {
	return s.cpus
}

// Platform returns the hardware edge.
func (s *Scheduler) Platform() platform.Platform {
	return s.platform
}

// Yield picks the next runnable task on c's queue, round robin from the one
// after the last pick. The winner is moved RUNNABLE->RUNNING by CAS so a
// concurrent remote kill cannot also claim it. When nothing else is runnable a
// still RUNNING current task keeps the CPU; otherwise the CPU switches to the
// kernel page directory and goes idle. The chosen frame is recorded on c and
// the task returned (nil when idle).
func (s *Scheduler) Yield(c *CPU) *task.Task {
	var picked *task.Task
	_, ok := c.Queue.Pick(func(id int) bool {
		candidate, found := s.tasks.Get(id)
		if !found || !candidate.Transition(task.StateRunnable, task.StateRunning) {
			return false
		}
		picked = candidate
		return true
	})
	if !ok {
		current := c.Current()
		if c.Owns(current) {
			c.SetResume(&current.Frame)
			return current
		}
		c.SetCurrent(nil)
		s.platform.SwitchSpace(c.ID, s.kernel.Root())
		c.SetResume(nil)
		return nil
	}
	if current := c.Current(); current != picked && c.Owns(current) {
		current.Transition(task.StateRunning, task.StateRunnable)
	}
	if picked.Remaining <= 0 {
		picked.Remaining = s.quantum
	}
	c.SetCurrent(picked)
	s.platform.SwitchSpace(c.ID, picked.Space.Root())
	c.SetResume(&picked.Frame)
	return picked
}

// Place appends t to the CPU with the shortest queue, lowest id on ties. The
// lengths are read once through their atomics.
func (s *Scheduler) Place(t *task.Task) (*CPU, error) {
	best := s.cpus[0]
	bestLen := best.Queue.Len()
	for _, candidate := range s.cpus[1:] {
		if n := candidate.Queue.Len(); n < bestLen {
			best, bestLen = candidate, n
		}
	}
	return best, s.Enqueue(best, t)
}

// Enqueue appends t to c's queue and records the ownership.
func (s *Scheduler) Enqueue(c *CPU, t *task.Task) error {
	if err := c.Queue.Push(t.ID); err != nil {
		return err
	}
	t.SetCPU(c.ID)
	return nil
}

// Dequeue removes t from the queue that owns it.
func (s *Scheduler) Dequeue(t *task.Task) bool {
	owner := t.CPU()
	if owner < 0 || owner >= len(s.cpus) {
		return false
	}
	removed := s.cpus[owner].Queue.Remove(t.ID)
	t.SetCPU(task.NoCPU)
	return removed
}
