package cpu

import (
	"sync/atomic"

	"github.com/viant/ktask/model/desc"
	"github.com/viant/ktask/model/task"
	"github.com/viant/ktask/model/trap"
)

// KStackSize is the size of each per-CPU kernel stack.
const KStackSize = 8 * 4096

// Per-CPU kernel stacks grow down from KStackTop, separated by an unmapped
// guard gap.
const (
	KStackTop = 0xf0000000
	KStackGap = 8 * 4096
)

// CPU is the per-processor scheduling state.
type CPU struct {
	ID    int
	Queue *RunQueue
	TSS   desc.TSS

	current atomic.Pointer[task.Task]
	resume  atomic.Pointer[trap.Frame]
	yielded atomic.Bool
}

// New creates the state of processor id with a queue bounded by capacity.
func New(id int, capacity int) *CPU {
	return &CPU{ID: id, Queue: NewRunQueue(capacity)}
}

// StackTop returns the top of this CPU's kernel stack.
func (c *CPU) StackTop() uint32 {
	return KStackTop - uint32(c.ID)*(KStackSize+KStackGap)
}

// Current returns the task running on the CPU or nil.
func (c *CPU) Current() *task.Task {
	return c.current.Load()
}

// SetCurrent replaces the running task.
func (c *CPU) SetCurrent(t *task.Task) {
	c.current.Store(t)
}

// Owns reports whether t still runs on this CPU. A current task that was
// killed from another CPU, or whose slot was handed to a new task, is no
// longer owned and must not be charged or written to.
func (c *CPU) Owns(t *task.Task) bool {
	return t != nil && t.State() == task.StateRunning && t.CPU() == c.ID
}

// SetResume records the frame the CPU should return to after the current
// trap. A nil frame means park the CPU.
func (c *CPU) SetResume(tf *trap.Frame) {
	c.resume.Store(tf)
	c.yielded.Store(true)
}

// TakeResume returns and clears the recorded frame. The flag is false when the
// scheduler did not run during the trap.
func (c *CPU) TakeResume() (*trap.Frame, bool) {
	return c.resume.Swap(nil), c.yielded.Swap(false)
}
