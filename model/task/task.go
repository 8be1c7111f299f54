package task

import (
	"sync"
	"sync/atomic"

	"github.com/viant/ktask/model/trap"
	"github.com/viant/ktask/service/vm"
)

// State is the scheduling state of a task slot.
type State int32

const (
	StateFree State = iota
	StateRunnable
	StateRunning
	StateSleep
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateSleep:
		return "sleep"
	}
	return "unknown"
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to State) bool {
	switch from {
	case StateFree:
		return to == StateRunnable
	case StateRunnable:
		return to == StateRunning || to == StateFree
	case StateRunning:
		return to == StateRunnable || to == StateSleep || to == StateFree
	case StateSleep:
		return to == StateRunnable || to == StateFree
	}
	return false
}

// NoCPU marks a task that sits on no run queue.
const NoCPU = -1

// Task is a task control block. The id is the slot index and doubles as the
// pid. Frame is the persistent copy of the user registers; it is only touched
// by the CPU that owns the task, with the task locked.
//
// A slot is reused after it is freed. Generation changes with every reuse so
// a holder of a stale pointer can tell the slot now belongs to another task.
type Task struct {
	ID        int
	ParentID  int
	Space     *vm.AddressSpace
	Frame     trap.Frame
	Remaining int

	state      atomic.Int32
	cpu        atomic.Int32
	generation atomic.Uint64
	mu         sync.Mutex
}

// Lock serializes access to the frame and address space between the CPU
// executing the task and whoever frees or reuses the slot.
func (t *Task) Lock() {
	t.mu.Lock()
}

// Unlock releases Lock.
func (t *Task) Unlock() {
	t.mu.Unlock()
}

// Generation identifies the current incarnation of the slot.
func (t *Task) Generation() uint64 {
	return t.generation.Load()
}

// Renew starts a new incarnation of the slot.
func (t *Task) Renew() uint64 {
	return t.generation.Add(1)
}

// State returns the current state.
func (t *Task) State() State {
	return State(t.state.Load())
}

// SetState stores s unconditionally.
func (t *Task) SetState(s State) {
	t.state.Store(int32(s))
}

// Transition moves the task from -> to only if it is still in from.
func (t *Task) Transition(from, to State) bool {
	return t.state.CompareAndSwap(int32(from), int32(to))
}

// CPU returns the id of the run queue holding the task or NoCPU.
func (t *Task) CPU() int {
	return int(t.cpu.Load())
}

// SetCPU records the owning run queue.
func (t *Task) SetCPU(cpu int) {
	t.cpu.Store(int32(cpu))
}

// Snapshot is a read-only copy of a task used by listings and tests.
type Snapshot struct {
	ID        int    `json:"id" yaml:"id"`
	ParentID  int    `json:"parentId" yaml:"parentId"`
	State     string `json:"state" yaml:"state"`
	CPU       int    `json:"cpu" yaml:"cpu"`
	Remaining int    `json:"remaining" yaml:"remaining"`
}

// Snapshot returns a copy of the task's bookkeeping fields.
func (t *Task) Snapshot() Snapshot {
	return Snapshot{ID: t.ID, ParentID: t.ParentID, State: t.State().String(), CPU: t.CPU(), Remaining: t.Remaining}
}
