package task

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/viant/ktask/model/desc"
	"github.com/viant/ktask/model/task"
	"github.com/viant/ktask/model/trap"
	"github.com/viant/ktask/service/vm"
)

var (
	// ErrNoFreeTask is returned when every slot of the table is in use.
	ErrNoFreeTask = errors.New("task: no free task slot")

	// ErrInvalidPid is returned for ids outside the table or pointing at a
	// free slot.
	ErrInvalidPid = errors.New("task: invalid pid")
)

// Config holds the table dimensions.
type Config struct {
	MaxTasks   int `json:"max" yaml:"max"`
	Quantum    int `json:"quantum" yaml:"quantum"`
	StackPages int `json:"stackPages" yaml:"stackPages"`
}

// DefaultConfig returns the stock table dimensions.
func DefaultConfig() Config {
	return Config{MaxTasks: 10, Quantum: 100, StackPages: 10}
}

// Validate checks the dimensions.
func (c Config) Validate() error {
	if c.MaxTasks <= 1 {
		return fmt.Errorf("tasks.max must be > 1")
	}
	if c.Quantum <= 0 {
		return fmt.Errorf("tasks.quantum must be > 0")
	}
	if c.StackPages <= 0 || uint32(c.StackPages)*vm.PageSize > vm.PTSize {
		return fmt.Errorf("tasks.stackPages must be in (0,%d]", vm.PTSize/vm.PageSize)
	}
	return nil
}

// StackBottom returns the lowest address of the user stack.
func (c Config) StackBottom() uint32 {
	return vm.UStackTop - uint32(c.StackPages)*vm.PageSize
}

// Table is the fixed arena of task control blocks. A bitmap tracks free slots
// so allocation always returns the lowest free id.
type Table struct {
	mux    sync.Mutex
	tasks  []*task.Task
	free   []uint64
	pool   *vm.Pool
	kernel *vm.AddressSpace
	config Config
}

// New creates a table whose address spaces share kernel's mappings.
func New(pool *vm.Pool, kernel *vm.AddressSpace, config Config) (*Table, error) {
	if pool == nil {
		return nil, fmt.Errorf("page pool is required")
	}
	if kernel == nil {
		return nil, fmt.Errorf("kernel address space is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ret := &Table{
		tasks:  make([]*task.Task, config.MaxTasks),
		free:   make([]uint64, (config.MaxTasks+63)/64),
		pool:   pool,
		kernel: kernel,
		config: config,
	}
	for i := range ret.tasks {
		ret.tasks[i] = &task.Task{ID: i}
		ret.tasks[i].SetCPU(task.NoCPU)
		ret.free[i/64] |= 1 << (i % 64)
	}
	return ret, nil
}

// Config returns the table dimensions.
func (t *Table) Config() Config {
	return t.config
}

// Pool returns the page pool backing task memory.
func (t *Table) Pool() *vm.Pool {
	return t.pool
}

// Kernel returns the kernel address space.
func (t *Table) Kernel() *vm.AddressSpace {
	return t.kernel
}

// Create claims the lowest free slot and builds a runnable task with a fresh
// address space and user stack. parent is recorded as the parent id. On any
// failure the slot is returned and nothing stays allocated.
func (t *Table) Create(parent int) (*task.Task, error) {
	t.mux.Lock()
	defer t.mux.Unlock()
	id, ok := t.claim()
	if !ok {
		return nil, ErrNoFreeTask
	}
	space, err := t.buildSpace()
	if err != nil {
		t.release(id)
		return nil, fmt.Errorf("create task %d: %w", id, err)
	}
	aTask := t.tasks[id]
	aTask.Lock()
	defer aTask.Unlock()
	aTask.Renew()
	aTask.ParentID = parent
	aTask.Space = space
	aTask.Remaining = t.config.Quantum
	aTask.Frame = trap.Frame{}
	aTask.Frame.CS = desc.Selector(desc.GDUT, desc.UserPL)
	aTask.Frame.DS = desc.Selector(desc.GDUD, desc.UserPL)
	aTask.Frame.ES = aTask.Frame.DS
	aTask.Frame.SS = aTask.Frame.DS
	aTask.Frame.ESP = vm.UStackTop - vm.PageSize
	aTask.Frame.EFlags = trap.FlagIF
	aTask.SetCPU(task.NoCPU)
	aTask.SetState(task.StateRunnable)
	return aTask, nil
}

func (t *Table) buildSpace() (*vm.AddressSpace, error) {
	space, err := vm.NewAddressSpace(t.pool, t.kernel)
	if err != nil {
		return nil, err
	}
	for va := t.config.StackBottom(); va < vm.UStackTop; va += vm.PageSize {
		page, err := t.pool.Alloc(true)
		if err == nil {
			err = space.Insert(va, page, vm.PTEW|vm.PTEU)
		}
		if err != nil {
			return nil, errors.Join(err, teardown(space))
		}
	}
	return space, nil
}

func teardown(space *vm.AddressSpace) error {
	if err := space.RemoveTables(); err != nil {
		return err
	}
	return space.Release()
}

// Get returns the task at id regardless of its state.
func (t *Table) Get(id int) (*task.Task, bool) {
	if id < 0 || id >= len(t.tasks) {
		return nil, false
	}
	return t.tasks[id], true
}

// Lookup returns the live task with pid.
func (t *Table) Lookup(pid int) (*task.Task, error) {
	aTask, ok := t.Get(pid)
	if !ok || aTask.State() == task.StateFree {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPid, pid)
	}
	return aTask, nil
}

// LookupGeneration returns the live task with pid together with its
// generation, read in one step against concurrent frees and reuse.
func (t *Table) LookupGeneration(pid int) (*task.Task, uint64, error) {
	t.mux.Lock()
	defer t.mux.Unlock()
	aTask, err := t.Lookup(pid)
	if err != nil {
		return nil, 0, err
	}
	return aTask, aTask.Generation(), nil
}

// Free tears down the task's address space, marks it FREE and returns the
// slot. The caller must have moved the CPU off the task's page directory.
func (t *Table) Free(aTask *task.Task) error {
	return t.FreeGeneration(aTask, aTask.Generation(), nil)
}

// FreeGeneration frees aTask only while its slot still holds generation, the
// incarnation the caller looked up. detach runs first under the table lock,
// so a slot cannot be reused between detaching and freeing it.
func (t *Table) FreeGeneration(aTask *task.Task, generation uint64, detach func()) error {
	t.mux.Lock()
	defer t.mux.Unlock()
	if aTask.State() == task.StateFree {
		return fmt.Errorf("%w: %d already free", ErrInvalidPid, aTask.ID)
	}
	if aTask.Generation() != generation {
		return fmt.Errorf("%w: %d was reused", ErrInvalidPid, aTask.ID)
	}
	if detach != nil {
		detach()
	}
	aTask.Lock()
	var err error
	if aTask.Space != nil {
		err = teardown(aTask.Space)
		aTask.Space = nil
	}
	aTask.SetState(task.StateFree)
	aTask.SetCPU(task.NoCPU)
	aTask.Unlock()
	t.release(aTask.ID)
	return err
}

// Live returns the number of non-free slots.
func (t *Table) Live() int {
	t.mux.Lock()
	defer t.mux.Unlock()
	free := 0
	for _, word := range t.free {
		free += bits.OnesCount64(word)
	}
	return len(t.tasks) - free
}

// Snapshots lists every non-free task.
func (t *Table) Snapshots() []task.Snapshot {
	var ret []task.Snapshot
	for _, aTask := range t.tasks {
		if aTask.State() != task.StateFree {
			ret = append(ret, aTask.Snapshot())
		}
	}
	return ret
}

func (t *Table) claim() (int, bool) {
	for i, word := range t.free {
		if word == 0 {
			continue
		}
		bit := bits.TrailingZeros64(word)
		id := i*64 + bit
		if id >= len(t.tasks) {
			return 0, false
		}
		t.free[i] &^= 1 << bit
		return id, true
	}
	return 0, false
}

func (t *Table) release(id int) {
	t.free[id/64] |= 1 << (id % 64)
}
