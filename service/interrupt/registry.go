package interrupt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/viant/ktask/model/desc"
	"github.com/viant/ktask/model/trap"
	"github.com/viant/ktask/platform"
	"github.com/viant/ktask/service/cpu"
)

var (
	// ErrInvalidVector is returned for vectors outside the 256 entry table.
	ErrInvalidVector = errors.New("interrupt: vector out of range")

	// ErrNilStub is returned when a gate has no entry stub.
	ErrNilStub = errors.New("interrupt: entry stub is required")

	// ErrNilHandler is returned when Register is given no handler.
	ErrNilHandler = errors.New("interrupt: handler is required")

	// ErrDuplicateVector is returned when a vector already has a handler.
	ErrDuplicateVector = errors.New("interrupt: vector already registered")
)

// Handler services one trap. tf is the task-resident frame for traps taken
// from user mode. A returned error is fatal for the CPU.
type Handler func(ctx context.Context, c *cpu.CPU, tf *trap.Frame) error

type entry struct {
	handler Handler
	stub    platform.Stub
	gate    desc.Gate
}

// Stubs are the low-level entry points installed by InstallDefaults.
type Stubs struct {
	Default           platform.Stub
	GeneralProtection platform.Stub
	StackFault        platform.Stub
	PageFault         platform.Stub
}

// Registry is the vector table: software handler plus hardware gate for each
// of the 256 vectors. It is written at boot and device init and read on every
// trap.
type Registry struct {
	mux      sync.RWMutex
	entries  [trap.Vectors]entry
	platform platform.Platform
}

// NewRegistry creates an empty table bound to plat.
func NewRegistry(plat platform.Platform) *Registry {
	return &Registry{platform: plat}
}

// Register installs handler for vector together with a gate pointing at stub.
// Trap gates keep interrupts enabled; dpl is the lowest privilege allowed to
// raise the vector with int.
func (r *Registry) Register(vector int, handler Handler, stub platform.Stub, isTrap bool, dpl int) error {
	if !trap.IsValid(vector) {
		return fmt.Errorf("%w: %d", ErrInvalidVector, vector)
	}
	if stub == 0 {
		return fmt.Errorf("%w: vector %d", ErrNilStub, vector)
	}
	if handler == nil {
		return fmt.Errorf("%w: vector %d", ErrNilHandler, vector)
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.entries[vector].handler != nil {
		return fmt.Errorf("%w: %d (%s)", ErrDuplicateVector, vector, trap.Name(uint32(vector)))
	}
	gate := desc.NewGate(isTrap, desc.GDKT, uintptr(stub), dpl)
	r.entries[vector] = entry{handler: handler, stub: stub, gate: gate}
	r.platform.SetGate(vector, gate)
	return nil
}

// InstallDefaults points every vector at the default stub with no handler,
// gives general protection and stack faults their own stubs, and registers
// the page-fault handler.
func (r *Registry) InstallDefaults(stubs Stubs, pageFault Handler) error {
	if stubs.Default == 0 {
		return fmt.Errorf("%w: default", ErrNilStub)
	}
	r.mux.Lock()
	for vector := 0; vector < trap.Vectors; vector++ {
		r.setGate(vector, stubs.Default)
	}
	if stubs.GeneralProtection != 0 {
		r.setGate(trap.GPFault, stubs.GeneralProtection)
	}
	if stubs.StackFault != 0 {
		r.setGate(trap.Stack, stubs.StackFault)
	}
	r.mux.Unlock()
	if pageFault == nil {
		return nil
	}
	stub := stubs.PageFault
	if stub == 0 {
		stub = stubs.Default
	}
	return r.Register(trap.PageFault, pageFault, stub, true, desc.KernelPL)
}

func (r *Registry) setGate(vector int, stub platform.Stub) {
	gate := desc.NewGate(true, desc.GDKT, uintptr(stub), desc.KernelPL)
	r.entries[vector] = entry{stub: stub, gate: gate}
	r.platform.SetGate(vector, gate)
}

// Load activates the table on cpu.
func (r *Registry) Load(cpu int) {
	r.platform.LoadIDT(cpu)
}

// Handler returns the handler registered for vector.
func (r *Registry) Handler(vector int) (Handler, bool) {
	if !trap.IsValid(vector) {
		return nil, false
	}
	r.mux.RLock()
	defer r.mux.RUnlock()
	handler := r.entries[vector].handler
	return handler, handler != nil
}

// Gate returns the descriptor installed for vector.
func (r *Registry) Gate(vector int) (desc.Gate, bool) {
	if !trap.IsValid(vector) {
		return desc.Gate{}, false
	}
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.entries[vector].gate, r.entries[vector].gate.Present
}
