// Package sim is a deterministic in-memory platform. It records every
// privileged operation so the core can be driven and inspected without
// hardware.
package sim

import (
	"fmt"
	"sync"

	"github.com/viant/ktask/model/desc"
	"github.com/viant/ktask/model/trap"
	"github.com/viant/ktask/platform"
	"github.com/viant/ktask/service/vm"
)

// CPU is the recorded state of one simulated processor.
type CPU struct {
	IF        bool
	Root      vm.PhysAddr
	GDT       *desc.GDT
	LDT       uint16
	TR        uint16
	TSS       desc.TSS
	IDTLoaded bool
	Halted    bool
	EOIs      int
	Idles     int
	Switches  int
	Resumes   int
	Resumed   trap.Frame
	CR2       uint32
}

// Platform implements platform.Platform in memory.
type Platform struct {
	mux      sync.Mutex
	gates    [trap.Vectors]desc.Gate
	cpus     []CPU
	divisor  uint32
	onResume func(cpu int, tf *trap.Frame)
}

// New creates a simulated platform with cpus processors, interrupts enabled.
func New(cpus int) *Platform {
	ret := &Platform{cpus: make([]CPU, cpus)}
	for i := range ret.cpus {
		ret.cpus[i].IF = true
	}
	return ret
}

// OnResume registers fn to observe every resumed frame.
func (p *Platform) OnResume(fn func(cpu int, tf *trap.Frame)) {
	p.mux.Lock()
	p.onResume = fn
	p.mux.Unlock()
}

func (p *Platform) cpu(id int) *CPU {
	if id < 0 || id >= len(p.cpus) {
		panic(fmt.Sprintf("sim: cpu %d out of range [0,%d)", id, len(p.cpus)))
	}
	return &p.cpus[id]
}

func (p *Platform) SetGate(vector int, gate desc.Gate) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if vector >= 0 && vector < trap.Vectors {
		p.gates[vector] = gate
	}
}

func (p *Platform) LoadIDT(cpu int) {
	p.mux.Lock()
	p.cpu(cpu).IDTLoaded = true
	p.mux.Unlock()
}

func (p *Platform) LoadGDT(cpu int, gdt *desc.GDT) {
	p.mux.Lock()
	p.cpu(cpu).GDT = gdt
	p.mux.Unlock()
}

func (p *Platform) LoadLDT(cpu int, sel uint16) {
	p.mux.Lock()
	p.cpu(cpu).LDT = sel
	p.mux.Unlock()
}

func (p *Platform) LoadTR(cpu int, sel uint16, tss *desc.TSS) {
	p.mux.Lock()
	defer p.mux.Unlock()
	state := p.cpu(cpu)
	state.TR = sel
	if tss != nil {
		state.TSS = *tss
	}
}

func (p *Platform) SwitchSpace(cpu int, root vm.PhysAddr) {
	p.mux.Lock()
	defer p.mux.Unlock()
	state := p.cpu(cpu)
	state.Root = root
	state.Switches++
}

func (p *Platform) DisableInterrupts(cpu int) {
	p.mux.Lock()
	p.cpu(cpu).IF = false
	p.mux.Unlock()
}

func (p *Platform) EnableInterrupts(cpu int) {
	p.mux.Lock()
	p.cpu(cpu).IF = true
	p.mux.Unlock()
}

func (p *Platform) FaultAddr(cpu int) uint32 {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.cpu(cpu).CR2
}

// SetFaultAddr stores the address FaultAddr reports for cpu.
func (p *Platform) SetFaultAddr(cpu int, addr uint32) {
	p.mux.Lock()
	p.cpu(cpu).CR2 = addr
	p.mux.Unlock()
}

func (p *Platform) EOI(cpu int) {
	p.mux.Lock()
	p.cpu(cpu).EOIs++
	p.mux.Unlock()
}

func (p *Platform) SetTimer(divisor uint32) {
	p.mux.Lock()
	p.divisor = divisor
	p.mux.Unlock()
}

// ReturnFromTrap records tf as the frame cpu resumes with. Like iret, it
// re-enables interrupts when the restored EFLAGS has IF set.
func (p *Platform) ReturnFromTrap(cpu int, tf *trap.Frame) error {
	p.mux.Lock()
	state := p.cpu(cpu)
	if state.Halted {
		p.mux.Unlock()
		return platform.ErrHalted
	}
	state.Resumed = *tf
	state.Resumes++
	if tf.EFlags&trap.FlagIF != 0 {
		state.IF = true
	}
	fn := p.onResume
	p.mux.Unlock()
	if fn != nil {
		fn(cpu, tf)
	}
	return nil
}

func (p *Platform) Idle(cpu int) {
	p.mux.Lock()
	state := p.cpu(cpu)
	state.Idles++
	state.IF = true
	p.mux.Unlock()
}

func (p *Platform) Halt(cpu int) {
	p.mux.Lock()
	state := p.cpu(cpu)
	state.Halted = true
	state.IF = false
	p.mux.Unlock()
}

// Gate returns the descriptor installed for vector.
func (p *Platform) Gate(vector int) desc.Gate {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.gates[vector]
}

// Divisor returns the last programmed timer divisor.
func (p *Platform) Divisor() uint32 {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.divisor
}

// CPU returns a copy of the recorded state of cpu.
func (p *Platform) CPU(cpu int) CPU {
	p.mux.Lock()
	defer p.mux.Unlock()
	return *p.cpu(cpu)
}

// CPUs returns the number of simulated processors.
func (p *Platform) CPUs() int {
	return len(p.cpus)
}

var _ platform.Platform = (*Platform)(nil)

// StubBase is where the simulated entry stubs start, one per vector.
const StubBase platform.Stub = 0x00100000

// Stub returns the simulated entry stub address of vector.
func Stub(vector int) platform.Stub {
	return StubBase + platform.Stub(vector)*16
}
