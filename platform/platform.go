// Package platform defines the hardware edge of the kernel core. Everything
// that would be a privileged instruction on real x86 (gate install, descriptor
// loads, address-space switch, interrupt flag, EOI, iret, halt) goes through
// Platform so that the rest of the core stays platform independent.
package platform

import (
	"errors"

	"github.com/viant/ktask/model/desc"
	"github.com/viant/ktask/model/trap"
	"github.com/viant/ktask/service/vm"
)

// Stub is the address of a low-level vector entry stub.
type Stub uintptr

// ErrHalted is returned by ReturnFromTrap when the CPU has been halted.
var ErrHalted = errors.New("platform: cpu halted")

// Platform abstracts the privileged operations performed by the core. All
// methods take the id of the CPU issuing them.
type Platform interface {
	// SetGate writes one interrupt descriptor table entry.
	SetGate(vector int, gate desc.Gate)

	// LoadIDT makes the current descriptor table active on cpu.
	LoadIDT(cpu int)

	// LoadGDT loads the global descriptor table on cpu.
	LoadGDT(cpu int, gdt *desc.GDT)

	// LoadLDT loads the local descriptor table selector (0 disables it).
	LoadLDT(cpu int, sel uint16)

	// LoadTR loads the task register.
	LoadTR(cpu int, sel uint16, tss *desc.TSS)

	// SwitchSpace loads the page directory root on cpu.
	SwitchSpace(cpu int, root vm.PhysAddr)

	// DisableInterrupts clears IF on cpu.
	DisableInterrupts(cpu int)

	// EnableInterrupts sets IF on cpu.
	EnableInterrupts(cpu int)

	// FaultAddr returns the linear address of the last page fault (cr2).
	FaultAddr(cpu int) uint32

	// EOI acknowledges the interrupt controller.
	EOI(cpu int)

	// SetTimer programs the interval timer divisor.
	SetTimer(divisor uint32)

	// ReturnFromTrap restores tf and resumes it on cpu.
	ReturnFromTrap(cpu int, tf *trap.Frame) error

	// Idle parks cpu until the next interrupt.
	Idle(cpu int)

	// Halt stops cpu for good.
	Halt(cpu int)
}

// PITFrequency is the input clock of the programmable interval timer.
const PITFrequency = 1193180

// TimerDivisor returns the PIT divisor producing hz interrupts per second.
func TimerDivisor(hz int) uint32 {
	if hz <= 0 {
		return 0
	}
	return uint32(PITFrequency / hz)
}
