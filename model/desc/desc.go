// Package desc models the protected-mode descriptors the core touches: the
// fixed segment selectors, interrupt gates and the per-CPU task state segment.
package desc

// Global descriptor numbers.
const (
	GDKT   = 0x08 // kernel text
	GDKD   = 0x10 // kernel data
	GDUT   = 0x18 // user text
	GDUD   = 0x20 // user data
	GDTSS0 = 0x28 // task segment selector for CPU 0
)

// Privilege levels.
const (
	KernelPL = 0
	UserPL   = 3
)

// Segment type bits.
const (
	STAX    = 0x8 // executable segment
	STAW    = 0x2 // writeable (non-executable segments)
	STAR    = 0x2 // readable (executable segments)
	STST32A = 0x9 // available 32-bit TSS
	STSIG32 = 0xE // 32-bit interrupt gate
	STSTG32 = 0xF // 32-bit trap gate
)

// Selector returns sel with the requested privilege level.
func Selector(sel uint16, pl int) uint16 {
	return sel | uint16(pl&3)
}

// Segment is a flat segment descriptor.
type Segment struct {
	Type    uint8
	Base    uint32
	Limit   uint32
	DPL     int
	System  bool
	Present bool
}

// Gate is an interrupt descriptor table entry.
type Gate struct {
	Offset   uintptr
	Selector uint16
	Type     uint8
	DPL      int
	Present  bool
}

// NewGate builds a gate for the given entry stub. Trap gates keep interrupts
// enabled on entry, interrupt gates clear IF.
func NewGate(isTrap bool, selector uint16, offset uintptr, dpl int) Gate {
	gateType := uint8(STSIG32)
	if isTrap {
		gateType = STSTG32
	}
	return Gate{Offset: offset, Selector: selector, Type: gateType, DPL: dpl, Present: true}
}

// IsTrap reports whether g is a trap gate.
func (g Gate) IsTrap() bool {
	return g.Type == STSTG32
}

// TSSSize is the byte length of a 32-bit task state segment.
const TSSSize = 104

// TSS holds the per-CPU fields used on a ring 3 to ring 0 transition.
type TSS struct {
	ESP0 uint32
	SS0  uint16
	FS   uint16
	GS   uint16
}

// GDT is the global descriptor table: five fixed segments followed by one TSS
// descriptor per CPU.
type GDT struct {
	Segments []Segment
}

// NewGDT returns a flat-model table sized for cpus processors.
func NewGDT(cpus int) *GDT {
	ret := &GDT{Segments: make([]Segment, GDTSS0>>3+cpus)}
	ret.Segments[GDKT>>3] = Segment{Type: STAX | STAR, Limit: 0xffffffff, DPL: KernelPL, Present: true}
	ret.Segments[GDKD>>3] = Segment{Type: STAW, Limit: 0xffffffff, DPL: KernelPL, Present: true}
	ret.Segments[GDUT>>3] = Segment{Type: STAX | STAR, Limit: 0xffffffff, DPL: UserPL, Present: true}
	ret.Segments[GDUD>>3] = Segment{Type: STAW, Limit: 0xffffffff, DPL: UserPL, Present: true}
	return ret
}

// TSSSelector returns the task register selector for cpu.
func TSSSelector(cpu int) uint16 {
	return uint16(GDTSS0 + cpu<<3)
}

// SetTSS installs the TSS descriptor of cpu. base is the address the
// platform associates with the TSS, size its byte length.
func (g *GDT) SetTSS(cpu int, base uint32, size uint32) bool {
	idx := GDTSS0>>3 + cpu
	if cpu < 0 || idx >= len(g.Segments) {
		return false
	}
	g.Segments[idx] = Segment{Type: STST32A, Base: base, Limit: size, DPL: KernelPL, System: true, Present: true}
	return true
}
