package trap

import (
	"fmt"
	"io"
)

// Regs holds the general registers in pushal order.
type Regs struct {
	EDI  uint32
	ESI  uint32
	EBP  uint32
	OESP uint32 // useless
	EBX  uint32
	EDX  uint32
	ECX  uint32
	EAX  uint32
}

// Frame is the register snapshot captured at trap entry. The layout follows
// what the entry stub and the processor push: general registers, data segments,
// vector and error code, then the hardware return frame. ESP and SS are only
// meaningful when the trap crossed a privilege boundary.
type Frame struct {
	Regs   Regs
	ES     uint16
	DS     uint16
	TrapNo uint32
	Err    uint32
	EIP    uint32
	CS     uint16
	EFlags uint32
	ESP    uint32
	SS     uint16
}

// EFlags bits the kernel cares about.
const (
	FlagIF = 0x00000200
)

// FromUser reports whether the trap was taken from ring 3.
func (f *Frame) FromUser() bool {
	return f.CS&3 == 3
}

// Vector returns the trap number as a table index.
func (f *Frame) Vector() int {
	return int(f.TrapNo)
}

// Reset zeroes the frame.
func (f *Frame) Reset() {
	*f = Frame{}
}

// DumpTo writes the general registers to w.
func (r *Regs) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "  edi  0x%08x\n", r.EDI)
	fmt.Fprintf(w, "  esi  0x%08x\n", r.ESI)
	fmt.Fprintf(w, "  ebp  0x%08x\n", r.EBP)
	fmt.Fprintf(w, "  oesp 0x%08x\n", r.OESP)
	fmt.Fprintf(w, "  ebx  0x%08x\n", r.EBX)
	fmt.Fprintf(w, "  edx  0x%08x\n", r.EDX)
	fmt.Fprintf(w, "  ecx  0x%08x\n", r.ECX)
	fmt.Fprintf(w, "  eax  0x%08x\n", r.EAX)
}

// DumpTo writes the whole frame to w. When faultAddr is not nil and the frame
// is a page fault, the faulting linear address is included.
func (f *Frame) DumpTo(w io.Writer, faultAddr *uint32) {
	fmt.Fprintf(w, "TRAP frame at %p\n", f)
	f.Regs.DumpTo(w)
	fmt.Fprintf(w, "  es   0x----%04x\n", f.ES)
	fmt.Fprintf(w, "  ds   0x----%04x\n", f.DS)
	fmt.Fprintf(w, "  trap 0x%08x %s\n", f.TrapNo, Name(f.TrapNo))
	if faultAddr != nil && f.TrapNo == PageFault {
		fmt.Fprintf(w, "  cr2  0x%08x\n", *faultAddr)
	}
	fmt.Fprintf(w, "  err  0x%08x", f.Err)
	if f.TrapNo == PageFault {
		fmt.Fprintf(w, " [%s]\n", DecodeFaultErr(f.Err))
	} else {
		fmt.Fprintf(w, "\n")
	}
	fmt.Fprintf(w, "  eip  0x%08x\n", f.EIP)
	fmt.Fprintf(w, "  cs   0x----%04x\n", f.CS)
	fmt.Fprintf(w, "  flag 0x%08x\n", f.EFlags)
	if f.FromUser() {
		fmt.Fprintf(w, "  esp  0x%08x\n", f.ESP)
		fmt.Fprintf(w, "  ss   0x----%04x\n", f.SS)
	}
}

// DecodeFaultErr renders a page-fault error code as
// "user|kernel, write|read, protection|not-present".
func DecodeFaultErr(code uint32) string {
	mode := "kernel"
	if code&4 != 0 {
		mode = "user"
	}
	access := "read"
	if code&2 != 0 {
		access = "write"
	}
	cause := "not-present"
	if code&1 != 0 {
		cause = "protection"
	}
	return mode + ", " + access + ", " + cause
}
