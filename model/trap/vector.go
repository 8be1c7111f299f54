package trap

// Processor-defined exception vectors.
const (
	Divide     = 0
	Debug      = 1
	NMI        = 2
	Breakpoint = 3
	Overflow   = 4
	Bound      = 5
	IllegalOp  = 6
	Device     = 7
	DoubleFlt  = 8
	TSS        = 10
	SegNP      = 11
	Stack      = 12
	GPFault    = 13
	PageFault  = 14
	FPError    = 16
	Align      = 17
	MachCheck  = 18
	SIMDError  = 19
)

// Syscall is the software vector used by the syscall gate.
const Syscall = 0x30

// IRQOffset is where hardware IRQ 0 lands in the vector table.
const IRQOffset = 32

// Hardware IRQ lines, relative to IRQOffset.
const (
	IRQTimer    = 0
	IRQKbd      = 1
	IRQSpurious = 7
	IRQIDE      = 14
	IRQError    = 19
)

// Vectors is the size of the vector table.
const Vectors = 256

var exceptionNames = [...]string{
	"Divide error",
	"Debug",
	"Non-Maskable Interrupt",
	"Breakpoint",
	"Overflow",
	"BOUND Range Exceeded",
	"Invalid Opcode",
	"Device Not Available",
	"Double Fault",
	"Coprocessor Segment Overrun",
	"Invalid TSS",
	"Segment Not Present",
	"Stack Fault",
	"General Protection",
	"Page Fault",
	"(unknown trap)",
	"x87 FPU Floating-Point Error",
	"Alignment Check",
	"Machine-Check",
	"SIMD Floating-Point Exception",
}

// Name returns a human readable name for the vector.
func Name(trapNo uint32) string {
	if int(trapNo) < len(exceptionNames) {
		return exceptionNames[trapNo]
	}
	if trapNo == Syscall {
		return "System call"
	}
	if trapNo >= IRQOffset && trapNo < IRQOffset+16 {
		return "Hardware Interrupt"
	}
	return "(unknown trap)"
}

// IsValid reports whether vector fits the vector table.
func IsValid(vector int) bool {
	return vector >= 0 && vector < Vectors
}
