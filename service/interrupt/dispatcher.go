package interrupt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/viant/ktask/model/desc"
	"github.com/viant/ktask/model/trap"
	"github.com/viant/ktask/platform"
	"github.com/viant/ktask/service/cpu"
)

var (
	// ErrUnexpectedTrap is returned after halting on a vector with no handler.
	ErrUnexpectedTrap = errors.New("interrupt: unexpected trap")

	// ErrBadResume is returned after halting on an unusable resume frame.
	ErrBadResume = errors.New("interrupt: invalid resume frame")

	// ErrPageFault is returned by the default page-fault handler.
	ErrPageFault = errors.New("interrupt: page fault")
)

// Dispatcher routes raw trap deliveries to registered handlers and resumes
// the frame chosen afterwards.
type Dispatcher struct {
	registry *Registry
	platform platform.Platform
	logger   *log.Logger
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, plat platform.Platform, logger *log.Logger) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if plat == nil {
		return nil, fmt.Errorf("platform is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{registry: registry, platform: plat, logger: logger}, nil
}

// Dispatch handles one delivery of tf on c. Spurious interrupts are logged and
// resumed as is. A vector with no handler halts the CPU. For a trap taken from
// user mode the frame is first copied into the current task so changes made
// by the handler survive a reschedule. A current task the CPU no longer owns
// (killed from another CPU, its slot possibly reused) is left untouched and
// the handler works on tf itself. After the handler the CPU resumes the
// frame the scheduler picked, or tf when it did not run, or parks when the
// scheduler found nothing runnable.
func (d *Dispatcher) Dispatch(ctx context.Context, c *cpu.CPU, tf *trap.Frame) error {
	if tf == nil {
		d.platform.Halt(c.ID)
		return fmt.Errorf("%w: nil frame on cpu %d", ErrBadResume, c.ID)
	}
	vector := tf.Vector()
	if vector == trap.IRQOffset+trap.IRQSpurious {
		d.logger.Printf("spurious interrupt on irq %d (cpu %d)", trap.IRQSpurious, c.ID)
		d.dump(tf, nil)
		d.platform.EOI(c.ID)
		return d.resume(c, tf)
	}
	handler, ok := d.registry.Handler(vector)
	if !ok {
		d.dump(tf, nil)
		d.platform.Halt(c.ID)
		return fmt.Errorf("%w: %d (%s) on cpu %d", ErrUnexpectedTrap, vector, trap.Name(tf.TrapNo), c.ID)
	}
	c.TakeResume()
	if current := c.Current(); tf.FromUser() && current != nil {
		d.platform.DisableInterrupts(c.ID)
		current.Lock()
		if c.Owns(current) {
			current.Frame = *tf
			tf = &current.Frame
		}
		current.Unlock()
	}
	if err := handler(ctx, c, tf); err != nil {
		d.platform.Halt(c.ID)
		return fmt.Errorf("vector %d on cpu %d: %w", vector, c.ID, err)
	}
	next, yielded := c.TakeResume()
	if !yielded {
		return d.resume(c, tf)
	}
	if next == nil {
		d.platform.Idle(c.ID)
		return nil
	}
	return d.resume(c, next)
}

func (d *Dispatcher) resume(c *cpu.CPU, tf *trap.Frame) error {
	if !validResume(tf) {
		d.platform.Halt(c.ID)
		return fmt.Errorf("%w: cpu %d cs %#x", ErrBadResume, c.ID, tf.CS)
	}
	return d.platform.ReturnFromTrap(c.ID, tf)
}

func validResume(tf *trap.Frame) bool {
	switch tf.CS {
	case desc.GDKT, desc.Selector(desc.GDUT, desc.UserPL):
		return true
	}
	return false
}

func (d *Dispatcher) dump(tf *trap.Frame, faultAddr *uint32) {
	buf := &bytes.Buffer{}
	tf.DumpTo(buf, faultAddr)
	d.logger.Print(buf.String())
}

// PageFaultHandler logs the faulting address and frame and stops the CPU.
func (d *Dispatcher) PageFaultHandler(ctx context.Context, c *cpu.CPU, tf *trap.Frame) error {
	addr := d.platform.FaultAddr(c.ID)
	d.logger.Printf("page fault @ %#08x on cpu %d", addr, c.ID)
	d.dump(tf, &addr)
	return fmt.Errorf("%w @ %#08x [%s]", ErrPageFault, addr, trap.DecodeFaultErr(tf.Err))
}
