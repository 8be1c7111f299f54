package ktask

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/viant/ktask/model/desc"
	"github.com/viant/ktask/model/trap"
	"github.com/viant/ktask/program"
	"github.com/viant/ktask/service/console"
	"github.com/viant/ktask/service/cpu"
	"github.com/viant/ktask/service/event"
	"github.com/viant/ktask/service/timer"
	"github.com/viant/ktask/stats"
)

// ErrCPUHalted is returned by Tick for a CPU that stopped on a fatal trap.
var ErrCPUHalted = errors.New("ktask: cpu halted")

// Runtime drives the simulated processors. Each Tick on a CPU executes the
// current task up to its next system call, delivers pending keyboard input on
// the boot CPU and finally delivers one timer interrupt.
type Runtime struct {
	service *Service
	program program.Program
	halted  []atomic.Bool
	emitter *event.Emitter
}

func newRuntime(service *Service, prog program.Program) *Runtime {
	return &Runtime{
		service: service,
		program: prog,
		halted:  make([]atomic.Bool, service.config.CPUs),
		emitter: event.NewEmitter(service.events, service.bootID, "runtime"),
	}
}

// Halted reports whether cpu stopped on a fatal trap.
func (r *Runtime) Halted(cpuID int) bool {
	if cpuID < 0 || cpuID >= len(r.halted) {
		return false
	}
	return r.halted[cpuID].Load()
}

// Tick runs one timer period on cpuID.
func (r *Runtime) Tick(ctx context.Context, cpuID int) error {
	c, err := r.service.scheduler.CPU(cpuID)
	if err != nil {
		return err
	}
	if r.halted[cpuID].Load() {
		return fmt.Errorf("%w: %d", ErrCPUHalted, cpuID)
	}
	ctx = stats.NewContext(ctx, r.service.stats)
	dispatcher := r.service.dispatcher

	if frame, ok := r.step(c); ok {
		if err = dispatcher.Dispatch(ctx, c, frame); err != nil {
			return r.halt(ctx, c, err)
		}
	}
	if c.ID == 0 && r.service.console.Pending() {
		if err = dispatcher.Dispatch(ctx, c, r.interruptFrame(c, console.Vector)); err != nil {
			return r.halt(ctx, c, err)
		}
	}
	if err = dispatcher.Dispatch(ctx, c, r.interruptFrame(c, timer.Vector)); err != nil {
		return r.halt(ctx, c, err)
	}
	return nil
}

// step runs c's current task up to its next system call. The task lock is
// released before the call is dispatched since the call may free the task.
func (r *Runtime) step(c *cpu.CPU) (*trap.Frame, bool) {
	current := c.Current()
	if current == nil {
		return nil, false
	}
	current.Lock()
	defer current.Unlock()
	if !c.Owns(current) {
		return nil, false
	}
	return r.program.Step(current)
}

// interruptFrame builds the frame the hardware would push when vector arrives
// on c: the user context of the task c owns, or a kernel context otherwise.
func (r *Runtime) interruptFrame(c *cpu.CPU, vector int) *trap.Frame {
	frame := trap.Frame{CS: desc.GDKT, EFlags: trap.FlagIF}
	if current := c.Current(); current != nil {
		current.Lock()
		if c.Owns(current) {
			frame = current.Frame
		}
		current.Unlock()
	}
	frame.TrapNo = uint32(vector)
	return &frame
}

func (r *Runtime) halt(ctx context.Context, c *cpu.CPU, err error) error {
	r.halted[c.ID].Store(true)
	pid := -1
	if current := c.Current(); current != nil {
		pid = current.ID
	}
	r.emitter.Emit(ctx, event.Task{Kind: event.KindHalted, PID: pid, CPU: c.ID, Tick: r.service.timer.Ticks()})
	r.service.logger.Printf("cpu %d halted: %v", c.ID, err)
	return err
}

// Run ticks every CPU concurrently, ticks times each, or until ctx is done
// when ticks <= 0. A halted CPU stops while the others carry on.
func (r *Runtime) Run(ctx context.Context, ticks int) error {
	var wg sync.WaitGroup
	errs := make([]error, len(r.halted))
	for id := range r.halted {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; ticks <= 0 || i < ticks; i++ {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if err := r.Tick(ctx, id); err != nil {
					errs[id] = err
					return
				}
			}
		}(id)
	}
	wg.Wait()
	return errors.Join(errs...)
}
