package process

import (
	"context"
	"errors"
	"fmt"

	"github.com/viant/ktask/model/desc"
	mtask "github.com/viant/ktask/model/task"
	"github.com/viant/ktask/platform"
	"github.com/viant/ktask/service/cpu"
	"github.com/viant/ktask/service/event"
	"github.com/viant/ktask/service/task"
	"github.com/viant/ktask/service/vm"
	"github.com/viant/ktask/tracing"
)

// Service implements the task lifecycle: create, fork, kill and the per-CPU
// bootstrap that seeds each run queue with its first task.
type Service struct {
	table     *task.Table
	scheduler *cpu.Scheduler
	platform  platform.Platform
	image     *vm.Image
	gdt       *desc.GDT
	events    *event.Emitter
}

// New creates the lifecycle service. events may be nil.
func New(table *task.Table, scheduler *cpu.Scheduler, image *vm.Image, gdt *desc.GDT, events *event.Emitter) (*Service, error) {
	if table == nil {
		return nil, fmt.Errorf("task table is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if image == nil {
		return nil, fmt.Errorf("user image is required")
	}
	if gdt == nil {
		return nil, fmt.Errorf("gdt is required")
	}
	return &Service{table: table, scheduler: scheduler, platform: scheduler.Platform(), image: image, gdt: gdt, events: events}, nil
}

// Create allocates a runnable task whose parent is c's current task, or 0
// when c runs nothing. The task is not queued.
func (s *Service) Create(ctx context.Context, c *cpu.CPU) (*mtask.Task, error) {
	parent := 0
	if current := c.Current(); current != nil {
		parent = current.ID
	}
	ctx, span := tracing.StartSpan(ctx, "task.create", tracing.Int("cpu", c.ID), tracing.Int("parent", parent))
	aTask, err := s.table.Create(parent)
	if err == nil {
		span.Set(tracing.Int("pid", aTask.ID))
		s.events.Emit(ctx, event.Task{Kind: event.KindCreated, PID: aTask.ID, ParentID: parent, CPU: c.ID})
	}
	tracing.EndSpan(span, err)
	return aTask, err
}

// Fork duplicates c's current task. The child gets a verbatim copy of the
// parent's frame and a private copy of every user stack page; the program
// image is shared. The child sees 0 in EAX, the parent the child id. With no
// current task the child starts at the image entry. The child is appended
// to the shortest run queue.
func (s *Service) Fork(ctx context.Context, c *cpu.CPU) (pid int, err error) {
	ctx, span := tracing.StartSpan(ctx, "task.fork", tracing.Int("cpu", c.ID))
	defer func() { tracing.EndSpan(span, err) }()

	child, err := s.Create(ctx, c)
	if err != nil {
		return -1, err
	}
	parent := c.Current()
	if err = s.populate(child, parent); err != nil {
		return -1, errors.Join(err, s.table.Free(child))
	}
	child.Frame.Regs.EAX = 0
	target, err := s.scheduler.Place(child)
	if err != nil {
		return -1, errors.Join(err, s.table.Free(child))
	}
	if parent != nil {
		parent.Frame.Regs.EAX = uint32(child.ID)
	}
	span.Set(tracing.Int("pid", child.ID), tracing.Int("target", target.ID))
	s.events.Emit(ctx, event.Task{Kind: event.KindForked, PID: child.ID, ParentID: child.ParentID, CPU: target.ID})
	return child.ID, nil
}

func (s *Service) populate(child, parent *mtask.Task) error {
	if err := s.image.MapInto(child.Space); err != nil {
		return err
	}
	if parent == nil {
		child.Frame.EIP = s.image.Entry
		return nil
	}
	child.Frame = parent.Frame
	for va := s.table.Config().StackBottom(); va < vm.UStackTop; va += vm.PageSize {
		src, ok := parent.Space.Walk(va)
		if !ok {
			return fmt.Errorf("fork %d: parent stack page %#x not mapped", child.ID, va)
		}
		dst, ok := child.Space.Walk(va)
		if !ok {
			return fmt.Errorf("fork %d: child stack page %#x not mapped", child.ID, va)
		}
		copy(dst.Page.Bytes(), src.Page.Bytes())
	}
	return nil
}

// Kill frees task pid. It is removed from whichever run queue holds it, the
// calling CPU moves onto the kernel page directory, and the task's memory is
// released. Killing c's own current task reschedules c and never resumes the
// killed context. A task running on another CPU is only marked FREE; that CPU
// drops it at its next timer tick. The pid is resolved together with the
// slot generation so a slot reused in the meantime is never freed.
func (s *Service) Kill(ctx context.Context, c *cpu.CPU, pid int) (err error) {
	ctx, span := tracing.StartSpan(ctx, "task.kill", tracing.Int("cpu", c.ID), tracing.Int("pid", pid))
	defer func() { tracing.EndSpan(span, err) }()
	if pid <= 0 || pid >= s.table.Config().MaxTasks {
		return fmt.Errorf("%w: %d", task.ErrInvalidPid, pid)
	}
	target, generation, err := s.table.LookupGeneration(pid)
	if err != nil {
		return err
	}
	owner, parent := mtask.NoCPU, 0
	current := c.Current()
	s.platform.SwitchSpace(c.ID, s.table.Kernel().Root())
	err = s.table.FreeGeneration(target, generation, func() {
		owner, parent = target.CPU(), target.ParentID
		s.scheduler.Dequeue(target)
	})
	if err != nil {
		s.restoreSpace(c, current)
		return err
	}
	s.events.Emit(ctx, event.Task{Kind: event.KindKilled, PID: pid, ParentID: parent, CPU: owner})
	if current == target {
		c.SetCurrent(nil)
		s.scheduler.Yield(c)
		return nil
	}
	s.restoreSpace(c, current)
	return nil
}

func (s *Service) restoreSpace(c *cpu.CPU, current *mtask.Task) {
	if current == nil {
		return
	}
	current.Lock()
	space := current.Space
	current.Unlock()
	if space != nil {
		s.platform.SwitchSpace(c.ID, space.Root())
	}
}

// InitCPU prepares processor c: its TSS and GDT slot, and a first task with
// the image mapped that starts at the user entry on the boot CPU and at the
// idle entry elsewhere. The task is queued on c, made current and its page
// directory loaded.
func (s *Service) InitCPU(ctx context.Context, c *cpu.CPU, boot bool) error {
	c.TSS = desc.TSS{
		ESP0: c.StackTop(),
		SS0:  desc.GDKD,
		FS:   desc.Selector(desc.GDUD, desc.UserPL),
		GS:   desc.Selector(desc.GDUD, desc.UserPL),
	}
	if !s.gdt.SetTSS(c.ID, vm.KernBase+uint32(c.ID)*desc.TSSSize, desc.TSSSize) {
		return fmt.Errorf("cpu %d: no tss slot in gdt", c.ID)
	}
	first, err := s.Create(ctx, c)
	if err != nil {
		return fmt.Errorf("cpu %d: first task: %w", c.ID, err)
	}
	if err = s.image.MapInto(first.Space); err == nil {
		err = s.scheduler.Enqueue(c, first)
	}
	if err != nil {
		return errors.Join(fmt.Errorf("cpu %d: first task: %w", c.ID, err), s.table.Free(first))
	}
	first.Frame.EIP = s.image.IdleEntry
	if boot {
		first.Frame.EIP = s.image.Entry
	}
	c.Queue.Select(first.ID)

	s.platform.LoadGDT(c.ID, s.gdt)
	s.platform.LoadLDT(c.ID, 0)
	s.platform.LoadTR(c.ID, desc.TSSSelector(c.ID), &c.TSS)

	first.Transition(mtask.StateRunnable, mtask.StateRunning)
	c.SetCurrent(first)
	s.platform.SwitchSpace(c.ID, first.Space.Root())
	s.events.Emit(ctx, event.Task{Kind: event.KindBooted, PID: first.ID, CPU: c.ID})
	return nil
}
