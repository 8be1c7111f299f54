package ktask

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/viant/afs"
	"github.com/viant/ktask/internal/idgen"
	"github.com/viant/ktask/model/desc"
	mtask "github.com/viant/ktask/model/task"
	"github.com/viant/ktask/model/trap"
	"github.com/viant/ktask/platform"
	"github.com/viant/ktask/platform/sim"
	"github.com/viant/ktask/program"
	"github.com/viant/ktask/service/console"
	"github.com/viant/ktask/service/cpu"
	"github.com/viant/ktask/service/event"
	"github.com/viant/ktask/service/interrupt"
	"github.com/viant/ktask/service/messaging/memory"
	"github.com/viant/ktask/service/process"
	"github.com/viant/ktask/service/syscall"
	"github.com/viant/ktask/service/task"
	"github.com/viant/ktask/service/timer"
	"github.com/viant/ktask/service/vfs"
	"github.com/viant/ktask/service/vm"
	"github.com/viant/ktask/stats"
	"github.com/viant/ktask/tracing"
)

// User image entry points.
const (
	UserEntry = 0x00800020
	IdleEntry = 0x00800010
)

// Service is a booted kernel: every subsystem wired together and each CPU
// running its first task.
type Service struct {
	config     *Config
	bootID     string
	logger     *log.Logger
	platform   platform.Platform
	fs         afs.Service
	consoleOut io.Writer
	script     *program.Script
	listeners  []func(evt *event.Event[event.Task])

	pool       *vm.Pool
	table      *task.Table
	scheduler  *cpu.Scheduler
	image      *vm.Image
	events     *event.Service
	registry   *interrupt.Registry
	dispatcher *interrupt.Dispatcher
	process    *process.Service
	timer      *timer.Service
	console    *console.Service
	vfs        *vfs.Service
	syscall    *syscall.Service
	stats      *stats.Tracker
	runtime    *Runtime
}

// New boots a kernel.
func New(ctx context.Context, options ...Option) (*Service, error) {
	ret := &Service{}
	for _, opt := range options {
		opt(ret)
	}
	if err := ret.setup(ctx); err != nil {
		if ret.events != nil {
			ret.events.Close()
		}
		return nil, err
	}
	return ret, nil
}

func (s *Service) ensureBaseSetup(ctx context.Context) error {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	s.bootID = idgen.New()
	if s.logger == nil {
		s.logger = log.New(os.Stderr, "ktask["+idgen.Short(s.bootID)+"] ", log.LstdFlags)
	}
	if s.platform == nil {
		s.platform = sim.New(s.config.CPUs)
	}
	if s.fs == nil {
		s.fs = afs.New()
	}
	if s.config.Tracing.Enabled {
		if err := tracing.Init(s.config.Tracing.Service, s.config.Tracing.Version, s.config.Tracing.OutputFile); err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
	}
	if s.script == nil {
		if s.config.Program == "" {
			s.script = program.Demo()
		} else {
			script, err := program.Load(ctx, s.fs, s.config.Program)
			if err != nil {
				return err
			}
			s.script = script
		}
	}
	return nil
}

func (s *Service) setup(ctx context.Context) error {
	if err := s.ensureBaseSetup(ctx); err != nil {
		return err
	}
	config := s.config
	ctx, span := tracing.StartSpan(ctx, "kernel.boot", tracing.String("boot", s.bootID), tracing.Int("cpus", config.CPUs))
	err := s.boot(ctx, config)
	tracing.EndSpan(span, err)
	return err
}

func (s *Service) boot(ctx context.Context, config *Config) (err error) {
	s.stats = stats.New(s.bootID)
	if s.events, err = event.New(memory.Config{QueueBuffer: config.Log.EventBuffer}); err != nil {
		return err
	}
	event.SetListenerOf[event.Task](s.events, s.onEvent)
	emitter := event.NewEmitter(s.events, s.bootID, "kernel")

	s.pool = vm.NewPool(vm.PhysAddr(config.Memory.Base), config.Memory.Pages)
	kernel, err := vm.NewKernelSpace(s.pool)
	if err != nil {
		return err
	}
	if s.table, err = task.New(s.pool, kernel, config.Tasks); err != nil {
		return err
	}
	if s.scheduler, err = cpu.NewScheduler(s.platform, kernel, s.table, config.CPUs, config.Tasks.MaxTasks, config.Tasks.Quantum); err != nil {
		return err
	}
	if s.image, err = vm.NewImage(s.pool, UserEntry, IdleEntry, vm.DefaultLayout()); err != nil {
		return err
	}
	gdt := desc.NewGDT(config.CPUs)

	s.registry = interrupt.NewRegistry(s.platform)
	if s.dispatcher, err = interrupt.NewDispatcher(s.registry, s.platform, s.logger); err != nil {
		return err
	}
	stubs := interrupt.Stubs{
		Default:           sim.Stub(trap.Vectors - 1),
		GeneralProtection: sim.Stub(trap.GPFault),
		StackFault:        sim.Stub(trap.Stack),
		PageFault:         sim.Stub(trap.PageFault),
	}
	if err = s.registry.InstallDefaults(stubs, s.dispatcher.PageFaultHandler); err != nil {
		return err
	}
	if s.process, err = process.New(s.table, s.scheduler, s.image, gdt, emitter); err != nil {
		return err
	}
	if s.timer, err = timer.New(s.platform, s.scheduler, s.table, config.Timer.Hz, emitter); err != nil {
		return err
	}
	if err = s.timer.Init(s.registry, sim.Stub(timer.Vector)); err != nil {
		return err
	}
	if s.console, err = console.New(s.platform, s.consoleOut, config.Console); err != nil {
		return err
	}
	if err = s.console.Init(s.registry, sim.Stub(console.Vector)); err != nil {
		return err
	}
	if s.vfs, err = vfs.New(ctx, s.fs, config.VFS); err != nil {
		return err
	}
	s.syscall, err = syscall.New(s.scheduler,
		syscall.WithLifecycle(s.process),
		syscall.WithConsole(s.console),
		syscall.WithTicker(s.timer),
		syscall.WithPages(s.pool),
		syscall.WithFileSystem(s.vfs),
		syscall.WithEvents(emitter),
		syscall.WithLogger(s.logger))
	if err != nil {
		return err
	}
	if err = s.syscall.Init(s.registry, sim.Stub(syscall.Vector)); err != nil {
		return err
	}

	for _, c := range s.scheduler.CPUs() {
		if err = s.process.InitCPU(ctx, c, c.ID == 0); err != nil {
			return err
		}
		s.registry.Load(c.ID)
	}
	runner, err := program.New(s.script, UserEntry, IdleEntry)
	if err != nil {
		return err
	}
	s.runtime = newRuntime(s, runner)
	s.logger.Printf("booted %d cpus, %d free pages, program %v", config.CPUs, s.FreePages(), s.script.Name)
	return nil
}

func (s *Service) onEvent(evt *event.Event[event.Task]) {
	s.stats.Observe(evt.Data)
	if s.config.Log.Events {
		s.logger.Printf("event: %v", evt.Data)
	}
	for _, listener := range s.listeners {
		listener(evt)
	}
}

// BootID identifies this kernel instance.
func (s *Service) BootID() string {
	return s.bootID
}

// Config returns the effective configuration.
func (s *Service) Config() *Config {
	return s.config
}

// Runtime returns the CPU driver.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// Platform returns the hardware edge.
func (s *Service) Platform() platform.Platform {
	return s.platform
}

// Scheduler returns the per-CPU scheduler.
func (s *Service) Scheduler() *cpu.Scheduler {
	return s.scheduler
}

// Console returns the console device.
func (s *Service) Console() *console.Service {
	return s.console
}

// FS returns the file system.
func (s *Service) FS() *vfs.Service {
	return s.vfs
}

// Syscall returns the system call service.
func (s *Service) Syscall() *syscall.Service {
	return s.syscall
}

// Process returns the task lifecycle service.
func (s *Service) Process() *process.Service {
	return s.process
}

// Ticks returns the global tick count.
func (s *Service) Ticks() uint64 {
	return s.timer.Ticks()
}

// FreePages returns the number of free physical pages.
func (s *Service) FreePages() int {
	free, _ := s.pool.Stats()
	return free
}

// UsedPages returns the number of allocated physical pages.
func (s *Service) UsedPages() int {
	_, used := s.pool.Stats()
	return used
}

// Tasks describes every live task.
func (s *Service) Tasks() []mtask.Snapshot {
	return s.table.Snapshots()
}

// Stats returns the kernel counters. Lifecycle events are counted
// asynchronously and may trail the machine slightly.
func (s *Service) Stats() stats.Counters {
	return s.stats.Snapshot()
}

// Close stops the event listeners and flushes tracing when this service
// enabled it.
func (s *Service) Close(ctx context.Context) error {
	s.events.Close()
	if !s.config.Tracing.Enabled {
		return nil
	}
	return tracing.Shutdown(ctx)
}
