package syscall

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"

	"github.com/viant/ktask/model/desc"
	mtask "github.com/viant/ktask/model/task"
	"github.com/viant/ktask/model/trap"
	"github.com/viant/ktask/platform"
	"github.com/viant/ktask/service/cpu"
	"github.com/viant/ktask/service/event"
	"github.com/viant/ktask/service/interrupt"
	"github.com/viant/ktask/service/vfs"
	"github.com/viant/ktask/service/vm"
	"github.com/viant/ktask/stats"
	"github.com/viant/ktask/tracing"
)

// Vector is the software interrupt user programs raise for a system call.
const Vector = trap.Syscall

// MaxPath bounds a user supplied path including its NUL.
const MaxPath = 256

// Lifecycle creates and destroys tasks.
type Lifecycle interface {
	Fork(ctx context.Context, c *cpu.CPU) (int, error)
	Kill(ctx context.Context, c *cpu.CPU, pid int) error
}

// Console is the character device.
type Console interface {
	Getc() byte
	Puts(data []byte) (int, error)
	SetTextColor(fore, back uint8)
	Clear()
}

// Ticker reports the global tick count.
type Ticker interface {
	Ticks() uint64
}

// Pages reports physical page usage.
type Pages interface {
	Stats() (free int, used int)
}

// FileSystem is the descriptor based file API.
type FileSystem interface {
	Open(ctx context.Context, name string, flags int) (int, error)
	Read(ctx context.Context, fd int, n int) ([]byte, error)
	Write(ctx context.Context, fd int, data []byte) (int, error)
	Close(ctx context.Context, fd int) error
	Lseek(ctx context.Context, fd int, offset int64, whence int) (int64, error)
	Unlink(ctx context.Context, name string) error
	Opendir(ctx context.Context, name string) (int, error)
	Readdir(ctx context.Context, dir int) (*vfs.FileInfo, error)
	Closedir(ctx context.Context, dir int) error
	Stat(ctx context.Context, name string) (*vfs.FileInfo, error)
}

// Service decodes system calls and forwards them to kernel services.
type Service struct {
	scheduler *cpu.Scheduler
	lifecycle Lifecycle
	console   Console
	ticker    Ticker
	pages     Pages
	fs        FileSystem
	events    *event.Emitter
	logger    *log.Logger
}

// New creates the syscall service.
func New(scheduler *cpu.Scheduler, options ...Option) (*Service, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	ret := &Service{scheduler: scheduler}
	for _, opt := range options {
		opt(ret)
	}
	if ret.lifecycle == nil {
		return nil, fmt.Errorf("lifecycle is required")
	}
	if ret.console == nil {
		return nil, fmt.Errorf("console is required")
	}
	if ret.ticker == nil {
		return nil, fmt.Errorf("ticker is required")
	}
	if ret.pages == nil {
		return nil, fmt.Errorf("page stats are required")
	}
	if ret.fs == nil {
		return nil, fmt.Errorf("file system is required")
	}
	if ret.logger == nil {
		ret.logger = log.Default()
	}
	return ret, nil
}

// Init registers the syscall trap gate, callable from user mode.
func (s *Service) Init(registry *interrupt.Registry, stub platform.Stub) error {
	return registry.Register(Vector, s.Handle, stub, true, desc.UserPL)
}

// Handle is the trap handler: the call number comes in EAX, the arguments in
// EDX, ECX, EBX, EDI and ESI, and the result goes back in EAX. The result is
// not stored when the call freed the calling task, as its slot may already
// belong to another task.
func (s *Service) Handle(ctx context.Context, c *cpu.CPU, tf *trap.Frame) error {
	current := c.Current()
	var generation uint64
	if current != nil {
		generation = current.Generation()
	}
	ret := s.Dispatch(ctx, c, Number(tf.Regs.EAX), tf.Regs.EDX, tf.Regs.ECX, tf.Regs.EBX, tf.Regs.EDI, tf.Regs.ESI)
	if current == nil || tf != &current.Frame {
		tf.Regs.EAX = uint32(ret)
		return nil
	}
	current.Lock()
	defer current.Unlock()
	if current.State() != mtask.StateFree && current.Generation() == generation {
		tf.Regs.EAX = uint32(ret)
	}
	return nil
}

// Dispatch runs call n on behalf of c's current task. Unknown numbers return
// -1 and do nothing.
func (s *Service) Dispatch(ctx context.Context, c *cpu.CPU, n Number, a1, a2, a3, a4, a5 uint32) (ret int32) {
	if !n.Valid() {
		return -1
	}
	ctx, span := tracing.StartSpan(ctx, "syscall."+n.String(), tracing.Int("cpu", c.ID), tracing.Int("number", int(n)))
	defer func() {
		span.Set(tracing.Int("result", int(ret)))
		tracing.EndSpan(span, nil)
	}()
	stats.UpdateCtx(ctx, stats.Delta{Syscalls: 1})
	current := c.Current()

	switch n {
	case Fork:
		pid, err := s.lifecycle.Fork(ctx, c)
		if err != nil {
			s.logger.Printf("fork on cpu %d: %v", c.ID, err)
			return -1
		}
		return int32(pid)
	case Getc:
		return int32(s.console.Getc())
	case Puts:
		data, errno := s.copyIn(current, a1, int(a2))
		if errno != 0 {
			return errno
		}
		if _, err := s.console.Puts(data); err != nil {
			return -int32(vfs.EIO)
		}
		return 0
	case Getpid:
		if current == nil {
			return -1
		}
		return int32(current.ID)
	case Getcid:
		return int32(c.ID)
	case Sleep:
		return s.sleep(ctx, c, current, a1)
	case Kill:
		if err := s.lifecycle.Kill(ctx, c, int(int32(a1))); err != nil {
			return -1
		}
		return 0
	case GetNumFreePage:
		free, _ := s.pages.Stats()
		return int32(free)
	case GetNumUsedPage:
		_, used := s.pages.Stats()
		return int32(used)
	case GetTicks:
		return int32(s.ticker.Ticks())
	case SetTextColor:
		s.console.SetTextColor(uint8(a1), uint8(a2))
		return 0
	case Cls:
		s.console.Clear()
		return 0
	}
	return s.file(ctx, current, n, a1, a2, a3)
}

func (s *Service) sleep(ctx context.Context, c *cpu.CPU, current *mtask.Task, ticks uint32) int32 {
	if current == nil {
		return -1
	}
	current.Lock()
	slept := current.Transition(mtask.StateRunning, mtask.StateSleep)
	if slept {
		current.Remaining = int(ticks)
	}
	current.Unlock()
	if !slept {
		return -1
	}
	s.events.Emit(ctx, event.Task{Kind: event.KindSlept, PID: current.ID, ParentID: current.ParentID, CPU: c.ID})
	s.scheduler.Yield(c)
	return 0
}

func (s *Service) file(ctx context.Context, current *mtask.Task, n Number, a1, a2, a3 uint32) int32 {
	switch n {
	case Open:
		name, errno := s.path(current, a1)
		if errno != 0 {
			return errno
		}
		fd, err := s.fs.Open(ctx, name, int(a2))
		if err != nil {
			return vfs.Code(err)
		}
		return int32(fd)
	case Read:
		if a2 == 0 || int32(a3) < 0 {
			return -int32(vfs.EINVAL)
		}
		if err := inSpace(current, func(space *vm.AddressSpace) error {
			return space.Writable(a2, int(a3))
		}); err != nil {
			return -int32(vfs.EFAULT)
		}
		data, err := s.fs.Read(ctx, int(int32(a1)), int(a3))
		if err != nil {
			return vfs.Code(err)
		}
		if errno := s.copyOut(current, a2, data); errno != 0 {
			return errno
		}
		return int32(len(data))
	case Write:
		if a2 == 0 || int32(a3) < 0 {
			return -int32(vfs.EINVAL)
		}
		data, errno := s.copyIn(current, a2, int(a3))
		if errno != 0 {
			return errno
		}
		written, err := s.fs.Write(ctx, int(int32(a1)), data)
		if err != nil {
			return vfs.Code(err)
		}
		return int32(written)
	case Close:
		return vfs.Code(s.fs.Close(ctx, int(int32(a1))))
	case Lseek:
		pos, err := s.fs.Lseek(ctx, int(int32(a1)), int64(int32(a2)), int(int32(a3)))
		if err != nil {
			return vfs.Code(err)
		}
		return int32(pos)
	case Unlink:
		name, errno := s.path(current, a1)
		if errno != 0 {
			return errno
		}
		return vfs.Code(s.fs.Unlink(ctx, name))
	case Opendir:
		name, errno := s.path(current, a1)
		if errno != 0 {
			return errno
		}
		if a2 == 0 {
			return -int32(vfs.EINVAL)
		}
		dir, err := s.fs.Opendir(ctx, name)
		if err != nil {
			return vfs.Code(err)
		}
		handle := make([]byte, 4)
		binary.LittleEndian.PutUint32(handle, uint32(dir))
		if errno := s.copyOut(current, a2, handle); errno != 0 {
			_ = s.fs.Closedir(ctx, dir)
			return -int32(vfs.EFAULT)
		}
		return 0
	case Closedir:
		dir, errno := s.dirHandle(current, a1)
		if errno != 0 {
			return errno
		}
		return vfs.Code(s.fs.Closedir(ctx, dir))
	case Readdir:
		dir, errno := s.dirHandle(current, a1)
		if errno != 0 {
			return errno
		}
		info, err := s.fs.Readdir(ctx, dir)
		if err != nil {
			return vfs.Code(err)
		}
		return s.copyOut(current, a2, info.Encode())
	case Stat:
		name, errno := s.path(current, a1)
		if errno != 0 {
			return errno
		}
		info, err := s.fs.Stat(ctx, name)
		if err != nil {
			return vfs.Code(err)
		}
		return s.copyOut(current, a2, info.Encode())
	}
	return -1
}

// inSpace runs fn on the address space of current under its lock. A task
// freed meanwhile has no space left and fails with vm.ErrFault.
func inSpace(current *mtask.Task, fn func(space *vm.AddressSpace) error) error {
	if current == nil {
		return fmt.Errorf("%w: no current task", vm.ErrFault)
	}
	current.Lock()
	defer current.Unlock()
	if current.Space == nil {
		return fmt.Errorf("%w: task %d has no address space", vm.ErrFault, current.ID)
	}
	return fn(current.Space)
}

func (s *Service) copyIn(current *mtask.Task, va uint32, n int) ([]byte, int32) {
	var data []byte
	err := inSpace(current, func(space *vm.AddressSpace) (err error) {
		data, err = space.CopyIn(va, n)
		return err
	})
	if err != nil {
		return nil, -int32(vfs.EFAULT)
	}
	return data, 0
}

func (s *Service) copyOut(current *mtask.Task, va uint32, data []byte) int32 {
	if va == 0 {
		return -int32(vfs.EINVAL)
	}
	err := inSpace(current, func(space *vm.AddressSpace) error {
		return space.CopyOut(va, data)
	})
	if err != nil {
		return -int32(vfs.EFAULT)
	}
	return 0
}

func (s *Service) path(current *mtask.Task, va uint32) (string, int32) {
	if va == 0 {
		return "", -int32(vfs.EINVAL)
	}
	var ret string
	err := inSpace(current, func(space *vm.AddressSpace) (err error) {
		ret, err = space.CopyInString(va, MaxPath)
		return err
	})
	if err != nil {
		return "", -int32(vfs.EFAULT)
	}
	return ret, 0
}

func (s *Service) dirHandle(current *mtask.Task, va uint32) (int, int32) {
	if va == 0 {
		return -1, -int32(vfs.EINVAL)
	}
	data, errno := s.copyIn(current, va, 4)
	if errno != 0 {
		return -1, errno
	}
	return int(int32(binary.LittleEndian.Uint32(data))), 0
}

var _ Pages = (*vm.Pool)(nil)
