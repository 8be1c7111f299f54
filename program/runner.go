package program

import (
	"encoding/binary"
	"fmt"

	"github.com/viant/ktask/model/task"
	"github.com/viant/ktask/model/trap"
	"github.com/viant/ktask/service/syscall"
	"github.com/viant/ktask/service/vfs"
	"github.com/viant/ktask/service/vm"
)

// User memory layout inside the top stack page.
const (
	VarsVA  = vm.UStackTop - 0x40
	PathVA  = vm.UStackTop - 0x200
	BufVA   = vm.UStackTop - 0x600
	BufSize = 0x400

	instructionSize = 4
	// control instructions run per step before the task is left to spin
	maxControl = 256
)

// Program executes user mode code for a task.
type Program interface {
	// Step runs t from its saved frame until it raises a system call and
	// returns that trap frame. ok is false when t has nothing to do until the
	// next interrupt.
	Step(t *task.Task) (tf *trap.Frame, ok bool)
}

// Runner executes a script loaded at entry. Tasks started at idle spin.
type Runner struct {
	script *Script
	entry  uint32
	idle   uint32
}

// New binds script to the image entry points.
func New(script *Script, entry, idle uint32) (*Runner, error) {
	if script == nil {
		return nil, fmt.Errorf("script is required")
	}
	return &Runner{script: script, entry: entry, idle: idle}, nil
}

// Script returns the program text.
func (r *Runner) Script() *Script {
	return r.script
}

func (r *Runner) pc(eip uint32) (int, bool) {
	if eip < r.entry || (eip-r.entry)%instructionSize != 0 {
		return 0, false
	}
	pc := int((eip - r.entry) / instructionSize)
	return pc, pc < len(r.script.Instructions)
}

func (r *Runner) address(pc int) uint32 {
	return r.entry + uint32(pc)*instructionSize
}

// Step implements Program. User memory faults leave the task spinning at the
// faulting instruction. The caller holds the task lock.
func (r *Runner) Step(t *task.Task) (*trap.Frame, bool) {
	if t == nil || t.Space == nil || t.Frame.EIP == r.idle {
		return nil, false
	}
	frame := t.Frame
	for i := 0; i < maxControl; i++ {
		pc, ok := r.pc(frame.EIP)
		if !ok {
			break
		}
		instruction := r.script.Instructions[pc]
		next := r.address(pc + 1)
		spec := ops[instruction.Op]
		if spec.syscall {
			if err := r.prepare(t, &frame, spec.call, instruction); err != nil {
				break
			}
			frame.EIP = next
			frame.TrapNo = trap.Syscall
			t.Frame = frame
			ret := frame
			return &ret, true
		}
		if instruction.Op == "spin" {
			break
		}
		jump, err := r.control(t, &frame, instruction)
		if err != nil {
			break
		}
		frame.EIP = next
		if jump {
			frame.EIP = r.address(instruction.target)
		}
	}
	t.Frame = frame
	return nil, false
}

func (r *Runner) control(t *task.Task, frame *trap.Frame, instruction *Instruction) (bool, error) {
	args := instruction.Args
	switch instruction.Op {
	case "set", "add":
		value, err := r.value(t, frame, args[1])
		if err != nil {
			return false, err
		}
		if instruction.Op == "add" {
			current, err := r.load(t, args[0].Text)
			if err != nil {
				return false, err
			}
			value += current
		}
		return false, r.store(t, args[0].Text, value)
	case "jmp":
		return true, nil
	case "jz", "jnz":
		value, err := r.value(t, frame, args[0])
		if err != nil {
			return false, err
		}
		return (value == 0) == (instruction.Op == "jz"), nil
	case "jlt":
		left, err := r.value(t, frame, args[0])
		if err != nil {
			return false, err
		}
		right, err := r.value(t, frame, args[1])
		if err != nil {
			return false, err
		}
		return left < right, nil
	}
	return false, nil
}

func (r *Runner) prepare(t *task.Task, frame *trap.Frame, call syscall.Number, instruction *Instruction) error {
	var regs [5]uint32
	args := instruction.Args
	switch instruction.Op {
	case "puts":
		n, err := r.format(t, frame, args[0].Text, args[1:])
		if err != nil {
			return err
		}
		regs[0], regs[1] = BufVA, uint32(n)
	case "write":
		fd, err := r.value(t, frame, args[0])
		if err != nil {
			return err
		}
		n, err := r.format(t, frame, args[1].Text, args[2:])
		if err != nil {
			return err
		}
		regs[0], regs[1], regs[2] = uint32(fd), BufVA, uint32(n)
	case "putbuf":
		n, err := r.value(t, frame, args[0])
		if err != nil {
			return err
		}
		regs[0], regs[1] = BufVA, uint32(min(n, BufSize))
	case "read":
		values, err := r.values(t, frame, args)
		if err != nil {
			return err
		}
		regs[0], regs[1], regs[2] = uint32(values[0]), BufVA, uint32(min(values[1], BufSize))
	case "open":
		if err := r.path(t, args[0].Text); err != nil {
			return err
		}
		flags, err := r.value(t, frame, args[1])
		if err != nil {
			return err
		}
		regs[0], regs[1] = PathVA, uint32(flags)
	case "unlink":
		if err := r.path(t, args[0].Text); err != nil {
			return err
		}
		regs[0] = PathVA
	case "stat":
		if err := r.path(t, args[0].Text); err != nil {
			return err
		}
		regs[0], regs[1] = PathVA, BufVA
	default:
		values, err := r.values(t, frame, args)
		if err != nil {
			return err
		}
		for i, value := range values {
			regs[i] = uint32(value)
		}
	}
	frame.Regs.EAX = uint32(call)
	frame.Regs.EDX, frame.Regs.ECX, frame.Regs.EBX, frame.Regs.EDI, frame.Regs.ESI = regs[0], regs[1], regs[2], regs[3], regs[4]
	return nil
}

func (r *Runner) values(t *task.Task, frame *trap.Frame, args []Operand) ([]int64, error) {
	ret := make([]int64, 0, len(args))
	for _, arg := range args {
		value, err := r.value(t, frame, arg)
		if err != nil {
			return nil, err
		}
		ret = append(ret, value)
	}
	return ret, nil
}

func (r *Runner) value(t *task.Task, frame *trap.Frame, operand Operand) (int64, error) {
	switch {
	case operand.Kind == KindInt:
		return operand.Int, nil
	case operand.Text == "eax":
		return int64(int32(frame.Regs.EAX)), nil
	}
	return r.load(t, operand.Text)
}

func (r *Runner) load(t *task.Task, name string) (int64, error) {
	data, err := t.Space.CopyIn(VarsVA+uint32(variables[name])*4, 4)
	if err != nil {
		return 0, err
	}
	return int64(int32(binary.LittleEndian.Uint32(data))), nil
}

func (r *Runner) store(t *task.Task, name string, value int64) error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(value))
	return t.Space.CopyOut(VarsVA+uint32(variables[name])*4, data)
}

func (r *Runner) format(t *task.Task, frame *trap.Frame, format string, args []Operand) (int, error) {
	values := make([]any, 0, len(args))
	for _, arg := range args {
		value, err := r.value(t, frame, arg)
		if err != nil {
			return 0, err
		}
		values = append(values, value)
	}
	text := fmt.Sprintf(format, values...)
	if len(text) > BufSize {
		text = text[:BufSize]
	}
	return len(text), t.Space.CopyOut(BufVA, []byte(text))
}

func (r *Runner) path(t *task.Task, name string) error {
	if len(name) >= vfs.NameSize {
		return fmt.Errorf("path too long: %d", len(name))
	}
	return t.Space.CopyOut(PathVA, append([]byte(name), 0))
}
