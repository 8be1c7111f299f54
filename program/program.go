// Package program runs user mode code on simulated processors. User programs
// are short scripts of system calls and simple control flow; their program
// counter lives in EIP and their variables on the user stack, so fork copies
// a running script along with its state.
package program

import (
	"fmt"

	"github.com/viant/ktask/service/syscall"
)

// Kind classifies an operand.
type Kind int

const (
	KindInt Kind = iota
	KindString
	KindRef
)

// Operand is an instruction argument.
type Operand struct {
	Kind Kind
	Int  int64
	Text string
}

func (o Operand) String() string {
	switch o.Kind {
	case KindInt:
		return fmt.Sprintf("%d", o.Int)
	case KindString:
		return fmt.Sprintf("%q", o.Text)
	}
	return o.Text
}

// Instruction is one decoded script line.
type Instruction struct {
	Line   int
	Op     string
	Args   []Operand
	target int
}

// Script is a parsed user program.
type Script struct {
	Name         string
	Instructions []*Instruction
	Labels       map[string]int
}

type argKind int

const (
	argValue argKind = iota
	argString
	argVar
	argLabel
)

type opSpec struct {
	call     syscall.Number
	syscall  bool
	args     []argKind
	variadic bool
}

var ops = map[string]opSpec{
	"fork":              {call: syscall.Fork, syscall: true},
	"getc":              {call: syscall.Getc, syscall: true},
	"getpid":            {call: syscall.Getpid, syscall: true},
	"getcid":            {call: syscall.Getcid, syscall: true},
	"get_ticks":         {call: syscall.GetTicks, syscall: true},
	"get_num_free_page": {call: syscall.GetNumFreePage, syscall: true},
	"get_num_used_page": {call: syscall.GetNumUsedPage, syscall: true},
	"cls":               {call: syscall.Cls, syscall: true},
	"sleep":             {call: syscall.Sleep, syscall: true, args: []argKind{argValue}},
	"kill":              {call: syscall.Kill, syscall: true, args: []argKind{argValue}},
	"settextcolor":      {call: syscall.SetTextColor, syscall: true, args: []argKind{argValue, argValue}},
	"puts":              {call: syscall.Puts, syscall: true, args: []argKind{argString}, variadic: true},
	"putbuf":            {call: syscall.Puts, syscall: true, args: []argKind{argValue}},
	"open":              {call: syscall.Open, syscall: true, args: []argKind{argString, argValue}},
	"read":              {call: syscall.Read, syscall: true, args: []argKind{argValue, argValue}},
	"write":             {call: syscall.Write, syscall: true, args: []argKind{argValue, argString}, variadic: true},
	"close":             {call: syscall.Close, syscall: true, args: []argKind{argValue}},
	"lseek":             {call: syscall.Lseek, syscall: true, args: []argKind{argValue, argValue, argValue}},
	"unlink":            {call: syscall.Unlink, syscall: true, args: []argKind{argString}},
	"stat":              {call: syscall.Stat, syscall: true, args: []argKind{argString}},
	"set":               {args: []argKind{argVar, argValue}},
	"add":               {args: []argKind{argVar, argValue}},
	"jmp":               {args: []argKind{argLabel}},
	"jz":                {args: []argKind{argValue, argLabel}},
	"jnz":               {args: []argKind{argValue, argLabel}},
	"jlt":               {args: []argKind{argValue, argValue, argLabel}},
	"spin":              {},
}

// variables kept on the user stack
var variables = map[string]int{"a": 0, "b": 1, "c": 2, "d": 3}

func isRegister(name string) bool {
	_, ok := variables[name]
	return ok || name == "eax"
}
