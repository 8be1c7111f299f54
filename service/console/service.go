package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/viant/ktask/model/desc"
	"github.com/viant/ktask/model/trap"
	"github.com/viant/ktask/platform"
	"github.com/viant/ktask/service/cpu"
	"github.com/viant/ktask/service/interrupt"
	"github.com/viant/ktask/service/messaging"
	"github.com/viant/ktask/service/messaging/memory"
)

// Vector is the keyboard interrupt vector.
const Vector = trap.IRQOffset + trap.IRQKbd

// Default text attribute: light gray on black.
const (
	DefaultFore = 7
	DefaultBack = 0
)

// vga to ansi color order
var ansiColors = [8]int{0, 4, 2, 6, 1, 5, 3, 7}

// Config controls the console device.
type Config struct {
	Buffer int  `json:"buffer" yaml:"buffer"`
	ANSI   bool `json:"ansi" yaml:"ansi"`
}

// DefaultConfig returns a 64 key input buffer with plain output.
func DefaultConfig() Config {
	return Config{Buffer: 64}
}

// Validate reports invalid settings.
func (c Config) Validate() error {
	if c.Buffer <= 0 {
		return fmt.Errorf("console.buffer must be > 0")
	}
	return nil
}

// Key is one byte received from the keyboard.
type Key struct {
	Code byte
}

// Service is the text console: an output writer with a color attribute and a
// keyboard whose bytes are latched by the device and moved into the input
// buffer by the keyboard interrupt.
type Service struct {
	config   Config
	platform platform.Platform
	mu       sync.Mutex
	out      io.Writer
	fore     uint8
	back     uint8
	clears   int
	latch    *memory.Queue[Key]
	input    *memory.Queue[Key]
}

// New creates a console writing to out, os.Stdout when nil.
func New(plat platform.Platform, out io.Writer, config Config) (*Service, error) {
	if plat == nil {
		return nil, fmt.Errorf("platform is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stdout
	}
	queueConfig := memory.Config{QueueBuffer: config.Buffer, DropWhenFull: true}
	return &Service{
		config:   config,
		platform: plat,
		out:      out,
		fore:     DefaultFore,
		back:     DefaultBack,
		latch:    memory.NewQueue[Key](queueConfig),
		input:    memory.NewQueue[Key](queueConfig),
	}, nil
}

// Init registers the keyboard interrupt handler.
func (s *Service) Init(registry *interrupt.Registry, stub platform.Stub) error {
	return registry.Register(Vector, s.Handle, stub, false, desc.KernelPL)
}

// Puts writes data to the console.
func (s *Service) Puts(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(data)
}

// SetTextColor changes the attribute used for following output.
func (s *Service) SetTextColor(fore, back uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fore, s.back = fore&0xf, back&0xf
	if s.config.ANSI {
		_, _ = fmt.Fprintf(s.out, "\x1b[%d;%dm", ansiCode(30, s.fore), ansiCode(40, s.back))
	}
}

func ansiCode(base int, color uint8) int {
	code := base + ansiColors[color&7]
	if color&8 != 0 {
		code += 60
	}
	return code
}

// TextColor returns the current foreground and background colors.
func (s *Service) TextColor() (fore, back uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fore, s.back
}

// Attr returns the packed text attribute byte.
func (s *Service) Attr() uint8 {
	fore, back := s.TextColor()
	return back<<4 | fore
}

// Clear blanks the screen.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	if s.config.ANSI {
		_, _ = io.WriteString(s.out, "\x1b[2J\x1b[H")
	}
}

// Clears returns how many times the screen was cleared.
func (s *Service) Clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// Press latches a key on the device side. It becomes visible to Getc after
// the next keyboard interrupt. Keys arriving while the latch is full are
// lost.
func (s *Service) Press(ctx context.Context, code byte) error {
	return s.latch.Publish(ctx, &Key{Code: code})
}

// Pending reports whether the device holds keys not yet taken by an
// interrupt.
func (s *Service) Pending() bool {
	return s.latch.Size() > 0
}

// Handle is the keyboard interrupt: it moves latched keys into the input
// buffer and acknowledges the controller.
func (s *Service) Handle(ctx context.Context, c *cpu.CPU, tf *trap.Frame) error {
	defer s.platform.EOI(c.ID)
	for {
		message, err := s.latch.TryConsume()
		if err != nil {
			return nil
		}
		key := *message.T()
		_ = message.Ack()
		if err = s.input.Publish(ctx, &key); err != nil && !errors.Is(err, messaging.ErrFull) {
			return err
		}
	}
}

// Lost returns how many keys were dropped because a buffer was full.
func (s *Service) Lost() int {
	return s.latch.Dropped() + s.input.Dropped()
}

// Getc returns the next buffered key, or 0 when none is waiting.
func (s *Service) Getc() byte {
	message, err := s.input.TryConsume()
	if err != nil {
		return 0
	}
	_ = message.Ack()
	return message.T().Code
}
