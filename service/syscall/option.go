package syscall

import (
	"log"

	"github.com/viant/ktask/service/event"
)

// Option configures the syscall service.
type Option func(s *Service)

// WithLifecycle sets the fork/kill implementation.
func WithLifecycle(lifecycle Lifecycle) Option {
	return func(s *Service) {
		s.lifecycle = lifecycle
	}
}

// WithConsole sets the character device.
func WithConsole(console Console) Option {
	return func(s *Service) {
		s.console = console
	}
}

// WithTicker sets the tick source.
func WithTicker(ticker Ticker) Option {
	return func(s *Service) {
		s.ticker = ticker
	}
}

// WithPages sets the page statistics source.
func WithPages(pages Pages) Option {
	return func(s *Service) {
		s.pages = pages
	}
}

// WithFileSystem sets the file system.
func WithFileSystem(fs FileSystem) Option {
	return func(s *Service) {
		s.fs = fs
	}
}

// WithEvents sets the lifecycle event emitter.
func WithEvents(events *event.Emitter) Option {
	return func(s *Service) {
		s.events = events
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}
