package ktask

import (
	"io"
	"log"

	"github.com/viant/afs"
	"github.com/viant/ktask/platform"
	"github.com/viant/ktask/program"
	"github.com/viant/ktask/service/event"
	"github.com/viant/ktask/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option configures the kernel service.
type Option func(s *Service)

// WithConfig replaces the default configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithPlatform sets the hardware edge; a simulated platform is used otherwise.
func WithPlatform(plat platform.Platform) Option {
	return func(s *Service) {
		s.platform = plat
	}
}

// WithLogger sets the kernel logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithConsoleWriter sets where console output goes, os.Stdout by default.
func WithConsoleWriter(w io.Writer) Option {
	return func(s *Service) {
		s.consoleOut = w
	}
}

// WithFS sets the storage service used for the file system, config and
// programs.
func WithFS(fs afs.Service) Option {
	return func(s *Service) {
		s.fs = fs
	}
}

// WithProgram sets the user program, overriding Config.Program.
func WithProgram(script *program.Script) Option {
	return func(s *Service) {
		s.script = script
	}
}

// WithEventListener registers fn for every task lifecycle event.
func WithEventListener(fn func(evt *event.Event[event.Task])) Option {
	return func(s *Service) {
		s.listeners = append(s.listeners, fn)
	}
}

// WithTracing configures OpenTelemetry tracing. If outputFile is empty the
// stdout exporter writes to os.Stdout. The first successful initialisation
// wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures tracing with a custom SpanExporter.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
