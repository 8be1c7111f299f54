package ktask

import (
	"context"
	"fmt"
	"os"

	"github.com/viant/afs"
	"github.com/viant/ktask/internal/env"
	"github.com/viant/ktask/service/console"
	"github.com/viant/ktask/service/task"
	"github.com/viant/ktask/service/vfs"
	"github.com/viant/ktask/service/vm"
	"gopkg.in/yaml.v3"
)

// Config is a serialisable representation of the kernel configuration. It can
// be loaded from YAML or JSON; zero sections are not valid, start from
// DefaultConfig and override.
type Config struct {
	CPUs    int            `json:"cpus" yaml:"cpus"`
	Tasks   task.Config    `json:"tasks" yaml:"tasks"`
	Memory  MemoryConfig   `json:"memory" yaml:"memory"`
	Timer   TimerConfig    `json:"timer" yaml:"timer"`
	VFS     vfs.Config     `json:"vfs" yaml:"vfs"`
	Console console.Config `json:"console" yaml:"console"`
	Tracing TracingConfig  `json:"tracing" yaml:"tracing"`
	Log     LogConfig      `json:"log" yaml:"log"`
	// Program is the URL of the user program; empty runs the built-in one.
	Program string `json:"program,omitempty" yaml:"program,omitempty"`
}

// MemoryConfig sizes the physical page pool.
type MemoryConfig struct {
	Base  uint32 `json:"base" yaml:"base"`
	Pages int    `json:"pages" yaml:"pages"`
}

// TimerConfig sets the tick rate.
type TimerConfig struct {
	Hz int `json:"hz" yaml:"hz"`
}

// TracingConfig controls the OpenTelemetry stdout exporter.
type TracingConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Service    string `json:"service" yaml:"service"`
	Version    string `json:"version" yaml:"version"`
	OutputFile string `json:"outputFile,omitempty" yaml:"outputFile,omitempty"`
}

// LogConfig controls diagnostics.
type LogConfig struct {
	// Events logs every task lifecycle event.
	Events bool `json:"events" yaml:"events"`
	// EventBuffer sizes the lifecycle event queues.
	EventBuffer int `json:"eventBuffer" yaml:"eventBuffer"`
}

// DefaultConfig returns a two CPU machine with the stock table dimensions.
func DefaultConfig() *Config {
	return &Config{
		CPUs:    2,
		Tasks:   task.DefaultConfig(),
		Memory:  MemoryConfig{Base: 0x00100000, Pages: 1024},
		Timer:   TimerConfig{Hz: 100},
		VFS:     vfs.DefaultConfig(),
		Console: console.DefaultConfig(),
		Tracing: TracingConfig{Service: "ktask", Version: "0.1.0"},
		Log:     LogConfig{EventBuffer: 256},
	}
}

// Validate returns the first invalid setting or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.CPUs <= 0 {
		return fmt.Errorf("cpus must be > 0")
	}
	if err := c.Tasks.Validate(); err != nil {
		return err
	}
	if c.Tasks.MaxTasks < c.CPUs {
		return fmt.Errorf("tasks.max must be >= cpus")
	}
	if c.Memory.Pages <= 0 {
		return fmt.Errorf("memory.pages must be > 0")
	}
	if c.Memory.Base%vm.PageSize != 0 {
		return fmt.Errorf("memory.base must be page aligned")
	}
	if c.Timer.Hz <= 0 {
		return fmt.Errorf("timer.hz must be > 0")
	}
	if err := c.VFS.Validate(); err != nil {
		return err
	}
	if err := c.Console.Validate(); err != nil {
		return err
	}
	if c.Log.EventBuffer < 0 {
		return fmt.Errorf("log.eventBuffer must be >= 0")
	}
	return nil
}

// LoadConfig reads a YAML (or JSON) document from URL on top of
// DefaultConfig. ${env.KEY} references are replaced with environment
// variables before decoding.
func LoadConfig(ctx context.Context, fs afs.Service, URL string) (*Config, error) {
	if fs == nil {
		fs = afs.New()
	}
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %v: %w", URL, err)
	}
	ret := DefaultConfig()
	data = []byte(env.Expand(string(data), os.Getenv))
	if err = yaml.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("failed to decode config %v: %w", URL, err)
	}
	if err = ret.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %v: %w", URL, err)
	}
	return ret, nil
}
