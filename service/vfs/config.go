package vfs

import "fmt"

// Config controls the file system backing store and descriptor limits.
type Config struct {
	BaseURL string `json:"baseURL" yaml:"baseURL"`
	MaxFD   int    `json:"maxFD" yaml:"maxFD"`
	MaxDir  int    `json:"maxDir" yaml:"maxDir"`
}

// DefaultConfig keeps files in the in-memory afs store.
func DefaultConfig() Config {
	return Config{BaseURL: "mem://localhost/ktask", MaxFD: 10, MaxDir: 4}
}

// Validate reports invalid settings.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("vfs.baseURL is required")
	}
	if c.MaxFD <= 0 {
		return fmt.Errorf("vfs.maxFD must be > 0")
	}
	if c.MaxDir <= 0 {
		return fmt.Errorf("vfs.maxDir must be > 0")
	}
	return nil
}
