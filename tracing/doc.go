// Package tracing wraps OpenTelemetry so kernel services can open spans for
// task lifecycle operations and syscalls without importing the SDK directly.
package tracing
