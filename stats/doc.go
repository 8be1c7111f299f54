// Package stats keeps aggregated kernel counters: tasks created, forked and
// killed, scheduling transitions and system calls. A tracker travels in the
// context handed to trap handlers so any of them can record a delta without a
// global registry.
package stats
