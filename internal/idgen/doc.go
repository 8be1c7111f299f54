// Package idgen produces the opaque identifiers stamped on a booted kernel
// instance. Tests stub NewFunc for stable output.
package idgen
