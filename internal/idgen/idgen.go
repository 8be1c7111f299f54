package idgen

import "github.com/google/uuid"

// NewFunc returns a new random identifier.
var NewFunc = func() string { return uuid.New().String() }

// New returns NewFunc().
func New() string { return NewFunc() }

// Short returns the first eight characters of id, used in log prefixes.
func Short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
