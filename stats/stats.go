package stats

import (
	"context"
	"sync"
	"time"

	"github.com/viant/ktask/internal/clock"
	"github.com/viant/ktask/service/event"
)

// Delta is an incremental change to the counters.
type Delta struct {
	Created   int
	Forked    int
	Killed    int
	Slept     int
	Woke      int
	Preempted int
	Dropped   int
	Syscalls  int
	Halted    int
}

// Counters is a point in time copy of a tracker.
type Counters struct {
	BootID    string    `json:"bootId" yaml:"bootId"`
	StartedAt time.Time `json:"startedAt" yaml:"startedAt"`

	Created   int `json:"created" yaml:"created"`
	Forked    int `json:"forked" yaml:"forked"`
	Killed    int `json:"killed" yaml:"killed"`
	Slept     int `json:"slept" yaml:"slept"`
	Woke      int `json:"woke" yaml:"woke"`
	Preempted int `json:"preempted" yaml:"preempted"`
	Dropped   int `json:"dropped" yaml:"dropped"`
	Syscalls  int `json:"syscalls" yaml:"syscalls"`
	Halted    int `json:"halted" yaml:"halted"`
}

// Tracker aggregates counters. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	counters Counters
	onChange func(Counters)
}

// New creates a tracker for one booted kernel.
func New(bootID string) *Tracker {
	return &Tracker{counters: Counters{BootID: bootID, StartedAt: clock.Now()}}
}

// Update applies d. The change callback, if any, receives a copy taken under
// the lock and runs outside of it.
func (t *Tracker) Update(d Delta) {
	if t == nil {
		return
	}
	t.mu.Lock()
	c := &t.counters
	c.Created += d.Created
	c.Forked += d.Forked
	c.Killed += d.Killed
	c.Slept += d.Slept
	c.Woke += d.Woke
	c.Preempted += d.Preempted
	c.Dropped += d.Dropped
	c.Syscalls += d.Syscalls
	c.Halted += d.Halted
	snapshot := t.counters
	cb := t.onChange
	t.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy of the counters.
func (t *Tracker) Snapshot() Counters {
	if t == nil {
		return Counters{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}

// OnChange registers a callback run after every Update; nil disables it.
func (t *Tracker) OnChange(cb func(Counters)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.onChange = cb
	t.mu.Unlock()
}

// Observe records a lifecycle event.
func (t *Tracker) Observe(evt event.Task) {
	t.Update(DeltaOf(evt))
}

// DeltaOf maps a lifecycle event to its counter change.
func DeltaOf(evt event.Task) Delta {
	switch evt.Kind {
	case event.KindCreated:
		return Delta{Created: 1}
	case event.KindForked:
		return Delta{Forked: 1}
	case event.KindKilled:
		return Delta{Killed: 1}
	case event.KindSlept:
		return Delta{Slept: 1}
	case event.KindWoke:
		return Delta{Woke: 1}
	case event.KindPreempted:
		return Delta{Preempted: 1}
	case event.KindDropped:
		return Delta{Dropped: 1}
	case event.KindHalted:
		return Delta{Halted: 1}
	}
	return Delta{}
}

type trackerKeyT struct{}

var trackerKey trackerKeyT

// NewContext embeds t in ctx.
func NewContext(ctx context.Context, t *Tracker) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, trackerKey, t)
}

// FromContext extracts the tracker from ctx.
func FromContext(ctx context.Context) (*Tracker, bool) {
	if ctx == nil {
		return nil, false
	}
	t, ok := ctx.Value(trackerKey).(*Tracker)
	return t, ok
}

// UpdateCtx applies d to the tracker carried by ctx, if any.
func UpdateCtx(ctx context.Context, d Delta) {
	if t, ok := FromContext(ctx); ok {
		t.Update(d)
	}
}
