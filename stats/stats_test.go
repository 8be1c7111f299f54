package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/ktask/internal/clock"
	"github.com/viant/ktask/service/event"
)

func TestTracker_Update(t *testing.T) {
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	clock.NowFunc = func() time.Time { return started }
	defer func() { clock.NowFunc = time.Now }()

	tracker := New("boot-1")
	var seen []Counters
	tracker.OnChange(func(c Counters) { seen = append(seen, c) })
	tracker.Observe(event.Task{Kind: event.KindForked})
	tracker.Observe(event.Task{Kind: event.KindKilled})
	tracker.Observe(event.Task{Kind: "other"})
	tracker.Update(Delta{Syscalls: 3})

	snapshot := tracker.Snapshot()
	assert.Equal(t, "boot-1", snapshot.BootID)
	assert.Equal(t, started, snapshot.StartedAt)
	assert.Equal(t, 1, snapshot.Forked)
	assert.Equal(t, 1, snapshot.Killed)
	assert.Equal(t, 3, snapshot.Syscalls)
	assert.Len(t, seen, 4)
	assert.Equal(t, 0, seen[0].Killed)

	var none *Tracker
	none.Update(Delta{Forked: 1})
	assert.Equal(t, Counters{}, none.Snapshot())
}

func TestDeltaOf(t *testing.T) {
	var testCases = []struct {
		kind   event.Kind
		expect Delta
	}{
		{kind: event.KindCreated, expect: Delta{Created: 1}},
		{kind: event.KindSlept, expect: Delta{Slept: 1}},
		{kind: event.KindWoke, expect: Delta{Woke: 1}},
		{kind: event.KindPreempted, expect: Delta{Preempted: 1}},
		{kind: event.KindDropped, expect: Delta{Dropped: 1}},
		{kind: event.KindHalted, expect: Delta{Halted: 1}},
		{kind: event.KindBooted, expect: Delta{}},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.expect, DeltaOf(event.Task{Kind: testCase.kind}), string(testCase.kind))
	}
}

func TestContext(t *testing.T) {
	UpdateCtx(context.Background(), Delta{Syscalls: 1})
	tracker := New("boot-2")
	ctx := NewContext(context.Background(), tracker)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			UpdateCtx(ctx, Delta{Syscalls: 1})
		}()
	}
	wg.Wait()
	got, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, tracker, got)
	assert.Equal(t, 50, tracker.Snapshot().Syscalls)
}
