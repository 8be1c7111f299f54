package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		from   State
		to     State
		expect bool
	}{
		{from: StateFree, to: StateRunnable, expect: true},
		{from: StateFree, to: StateRunning, expect: false},
		{from: StateFree, to: StateSleep, expect: false},
		{from: StateRunnable, to: StateRunning, expect: true},
		{from: StateRunnable, to: StateSleep, expect: false},
		{from: StateRunning, to: StateRunnable, expect: true},
		{from: StateRunning, to: StateSleep, expect: true},
		{from: StateRunning, to: StateFree, expect: true},
		{from: StateSleep, to: StateRunnable, expect: true},
		{from: StateSleep, to: StateRunning, expect: false},
		{from: State(9), to: StateFree, expect: false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expect, CanTransition(tc.from, tc.to), "%v -> %v", tc.from, tc.to)
	}
}

func TestTask_Transition(t *testing.T) {
	aTask := &Task{ID: 3}
	aTask.SetState(StateRunnable)
	assert.True(t, aTask.Transition(StateRunnable, StateRunning))
	assert.False(t, aTask.Transition(StateRunnable, StateRunning))
	assert.Equal(t, StateRunning, aTask.State())

	aTask.SetCPU(2)
	snapshot := aTask.Snapshot()
	assert.Equal(t, "running", snapshot.State)
	assert.Equal(t, 2, snapshot.CPU)
	assert.Equal(t, "unknown", State(42).String())
}

func TestTask_Generation(t *testing.T) {
	aTask := &Task{ID: 1}
	assert.EqualValues(t, 0, aTask.Generation())
	assert.EqualValues(t, 1, aTask.Renew())
	assert.EqualValues(t, 2, aTask.Renew())
	assert.EqualValues(t, 2, aTask.Generation())
}
