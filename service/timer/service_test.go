package timer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ktask/model/desc"
	mtask "github.com/viant/ktask/model/task"
	"github.com/viant/ktask/model/trap"
	"github.com/viant/ktask/platform/sim"
	"github.com/viant/ktask/service/cpu"
	"github.com/viant/ktask/service/interrupt"
	"github.com/viant/ktask/service/task"
	"github.com/viant/ktask/service/vm"
)

type fixture struct {
	plat      *sim.Platform
	table     *task.Table
	scheduler *cpu.Scheduler
	timer     *Service
}

func newFixture(t *testing.T, cpus int, quantum int) *fixture {
	pool := vm.NewPool(0x100000, 256)
	kernel, err := vm.NewKernelSpace(pool)
	require.NoError(t, err)
	table, err := task.New(pool, kernel, task.Config{MaxTasks: 8, Quantum: quantum, StackPages: 1})
	require.NoError(t, err)
	plat := sim.New(cpus)
	scheduler, err := cpu.NewScheduler(plat, kernel, table, cpus, 8, quantum)
	require.NoError(t, err)
	timer, err := New(plat, scheduler, table, 100, nil)
	require.NoError(t, err)
	return &fixture{plat: plat, table: table, scheduler: scheduler, timer: timer}
}

// spawn creates a task queued on c; the first one becomes current.
func (f *fixture) spawn(t *testing.T, c *cpu.CPU) *mtask.Task {
	aTask, err := f.table.Create(0)
	require.NoError(t, err)
	require.NoError(t, f.scheduler.Enqueue(c, aTask))
	if c.Current() == nil {
		aTask.SetState(mtask.StateRunning)
		c.SetCurrent(aTask)
		c.Queue.Select(aTask.ID)
	}
	return aTask
}

func (f *fixture) tick(c *cpu.CPU) {
	_ = f.timer.Handle(context.Background(), c, &trap.Frame{TrapNo: Vector, CS: desc.GDKT})
}

func TestService_Init(t *testing.T) {
	f := newFixture(t, 1, 3)
	registry := interrupt.NewRegistry(f.plat)
	require.NoError(t, f.timer.Init(registry, 0x40))
	assert.EqualValues(t, 11931, f.plat.Divisor())
	_, ok := registry.Handler(Vector)
	assert.True(t, ok)
	assert.False(t, f.plat.Gate(Vector).IsTrap())
	assert.Equal(t, 100, f.timer.Hz())

	_, err := New(f.plat, f.scheduler, f.table, 0, nil)
	assert.Error(t, err)
}

func TestService_Quantum(t *testing.T) {
	f := newFixture(t, 1, 3)
	c, _ := f.scheduler.CPU(0)
	first := f.spawn(t, c)
	second := f.spawn(t, c)

	f.tick(c)
	f.tick(c)
	assert.Same(t, first, c.Current())
	assert.Equal(t, 1, first.Remaining)
	f.tick(c)
	assert.Same(t, second, c.Current())
	assert.Equal(t, mtask.StateRunnable, first.State())
	assert.Equal(t, mtask.StateRunning, second.State())
	assert.Equal(t, 3, second.Remaining)
	assert.EqualValues(t, 3, f.timer.Ticks())
	assert.Equal(t, 3, f.plat.CPU(0).EOIs)

	for i := 0; i < 3; i++ {
		f.tick(c)
	}
	assert.Same(t, first, c.Current())
	assert.Equal(t, 3, first.Remaining)
}

func TestService_SleepWakesAfterExactTicks(t *testing.T) {
	f := newFixture(t, 1, 100)
	c, _ := f.scheduler.CPU(0)
	runner := f.spawn(t, c)
	sleeper := f.spawn(t, c)
	sleeper.SetState(mtask.StateSleep)
	sleeper.Remaining = 5

	for i := 0; i < 4; i++ {
		f.tick(c)
		require.Equal(t, mtask.StateSleep, sleeper.State(), "tick %d", i+1)
	}
	f.tick(c)
	assert.Equal(t, mtask.StateRunnable, sleeper.State())
	assert.Same(t, runner, c.Current())
}

func TestService_SleepersOnOtherCPUsNotAged(t *testing.T) {
	f := newFixture(t, 2, 100)
	cpu0, _ := f.scheduler.CPU(0)
	cpu1, _ := f.scheduler.CPU(1)
	f.spawn(t, cpu0)
	f.spawn(t, cpu1)
	sleeper := f.spawn(t, cpu1)
	sleeper.SetState(mtask.StateSleep)
	sleeper.Remaining = 1

	f.tick(cpu0)
	assert.Equal(t, mtask.StateSleep, sleeper.State())
	f.tick(cpu1)
	assert.Equal(t, mtask.StateRunnable, sleeper.State())
}

func TestService_IdleCPUPicksUpWokenTask(t *testing.T) {
	f := newFixture(t, 1, 10)
	c, _ := f.scheduler.CPU(0)
	sleeper := f.spawn(t, c)
	sleeper.SetState(mtask.StateSleep)
	sleeper.Remaining = 2
	c.SetCurrent(nil)

	f.tick(c)
	assert.Nil(t, c.Current())
	f.tick(c)
	assert.Same(t, sleeper, c.Current())
	assert.Equal(t, mtask.StateRunning, sleeper.State())
	assert.Equal(t, sleeper.Space.Root(), f.plat.CPU(0).Root)
}

func TestService_RemotelyKilledCurrentIsDropped(t *testing.T) {
	f := newFixture(t, 2, 2)
	cpu1, _ := f.scheduler.CPU(1)
	victim := f.spawn(t, cpu1)
	other := f.spawn(t, cpu1)
	remaining := victim.Remaining

	// bookkeeping done by a kill issued on another CPU
	f.scheduler.Dequeue(victim)
	require.NoError(t, f.table.Free(victim))

	f.tick(cpu1)
	assert.Same(t, other, cpu1.Current())
	assert.Equal(t, mtask.StateFree, victim.State())
	assert.Equal(t, remaining, victim.Remaining)
	assert.False(t, cpu1.Queue.Contains(victim.ID))
}

func TestService_ReusedSlotNotTouchedByOldCPU(t *testing.T) {
	f := newFixture(t, 2, 5)
	cpu1, _ := f.scheduler.CPU(1)
	registry := interrupt.NewRegistry(f.plat)
	require.NoError(t, f.timer.Init(registry, 0x40))
	dispatcher, err := interrupt.NewDispatcher(registry, f.plat, nil)
	require.NoError(t, err)

	victim := f.spawn(t, cpu1)
	other := f.spawn(t, cpu1)
	f.scheduler.Dequeue(victim)
	require.NoError(t, f.table.Free(victim))

	reused, err := f.table.Create(0)
	require.NoError(t, err)
	require.Same(t, victim, reused)
	reused.Frame.EIP = 0x800100

	tf := &trap.Frame{TrapNo: Vector, CS: desc.Selector(desc.GDUT, desc.UserPL), EIP: 0xdead, EFlags: trap.FlagIF}
	require.NoError(t, dispatcher.Dispatch(context.Background(), cpu1, tf))

	assert.EqualValues(t, 0x800100, reused.Frame.EIP)
	assert.Equal(t, 5, reused.Remaining)
	assert.Equal(t, mtask.StateRunnable, reused.State())
	assert.Same(t, other, cpu1.Current())
	assert.EqualValues(t, other.Frame.ESP, f.plat.CPU(1).Resumed.ESP)
}
