package cpu

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ktask/model/task"
	"github.com/viant/ktask/platform/sim"
	"github.com/viant/ktask/service/vm"
)

type fakeTasks map[int]*task.Task

func (f fakeTasks) Get(id int) (*task.Task, bool) {
	ret, ok := f[id]
	return ret, ok
}

func newTasks(t *testing.T, pool *vm.Pool, kernel *vm.AddressSpace, states ...task.State) fakeTasks {
	ret := fakeTasks{}
	for i, state := range states {
		space, err := vm.NewAddressSpace(pool, kernel)
		require.NoError(t, err)
		aTask := &task.Task{ID: i, Space: space}
		aTask.SetState(state)
		aTask.SetCPU(task.NoCPU)
		ret[i] = aTask
	}
	return ret
}

func TestRunQueue(t *testing.T) {
	queue := NewRunQueue(3)
	require.NoError(t, queue.Push(1))
	require.NoError(t, queue.Push(2))
	require.NoError(t, queue.Push(3))
	assert.True(t, errors.Is(queue.Push(4), ErrQueueFull))
	assert.Equal(t, 3, queue.Len())

	all := func(int) bool { return true }
	id, ok := queue.Pick(all)
	require.True(t, ok)
	assert.Equal(t, 1, id)
	id, _ = queue.Pick(all)
	assert.Equal(t, 2, id)

	// removing the picked entry continues from the entry swapped into its slot
	assert.True(t, queue.Remove(2))
	assert.Equal(t, []int{1, 3}, queue.IDs())
	id, _ = queue.Pick(all)
	assert.Equal(t, 3, id)
	assert.False(t, queue.Remove(2))
	assert.Equal(t, 2, queue.Len())

	id, _ = queue.Pick(func(id int) bool { return id == 3 })
	assert.Equal(t, 3, id)
	_, ok = queue.Pick(func(int) bool { return false })
	assert.False(t, ok)
	assert.True(t, queue.Select(1))
	assert.True(t, queue.Contains(1))
	assert.Error(t, queue.Push(1))
}

func TestScheduler_Yield(t *testing.T) {
	pool := vm.NewPool(0, 32)
	kernel, _ := vm.NewKernelSpace(pool)
	plat := sim.New(1)
	tasks := newTasks(t, pool, kernel, task.StateRunning, task.StateSleep, task.StateRunnable)
	scheduler, err := NewScheduler(plat, kernel, tasks, 1, 4, 7)
	require.NoError(t, err)
	c, _ := scheduler.CPU(0)
	for i := 0; i < 3; i++ {
		require.NoError(t, scheduler.Enqueue(c, tasks[i]))
	}
	c.Queue.Select(0)
	c.SetCurrent(tasks[0])

	// sleeping task 1 is skipped, current is demoted
	picked := scheduler.Yield(c)
	require.NotNil(t, picked)
	assert.Equal(t, 2, picked.ID)
	assert.Equal(t, 7, picked.Remaining)
	assert.Equal(t, task.StateRunning, picked.State())
	assert.Equal(t, task.StateRunnable, tasks[0].State())
	assert.Same(t, picked, c.Current())
	assert.Equal(t, tasks[2].Space.Root(), plat.CPU(0).Root)
	tf, yielded := c.TakeResume()
	assert.True(t, yielded)
	assert.Same(t, &tasks[2].Frame, tf)
	_, yielded = c.TakeResume()
	assert.False(t, yielded)

	// wraps around to task 0
	picked = scheduler.Yield(c)
	assert.Equal(t, 0, picked.ID)

	// nothing else runnable: the running task keeps the CPU
	tasks[2].SetState(task.StateSleep)
	picked = scheduler.Yield(c)
	assert.Equal(t, 0, picked.ID)

	// nothing runnable at all: idle on the kernel directory
	tasks[0].SetState(task.StateSleep)
	assert.Nil(t, scheduler.Yield(c))
	assert.Nil(t, c.Current())
	assert.Equal(t, kernel.Root(), plat.CPU(0).Root)
	tf, yielded = c.TakeResume()
	assert.True(t, yielded)
	assert.Nil(t, tf)
}

func TestScheduler_Place(t *testing.T) {
	pool := vm.NewPool(0, 32)
	kernel, _ := vm.NewKernelSpace(pool)
	tasks := newTasks(t, pool, kernel, task.StateRunnable, task.StateRunnable, task.StateRunnable, task.StateRunnable)
	scheduler, err := NewScheduler(sim.New(3), kernel, tasks, 3, 4, 10)
	require.NoError(t, err)

	cpu1, _ := scheduler.CPU(1)
	require.NoError(t, scheduler.Enqueue(cpu1, tasks[0]))
	target, err := scheduler.Place(tasks[1])
	require.NoError(t, err)
	assert.Equal(t, 0, target.ID)
	target, _ = scheduler.Place(tasks[2])
	assert.Equal(t, 2, target.ID)
	target, _ = scheduler.Place(tasks[3])
	assert.Equal(t, 0, target.ID)
	assert.Equal(t, 0, tasks[3].CPU())

	assert.True(t, scheduler.Dequeue(tasks[3]))
	assert.Equal(t, task.NoCPU, tasks[3].CPU())
	assert.False(t, scheduler.Dequeue(tasks[3]))
	assert.Equal(t, 1, scheduler.cpus[0].Queue.Len())
}

func TestScheduler_ConcurrentPick(t *testing.T) {
	pool := vm.NewPool(0, 32)
	kernel, _ := vm.NewKernelSpace(pool)
	tasks := newTasks(t, pool, kernel, task.StateRunnable)
	scheduler, err := NewScheduler(sim.New(2), kernel, tasks, 2, 4, 10)
	require.NoError(t, err)
	cpu0, _ := scheduler.CPU(0)
	cpu1, _ := scheduler.CPU(1)
	// a task wrongly reachable from two queues is still claimed by one CPU only
	require.NoError(t, cpu0.Queue.Push(0))
	require.NoError(t, cpu1.Queue.Push(0))
	tasks[0].SetCPU(0)

	var wg sync.WaitGroup
	results := make([]*task.Task, 2)
	for i, c := range []*CPU{cpu0, cpu1} {
		wg.Add(1)
		go func(i int, c *CPU) {
			defer wg.Done()
			results[i] = scheduler.Yield(c)
		}(i, c)
	}
	wg.Wait()
	winners := 0
	for _, result := range results {
		if result != nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestNewScheduler_Validation(t *testing.T) {
	pool := vm.NewPool(0, 4)
	kernel, _ := vm.NewKernelSpace(pool)
	_, err := NewScheduler(nil, kernel, fakeTasks{}, 1, 1, 1)
	assert.Error(t, err)
	_, err = NewScheduler(sim.New(1), nil, fakeTasks{}, 1, 1, 1)
	assert.Error(t, err)
	_, err = NewScheduler(sim.New(1), kernel, fakeTasks{}, 0, 1, 1)
	assert.Error(t, err)
	scheduler, err := NewScheduler(sim.New(1), kernel, fakeTasks{}, 1, 1, 1)
	require.NoError(t, err)
	_, err = scheduler.CPU(1)
	assert.Error(t, err)
	c, _ := scheduler.CPU(0)
	assert.EqualValues(t, KStackTop, c.StackTop())
}
