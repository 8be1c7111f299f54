package task

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ktask/model/desc"
	mtask "github.com/viant/ktask/model/task"
	"github.com/viant/ktask/service/vm"
)

func newTable(t *testing.T, pages int, config Config) (*Table, *vm.Pool) {
	pool := vm.NewPool(0x100000, pages)
	kernel, err := vm.NewKernelSpace(pool)
	require.NoError(t, err)
	table, err := New(pool, kernel, config)
	require.NoError(t, err)
	return table, pool
}

func TestTable_Create(t *testing.T) {
	config := Config{MaxTasks: 3, Quantum: 5, StackPages: 2}
	table, pool := newTable(t, 64, config)

	aTask, err := table.Create(0)
	require.NoError(t, err)
	assert.Equal(t, 0, aTask.ID)
	assert.Equal(t, mtask.StateRunnable, aTask.State())
	assert.Equal(t, 5, aTask.Remaining)
	assert.EqualValues(t, desc.GDUT|3, aTask.Frame.CS)
	assert.EqualValues(t, desc.GDUD|3, aTask.Frame.DS)
	assert.EqualValues(t, desc.GDUD|3, aTask.Frame.SS)
	assert.EqualValues(t, vm.UStackTop-vm.PageSize, aTask.Frame.ESP)
	assert.True(t, aTask.Frame.FromUser())
	assert.Equal(t, mtask.NoCPU, aTask.CPU())

	for va := config.StackBottom(); va < vm.UStackTop; va += vm.PageSize {
		pte, ok := aTask.Space.Walk(va)
		require.True(t, ok)
		assert.Equal(t, vm.PTEP|vm.PTEW|vm.PTEU, pte.Perm)
	}

	second, err := table.Create(aTask.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, second.ID)
	assert.Equal(t, 0, second.ParentID)
	_, err = table.Create(1)
	require.NoError(t, err)

	_, err = table.Create(1)
	assert.True(t, errors.Is(err, ErrNoFreeTask))
	assert.Equal(t, 3, table.Live())

	_, usedBefore := pool.Stats()
	require.NoError(t, table.Free(second))
	_, usedAfter := pool.Stats()
	// directory, one page table and the stack pages
	assert.Equal(t, usedBefore-4, usedAfter)
	assert.Equal(t, mtask.StateFree, second.State())
	assert.Error(t, table.Free(second))

	again, err := table.Create(0)
	require.NoError(t, err)
	assert.Equal(t, 1, again.ID)
}

func TestTable_CreateRollback(t *testing.T) {
	// kernel dir + user dir + page table + one stack page, the second stack page fails
	table, pool := newTable(t, 4, Config{MaxTasks: 2, Quantum: 1, StackPages: 2})
	_, err := table.Create(0)
	assert.True(t, errors.Is(err, vm.ErrNoMemory))
	free, used := pool.Stats()
	assert.Equal(t, 3, free)
	assert.Equal(t, 1, used)
	assert.Equal(t, 0, table.Live())
	aTask, _ := table.Get(0)
	assert.Equal(t, mtask.StateFree, aTask.State())
}

func TestTable_Lookup(t *testing.T) {
	table, _ := newTable(t, 64, DefaultConfig())
	_, err := table.Lookup(3)
	assert.True(t, errors.Is(err, ErrInvalidPid))
	_, err = table.Lookup(-1)
	assert.True(t, errors.Is(err, ErrInvalidPid))
	created, err := table.Create(0)
	require.NoError(t, err)
	found, err := table.Lookup(created.ID)
	require.NoError(t, err)
	assert.Same(t, created, found)
	assert.Len(t, table.Snapshots(), 1)
}

func TestTable_FreeGeneration(t *testing.T) {
	table, pool := newTable(t, 64, Config{MaxTasks: 2, Quantum: 3, StackPages: 1})
	created, err := table.Create(0)
	require.NoError(t, err)
	found, generation, err := table.LookupGeneration(created.ID)
	require.NoError(t, err)
	assert.Same(t, created, found)
	assert.EqualValues(t, 1, generation)

	detached := 0
	require.NoError(t, table.FreeGeneration(created, generation, func() { detached++ }))
	assert.Equal(t, 1, detached)
	assert.Nil(t, created.Space)
	assert.Equal(t, mtask.NoCPU, created.CPU())
	err = table.FreeGeneration(created, generation, func() { detached++ })
	assert.True(t, errors.Is(err, ErrInvalidPid))
	_, _, err = table.LookupGeneration(created.ID)
	assert.True(t, errors.Is(err, ErrInvalidPid))

	free, _ := pool.Stats()
	reused, err := table.Create(0)
	require.NoError(t, err)
	require.Same(t, created, reused)
	assert.EqualValues(t, 2, reused.Generation())
	err = table.FreeGeneration(reused, generation, func() { detached++ })
	assert.True(t, errors.Is(err, ErrInvalidPid))
	assert.Equal(t, 1, detached)
	assert.NotNil(t, reused.Space)
	assert.Equal(t, 1, table.Live())

	require.NoError(t, table.Free(reused))
	afterFree, _ := pool.Stats()
	assert.Equal(t, free, afterFree)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{MaxTasks: 1, Quantum: 1, StackPages: 1}.Validate())
	assert.Error(t, Config{MaxTasks: 4, Quantum: 0, StackPages: 1}.Validate())
	assert.Error(t, Config{MaxTasks: 4, Quantum: 1, StackPages: 2000}.Validate())
}
