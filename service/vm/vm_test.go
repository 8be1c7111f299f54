package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_AllocFree(t *testing.T) {
	pool := NewPool(0x100000, 3)
	free, used := pool.Stats()
	assert.Equal(t, 3, free)
	assert.Equal(t, 0, used)

	first, err := pool.Alloc(true)
	require.NoError(t, err)
	assert.EqualValues(t, 0x100000, first.Addr())
	_, _ = pool.Alloc(false)
	_, _ = pool.Alloc(false)
	_, err = pool.Alloc(false)
	assert.True(t, errors.Is(err, ErrNoMemory))

	first.Bytes()[0] = 7
	require.NoError(t, pool.Free(first))
	assert.True(t, errors.Is(pool.Free(first), ErrBadFree))

	again, err := pool.Alloc(true)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.EqualValues(t, 0, again.Bytes()[0])

	free, used = pool.Stats()
	assert.Equal(t, 0, free)
	assert.Equal(t, 3, used)
}

func TestPool_FreeReferenced(t *testing.T) {
	pool := NewPool(0, 1)
	page, err := pool.Alloc(true)
	require.NoError(t, err)
	pool.Incref(page)
	assert.True(t, errors.Is(pool.Free(page), ErrBadFree))
	require.NoError(t, pool.Decref(page))
	free, _ := pool.Stats()
	assert.Equal(t, 1, free)
}

func TestAddressSpace_Lifecycle(t *testing.T) {
	pool := NewPool(0, 16)
	kernel, err := NewKernelSpace(pool)
	require.NoError(t, err)
	as, err := NewAddressSpace(pool, kernel)
	require.NoError(t, err)

	page, err := pool.Alloc(true)
	require.NoError(t, err)
	va := uint32(UStackTop - PageSize)
	require.NoError(t, as.Insert(va, page, PTEW|PTEU))
	assert.Equal(t, 1, as.Tables())
	assert.Equal(t, 1, page.Refs())

	pte, ok := as.Walk(va + 10)
	require.True(t, ok)
	assert.Equal(t, page, pte.Page)
	assert.Equal(t, PTEW|PTEU|PTEP, pte.Perm)

	// same page again only changes permissions
	require.NoError(t, as.Insert(va, page, PTEU))
	assert.Equal(t, 1, page.Refs())

	_, used := pool.Stats()
	assert.Equal(t, 4, used) // kernel dir, user dir, table, page

	require.NoError(t, as.Remove(va))
	_, ok = as.Walk(va)
	assert.False(t, ok)
	require.NoError(t, as.RemoveTables())
	require.NoError(t, as.Release())
	_, used = pool.Stats()
	assert.Equal(t, 1, used)
	assert.EqualValues(t, 0, as.Root())
}

func TestAddressSpace_Copy(t *testing.T) {
	pool := NewPool(0, 16)
	kernel, _ := NewKernelSpace(pool)
	as, _ := NewAddressSpace(pool, kernel)
	base := uint32(0x400000)
	for i := uint32(0); i < 2; i++ {
		page, err := pool.Alloc(true)
		require.NoError(t, err)
		require.NoError(t, as.Insert(base+i*PageSize, page, PTEW|PTEU))
	}

	// straddles the page boundary
	va := base + PageSize - 2
	require.NoError(t, as.CopyOut(va, []byte("hello\x00")))
	data, err := as.CopyIn(va, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	str, err := as.CopyInString(va, 16)
	require.NoError(t, err)
	assert.Equal(t, "hello", str)

	_, err = as.CopyInString(va, 3)
	assert.True(t, errors.Is(err, ErrFault))

	_, err = as.CopyIn(base+2*PageSize, 1)
	assert.True(t, errors.Is(err, ErrFault))

	readOnly, _ := pool.Alloc(true)
	require.NoError(t, as.Insert(0x800000, readOnly, PTEU))
	assert.True(t, errors.Is(as.CopyOut(0x800000, []byte{1}), ErrFault))

	kernelPage, _ := pool.Alloc(true)
	require.NoError(t, as.Insert(0x900000, kernelPage, PTEW))
	_, err = as.CopyIn(0x900000, 1)
	assert.True(t, errors.Is(err, ErrFault))

	assert.True(t, errors.Is(as.CopyOut(KernBase-1, []byte{1, 2}), ErrFault))
}

func TestAddressSpace_Writable(t *testing.T) {
	pool := NewPool(0, 16)
	kernel, _ := NewKernelSpace(pool)
	as, _ := NewAddressSpace(pool, kernel)
	writable, _ := pool.Alloc(true)
	require.NoError(t, as.Insert(0x400000, writable, PTEW|PTEU))
	readOnly, _ := pool.Alloc(true)
	require.NoError(t, as.Insert(0x401000, readOnly, PTEU))

	assert.NoError(t, as.Writable(0x400000, PageSize))
	assert.NoError(t, as.Writable(0x400000, 0))
	assert.True(t, errors.Is(as.Writable(0x400ffe, 4), ErrFault))
	assert.True(t, errors.Is(as.Writable(0x1000, 1), ErrFault))
	assert.True(t, errors.Is(as.Writable(0x400000, -1), ErrFault))
	data, err := as.CopyIn(0x400000, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)
}

func TestImage_SharedMapping(t *testing.T) {
	pool := NewPool(0, 32)
	kernel, _ := NewKernelSpace(pool)
	image, err := NewImage(pool, 0x800020, 0x800040, DefaultLayout())
	require.NoError(t, err)
	require.NoError(t, image.Write(0x804000, []byte("shared")))

	first, _ := NewAddressSpace(pool, kernel)
	second, _ := NewAddressSpace(pool, kernel)
	require.NoError(t, image.MapInto(first))
	require.NoError(t, image.MapInto(second))

	a, ok := first.Walk(0x804000)
	require.True(t, ok)
	b, ok := second.Walk(0x804000)
	require.True(t, ok)
	assert.Same(t, a.Page, b.Page)
	assert.Equal(t, 3, a.Page.Refs())

	data, err := second.CopyIn(0x804000, 6)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(data))

	_, ok = first.Walk(0x800000)
	require.True(t, ok)
	assert.Error(t, first.CopyOut(0x800000, []byte{1}))

	require.NoError(t, first.RemoveTables())
	require.NoError(t, first.Release())
	assert.Equal(t, 2, a.Page.Refs())

	assert.Error(t, image.Write(0x700000, []byte{1}))
}
