package vm

import (
	"errors"
	"fmt"
	"sync"
)

// Page table entry permission bits.
const (
	PTEP = 0x001 // present
	PTEW = 0x002 // writeable
	PTEU = 0x004 // user
)

// Virtual memory layout shared by every address space.
const (
	KernBase  = 0xf0000000
	UStackTop = 0xeebfe000
	// PTSize is the span mapped by one page table.
	PTSize = PageSize * 1024
)

// PDX returns the page directory index of va.
func PDX(va uint32) uint32 { return va >> 22 }

// PTX returns the page table index of va.
func PTX(va uint32) uint32 { return (va >> 12) & 0x3ff }

// RoundDown aligns va to its page.
func RoundDown(va uint32) uint32 { return va &^ (PageSize - 1) }

// ErrFault is returned by user-memory accessors for unmapped or protected
// addresses.
var ErrFault = errors.New("vm: bad user address")

// PTE is a resolved page table entry.
type PTE struct {
	Page *Page
	Perm int
}

type pageTable struct {
	page    *Page
	entries map[uint32]PTE
}

// AddressSpace is a two-level page table rooted at a page directory. Every
// page directory and page table consumes a frame from the pool, so tearing an
// address space down returns exactly what building it took. Mappings above
// KernBase resolve through the shared kernel address space.
type AddressSpace struct {
	mux    sync.RWMutex
	pool   *Pool
	dir    *Page
	tables map[uint32]*pageTable
	kernel *AddressSpace
}

// NewKernelSpace allocates the kernel's own page directory.
func NewKernelSpace(pool *Pool) (*AddressSpace, error) {
	return newSpace(pool, nil)
}

// NewAddressSpace allocates a directory that shares kernel's mappings.
func NewAddressSpace(pool *Pool, kernel *AddressSpace) (*AddressSpace, error) {
	if kernel == nil {
		return nil, fmt.Errorf("kernel address space is required")
	}
	return newSpace(pool, kernel)
}

func newSpace(pool *Pool, kernel *AddressSpace) (*AddressSpace, error) {
	dir, err := pool.Alloc(true)
	if err != nil {
		return nil, err
	}
	pool.Incref(dir)
	return &AddressSpace{pool: pool, dir: dir, tables: map[uint32]*pageTable{}, kernel: kernel}, nil
}

// Root returns the physical address loaded into the page directory register.
func (a *AddressSpace) Root() PhysAddr {
	if a.dir == nil {
		return 0
	}
	return a.dir.addr
}

// Insert maps page at va with perm. An existing mapping of a different page
// is removed first; mapping the same page again only updates permissions.
func (a *AddressSpace) Insert(va uint32, page *Page, perm int) error {
	if va >= KernBase && a.kernel != nil {
		return fmt.Errorf("%w: %#x is a kernel address", ErrFault, va)
	}
	a.mux.Lock()
	defer a.mux.Unlock()
	table, err := a.walk(va, true)
	if err != nil {
		return err
	}
	idx := PTX(va)
	if old, ok := table.entries[idx]; ok {
		if old.Page == page {
			table.entries[idx] = PTE{Page: page, Perm: perm | PTEP}
			return nil
		}
		if err := a.pool.Decref(old.Page); err != nil {
			return err
		}
	}
	a.pool.Incref(page)
	table.entries[idx] = PTE{Page: page, Perm: perm | PTEP}
	return nil
}

// Remove unmaps va; unmapped addresses are ignored.
func (a *AddressSpace) Remove(va uint32) error {
	a.mux.Lock()
	defer a.mux.Unlock()
	return a.remove(va)
}

func (a *AddressSpace) remove(va uint32) error {
	table, err := a.walk(va, false)
	if err != nil || table == nil {
		return err
	}
	idx := PTX(va)
	pte, ok := table.entries[idx]
	if !ok {
		return nil
	}
	delete(table.entries, idx)
	return a.pool.Decref(pte.Page)
}

// Walk resolves va without creating page tables.
func (a *AddressSpace) Walk(va uint32) (PTE, bool) {
	if va >= KernBase && a.kernel != nil {
		return a.kernel.Walk(va)
	}
	a.mux.RLock()
	defer a.mux.RUnlock()
	table, _ := a.walk(va, false)
	if table == nil {
		return PTE{}, false
	}
	pte, ok := table.entries[PTX(va)]
	return pte, ok
}

func (a *AddressSpace) walk(va uint32, create bool) (*pageTable, error) {
	if a.dir == nil {
		return nil, fmt.Errorf("%w: address space released", ErrFault)
	}
	pdx := PDX(va)
	table, ok := a.tables[pdx]
	if ok {
		return table, nil
	}
	if !create {
		return nil, nil
	}
	page, err := a.pool.Alloc(true)
	if err != nil {
		return nil, err
	}
	a.pool.Incref(page)
	table = &pageTable{page: page, entries: map[uint32]PTE{}}
	a.tables[pdx] = table
	return table, nil
}

// Tables returns the number of page tables currently allocated.
func (a *AddressSpace) Tables() int {
	a.mux.RLock()
	defer a.mux.RUnlock()
	return len(a.tables)
}

// RemoveTables unmaps anything left and frees every page table.
func (a *AddressSpace) RemoveTables() error {
	a.mux.Lock()
	defer a.mux.Unlock()
	var errs []error
	for pdx, table := range a.tables {
		for _, pte := range table.entries {
			if err := a.pool.Decref(pte.Page); err != nil {
				errs = append(errs, err)
			}
		}
		if err := a.pool.Decref(table.page); err != nil {
			errs = append(errs, err)
		}
		delete(a.tables, pdx)
	}
	return errors.Join(errs...)
}

// Release frees the page directory. The address space is unusable afterwards.
func (a *AddressSpace) Release() error {
	a.mux.Lock()
	defer a.mux.Unlock()
	if a.dir == nil {
		return nil
	}
	if len(a.tables) > 0 {
		return fmt.Errorf("vm: releasing directory with %d live page tables", len(a.tables))
	}
	dir := a.dir
	a.dir = nil
	return a.pool.Decref(dir)
}

// CopyIn reads n bytes of user memory at va.
func (a *AddressSpace) CopyIn(va uint32, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length", ErrFault)
	}
	ret := make([]byte, 0, n)
	err := a.userRange(va, n, PTEU, func(chunk []byte) {
		ret = append(ret, chunk...)
	})
	return ret, err
}

// CopyOut writes data to user memory at va.
func (a *AddressSpace) CopyOut(va uint32, data []byte) error {
	offset := 0
	return a.userRange(va, len(data), PTEU|PTEW, func(chunk []byte) {
		offset += copy(chunk, data[offset:])
	})
}

// Writable checks that [va, va+n) is mapped user writable without touching it.
func (a *AddressSpace) Writable(va uint32, n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative length", ErrFault)
	}
	return a.userRange(va, n, PTEU|PTEW, func([]byte) {})
}

// CopyInString reads a NUL terminated string of at most max bytes.
func (a *AddressSpace) CopyInString(va uint32, max int) (string, error) {
	var ret []byte
	for i := 0; i < max; i++ {
		b, err := a.CopyIn(va+uint32(i), 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(ret), nil
		}
		ret = append(ret, b[0])
	}
	return "", fmt.Errorf("%w: string at %#x longer than %d", ErrFault, va, max)
}

func (a *AddressSpace) userRange(va uint32, n int, perm int, fn func(chunk []byte)) error {
	if n == 0 {
		return nil
	}
	end := uint64(va) + uint64(n)
	if end > KernBase {
		return fmt.Errorf("%w: [%#x,%#x) crosses kernel space", ErrFault, va, end)
	}
	for cur := uint64(va); cur < end; {
		pte, ok := a.Walk(uint32(cur))
		if !ok || pte.Perm&perm != perm {
			return fmt.Errorf("%w: %#x", ErrFault, cur)
		}
		off := cur % PageSize
		size := PageSize - off
		if remaining := end - cur; remaining < size {
			size = remaining
		}
		fn(pte.Page.data[off : off+size])
		cur += size
	}
	return nil
}
