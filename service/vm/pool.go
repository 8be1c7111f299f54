package vm

import (
	"errors"
	"fmt"
	"sync"
)

// PageSize is the size of a physical page and of a virtual mapping unit.
const PageSize = 4096

// PhysAddr is the physical address of a page frame.
type PhysAddr uint32

// Page is a physical page frame. Refs counts the mappings that point at it.
type Page struct {
	addr PhysAddr
	data []byte
	refs int
}

// Addr returns the frame's physical address.
func (p *Page) Addr() PhysAddr {
	return p.addr
}

// Bytes exposes the frame content.
func (p *Page) Bytes() []byte {
	return p.data
}

// Refs returns the number of live mappings.
func (p *Page) Refs() int {
	return p.refs
}

var (
	// ErrNoMemory is returned when the pool has no free page left.
	ErrNoMemory = errors.New("vm: out of physical pages")

	// ErrBadFree is returned when freeing a page that is still referenced or
	// that does not belong to the pool.
	ErrBadFree = errors.New("vm: bad page free")
)

// Pool is a fixed-size physical page allocator. Free frames are kept on a
// free list; the most recently freed frame is handed out first.
type Pool struct {
	mux      sync.Mutex
	base     PhysAddr
	pages    []*Page
	freelist []int
	free     []bool
}

// NewPool creates an allocator managing count frames starting at base.
func NewPool(base PhysAddr, count int) *Pool {
	ret := &Pool{
		base:     base,
		pages:    make([]*Page, count),
		freelist: make([]int, 0, count),
		free:     make([]bool, count),
	}
	for i := count - 1; i >= 0; i-- {
		ret.pages[i] = &Page{addr: base + PhysAddr(i*PageSize)}
		ret.freelist = append(ret.freelist, i)
		ret.free[i] = true
	}
	return ret
}

// Alloc takes a frame off the free list. When zero is set the frame content is
// cleared.
func (p *Pool) Alloc(zero bool) (*Page, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	n := len(p.freelist)
	if n == 0 {
		return nil, ErrNoMemory
	}
	idx := p.freelist[n-1]
	p.freelist = p.freelist[:n-1]
	p.free[idx] = false
	page := p.pages[idx]
	if page.data == nil {
		page.data = make([]byte, PageSize)
	} else if zero {
		clear(page.data)
	}
	page.refs = 0
	return page, nil
}

// Free returns an unreferenced frame to the pool.
func (p *Pool) Free(page *Page) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.release(page)
}

func (p *Pool) release(page *Page) error {
	if page == nil {
		return fmt.Errorf("%w: nil frame", ErrBadFree)
	}
	idx, ok := p.index(page)
	if !ok {
		return fmt.Errorf("%w: frame %#x not owned by pool", ErrBadFree, uint32(page.addr))
	}
	if p.free[idx] {
		return fmt.Errorf("%w: frame %#x already free", ErrBadFree, uint32(page.addr))
	}
	if page.refs != 0 {
		return fmt.Errorf("%w: frame %#x still has %d refs", ErrBadFree, uint32(page.addr), page.refs)
	}
	p.free[idx] = true
	p.freelist = append(p.freelist, idx)
	return nil
}

// Incref records a new mapping of page.
func (p *Pool) Incref(page *Page) {
	p.mux.Lock()
	page.refs++
	p.mux.Unlock()
}

// Decref drops a mapping of page and frees it once nothing maps it.
func (p *Pool) Decref(page *Page) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	if page.refs > 0 {
		page.refs--
	}
	if page.refs == 0 {
		return p.release(page)
	}
	return nil
}

// Lookup returns the frame at addr.
func (p *Pool) Lookup(addr PhysAddr) (*Page, bool) {
	if addr < p.base {
		return nil, false
	}
	idx := int(addr-p.base) / PageSize
	if idx >= len(p.pages) {
		return nil, false
	}
	return p.pages[idx], true
}

func (p *Pool) index(page *Page) (int, bool) {
	if page == nil || page.addr < p.base {
		return 0, false
	}
	idx := int(page.addr-p.base) / PageSize
	if idx >= len(p.pages) || p.pages[idx] != page {
		return 0, false
	}
	return idx, true
}

// Stats returns the number of free and used frames.
func (p *Pool) Stats() (free int, used int) {
	p.mux.Lock()
	defer p.mux.Unlock()
	free = len(p.freelist)
	return free, len(p.pages) - free
}
