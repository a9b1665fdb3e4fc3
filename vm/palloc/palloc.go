package palloc

import (
	"sync"

	"github.com/mwantia/kernos/data"
)

// Flags adjust how a page is handed out.
type Flags uint8

const (
	// FlagZero zero-fills the page before returning it.
	FlagZero Flags = 1 << iota
)

// Pool is the physical page allocator for user memory: a page-aligned
// arena plus a free/used bitmap. Addresses are byte offsets of page
// bases inside the arena.
type Pool struct {
	mu sync.Mutex

	arena []byte
	bits  []byte
	pages int
}

// New creates a pool of the given page count.
func New(pages int) *Pool {
	return &Pool{
		arena: make([]byte, pages*data.PageSize),
		bits:  make([]byte, (pages+7)/8),
		pages: pages,
	}
}

// Get claims one free page. The second return is false when the pool
// is exhausted.
func (p *Pool) Get(flags Flags) (data.PhysAddr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for page := 0; page < p.pages; page++ {
		if p.bits[page/8]&(1<<(page%8)) != 0 {
			continue
		}

		p.bits[page/8] |= 1 << (page % 8)

		addr := data.PhysAddr(page) * data.PageSize
		if flags&FlagZero != 0 {
			clear(p.arena[addr : addr+data.PageSize])
		}

		return addr, true
	}

	return 0, false
}

// Free returns a page to the pool. Misaligned or out-of-range
// addresses and double frees are caller bugs, not runtime conditions.
func (p *Pool) Free(addr data.PhysAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()

	page := p.pageOf(addr)

	if p.bits[page/8]&(1<<(page%8)) == 0 {
		panic("palloc: free of unallocated page")
	}

	p.bits[page/8] &^= 1 << (page % 8)
}

// Bytes exposes the raw contents of an allocated page.
func (p *Pool) Bytes(addr data.PhysAddr) []byte {
	p.pageOf(addr)

	return p.arena[addr : addr+data.PageSize]
}

// Pages returns the pool's fixed capacity.
func (p *Pool) Pages() int {
	return p.pages
}

// FreePages returns the number of unclaimed pages.
func (p *Pool) FreePages() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	free := 0
	for page := 0; page < p.pages; page++ {
		if p.bits[page/8]&(1<<(page%8)) == 0 {
			free++
		}
	}

	return free
}

func (p *Pool) pageOf(addr data.PhysAddr) int {
	if addr%data.PageSize != 0 || addr >= data.PhysAddr(p.pages)*data.PageSize {
		panic("palloc: address outside pool")
	}

	return int(addr / data.PageSize)
}
