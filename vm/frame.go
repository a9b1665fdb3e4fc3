package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/mwantia/kernos/data"
	"github.com/mwantia/kernos/log"
	"github.com/mwantia/kernos/vm/palloc"
)

// Swapper persists evicted page contents.
type Swapper interface {
	// WriteOut stores one page and returns its slot index.
	WriteOut(ctx context.Context, page []byte) (data.SwapSlot, error)
}

// Frame records one physical page currently backing a user virtual
// page: the owning address space, the virtual page, and the physical
// address.
type Frame struct {
	Space *Space
	Page  data.VirtPage
	Addr  data.PhysAddr
}

// Table is the process-wide frame registry. Frames are appended in
// allocation order; the eviction scan walks that order as a circle.
// One lock covers membership changes and the whole eviction scan, so
// every check-then-act sequence inside is atomic.
type Table struct {
	mu sync.Mutex

	pool   *palloc.Pool
	swap   Swapper
	frames []*Frame
	logger *log.Logger
}

// New creates an empty frame table over the given pool and swap store.
func New(pool *palloc.Pool, swap Swapper, logger *log.Logger) *Table {
	return &Table{
		pool:   pool,
		swap:   swap,
		logger: logger.Named("vm"),
	}
}

// Allocate requests one physical page for vp in sp. When the pool is
// exhausted it reclaims a resident page through eviction and retries
// transparently. Returns ErrOutOfMemory only when both the direct
// request and the eviction-driven retry fail; the table is then
// unchanged and the caller must treat the failure as fatal to its
// operation, not retryable here.
func (t *Table) Allocate(ctx context.Context, sp *Space, vp data.VirtPage, flags palloc.Flags) (data.PhysAddr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr, ok := t.pool.Get(flags)
	if !ok {
		if len(t.frames) == 0 {
			// Nothing resident to reclaim
			return 0, data.ErrOutOfMemory
		}

		var err error
		addr, err = t.evict(ctx, flags)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", data.ErrOutOfMemory, err)
		}
	}

	t.frames = append(t.frames, &Frame{
		Space: sp,
		Page:  vp,
		Addr:  addr,
	})

	return addr, nil
}

// Release removes the frame holding addr and returns the page to the
// pool. The caller must already have unmapped the page; an unknown
// address is a bookkeeping bug upstream and is logged as such.
func (t *Table) Release(addr data.PhysAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, f := range t.frames {
		if f.Addr == addr {
			t.frames = append(t.frames[:i], t.frames[i+1:]...)
			t.pool.Free(addr)
			return
		}
	}

	t.logger.Warn("release of unknown physical address %#x", addr)
}

// Len returns the number of registered frames.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.frames)
}

// evict reclaims one resident page with a second-chance scan and
// returns a fresh allocation. The scan starts at the table head on
// every invocation. Caller holds t.mu; the table must be non-empty.
//
// Each pass either finds a victim or clears an accessed bit, and no
// concurrent access can set bits again while the lock is held, so the
// scan terminates within two rounds.
func (t *Table) evict(ctx context.Context, flags palloc.Flags) (data.PhysAddr, error) {
	if len(t.frames) == 0 {
		panic("vm: eviction with empty frame table")
	}

	i := 0
	for {
		f := t.frames[i]
		pt := f.Space.PageTable()

		if pt.Accessed(f.Page) {
			// Second chance
			pt.SetAccessed(f.Page, false)

			i++
			if i == len(t.frames) {
				i = 0
			}
			continue
		}

		if pt.Dirty(f.Page) {
			slot, err := t.swap.WriteOut(ctx, t.pool.Bytes(f.Addr))
			if err != nil {
				return 0, err
			}

			rec := f.Space.Record(f.Page)
			rec.Valid = false
			rec.Slot = slot

			t.logger.Debug("evicted dirty page %#x of space %s to swap slot %d", f.Page, f.Space.ID, slot)
		} else {
			t.logger.Debug("evicted clean page %#x of space %s", f.Page, f.Space.ID)
		}

		pt.ClearPage(f.Page)
		t.pool.Free(f.Addr)
		t.frames = append(t.frames[:i], t.frames[i+1:]...)

		addr, ok := t.pool.Get(flags)
		if !ok {
			return 0, data.ErrOutOfMemory
		}

		return addr, nil
	}
}
