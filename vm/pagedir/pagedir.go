package pagedir

import (
	"sync"

	"github.com/mwantia/kernos/data"
)

// Dir is a software page table: virtual page to physical page
// mappings with per-mapping accessed and dirty bits, the way hardware
// would maintain them.
type Dir struct {
	mu      sync.Mutex
	entries map[data.VirtPage]*entry
}

type entry struct {
	addr     data.PhysAddr
	accessed bool
	dirty    bool
}

func New() *Dir {
	return &Dir{
		entries: make(map[data.VirtPage]*entry),
	}
}

// SetPage installs a mapping from vp to addr with both flag bits
// clear, replacing any previous mapping.
func (d *Dir) SetPage(vp data.VirtPage, addr data.PhysAddr) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries[vp] = &entry{addr: addr}
}

// Lookup returns the physical page mapped at vp.
func (d *Dir) Lookup(vp data.VirtPage) (data.PhysAddr, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[vp]
	if !ok {
		return 0, false
	}

	return e.addr, true
}

// Accessed reports the mapping's accessed bit. Unmapped pages read as
// not accessed.
func (d *Dir) Accessed(vp data.VirtPage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[vp]; ok {
		return e.accessed
	}

	return false
}

// SetAccessed sets or clears the mapping's accessed bit.
func (d *Dir) SetAccessed(vp data.VirtPage, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[vp]; ok {
		e.accessed = on
	}
}

// Dirty reports the mapping's dirty bit. Unmapped pages read as clean.
func (d *Dir) Dirty(vp data.VirtPage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[vp]; ok {
		return e.dirty
	}

	return false
}

// SetDirty sets or clears the mapping's dirty bit. Hardware sets it on
// write faults; tests and the demo drive it directly.
func (d *Dir) SetDirty(vp data.VirtPage, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[vp]; ok {
		e.dirty = on
	}
}

// ClearPage removes the mapping at vp.
func (d *Dir) ClearPage(vp data.VirtPage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.entries, vp)
}

// Len returns the number of live mappings.
func (d *Dir) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.entries)
}
