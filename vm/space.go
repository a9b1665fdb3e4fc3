package vm

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mwantia/kernos/data"
)

// PageTable is the hardware-facing contract the frame table needs from
// an address space's page table: flag bits and mapping teardown.
type PageTable interface {
	// Accessed reports the accessed bit of the mapping at vp.
	Accessed(vp data.VirtPage) bool

	// SetAccessed sets or clears the accessed bit of the mapping at vp.
	SetAccessed(vp data.VirtPage, on bool)

	// Dirty reports the dirty bit of the mapping at vp.
	Dirty(vp data.VirtPage) bool

	// ClearPage removes the mapping at vp.
	ClearPage(vp data.VirtPage)
}

// Space is one process address space: its page table plus the
// supplemental per-page records the fault path reads to find evicted
// pages again.
type Space struct {
	ID uuid.UUID

	pt PageTable

	mu    sync.Mutex
	pages map[data.VirtPage]*PageRecord
}

// PageRecord is the supplemental metadata for one virtual page. An
// invalid record with a swap slot means the contents live in swap.
type PageRecord struct {
	Valid bool
	Slot  data.SwapSlot
}

func NewSpace(pt PageTable) *Space {
	return &Space{
		ID:    uuid.Must(uuid.NewV7()),
		pt:    pt,
		pages: make(map[data.VirtPage]*PageRecord),
	}
}

// PageTable returns the space's page table.
func (sp *Space) PageTable() PageTable {
	return sp.pt
}

// Record returns the supplemental record for vp, creating a valid one
// on first use.
func (sp *Space) Record(vp data.VirtPage) *PageRecord {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	rec, ok := sp.pages[vp]
	if !ok {
		rec = &PageRecord{Valid: true, Slot: data.NoSwapSlot}
		sp.pages[vp] = rec
	}

	return rec
}
