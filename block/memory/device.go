package memory

import (
	"context"
	"sync"

	"github.com/mwantia/kernos/block"
	"github.com/mwantia/kernos/data"
	"github.com/tidwall/btree"
)

// MemoryDevice is an in-process sector store. Sectors are kept sparse in
// a B-tree keyed by sector number, so a mostly-empty device costs close
// to nothing.
type MemoryDevice struct {
	mu sync.RWMutex

	count   data.Sector
	sectors *btree.Map[data.Sector, []byte]
}

func NewMemoryDevice(count data.Sector) *MemoryDevice {
	return &MemoryDevice{
		count:   count,
		sectors: btree.NewMap[data.Sector, []byte](0),
	}
}

// Returns the identifier name defined for this backend
func (*MemoryDevice) Name() string {
	return "memory"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (md *MemoryDevice) Open(ctx context.Context) error {
	// No initialization needed - device is ready to use
	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (md *MemoryDevice) Close(ctx context.Context) error {
	md.mu.Lock()
	defer md.mu.Unlock()

	md.sectors.Clear()

	return nil
}

func (md *MemoryDevice) SectorCount() data.Sector {
	return md.count
}

func (md *MemoryDevice) ReadSector(ctx context.Context, sec data.Sector, buf []byte) error {
	md.mu.RLock()
	defer md.mu.RUnlock()

	if err := block.CheckBounds(sec, md.count, buf); err != nil {
		return err
	}

	stored, exists := md.sectors.Get(sec)
	if !exists {
		// Never written, reads as zeroes
		clear(buf)
		return nil
	}

	copy(buf, stored)
	return nil
}

func (md *MemoryDevice) WriteSector(ctx context.Context, sec data.Sector, buf []byte) error {
	md.mu.Lock()
	defer md.mu.Unlock()

	if err := block.CheckBounds(sec, md.count, buf); err != nil {
		return err
	}

	stored := make([]byte, data.SectorSize)
	copy(stored, buf)
	md.sectors.Set(sec, stored)

	return nil
}
