package swap

import (
	"context"
	"sync"

	"github.com/mwantia/kernos/block"
	"github.com/mwantia/kernos/data"
)

// Store manages page-sized swap slots on a dedicated block device.
// Swap I/O bypasses the buffer cache: an evicted page is written once
// and read back at most once, caching it would only pollute the cache.
type Store struct {
	mu sync.Mutex

	dev   block.Device
	bits  []byte
	slots int
}

// New sizes the slot table to the device capacity.
func New(dev block.Device) *Store {
	slots := int(dev.SectorCount() / data.SectorsPerPage)

	return &Store{
		dev:   dev,
		bits:  make([]byte, (slots+7)/8),
		slots: slots,
	}
}

// WriteOut persists one page to a free slot and returns the slot
// index. Returns ErrSwapFull when every slot is taken.
func (s *Store) WriteOut(ctx context.Context, page []byte) (data.SwapSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := -1
	for i := 0; i < s.slots; i++ {
		if s.bits[i/8]&(1<<(i%8)) == 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		return data.NoSwapSlot, data.ErrSwapFull
	}

	base := data.Sector(slot * data.SectorsPerPage)
	for i := 0; i < data.SectorsPerPage; i++ {
		chunk := page[i*data.SectorSize : (i+1)*data.SectorSize]
		if err := s.dev.WriteSector(ctx, base+data.Sector(i), chunk); err != nil {
			return data.NoSwapSlot, err
		}
	}

	s.bits[slot/8] |= 1 << (slot % 8)

	return data.SwapSlot(slot), nil
}

// ReadIn fills page from a slot and releases it. A slot holds exactly
// one fault's worth of data.
func (s *Store) ReadIn(ctx context.Context, slot data.SwapSlot, page []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := data.Sector(int(slot) * data.SectorsPerPage)
	for i := 0; i < data.SectorsPerPage; i++ {
		chunk := page[i*data.SectorSize : (i+1)*data.SectorSize]
		if err := s.dev.ReadSector(ctx, base+data.Sector(i), chunk); err != nil {
			return err
		}
	}

	s.bits[int(slot)/8] &^= 1 << (int(slot) % 8)

	return nil
}

// Drop releases a slot without reading it, for address spaces torn
// down while pages are swapped out.
func (s *Store) Drop(slot data.SwapSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bits[int(slot)/8] &^= 1 << (int(slot) % 8)
}

// FreeSlots returns the number of unclaimed slots.
func (s *Store) FreeSlots() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	free := 0
	for i := 0; i < s.slots; i++ {
		if s.bits[i/8]&(1<<(i%8)) == 0 {
			free++
		}
	}

	return free
}
