package cache

import (
	"context"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/mwantia/kernos/block"
	"github.com/mwantia/kernos/data"
)

// Cache is a write-back buffer cache in front of a block device.
//
// Dirty sectors live in an owned map until FlushAll writes them out; the
// cache must never lose a dirty sector, so they are not entrusted to the
// clean side. Clean sectors go through a ristretto cache, whose admission
// policy may decline to keep any given sector - a miss simply falls
// through to the device.
type Cache struct {
	mu  sync.Mutex
	dev block.Device

	clean *ristretto.Cache[uint64, []byte]
	dirty map[data.Sector][]byte
}

const sectorCost = data.SectorSize

// New creates a cache holding at most maxSectors clean sectors.
func New(dev block.Device, maxSectors int64) (*Cache, error) {
	clean, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: maxSectors * 10,
		MaxCost:     maxSectors * sectorCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{
		dev:   dev,
		clean: clean,
		dirty: make(map[data.Sector][]byte),
	}, nil
}

// Read fills buf with the sector's current contents, preferring the
// dirty set, then the clean cache, then the device.
func (c *Cache) Read(ctx context.Context, sec data.Sector, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stored, ok := c.dirty[sec]; ok {
		copy(buf, stored)
		return nil
	}

	if stored, ok := c.clean.Get(uint64(sec)); ok {
		copy(buf, stored)
		return nil
	}

	if err := c.dev.ReadSector(ctx, sec, buf); err != nil {
		return err
	}

	stored := make([]byte, data.SectorSize)
	copy(stored, buf)
	c.clean.Set(uint64(sec), stored, sectorCost)

	return nil
}

// Write stores the sector in the dirty set; the device is not touched
// until FlushAll.
func (c *Cache) Write(ctx context.Context, sec data.Sector, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := block.CheckBounds(sec, c.dev.SectorCount(), buf); err != nil {
		return err
	}

	stored, ok := c.dirty[sec]
	if !ok {
		stored = make([]byte, data.SectorSize)
		c.dirty[sec] = stored
	}
	copy(stored, buf)

	// The clean copy is stale now
	c.clean.Del(uint64(sec))

	return nil
}

// FlushAll writes every dirty sector back to the device. Flushed
// sectors move to the clean side.
func (c *Cache) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sec, stored := range c.dirty {
		if err := c.dev.WriteSector(ctx, sec, stored); err != nil {
			return err
		}

		c.clean.Set(uint64(sec), stored, sectorCost)
		delete(c.dirty, sec)
	}

	return nil
}

// DirtyCount returns the number of sectors awaiting write-back.
func (c *Cache) DirtyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.dirty)
}

// Close flushes and releases the cache. The underlying device is left
// open for its owner to close.
func (c *Cache) Close(ctx context.Context) error {
	if err := c.FlushAll(ctx); err != nil {
		return err
	}

	c.clean.Close()
	return nil
}
