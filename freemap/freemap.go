package freemap

import (
	"context"
	"fmt"
	"sync"

	"github.com/mwantia/kernos/cache"
	"github.com/mwantia/kernos/data"
)

// Map is the free-sector bitmap, one bit per device sector. It lives at
// data.FreeMapSector on disk and is held fully in memory between Open
// and Close. Bit set means the sector is in use.
type Map struct {
	mu sync.Mutex

	store *cache.Cache
	bits  []byte
	count data.Sector
}

// New prepares a free map for a device of the given capacity. The
// bitmap must fit the reserved sector.
func New(store *cache.Cache, count data.Sector) (*Map, error) {
	if (count+7)/8 > data.SectorSize {
		return nil, fmt.Errorf("%w: %d sectors exceed bitmap capacity", data.ErrDeviceBounds, count)
	}

	return &Map{
		store: store,
		count: count,
	}, nil
}

// Create writes a fresh bitmap with only the reserved sectors (the map
// itself and the root directory inode) marked used. Used when
// formatting.
func (m *Map) Create(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bits = make([]byte, data.SectorSize)
	m.set(data.FreeMapSector)
	m.set(data.RootDirSector)

	return m.store.Write(ctx, data.FreeMapSector, m.bits)
}

// Open loads the bitmap from disk for normal use.
func (m *Map) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bits = make([]byte, data.SectorSize)
	return m.store.Read(ctx, data.FreeMapSector, m.bits)
}

// Close persists the bitmap back to its reserved sector.
func (m *Map) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bits == nil {
		return nil
	}

	return m.store.Write(ctx, data.FreeMapSector, m.bits)
}

// Allocate claims cnt consecutive free sectors and returns the first.
// Returns ErrNoSpace when no run of that length exists.
func (m *Map) Allocate(ctx context.Context, cnt data.Sector) (data.Sector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cnt == 0 {
		return 0, fmt.Errorf("%w: zero-length allocation", data.ErrNoSpace)
	}

	var run data.Sector
	for sec := data.Sector(0); sec < m.count; sec++ {
		if m.used(sec) {
			run = 0
			continue
		}

		run++
		if run == cnt {
			start := sec - cnt + 1
			for s := start; s <= sec; s++ {
				m.set(s)
			}
			return start, nil
		}
	}

	return 0, data.ErrNoSpace
}

// Release returns cnt consecutive sectors starting at start to the pool.
func (m *Map) Release(ctx context.Context, start, cnt data.Sector) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for s := start; s < start+cnt && s < m.count; s++ {
		m.clear(s)
	}
}

// FreeCount returns the number of unclaimed sectors.
func (m *Map) FreeCount() data.Sector {
	m.mu.Lock()
	defer m.mu.Unlock()

	var free data.Sector
	for sec := data.Sector(0); sec < m.count; sec++ {
		if !m.used(sec) {
			free++
		}
	}

	return free
}

func (m *Map) used(sec data.Sector) bool {
	return m.bits[sec/8]&(1<<(sec%8)) != 0
}

func (m *Map) set(sec data.Sector) {
	m.bits[sec/8] |= 1 << (sec % 8)
}

func (m *Map) clear(sec data.Sector) {
	m.bits[sec/8] &^= 1 << (sec % 8)
}
