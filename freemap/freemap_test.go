package freemap_test

import (
	"testing"

	"github.com/mwantia/kernos/block/memory"
	"github.com/mwantia/kernos/cache"
	"github.com/mwantia/kernos/data"
	"github.com/mwantia/kernos/freemap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMap(t *testing.T, count data.Sector) (*freemap.Map, *cache.Cache) {
	t.Helper()

	store, err := cache.New(memory.NewMemoryDevice(count), 256)
	require.NoError(t, err)

	fm, err := freemap.New(store, count)
	require.NoError(t, err)
	require.NoError(t, fm.Create(t.Context()))

	return fm, store
}

func TestAllocateRelease(t *testing.T) {
	ctx := t.Context()
	fm, _ := newTestMap(t, 64)

	// Sectors 0 and 1 are reserved by the format
	free := fm.FreeCount()
	assert.Equal(t, data.Sector(62), free)

	first, err := fm.Allocate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, data.Sector(2), first)

	run, err := fm.Allocate(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, data.Sector(3), run)
	assert.Equal(t, free-9, fm.FreeCount())

	fm.Release(ctx, run, 8)
	assert.Equal(t, free-1, fm.FreeCount())

	// The released run is handed out again
	again, err := fm.Allocate(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, run, again)
}

func TestContiguousRuns(t *testing.T) {
	ctx := t.Context()
	fm, _ := newTestMap(t, 64)

	a, err := fm.Allocate(ctx, 4)
	require.NoError(t, err)
	b, err := fm.Allocate(ctx, 4)
	require.NoError(t, err)

	// Punch a hole too small for the next request
	fm.Release(ctx, a, 4)

	c, err := fm.Allocate(ctx, 6)
	require.NoError(t, err)
	assert.Greater(t, c, b, "six-sector run cannot fit the four-sector hole")
}

func TestExhaustion(t *testing.T) {
	ctx := t.Context()
	fm, _ := newTestMap(t, 16)

	_, err := fm.Allocate(ctx, 14)
	require.NoError(t, err)

	_, err = fm.Allocate(ctx, 1)
	assert.ErrorIs(t, err, data.ErrNoSpace)
}

func TestPersistence(t *testing.T) {
	ctx := t.Context()
	fm, store := newTestMap(t, 64)

	claimed, err := fm.Allocate(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, fm.Close(ctx))

	// A fresh map reading the same store sees the claimed run
	reopened, err := freemap.New(store, 64)
	require.NoError(t, err)
	require.NoError(t, reopened.Open(ctx))

	next, err := reopened.Allocate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, claimed+5, next)
}

func TestTooLargeDevice(t *testing.T) {
	store, err := cache.New(memory.NewMemoryDevice(16), 16)
	require.NoError(t, err)

	_, err = freemap.New(store, data.SectorSize*8+1)
	assert.Error(t, err)
}
