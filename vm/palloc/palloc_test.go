package palloc_test

import (
	"testing"

	"github.com/mwantia/kernos/data"
	"github.com/mwantia/kernos/vm/palloc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFree(t *testing.T) {
	pool := palloc.New(4)
	assert.Equal(t, 4, pool.FreePages())

	seen := map[data.PhysAddr]bool{}
	for i := 0; i < 4; i++ {
		addr, ok := pool.Get(0)
		require.True(t, ok)
		assert.Zero(t, addr%data.PageSize, "addresses are page aligned")
		assert.False(t, seen[addr], "no address handed out twice")
		seen[addr] = true
	}

	_, ok := pool.Get(0)
	assert.False(t, ok, "exhausted pool must refuse")

	for addr := range seen {
		pool.Free(addr)
	}
	assert.Equal(t, 4, pool.FreePages())
}

func TestZeroFill(t *testing.T) {
	pool := palloc.New(2)

	addr, ok := pool.Get(0)
	require.True(t, ok)

	dirty := pool.Bytes(addr)
	for i := range dirty {
		dirty[i] = 0xFF
	}
	pool.Free(addr)

	// The recycled page comes back clean when asked for
	again, ok := pool.Get(palloc.FlagZero)
	require.True(t, ok)
	require.Equal(t, addr, again)

	for _, b := range pool.Bytes(again) {
		if b != 0 {
			t.Fatal("FlagZero page not zeroed")
		}
	}
}

func TestFreeMisuse(t *testing.T) {
	pool := palloc.New(2)

	assert.Panics(t, func() { pool.Free(data.PhysAddr(1)) }, "misaligned address")
	assert.Panics(t, func() { pool.Free(data.PhysAddr(8 * data.PageSize)) }, "address outside pool")
	assert.Panics(t, func() { pool.Free(0) }, "double free / never allocated")
}
