package swap_test

import (
	"bytes"
	"testing"

	"github.com/mwantia/kernos/block/memory"
	"github.com/mwantia/kernos/data"
	"github.com/mwantia/kernos/vm/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteOutReadIn(t *testing.T) {
	ctx := t.Context()
	store := swap.New(memory.NewMemoryDevice(64))

	// 64 sectors hold 8 page slots
	assert.Equal(t, 8, store.FreeSlots())

	page := bytes.Repeat([]byte{0xC3}, data.PageSize)
	slot, err := store.WriteOut(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, 7, store.FreeSlots())

	got := make([]byte, data.PageSize)
	require.NoError(t, store.ReadIn(ctx, slot, got))
	assert.Equal(t, page, got)

	// ReadIn releases the slot
	assert.Equal(t, 8, store.FreeSlots())
}

func TestSlotExhaustion(t *testing.T) {
	ctx := t.Context()
	store := swap.New(memory.NewMemoryDevice(2 * data.SectorsPerPage))

	page := make([]byte, data.PageSize)
	for i := 0; i < 2; i++ {
		_, err := store.WriteOut(ctx, page)
		require.NoError(t, err)
	}

	_, err := store.WriteOut(ctx, page)
	assert.ErrorIs(t, err, data.ErrSwapFull)
}

func TestDrop(t *testing.T) {
	ctx := t.Context()
	store := swap.New(memory.NewMemoryDevice(64))

	slot, err := store.WriteOut(ctx, make([]byte, data.PageSize))
	require.NoError(t, err)
	require.Equal(t, 7, store.FreeSlots())

	store.Drop(slot)
	assert.Equal(t, 8, store.FreeSlots())
}
