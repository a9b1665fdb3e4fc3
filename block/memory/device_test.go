package memory_test

import (
	"bytes"
	"testing"

	"github.com/mwantia/kernos/block/memory"
	"github.com/mwantia/kernos/data"
)

func TestReadWriteSector(t *testing.T) {
	ctx := t.Context()
	dev := memory.NewMemoryDevice(16)

	if err := dev.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	want := bytes.Repeat([]byte{0x42}, data.SectorSize)
	if err := dev.WriteSector(ctx, 5, want); err != nil {
		t.Fatalf("WriteSector failed: %v", err)
	}

	got := make([]byte, data.SectorSize)
	if err := dev.ReadSector(ctx, 5, got); err != nil {
		t.Fatalf("ReadSector failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("Read back different data than written")
	}

	// Unwritten sectors read as zeroes
	if err := dev.ReadSector(ctx, 6, got); err != nil {
		t.Fatalf("ReadSector failed: %v", err)
	}
	if !bytes.Equal(got, make([]byte, data.SectorSize)) {
		t.Error("Unwritten sector not zeroed")
	}
}

func TestBounds(t *testing.T) {
	ctx := t.Context()
	dev := memory.NewMemoryDevice(16)

	buf := make([]byte, data.SectorSize)
	if err := dev.ReadSector(ctx, 16, buf); err != data.ErrDeviceBounds {
		t.Errorf("Expected ErrDeviceBounds, got %v", err)
	}
	if err := dev.WriteSector(ctx, 99, buf); err != data.ErrDeviceBounds {
		t.Errorf("Expected ErrDeviceBounds, got %v", err)
	}
	if err := dev.WriteSector(ctx, 1, buf[:10]); err != data.ErrDeviceBounds {
		t.Errorf("Expected ErrDeviceBounds for short buffer, got %v", err)
	}
}
