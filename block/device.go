package block

import (
	"context"

	"github.com/mwantia/kernos/data"
)

// Device is a fixed-geometry block device addressed in whole sectors.
// Implementations provide access to a specific storage backend.
// Reads of sectors that were never written return zeroed data.
type Device interface {
	// Name returns the identifier defined for this backend.
	Name() string

	// Open is part of the lifecycle behaviour and gets called once
	// before any sector I/O.
	Open(ctx context.Context) error

	// Close is part of the lifecycle behaviour and gets called when
	// shutting the device down.
	Close(ctx context.Context) error

	// SectorCount returns the fixed capacity of the device.
	SectorCount() data.Sector

	// ReadSector reads one sector into buf.
	// Returns ErrDeviceBounds if sec is outside the device geometry,
	// len(buf) must be exactly data.SectorSize.
	ReadSector(ctx context.Context, sec data.Sector, buf []byte) error

	// WriteSector writes one sector from buf.
	// Returns ErrDeviceBounds if sec is outside the device geometry.
	WriteSector(ctx context.Context, sec data.Sector, buf []byte) error
}

// CheckBounds validates a sector address and buffer size against a
// device geometry. Shared by all backends.
func CheckBounds(sec data.Sector, count data.Sector, buf []byte) error {
	if sec >= count {
		return data.ErrDeviceBounds
	}
	if len(buf) != data.SectorSize {
		return data.ErrDeviceBounds
	}
	return nil
}
