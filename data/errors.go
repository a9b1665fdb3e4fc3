package data

import "errors"

// Standard kernos errors shared across the filesystem and vm layers.
var (
	// Path resolution errors
	ErrInvalidPath  = errors.New("kernos: invalid path")
	ErrNotExist     = errors.New("kernos: no such file or directory")
	ErrExist        = errors.New("kernos: file already exists")
	ErrNotDirectory = errors.New("kernos: not a directory")

	// Removal safety errors
	ErrWorkDir  = errors.New("kernos: directory in use as working directory")
	ErrNotEmpty = errors.New("kernos: directory not empty")
	ErrBusy     = errors.New("kernos: directory open elsewhere")

	// Allocation errors
	ErrNoSpace     = errors.New("kernos: no free sectors")
	ErrDirFull     = errors.New("kernos: directory entry table full")
	ErrNameTooLong = errors.New("kernos: name too long")
	ErrOutOfMemory = errors.New("kernos: out of physical memory")
	ErrSwapFull    = errors.New("kernos: no free swap slots")

	// Device errors
	ErrDeviceBounds = errors.New("kernos: sector out of device bounds")
	ErrClosed       = errors.New("kernos: handle already closed")
)
