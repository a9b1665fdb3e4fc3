package data

// Sector addresses one fixed-size unit of block-device storage.
type Sector uint32

const (
	// SectorSize is the fixed size of one device sector in bytes.
	SectorSize = 512

	// PageSize is the fixed size of one physical memory page in bytes.
	PageSize = 4096

	// SectorsPerPage is the number of sectors needed to hold one page.
	SectorsPerPage = PageSize / SectorSize
)

const (
	// FreeMapSector holds the free-space bitmap.
	FreeMapSector Sector = 0

	// RootDirSector holds the root directory inode.
	RootDirSector Sector = 1

	// RootDirEntries is the entry capacity of a freshly formatted root.
	RootDirEntries = 16
)

// VirtPage is a page-aligned virtual address inside one address space.
type VirtPage uint64

// PhysAddr is the page-aligned base address of one physical page,
// expressed as a byte offset into the owning allocator's pool.
type PhysAddr uint64

// SwapSlot indexes one page-sized unit of swap storage.
// NoSwapSlot marks a page that has no swap copy.
type SwapSlot int64

const NoSwapSlot SwapSlot = -1
