package inode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/mwantia/kernos/cache"
	"github.com/mwantia/kernos/data"
	"github.com/mwantia/kernos/freemap"
	"github.com/tidwall/btree"
)

// diskInode is the on-disk inode record, one JSON document per inode
// sector. Data extents are contiguous and sized once at creation.
type diskInode struct {
	Dir    bool        `json:"dir"`
	Length int64       `json:"length"`
	Start  data.Sector `json:"start,omitempty"`
	Count  data.Sector `json:"count,omitempty"`
}

// Service owns every in-memory inode. Open inodes are shared through a
// registry keyed by sector, so two opens of the same sector observe one
// open count.
type Service struct {
	mu sync.Mutex

	store *cache.Cache
	fm    *freemap.Map
	open  *btree.Map[data.Sector, *node]
}

// node is the single in-memory representation of one on-disk inode.
type node struct {
	svc    *Service
	sector data.Sector
	disk   diskInode

	openCnt int
	removed bool

	// Namespace lock: one directory's entry lookup/insert/unlink must
	// be a unit, shared by every handle on this inode.
	nsMu sync.Mutex
}

// Handle is one open reference to an inode. Closing it decrements the
// shared open count; the last close of an unlinked inode reclaims its
// disk space.
type Handle struct {
	n      *node
	closed bool
}

func NewService(store *cache.Cache, fm *freemap.Map) *Service {
	return &Service{
		store: store,
		fm:    fm,
		open:  btree.NewMap[data.Sector, *node](0),
	}
}

// Create initializes the given sector as an inode of length bytes,
// allocating and zero-filling a contiguous data extent. The sector
// itself must already be claimed by the caller.
func (s *Service) Create(ctx context.Context, sector data.Sector, length int64, dir bool) error {
	di := diskInode{
		Dir:    dir,
		Length: length,
	}

	if length > 0 {
		cnt := data.Sector((length + data.SectorSize - 1) / data.SectorSize)

		start, err := s.fm.Allocate(ctx, cnt)
		if err != nil {
			return err
		}

		zero := make([]byte, data.SectorSize)
		for sec := start; sec < start+cnt; sec++ {
			if err := s.store.Write(ctx, sec, zero); err != nil {
				return err
			}
		}

		di.Start = start
		di.Count = cnt
	}

	return s.writeDisk(ctx, sector, di)
}

// Open returns a handle to the inode at sector, incrementing its open
// count. Repeated opens of the same sector share one node.
func (s *Service) Open(ctx context.Context, sector data.Sector) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, exists := s.open.Get(sector); exists {
		n.openCnt++
		return &Handle{n: n}, nil
	}

	var di diskInode
	buf := make([]byte, data.SectorSize)
	if err := s.store.Read(ctx, sector, buf); err != nil {
		return nil, err
	}

	doc := buf[:docLen(buf)]
	if err := json.Unmarshal(doc, &di); err != nil {
		return nil, fmt.Errorf("%w: sector %d holds no inode", data.ErrNotExist, sector)
	}

	n := &node{
		svc:     s,
		sector:  sector,
		disk:    di,
		openCnt: 1,
	}
	s.open.Set(sector, n)

	return &Handle{n: n}, nil
}

func (s *Service) writeDisk(ctx context.Context, sector data.Sector, di diskInode) error {
	doc, err := json.Marshal(di)
	if err != nil {
		return err
	}

	buf := make([]byte, data.SectorSize)
	copy(buf, doc)

	return s.store.Write(ctx, sector, buf)
}

// OpenCount reports the live handle count for a sector, 0 if not open.
func (s *Service) OpenCount(sector data.Sector) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, exists := s.open.Get(sector); exists {
		return n.openCnt
	}

	return 0
}

// Reopen returns a second handle on the same inode.
func (h *Handle) Reopen() *Handle {
	s := h.n.svc

	s.mu.Lock()
	defer s.mu.Unlock()

	h.n.openCnt++
	return &Handle{n: h.n}
}

// Close releases the handle. The last close of an inode marked removed
// returns its inode sector and data extent to the free map.
func (h *Handle) Close(ctx context.Context) error {
	if h.closed {
		return data.ErrClosed
	}
	h.closed = true

	s := h.n.svc

	s.mu.Lock()
	defer s.mu.Unlock()

	h.n.openCnt--
	if h.n.openCnt > 0 {
		return nil
	}

	s.open.Delete(h.n.sector)

	if h.n.removed {
		if h.n.disk.Count > 0 {
			s.fm.Release(ctx, h.n.disk.Start, h.n.disk.Count)
		}
		s.fm.Release(ctx, h.n.sector, 1)
	}

	return nil
}

// MarkRemoved requests deferred deletion: disk space is reclaimed once
// the open count reaches zero.
func (h *Handle) MarkRemoved() {
	s := h.n.svc

	s.mu.Lock()
	defer s.mu.Unlock()

	h.n.removed = true
}

// Service returns the owning inode service.
func (h *Handle) Service() *Service {
	return h.n.svc
}

// Sector returns the inode's on-disk address.
func (h *Handle) Sector() data.Sector {
	return h.n.sector
}

// IsDir reports whether the inode describes a directory.
func (h *Handle) IsDir() bool {
	return h.n.disk.Dir
}

// Length returns the inode's content size in bytes.
func (h *Handle) Length() int64 {
	return h.n.disk.Length
}

// OpenCount returns the number of live handles sharing this inode.
func (h *Handle) OpenCount() int {
	s := h.n.svc

	s.mu.Lock()
	defer s.mu.Unlock()

	return h.n.openCnt
}

// LockNamespace acquires the inode's namespace lock. Directory entry
// lookup, insert and unlink against this inode must run under it.
func (h *Handle) LockNamespace() {
	h.n.nsMu.Lock()
}

// UnlockNamespace releases the namespace lock.
func (h *Handle) UnlockNamespace() {
	h.n.nsMu.Unlock()
}

// ReadAt reads from the inode's content at offset off. Reads past the
// end return io.EOF, short reads at the boundary are clamped.
func (h *Handle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, data.ErrDeviceBounds
	}
	if off >= h.n.disk.Length {
		return 0, io.EOF
	}

	if rest := h.n.disk.Length - off; int64(len(p)) > rest {
		p = p[:rest]
	}

	s := h.n.svc
	buf := make([]byte, data.SectorSize)

	read := 0
	for read < len(p) {
		sec := h.n.disk.Start + data.Sector((off+int64(read))/data.SectorSize)
		secOff := int((off + int64(read)) % data.SectorSize)

		if err := s.store.Read(ctx, sec, buf); err != nil {
			return read, err
		}

		read += copy(p[read:], buf[secOff:])
	}

	return read, nil
}

// WriteAt writes into the inode's content at offset off. The extent is
// fixed at creation: writes beyond it fail with ErrNoSpace.
func (h *Handle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, data.ErrDeviceBounds
	}
	if off+int64(len(p)) > h.n.disk.Length {
		return 0, fmt.Errorf("%w: write past fixed extent", data.ErrNoSpace)
	}

	s := h.n.svc
	buf := make([]byte, data.SectorSize)

	written := 0
	for written < len(p) {
		sec := h.n.disk.Start + data.Sector((off+int64(written))/data.SectorSize)
		secOff := int((off + int64(written)) % data.SectorSize)

		// Partial sector writes keep the surrounding bytes
		if err := s.store.Read(ctx, sec, buf); err != nil {
			return written, err
		}

		n := copy(buf[secOff:], p[written:])
		if err := s.store.Write(ctx, sec, buf); err != nil {
			return written, err
		}

		written += n
	}

	return written, nil
}

// docLen finds the end of the JSON document inside a zero-padded sector.
func docLen(buf []byte) int {
	for i, b := range buf {
		if b == 0 {
			return i
		}
	}
	return len(buf)
}
