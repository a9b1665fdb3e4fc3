package directory

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mwantia/kernos/data"
	"github.com/mwantia/kernos/inode"
)

const (
	// NameMax is the longest entry name a directory can store.
	NameMax = 27

	// EntrySize is the fixed on-disk size of one directory entry:
	// name (27) + in-use flag (1) + target sector (4).
	EntrySize = 32
)

// Entry is one decoded directory slot.
type Entry struct {
	Name   string
	Sector data.Sector
	InUse  bool
}

// Directory is an open handle on a directory inode plus an iteration
// cursor. Multiple Directory handles may share one inode; entry
// mutation and lookup go through the inode's namespace lock, which the
// caller of Lookup/Add/Remove must hold (see Lock/Unlock) so that
// compound check-then-act sequences stay atomic.
type Directory struct {
	h   *inode.Handle
	pos int64
}

// Create initializes sector as an empty directory with room for
// entryCnt entries. The zero-filled content doubles as the all-free
// entry table.
func Create(ctx context.Context, svc *inode.Service, sector data.Sector, entryCnt int) error {
	return svc.Create(ctx, sector, int64(entryCnt)*EntrySize, true)
}

// Open wraps an inode handle as a directory, taking ownership of the
// handle. Returns ErrNotDirectory (and closes the handle) for file
// inodes.
func Open(ctx context.Context, h *inode.Handle) (*Directory, error) {
	if !h.IsDir() {
		h.Close(ctx)
		return nil, data.ErrNotDirectory
	}

	return &Directory{h: h}, nil
}

// OpenRoot opens the root directory.
func OpenRoot(ctx context.Context, svc *inode.Service) (*Directory, error) {
	h, err := svc.Open(ctx, data.RootDirSector)
	if err != nil {
		return nil, err
	}

	return Open(ctx, h)
}

// Reopen returns an independent handle on the same directory inode,
// with its own cursor.
func (d *Directory) Reopen() *Directory {
	return &Directory{h: d.h.Reopen()}
}

// Close releases the underlying inode handle.
func (d *Directory) Close(ctx context.Context) error {
	return d.h.Close(ctx)
}

// Inode exposes the backing inode handle.
func (d *Directory) Inode() *inode.Handle {
	return d.h
}

// Lock acquires the directory's namespace lock. Every
// lookup-then-mutate sequence against this directory must run under it.
func (d *Directory) Lock() {
	d.h.LockNamespace()
}

// Unlock releases the namespace lock.
func (d *Directory) Unlock() {
	d.h.UnlockNamespace()
}

// Lookup searches the directory for name and opens the target inode.
// Returns ErrNotExist if no in-use entry matches.
//
// IMPORTANT: This method does NOT acquire the namespace lock. The
// caller must hold it when the lookup is part of a compound operation.
func (d *Directory) Lookup(ctx context.Context, name string) (*inode.Handle, error) {
	ent, _, err := d.find(ctx, name)
	if err != nil {
		return nil, err
	}

	return d.h.Service().Open(ctx, ent.Sector)
}

// Add links name to the inode at sector, using the first free entry
// slot. Returns ErrExist on duplicate names, ErrDirFull when every slot
// is taken.
//
// IMPORTANT: This method does NOT acquire the namespace lock.
func (d *Directory) Add(ctx context.Context, name string, sector data.Sector) error {
	if name == "" {
		return data.ErrInvalidPath
	}
	if len(name) > NameMax {
		return fmt.Errorf("%w: %q", data.ErrNameTooLong, name)
	}

	free := int64(-1)
	for off := int64(0); off < d.h.Length(); off += EntrySize {
		ent, err := d.readEntry(ctx, off)
		if err != nil {
			return err
		}

		if !ent.InUse {
			if free < 0 {
				free = off
			}
			continue
		}
		if ent.Name == name {
			return fmt.Errorf("%w: %s", data.ErrExist, name)
		}
	}

	if free < 0 {
		return data.ErrDirFull
	}

	return d.writeEntry(ctx, free, Entry{Name: name, Sector: sector, InUse: true})
}

// Remove unlinks the entry for name and marks the target inode for
// deferred deletion. The target's disk space goes away once its last
// handle closes.
//
// IMPORTANT: This method does NOT acquire the namespace lock.
func (d *Directory) Remove(ctx context.Context, name string) error {
	ent, off, err := d.find(ctx, name)
	if err != nil {
		return err
	}

	target, err := d.h.Service().Open(ctx, ent.Sector)
	if err != nil {
		return err
	}
	target.MarkRemoved()

	if err := d.writeEntry(ctx, off, Entry{}); err != nil {
		target.Close(ctx)
		return err
	}

	return target.Close(ctx)
}

// IsEmpty reports whether the directory holds no in-use entries.
func IsEmpty(ctx context.Context, h *inode.Handle) (bool, error) {
	d := &Directory{h: h}

	for off := int64(0); off < h.Length(); off += EntrySize {
		ent, err := d.readEntry(ctx, off)
		if err != nil {
			return false, err
		}

		if ent.InUse {
			return false, nil
		}
	}

	return true, nil
}

// ReadNext returns the name of the next in-use entry and advances the
// cursor. Returns io.EOF once the table is exhausted.
func (d *Directory) ReadNext(ctx context.Context) (string, error) {
	for d.pos < d.h.Length() {
		ent, err := d.readEntry(ctx, d.pos)
		if err != nil {
			return "", err
		}
		d.pos += EntrySize

		if ent.InUse {
			return ent.Name, nil
		}
	}

	return "", io.EOF
}

// Rewind resets the iteration cursor to the first entry.
func (d *Directory) Rewind() {
	d.pos = 0
}

func (d *Directory) find(ctx context.Context, name string) (Entry, int64, error) {
	for off := int64(0); off < d.h.Length(); off += EntrySize {
		ent, err := d.readEntry(ctx, off)
		if err != nil {
			return Entry{}, 0, err
		}

		if ent.InUse && ent.Name == name {
			return ent, off, nil
		}
	}

	return Entry{}, 0, fmt.Errorf("%w: %s", data.ErrNotExist, name)
}

func (d *Directory) readEntry(ctx context.Context, off int64) (Entry, error) {
	var raw [EntrySize]byte
	if _, err := d.h.ReadAt(ctx, raw[:], off); err != nil {
		return Entry{}, err
	}

	return decodeEntry(raw), nil
}

func (d *Directory) writeEntry(ctx context.Context, off int64, ent Entry) error {
	raw := encodeEntry(ent)
	_, err := d.h.WriteAt(ctx, raw[:], off)
	return err
}

func decodeEntry(raw [EntrySize]byte) Entry {
	name := raw[:NameMax]
	end := 0
	for end < NameMax && name[end] != 0 {
		end++
	}

	return Entry{
		Name:   string(name[:end]),
		InUse:  raw[NameMax] != 0,
		Sector: data.Sector(binary.LittleEndian.Uint32(raw[NameMax+1:])),
	}
}

func encodeEntry(ent Entry) [EntrySize]byte {
	var raw [EntrySize]byte
	copy(raw[:NameMax], ent.Name)
	if ent.InUse {
		raw[NameMax] = 1
	}
	binary.LittleEndian.PutUint32(raw[NameMax+1:], uint32(ent.Sector))

	return raw
}
