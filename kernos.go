package kernos

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mwantia/kernos/block"
	"github.com/mwantia/kernos/cache"
	"github.com/mwantia/kernos/data"
	"github.com/mwantia/kernos/directory"
	"github.com/mwantia/kernos/freemap"
	"github.com/mwantia/kernos/inode"
	"github.com/mwantia/kernos/log"
)

// FileSystem is the hierarchical directory layer over one block
// device: buffer cache, free-space map and inode registry, with
// create/open/remove entry points resolving textual paths.
type FileSystem struct {
	ID uuid.UUID

	dev    block.Device
	store  *cache.Cache
	fm     *freemap.Map
	inodes *inode.Service
	logger *log.Logger
}

// Task models one kernel thread's filesystem position: its current
// working directory, against which relative paths resolve.
type Task struct {
	fs *FileSystem

	mu sync.Mutex
	wd *directory.Directory
}

type Option func(*FileSystem)

// WithLogger replaces the default discarding logger.
func WithLogger(logger *log.Logger) Option {
	return func(fs *FileSystem) {
		fs.logger = logger.Named("fs")
	}
}

// NewFileSystem brings up the filesystem layers on dev. With format
// set, the device is reformatted: a fresh free map and an empty,
// fixed-capacity root directory. Device absence and root creation
// failure during format are constructor errors - the system cannot
// come up without them.
func NewFileSystem(ctx context.Context, dev block.Device, format bool, opts ...Option) (*FileSystem, error) {
	fs := &FileSystem{
		ID:     uuid.Must(uuid.NewV7()),
		dev:    dev,
		logger: log.Discard(),
	}

	for _, opt := range opts {
		opt(fs)
	}

	if err := dev.Open(ctx); err != nil {
		return nil, fmt.Errorf("block device not present: %w", err)
	}

	store, err := cache.New(dev, int64(dev.SectorCount()/4))
	if err != nil {
		return nil, err
	}
	fs.store = store

	fs.fm, err = freemap.New(store, dev.SectorCount())
	if err != nil {
		return nil, err
	}
	fs.inodes = inode.NewService(store, fs.fm)

	if format {
		if err := fs.doFormat(ctx); err != nil {
			return nil, err
		}
	}

	if err := fs.fm.Open(ctx); err != nil {
		return nil, err
	}

	fs.logger.Info("filesystem up on %s device (%d sectors)", dev.Name(), dev.SectorCount())

	return fs, nil
}

// doFormat writes a fresh free map and root directory.
func (fs *FileSystem) doFormat(ctx context.Context) error {
	fs.logger.Info("formatting file system...")

	if err := fs.fm.Create(ctx); err != nil {
		return err
	}

	if err := directory.Create(ctx, fs.inodes, data.RootDirSector, data.RootDirEntries); err != nil {
		return fmt.Errorf("root directory creation failed: %w", err)
	}

	return fs.fm.Close(ctx)
}

// Close persists the free map and flushes every dirty sector. The
// device itself stays open for its owner to close.
func (fs *FileSystem) Close(ctx context.Context) error {
	if err := fs.fm.Close(ctx); err != nil {
		return err
	}

	return fs.store.Close(ctx)
}

// NewTask creates a task positioned at the root directory.
func (fs *FileSystem) NewTask(ctx context.Context) (*Task, error) {
	wd, err := directory.OpenRoot(ctx, fs.inodes)
	if err != nil {
		return nil, err
	}

	return &Task{fs: fs, wd: wd}, nil
}

// Chdir repositions the task onto the directory named by path.
func (t *Task) Chdir(ctx context.Context, path string) error {
	h, err := t.fs.Open(ctx, t, path)
	if err != nil {
		return err
	}

	wd, err := directory.Open(ctx, h)
	if err != nil {
		return err
	}

	t.mu.Lock()
	old := t.wd
	t.wd = wd
	t.mu.Unlock()

	return old.Close(ctx)
}

// WorkDir returns the task's current working directory handle.
func (t *Task) WorkDir() *directory.Directory {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.wd
}

// reopenWorkDir takes a fresh reference on the working directory under
// the task lock, so a concurrent Chdir cannot close the handle between
// the read and the reopen.
func (t *Task) reopenWorkDir() *directory.Directory {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.wd.Reopen()
}

// Close releases the task's working directory reference.
func (t *Task) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.wd.Close(ctx)
}

// Create makes a new file of initialSize bytes, or a new directory
// with the standard entry capacity, at the given path. The entry
// becomes visible only when sector allocation, inode initialization
// and directory linking have all succeeded.
func (fs *FileSystem) Create(ctx context.Context, task *Task, path string, initialSize int64, isDir bool) error {
	parent, leaf, err := fs.resolve(ctx, task, path)
	if err != nil {
		return err
	}
	defer parent.Close(ctx)

	if leaf == "" {
		return data.ErrInvalidPath
	}

	parent.Lock()
	defer parent.Unlock()

	if existing, err := parent.Lookup(ctx, leaf); err == nil {
		// The reference opened by the existence check must not leak
		existing.Close(ctx)
		return fmt.Errorf("%w: %s", data.ErrExist, path)
	}

	sector, err := fs.fm.Allocate(ctx, 1)
	if err != nil {
		return err
	}

	if isDir {
		err = directory.Create(ctx, fs.inodes, sector, data.RootDirEntries)
	} else {
		err = fs.inodes.Create(ctx, sector, initialSize, false)
	}
	if err != nil {
		fs.logger.Warn("create %s: inode init failed, sector %d leaked: %v", path, sector, err)
		return err
	}

	if err := parent.Add(ctx, leaf, sector); err != nil {
		// Known limitation: the initialized sector is leaked rather
		// than rolled back.
		fs.logger.Warn("create %s: entry link failed, sector %d leaked: %v", path, sector, err)
		return err
	}

	fs.logger.Debug("created %s (dir=%v, size=%d) at sector %d", path, isDir, initialSize, sector)

	return nil
}

// Open resolves path to an inode handle. An empty leaf (root, trailing
// separator) opens the resolved parent directory itself.
func (fs *FileSystem) Open(ctx context.Context, task *Task, path string) (*inode.Handle, error) {
	parent, leaf, err := fs.resolve(ctx, task, path)
	if err != nil {
		return nil, err
	}

	if leaf == "" {
		h := parent.Inode().Reopen()
		parent.Close(ctx)
		return h, nil
	}

	parent.Lock()
	h, err := parent.Lookup(ctx, leaf)
	parent.Unlock()

	parent.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, path)
	}

	return h, nil
}

// Remove unlinks the entry named by path. Root and directory-self
// forms (empty leaf) are always refused, as are the task's working
// directory, non-empty directories and directories open elsewhere.
// Files unlink unconditionally; their space reclaim is deferred to the
// last close.
func (fs *FileSystem) Remove(ctx context.Context, task *Task, path string) error {
	parent, leaf, err := fs.resolve(ctx, task, path)
	if err != nil {
		return err
	}
	defer parent.Close(ctx)

	// Root (or the directory itself) carries no name to unlink
	if leaf == "" {
		return data.ErrInvalidPath
	}

	parent.Lock()
	defer parent.Unlock()

	target, err := parent.Lookup(ctx, leaf)
	if err != nil {
		return fmt.Errorf("%w: %s", data.ErrNotExist, path)
	}
	defer target.Close(ctx)

	if target.Sector() == task.WorkDir().Inode().Sector() {
		return fmt.Errorf("%w: %s", data.ErrWorkDir, path)
	}

	if target.IsDir() {
		empty, err := directory.IsEmpty(ctx, target)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("%w: %s", data.ErrNotEmpty, path)
		}

		// Our lookup reference accounts for one open
		if target.OpenCount() > 1 {
			return fmt.Errorf("%w: %s", data.ErrBusy, path)
		}
	}

	if err := parent.Remove(ctx, leaf); err != nil {
		return err
	}

	fs.logger.Debug("removed %s (sector %d)", path, target.Sector())

	return nil
}

// Exists reports whether path resolves to an existing entry.
func (fs *FileSystem) Exists(ctx context.Context, task *Task, path string) bool {
	h, err := fs.Open(ctx, task, path)
	if err != nil {
		return false
	}

	h.Close(ctx)
	return true
}

// IsNotExist reports whether an error means the path was absent.
func IsNotExist(err error) bool {
	return errors.Is(err, data.ErrNotExist)
}
