package kernos_test

import (
	"errors"
	"testing"

	"github.com/mwantia/kernos"
	"github.com/mwantia/kernos/block"
	"github.com/mwantia/kernos/block/memory"
	"github.com/mwantia/kernos/block/sqlite"
	"github.com/mwantia/kernos/data"
)

type TestDeviceFactory func(tst *testing.T) (block.Device, error)

func GetTestDeviceFactories() map[string]TestDeviceFactory {
	return map[string]TestDeviceFactory{
		"memory": func(tst *testing.T) (block.Device, error) {
			return memory.NewMemoryDevice(4096), nil
		},
		"sqlite": func(tst *testing.T) (block.Device, error) {
			return sqlite.NewSQLiteDevice(":memory:", 4096)
		},
	}
}

func newTestFS(tst *testing.T, factory TestDeviceFactory) (*kernos.FileSystem, *kernos.Task) {
	ctx := tst.Context()

	dev, err := factory(tst)
	if err != nil {
		tst.Fatalf("Failed to create device: %v", err)
	}

	fs, err := kernos.NewFileSystem(ctx, dev, true)
	if err != nil {
		tst.Fatalf("Failed to initialize filesystem: %v", err)
	}

	task, err := fs.NewTask(ctx)
	if err != nil {
		tst.Fatalf("Failed to create task: %v", err)
	}

	return fs, task
}

// TestAllDevices_CreateOpenRoundTrip verifies that a created file opens as a file of the requested size.
func TestAllDevices_CreateOpenRoundTrip(t *testing.T) {
	factories := GetTestDeviceFactories()

	for name, factory := range factories {
		t.Run(name, func(tst *testing.T) {
			ctx := tst.Context()
			fs, task := newTestFS(tst, factory)

			if err := fs.Create(ctx, task, "a.txt", 1000, false); err != nil {
				tst.Fatalf("Create failed: %v", err)
			}

			h, err := fs.Open(ctx, task, "a.txt")
			if err != nil {
				tst.Fatalf("Open failed: %v", err)
			}
			defer h.Close(ctx)

			if h.IsDir() {
				tst.Error("Expected a file, got a directory")
			}
			if h.Length() != 1000 {
				tst.Errorf("Expected size 1000, got %d", h.Length())
			}
		})
	}
}

// TestAllDevices_DuplicateCreate verifies that creating an existing name fails and leaves the original untouched.
func TestAllDevices_DuplicateCreate(t *testing.T) {
	factories := GetTestDeviceFactories()

	for name, factory := range factories {
		t.Run(name, func(tst *testing.T) {
			ctx := tst.Context()
			fs, task := newTestFS(tst, factory)

			if err := fs.Create(ctx, task, "a.txt", 1000, false); err != nil {
				tst.Fatalf("Create failed: %v", err)
			}

			if err := fs.Create(ctx, task, "a.txt", 64, false); !errors.Is(err, data.ErrExist) {
				tst.Errorf("Expected ErrExist, got %v", err)
			}

			h, err := fs.Open(ctx, task, "a.txt")
			if err != nil {
				tst.Fatalf("Open failed: %v", err)
			}
			defer h.Close(ctx)

			if h.Length() != 1000 {
				tst.Errorf("Original inode changed: size %d", h.Length())
			}
		})
	}
}

// TestAllDevices_RootProtection verifies that root can never be removed.
func TestAllDevices_RootProtection(t *testing.T) {
	factories := GetTestDeviceFactories()

	for name, factory := range factories {
		t.Run(name, func(tst *testing.T) {
			ctx := tst.Context()
			fs, task := newTestFS(tst, factory)

			if err := fs.Remove(ctx, task, "/"); !errors.Is(err, data.ErrInvalidPath) {
				tst.Errorf("Expected ErrInvalidPath removing root, got %v", err)
			}

			// Trailing-separator self reference carries no name either
			if err := fs.Create(ctx, task, "/dir", 0, true); err != nil {
				tst.Fatalf("Create failed: %v", err)
			}
			if err := fs.Remove(ctx, task, "/dir/"); !errors.Is(err, data.ErrInvalidPath) {
				tst.Errorf("Expected ErrInvalidPath for self form, got %v", err)
			}
		})
	}
}

// TestAllDevices_WorkDirProtection verifies that a task cannot remove its own working directory.
func TestAllDevices_WorkDirProtection(t *testing.T) {
	factories := GetTestDeviceFactories()

	for name, factory := range factories {
		t.Run(name, func(tst *testing.T) {
			ctx := tst.Context()
			fs, task := newTestFS(tst, factory)

			if err := fs.Create(ctx, task, "/work", 0, true); err != nil {
				tst.Fatalf("Create failed: %v", err)
			}
			if err := task.Chdir(ctx, "/work"); err != nil {
				tst.Fatalf("Chdir failed: %v", err)
			}

			if err := fs.Remove(ctx, task, "/work"); !errors.Is(err, data.ErrWorkDir) {
				tst.Errorf("Expected ErrWorkDir, got %v", err)
			}

			// Repositioned away, removal goes through
			if err := task.Chdir(ctx, "/"); err != nil {
				tst.Fatalf("Chdir failed: %v", err)
			}
			if err := fs.Remove(ctx, task, "/work"); err != nil {
				tst.Errorf("Remove after leaving failed: %v", err)
			}
		})
	}
}

// TestAllDevices_NonEmptyProtection verifies that only emptied directories can be removed.
func TestAllDevices_NonEmptyProtection(t *testing.T) {
	factories := GetTestDeviceFactories()

	for name, factory := range factories {
		t.Run(name, func(tst *testing.T) {
			ctx := tst.Context()
			fs, task := newTestFS(tst, factory)

			if err := fs.Create(ctx, task, "/dir", 0, true); err != nil {
				tst.Fatalf("Create failed: %v", err)
			}
			if err := fs.Create(ctx, task, "/dir/x", 0, false); err != nil {
				tst.Fatalf("Create failed: %v", err)
			}

			if err := fs.Remove(ctx, task, "/dir"); !errors.Is(err, data.ErrNotEmpty) {
				tst.Errorf("Expected ErrNotEmpty, got %v", err)
			}

			if err := fs.Remove(ctx, task, "/dir/x"); err != nil {
				tst.Fatalf("Remove file failed: %v", err)
			}
			if err := fs.Remove(ctx, task, "/dir"); err != nil {
				tst.Errorf("Remove of emptied directory failed: %v", err)
			}
		})
	}
}

// TestAllDevices_PathResolution verifies absolute, relative and failing resolution.
func TestAllDevices_PathResolution(t *testing.T) {
	factories := GetTestDeviceFactories()

	for name, factory := range factories {
		t.Run(name, func(tst *testing.T) {
			ctx := tst.Context()
			fs, task := newTestFS(tst, factory)

			if err := fs.Create(ctx, task, "/a", 0, true); err != nil {
				tst.Fatalf("Create failed: %v", err)
			}
			if err := fs.Create(ctx, task, "/a/b", 0, true); err != nil {
				tst.Fatalf("Create failed: %v", err)
			}
			if err := fs.Create(ctx, task, "/a/b/c.txt", 16, false); err != nil {
				tst.Fatalf("Create failed: %v", err)
			}

			// Relative resolution against the working directory
			if err := task.Chdir(ctx, "/a"); err != nil {
				tst.Fatalf("Chdir failed: %v", err)
			}
			h, err := fs.Open(ctx, task, "b/c.txt")
			if err != nil {
				tst.Fatalf("Relative open failed: %v", err)
			}
			h.Close(ctx)

			// Missing intermediate component
			if _, err := fs.Open(ctx, task, "/a/missing/c.txt"); !errors.Is(err, data.ErrNotExist) {
				tst.Errorf("Expected ErrNotExist, got %v", err)
			}

			// Empty path is invalid at the top level
			if _, err := fs.Open(ctx, task, ""); !errors.Is(err, data.ErrInvalidPath) {
				tst.Errorf("Expected ErrInvalidPath, got %v", err)
			}
		})
	}
}

// TestAllDevices_DotSelfReference verifies that "." resolves to the directory itself.
func TestAllDevices_DotSelfReference(t *testing.T) {
	factories := GetTestDeviceFactories()

	for name, factory := range factories {
		t.Run(name, func(tst *testing.T) {
			ctx := tst.Context()
			fs, task := newTestFS(tst, factory)

			if err := fs.Create(ctx, task, "/dir", 0, true); err != nil {
				tst.Fatalf("Create failed: %v", err)
			}
			if err := task.Chdir(ctx, "/dir"); err != nil {
				tst.Fatalf("Chdir failed: %v", err)
			}

			h, err := fs.Open(ctx, task, ".")
			if err != nil {
				tst.Fatalf("Open of %q failed: %v", ".", err)
			}
			if h.Sector() != task.WorkDir().Inode().Sector() {
				tst.Error("Expected the working directory itself")
			}
			h.Close(ctx)

			// "." components in a longer path resolve as no-ops
			if err := fs.Create(ctx, task, "./x", 0, false); err != nil {
				tst.Fatalf("Create failed: %v", err)
			}
			h, err = fs.Open(ctx, task, "./x")
			if err != nil {
				tst.Fatalf("Open failed: %v", err)
			}
			h.Close(ctx)

			if err := task.Chdir(ctx, "."); err != nil {
				tst.Fatalf("Chdir failed: %v", err)
			}

			// The self form carries no name to unlink
			if err := fs.Remove(ctx, task, "."); !errors.Is(err, data.ErrInvalidPath) {
				tst.Errorf("Expected ErrInvalidPath for self form, got %v", err)
			}
			if err := fs.Remove(ctx, task, "/dir/."); !errors.Is(err, data.ErrInvalidPath) {
				tst.Errorf("Expected ErrInvalidPath for self form, got %v", err)
			}
		})
	}
}

// TestAllDevices_Persistence verifies that a formatted tree survives shutdown and remount.
func TestAllDevices_Persistence(t *testing.T) {
	factories := GetTestDeviceFactories()

	for name, factory := range factories {
		t.Run(name, func(tst *testing.T) {
			ctx := tst.Context()

			dev, err := factory(tst)
			if err != nil {
				tst.Fatalf("Failed to create device: %v", err)
			}

			fs, err := kernos.NewFileSystem(ctx, dev, true)
			if err != nil {
				tst.Fatalf("Failed to initialize filesystem: %v", err)
			}
			task, err := fs.NewTask(ctx)
			if err != nil {
				tst.Fatalf("Failed to create task: %v", err)
			}

			if err := fs.Create(ctx, task, "/boot", 0, true); err != nil {
				tst.Fatalf("Create failed: %v", err)
			}
			if err := fs.Create(ctx, task, "/boot/kernel.bin", 4096, false); err != nil {
				tst.Fatalf("Create failed: %v", err)
			}

			if err := task.Close(ctx); err != nil {
				tst.Fatalf("Task close failed: %v", err)
			}
			if err := fs.Close(ctx); err != nil {
				tst.Fatalf("Close failed: %v", err)
			}

			// Remount without formatting
			fs, err = kernos.NewFileSystem(ctx, dev, false)
			if err != nil {
				tst.Fatalf("Remount failed: %v", err)
			}
			task, err = fs.NewTask(ctx)
			if err != nil {
				tst.Fatalf("Failed to create task: %v", err)
			}

			h, err := fs.Open(ctx, task, "/boot/kernel.bin")
			if err != nil {
				tst.Fatalf("Open after remount failed: %v", err)
			}
			if h.Length() != 4096 {
				tst.Errorf("Expected size 4096 after remount, got %d", h.Length())
			}
			h.Close(ctx)
		})
	}
}

func TestSplitPath(t *testing.T) {
	cases := []struct {
		name     string
		parent   []string
		leaf     string
		absolute bool
		wantErr  bool
	}{
		{name: "", wantErr: true},
		{name: "/", parent: []string{}, leaf: "", absolute: true},
		{name: "a.txt", parent: []string{}, leaf: "a.txt"},
		{name: "/a/b/c", parent: []string{"a", "b"}, leaf: "c", absolute: true},
		{name: "a/b/", parent: []string{"a", "b"}, leaf: ""},
		{name: "//a//b", parent: []string{"a"}, leaf: "b", absolute: true},
		{name: ".", parent: []string{}, leaf: ""},
		{name: "/.", parent: []string{}, leaf: "", absolute: true},
		{name: "./a", parent: []string{}, leaf: "a"},
		{name: "a/.", parent: []string{"a"}, leaf: ""},
		{name: "a/./b", parent: []string{"a"}, leaf: "b"},
	}

	for _, c := range cases {
		parent, leaf, absolute, err := kernos.SplitPath(c.name)
		if c.wantErr {
			if err == nil {
				t.Errorf("SplitPath(%q): expected error", c.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("SplitPath(%q): %v", c.name, err)
			continue
		}

		if leaf != c.leaf || absolute != c.absolute || len(parent) != len(c.parent) {
			t.Errorf("SplitPath(%q) = (%v, %q, %v)", c.name, parent, leaf, absolute)
			continue
		}
		for i := range parent {
			if parent[i] != c.parent[i] {
				t.Errorf("SplitPath(%q) parent = %v", c.name, parent)
				break
			}
		}
	}
}
