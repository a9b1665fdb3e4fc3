package kernos

import (
	"context"
	"fmt"
	"strings"

	"github.com/mwantia/kernos/data"
	"github.com/mwantia/kernos/directory"
)

// SplitPath decomposes a textual path into its parent components and
// the leaf name. The leaf may be empty, which denotes the resolved
// directory itself ("/", ".", trailing separator). An empty path is
// invalid.
func SplitPath(name string) (parent []string, leaf string, absolute bool, err error) {
	if name == "" {
		return nil, "", false, data.ErrInvalidPath
	}

	absolute = name[0] == '/'

	comps := strings.Split(name, "/")
	parts := []string{}
	for _, comp := range comps {
		// "." names the directory being walked, nothing to descend into
		if comp == "" || comp == "." {
			continue
		}
		parts = append(parts, comp)
	}

	// A trailing separator (or bare "/") and a final "." leave the leaf
	// empty, so the path names the directory itself.
	if last := comps[len(comps)-1]; last == "" || last == "." {
		return parts, "", absolute, nil
	}

	leaf = parts[len(parts)-1]
	return parts[:len(parts)-1], leaf, absolute, nil
}

// resolve walks a path down to its parent directory and returns the
// still-open parent handle plus the unresolved leaf name. The leaf is
// deliberately not opened: callers decide create/open/remove semantics
// atomically against the one parent.
func (fs *FileSystem) resolve(ctx context.Context, task *Task, name string) (*directory.Directory, string, error) {
	parent, leaf, absolute, err := SplitPath(name)
	if err != nil {
		return nil, "", err
	}

	var cur *directory.Directory
	if absolute {
		if cur, err = directory.OpenRoot(ctx, fs.inodes); err != nil {
			return nil, "", err
		}
	} else {
		cur = task.reopenWorkDir()
	}

	for _, comp := range parent {
		cur.Lock()
		next, err := cur.Lookup(ctx, comp)
		cur.Unlock()

		if err != nil {
			cur.Close(ctx)
			return nil, "", fmt.Errorf("%w: component %q", data.ErrNotExist, comp)
		}

		nextDir, err := directory.Open(ctx, next)
		if err != nil {
			cur.Close(ctx)
			return nil, "", fmt.Errorf("%w: component %q", data.ErrNotExist, comp)
		}

		cur.Close(ctx)
		cur = nextDir
	}

	return cur, leaf, nil
}
