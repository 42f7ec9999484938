package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// symlinkResolver follows link chains with bounded depth and tracks the
// last resolved target per symlink so target changes can be detected.
type symlinkResolver struct {
	maxDepth int

	mu       sync.Mutex
	targets  map[string]string
	excluded map[string]struct{}
}

func newSymlinkResolver(maxDepth int) *symlinkResolver {
	if maxDepth < 1 {
		maxDepth = 1
	}
	return &symlinkResolver{
		maxDepth: maxDepth,
		targets:  make(map[string]string),
		excluded: make(map[string]struct{}),
	}
}

// Resolve returns the final target of the symlink at path. It fails with
// ErrNotASymlink for non-links, fs.ErrNotExist for absent paths, and
// ErrCircularSymlink when the chain revisits a path or exceeds the depth
// limit. A dangling final target resolves to the target path itself.
func (r *symlinkResolver) Resolve(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("lstat %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return "", fmt.Errorf("%s: %w", path, ErrNotASymlink)
	}

	visited := map[string]struct{}{}
	current := path
	for hop := 0; hop < r.maxDepth; hop++ {
		if _, seen := visited[current]; seen {
			return "", fmt.Errorf("%s: %w", path, ErrCircularSymlink)
		}
		visited[current] = struct{}{}

		target, err := os.Readlink(current)
		if err != nil {
			return "", fmt.Errorf("readlink %s: %w", current, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(current), target)
		}

		info, err := os.Lstat(target)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			// Final hop: a plain file, directory, or dangling target.
			return target, nil
		}
		current = target
	}
	return "", fmt.Errorf("%s: %w", path, ErrCircularSymlink)
}

// record resolves and stores the target for a newly seen symlink. Circular
// links are excluded from tracking until they change.
func (r *symlinkResolver) record(path string) error {
	target, err := r.Resolve(path)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		delete(r.targets, path)
		r.excluded[path] = struct{}{}
		return err
	}
	delete(r.excluded, path)
	r.targets[path] = target
	return nil
}

// targetChanged re-resolves a known symlink after a modify event and
// reports whether its target moved. An excluded (circular) path is retried,
// since the modify event means it changed.
func (r *symlinkResolver) targetChanged(path string) (oldTarget, newTarget string, changed bool, err error) {
	newTarget, err = r.Resolve(path)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		delete(r.targets, path)
		r.excluded[path] = struct{}{}
		return "", "", false, err
	}
	delete(r.excluded, path)

	oldTarget, known := r.targets[path]
	r.targets[path] = newTarget
	if !known || oldTarget == newTarget {
		return oldTarget, newTarget, false, nil
	}
	return oldTarget, newTarget, true, nil
}

func (r *symlinkResolver) forget(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, path)
	delete(r.excluded, path)
}

func (r *symlinkResolver) isExcluded(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.excluded[path]
	return ok
}
