package monitor

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveRejectsNonSymlink(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	resolver := newSymlinkResolver(10)
	if _, err := resolver.Resolve(file); !errors.Is(err, ErrNotASymlink) {
		t.Fatalf("expected ErrNotASymlink, got %v", err)
	}
}

func TestResolveMissingPath(t *testing.T) {
	resolver := newSymlinkResolver(10)
	_, err := resolver.Resolve(filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestResolveFollowsChainWithinDepth(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "target.txt")
	if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
		t.Fatalf("write target: %v", err)
	}
	mid := filepath.Join(root, "mid")
	head := filepath.Join(root, "head")
	if err := os.Symlink(target, mid); err != nil {
		t.Fatalf("symlink mid: %v", err)
	}
	if err := os.Symlink(mid, head); err != nil {
		t.Fatalf("symlink head: %v", err)
	}

	resolver := newSymlinkResolver(10)
	resolved, err := resolver.Resolve(head)
	if err != nil {
		t.Fatalf("resolve chain: %v", err)
	}
	if resolved != target {
		t.Fatalf("expected %q, got %q", target, resolved)
	}
}

func TestResolveDetectsCycle(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	if err := os.Symlink(b, a); err != nil {
		t.Fatalf("symlink a: %v", err)
	}
	if err := os.Symlink(a, b); err != nil {
		t.Fatalf("symlink b: %v", err)
	}

	resolver := newSymlinkResolver(10)
	if _, err := resolver.Resolve(a); !errors.Is(err, ErrCircularSymlink) {
		t.Fatalf("expected ErrCircularSymlink, got %v", err)
	}
}

func TestResolveEnforcesDepthLimit(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "target.txt")
	if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
		t.Fatalf("write target: %v", err)
	}
	previous := target
	var head string
	for i := 0; i < 5; i++ {
		head = filepath.Join(root, filepath.Base(previous)+".link")
		if err := os.Symlink(previous, head); err != nil {
			t.Fatalf("symlink hop %d: %v", i, err)
		}
		previous = head
	}

	shallow := newSymlinkResolver(3)
	if _, err := shallow.Resolve(head); !errors.Is(err, ErrCircularSymlink) {
		t.Fatalf("expected depth overflow to report ErrCircularSymlink, got %v", err)
	}

	deep := newSymlinkResolver(10)
	if resolved, err := deep.Resolve(head); err != nil || resolved != target {
		t.Fatalf("expected %q within depth, got %q err=%v", target, resolved, err)
	}
}

func TestTargetChangedTracksRetarget(t *testing.T) {
	root := t.TempDir()
	oldTarget := filepath.Join(root, "old.txt")
	newTarget := filepath.Join(root, "new.txt")
	for _, path := range []string{oldTarget, newTarget} {
		if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	link := filepath.Join(root, "link")
	if err := os.Symlink(oldTarget, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	resolver := newSymlinkResolver(10)
	if err := resolver.record(link); err != nil {
		t.Fatalf("record link: %v", err)
	}

	// Unchanged target is not a change.
	if _, _, changed, err := resolver.targetChanged(link); err != nil || changed {
		t.Fatalf("expected no change, got changed=%v err=%v", changed, err)
	}

	if err := os.Remove(link); err != nil {
		t.Fatalf("remove link: %v", err)
	}
	if err := os.Symlink(newTarget, link); err != nil {
		t.Fatalf("retarget link: %v", err)
	}

	got, want, changed, err := resolver.targetChanged(link)
	if err != nil {
		t.Fatalf("target changed: %v", err)
	}
	if !changed || got != oldTarget || want != newTarget {
		t.Fatalf("expected %q -> %q, got %q -> %q changed=%v", oldTarget, newTarget, got, want, changed)
	}
}

func TestCircularSymlinkExcludedUntilChanged(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	if err := os.Symlink(b, a); err != nil {
		t.Fatalf("symlink a: %v", err)
	}
	if err := os.Symlink(a, b); err != nil {
		t.Fatalf("symlink b: %v", err)
	}

	resolver := newSymlinkResolver(10)
	if err := resolver.record(a); !errors.Is(err, ErrCircularSymlink) {
		t.Fatalf("expected ErrCircularSymlink, got %v", err)
	}
	if !resolver.isExcluded(a) {
		t.Fatal("expected circular link to be excluded from tracking")
	}

	// Break the cycle; the next modify retries and clears the exclusion.
	target := filepath.Join(root, "target.txt")
	if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
		t.Fatalf("write target: %v", err)
	}
	if err := os.Remove(b); err != nil {
		t.Fatalf("remove b: %v", err)
	}
	if err := os.Symlink(target, b); err != nil {
		t.Fatalf("relink b: %v", err)
	}

	if _, _, _, err := resolver.targetChanged(a); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if resolver.isExcluded(a) {
		t.Fatal("expected exclusion to clear after the link changed")
	}
}
