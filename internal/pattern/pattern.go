// Package pattern compiles Unix-style glob patterns (*, **, ?) into path
// matchers and computes the minimal set of directories that must be watched
// to observe every match.
package pattern

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var ErrInvalidPattern = errors.New("invalid glob pattern")

// WatchDir is one directory the watch registry must cover. Recursive means
// the directory and everything below it, including subdirectories created
// later.
type WatchDir struct {
	Path      string
	Recursive bool
}

// Matcher matches absolute paths against one compiled pattern.
type Matcher struct {
	raw         string
	matchGlob   string // absolute, slash-separated form used for matching
	root        string
	literal     bool
	recursive   bool
	fixedPrefix string // deepest wildcard-free directory prefix
}

// Compile resolves a relative pattern against root and validates the glob.
// Patterns with no wildcards denote a single explicit path.
func Compile(raw, root string) (*Matcher, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve pattern root: %w", err)
	}

	abs := raw
	if !filepath.IsAbs(raw) {
		abs = filepath.Join(absRoot, raw)
	} else {
		abs = filepath.Clean(raw)
	}
	matchGlob := filepath.ToSlash(abs)
	if !doublestar.ValidatePattern(matchGlob) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, raw)
	}

	matcher := &Matcher{
		raw:       raw,
		matchGlob: matchGlob,
		root:      absRoot,
		literal:   !strings.ContainsAny(matchGlob, "*?["),
	}

	segments := strings.Split(matchGlob, "/")
	firstWild := -1
	for i, segment := range segments {
		if segment == "**" {
			matcher.recursive = true
		}
		if firstWild < 0 && strings.ContainsAny(segment, "*?[") {
			firstWild = i
		}
	}
	switch {
	case matcher.literal:
		matcher.fixedPrefix = filepath.Dir(abs)
	case firstWild <= 0:
		// A wildcard in the leading segment (volume or root) collapses the
		// prefix to the filesystem root.
		matcher.fixedPrefix = string(filepath.Separator)
	default:
		matcher.fixedPrefix = filepath.FromSlash(strings.Join(segments[:firstWild], "/"))
		if matcher.fixedPrefix == "" {
			matcher.fixedPrefix = string(filepath.Separator)
		}
	}

	return matcher, nil
}

// Pattern returns the pattern as supplied by the caller.
func (m *Matcher) Pattern() string {
	return m.raw
}

// Match reports whether path (absolute, or relative to the compile root)
// matches the pattern.
func (m *Matcher) Match(path string) bool {
	if m == nil || path == "" {
		return false
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.root, path)
	} else {
		path = filepath.Clean(path)
	}
	candidate := filepath.ToSlash(path)
	if m.literal {
		return candidate == m.matchGlob
	}
	ok, err := doublestar.Match(m.matchGlob, candidate)
	return err == nil && ok
}

// ExpandsOnNewDirs reports whether the watch set depends on which
// intermediate directories exist, so it must be recomputed when a directory
// appears inside a watched one.
func (m *Matcher) ExpandsOnNewDirs() bool {
	if m == nil || m.literal || m.recursive {
		return false
	}
	return strings.ContainsAny(pathDir(m.matchGlob), "*?[")
}

// RecursiveRoot returns the fixed prefix below which the pattern requires
// recursive watching, if any.
func (m *Matcher) RecursiveRoot() (string, bool) {
	if m == nil || !m.recursive {
		return "", false
	}
	return m.fixedPrefix, true
}

// MinimalDirs computes the concrete directories to watch. Patterns with
// wildcards in intermediate segments are expanded against the current
// filesystem; the fixed prefix is always included so directories created
// later at an intermediate level are observed.
func (m *Matcher) MinimalDirs() []WatchDir {
	if m == nil {
		return nil
	}
	if m.literal {
		return []WatchDir{{Path: m.fixedPrefix}}
	}
	if m.recursive {
		return []WatchDir{{Path: m.fixedPrefix, Recursive: true}}
	}

	dirGlob := pathDir(m.matchGlob)
	if !strings.ContainsAny(dirGlob, "*?[") {
		// Wildcards confined to the final segment: one directory suffices.
		return []WatchDir{{Path: filepath.FromSlash(dirGlob)}}
	}

	seen := map[string]struct{}{m.fixedPrefix: {}}
	for _, prefix := range wildcardPrefixes(dirGlob) {
		matches, err := doublestar.FilepathGlob(filepath.FromSlash(prefix))
		if err != nil {
			continue
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || !info.IsDir() {
				continue
			}
			seen[filepath.Clean(match)] = struct{}{}
		}
	}

	dirs := make([]WatchDir, 0, len(seen))
	for dir := range seen {
		dirs = append(dirs, WatchDir{Path: dir})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Path < dirs[j].Path })
	return dirs
}

// wildcardPrefixes returns every prefix of dirGlob that ends at or after the
// first wildcard segment, so each intermediate level gets enumerated.
func wildcardPrefixes(dirGlob string) []string {
	segments := strings.Split(dirGlob, "/")
	firstWild := -1
	for i, segment := range segments {
		if strings.ContainsAny(segment, "*?[") {
			firstWild = i
			break
		}
	}
	if firstWild < 0 {
		return nil
	}
	prefixes := make([]string, 0, len(segments)-firstWild)
	for end := firstWild + 1; end <= len(segments); end++ {
		prefixes = append(prefixes, strings.Join(segments[:end], "/"))
	}
	return prefixes
}

func pathDir(slashed string) string {
	idx := strings.LastIndex(slashed, "/")
	if idx <= 0 {
		return "/"
	}
	return slashed[:idx]
}
