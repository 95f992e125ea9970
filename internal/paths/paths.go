// Package paths resolves raw syscall path arguments to canonical absolute
// paths. Resolution is pure: it works only from the process state the tracer
// has tracked (cwd, opened directories), never from the tracer's own cwd, so
// traversal spellings like ../../../etc/passwd resolve to the true target.
package paths

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DirLookup reports the directory path tracked for an open file descriptor.
type DirLookup func(fd int) (string, bool)

// Canonical collapses . and .. segments. The input must be absolute.
func Canonical(path string) string {
	return filepath.Clean(path)
}

// Resolve resolves raw against the process's tracked working directory.
func Resolve(cwd, raw string) string {
	if raw == "" {
		return Canonical(cwd)
	}
	if filepath.IsAbs(raw) {
		return Canonical(raw)
	}
	return Canonical(filepath.Join(cwd, raw))
}

// ResolveAt resolves raw for an *at-family call. AT_FDCWD means the tracked
// working directory; any other descriptor is looked up in the process's
// opened-directory map. An unknown descriptor yields resolved=false with the
// raw path passed through, which callers record as a flagged best effort.
func ResolveAt(cwd string, dirfd int, lookup DirLookup, raw string) (string, bool) {
	if raw != "" && filepath.IsAbs(raw) {
		return Canonical(raw), true
	}
	if dirfd == unix.AT_FDCWD {
		return Resolve(cwd, raw), true
	}
	if lookup != nil {
		if dir, ok := lookup(dirfd); ok {
			return Resolve(dir, raw), true
		}
	}
	return raw, false
}

// Follow dereferences one level of symlink in the final component, for
// operations that semantically follow symlinks. If the path is not a symlink
// or cannot be read, it is returned unchanged.
func Follow(path string) string {
	target, err := os.Readlink(path)
	if err != nil {
		return path
	}
	if filepath.IsAbs(target) {
		return Canonical(target)
	}
	return Canonical(filepath.Join(filepath.Dir(path), target))
}
