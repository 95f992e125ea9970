package paths

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		cwd  string
		raw  string
		want string
	}{
		{"absolute passes through", "/home/user", "/etc/passwd", "/etc/passwd"},
		{"relative joins cwd", "/home/user", "data.txt", "/home/user/data.txt"},
		{"empty means cwd", "/home/user", "", "/home/user"},
		{"dot segments collapse", "/home/user", "./a/./b", "/home/user/a/b"},
		{"traversal out of cwd", "/var/lib", "../../etc/group", "/etc/group"},
		{"traversal past root clamps", "/tmp", "../../../../etc/passwd", "/etc/passwd"},
		{"absolute with traversal", "/home", "/var/../etc/hosts", "/etc/hosts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.cwd, tt.raw); got != tt.want {
				t.Errorf("Resolve(%q, %q) = %q, want %q", tt.cwd, tt.raw, got, tt.want)
			}
		})
	}
}

func TestResolveAt(t *testing.T) {
	lookup := func(fd int) (string, bool) {
		if fd == 7 {
			return "/srv/data", true
		}
		return "", false
	}

	t.Run("AT_FDCWD uses cwd", func(t *testing.T) {
		got, ok := ResolveAt("/work", unix.AT_FDCWD, lookup, "out.log")
		if !ok || got != "/work/out.log" {
			t.Errorf("got (%q, %v), want (/work/out.log, true)", got, ok)
		}
	})

	t.Run("known dirfd", func(t *testing.T) {
		got, ok := ResolveAt("/work", 7, lookup, "chunk.bin")
		if !ok || got != "/srv/data/chunk.bin" {
			t.Errorf("got (%q, %v), want (/srv/data/chunk.bin, true)", got, ok)
		}
	})

	t.Run("known dirfd with traversal", func(t *testing.T) {
		got, ok := ResolveAt("/work", 7, lookup, "../archive/x")
		if !ok || got != "/srv/archive/x" {
			t.Errorf("got (%q, %v), want (/srv/archive/x, true)", got, ok)
		}
	})

	t.Run("unknown dirfd is unresolved", func(t *testing.T) {
		got, ok := ResolveAt("/work", 9, lookup, "rel.txt")
		if ok {
			t.Error("resolved = true, want false")
		}
		if got != "rel.txt" {
			t.Errorf("got %q, want raw path passed through", got)
		}
	})

	t.Run("absolute ignores dirfd", func(t *testing.T) {
		got, ok := ResolveAt("/work", 9, lookup, "/etc/hosts")
		if !ok || got != "/etc/hosts" {
			t.Errorf("got (%q, %v), want (/etc/hosts, true)", got, ok)
		}
	})

	t.Run("nil lookup", func(t *testing.T) {
		if _, ok := ResolveAt("/work", 3, nil, "x"); ok {
			t.Error("resolved = true with nil lookup, want false")
		}
	})
}

func TestFollow(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if got := Follow(link); got != target {
		t.Errorf("Follow(%q) = %q, want %q", link, got, target)
	}

	rel := filepath.Join(dir, "rel.txt")
	if err := os.Symlink("real.txt", rel); err != nil {
		t.Fatal(err)
	}
	if got := Follow(rel); got != target {
		t.Errorf("Follow(%q) = %q, want %q", rel, got, target)
	}

	// Non-symlinks and missing paths pass through.
	if got := Follow(target); got != target {
		t.Errorf("Follow(regular) = %q, want %q", got, target)
	}
	missing := filepath.Join(dir, "nope")
	if got := Follow(missing); got != missing {
		t.Errorf("Follow(missing) = %q, want %q", got, missing)
	}
}
