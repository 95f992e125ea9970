package tracer

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/provtools/provtrace/internal/event"
	"github.com/provtools/provtrace/internal/proctab"
	"github.com/provtools/provtrace/internal/sink"
	"github.com/provtools/provtrace/internal/sysnum"
)

func newTestController(t *testing.T) (*Controller, *sink.Memory) {
	t.Helper()
	mem := sink.NewMemory(0)
	ctl := NewController(Config{}, proctab.New(), mem)
	return ctl, mem
}

func TestCallErrno(t *testing.T) {
	tests := []struct {
		ret  int64
		want int
	}{
		{0, 0},
		{3, 0},      // returned fd
		{-2, 2},     // ENOENT
		{-13, 13},   // EACCES
		{-4096, 0},  // outside the errno range
		{-8192, 0},  // large negative pointer-ish return
	}
	for _, tt := range tests {
		cl := &call{ret: tt.ret}
		if got := cl.errno(); got != tt.want {
			t.Errorf("errno(ret=%d) = %d, want %d", tt.ret, got, tt.want)
		}
	}
}

func TestOpenAfterChdirResolvesAgainstTrackedCwd(t *testing.T) {
	ctl, mem := newTestController(t)
	ctl.table.AddRoot(100, "/home/user", "/bin/sh", []string{"sh"})

	// chdir("/var/lib") then open("../../etc/group") must resolve to
	// /etc/group regardless of the tracer's own working directory.
	err := ctl.onCallExit(&call{
		pid: 100, op: sysnum.OpChdir, name: "chdir",
		path: "/var/lib", dirfd: noDirFD, ret: 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = ctl.onCallExit(&call{
		pid: 100, op: sysnum.OpOpen, name: "open",
		path: "../../etc/group", dirfd: noDirFD,
		flags: unix.O_RDONLY, ret: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	events := mem.Events()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1 (chdir itself emits nothing)", len(events))
	}
	ev := events[0]
	if ev.Kind != event.KindOpen || ev.Path != "/etc/group" {
		t.Errorf("event = %s %q, want open /etc/group", ev.Kind, ev.Path)
	}
	if ev.Access != event.AccessRead {
		t.Errorf("access = %q, want read", ev.Access)
	}
	if ev.Unresolved {
		t.Error("event flagged unresolved")
	}
}

func TestOpenAtTracksDirDescriptor(t *testing.T) {
	ctl, mem := newTestController(t)

	dir := t.TempDir()
	sub := filepath.Join(dir, "data")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	ctl.table.AddRoot(100, dir, "/bin/sh", nil)

	// open(dir/data, O_DIRECTORY) = fd 5, then openat(5, "file").
	err := ctl.onCallExit(&call{
		pid: 100, op: sysnum.OpOpen, name: "open",
		path: "data", dirfd: noDirFD,
		flags: unix.O_RDONLY | unix.O_DIRECTORY, ret: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = ctl.onCallExit(&call{
		pid: 100, op: sysnum.OpOpenAt, name: "openat",
		path: "file", dirfd: 5,
		flags: unix.O_WRONLY, ret: 6,
	})
	if err != nil {
		t.Fatal(err)
	}

	events := mem.Events()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	want := filepath.Join(sub, "file")
	if events[1].Path != want {
		t.Errorf("openat path = %q, want %q", events[1].Path, want)
	}
	if events[1].Access != event.AccessWrite {
		t.Errorf("access = %q, want write", events[1].Access)
	}

	// close(5) drops the tracked directory; a later openat is unresolved.
	err = ctl.onCallExit(&call{pid: 100, op: sysnum.OpClose, name: "close", dirfd: 5, ret: 0})
	if err != nil {
		t.Fatal(err)
	}
	err = ctl.onCallExit(&call{
		pid: 100, op: sysnum.OpOpenAt, name: "openat",
		path: "other", dirfd: 5,
		flags: unix.O_RDONLY, ret: 7,
	})
	if err != nil {
		t.Fatal(err)
	}
	events = mem.Events()
	last := events[len(events)-1]
	if !last.Unresolved {
		t.Error("openat on closed descriptor not flagged unresolved")
	}
	if last.Path != "other" {
		t.Errorf("unresolved path = %q, want raw %q", last.Path, "other")
	}
}

func TestOpenAtCwdDescriptor(t *testing.T) {
	ctl, mem := newTestController(t)
	ctl.table.AddRoot(100, "/work", "/bin/sh", nil)

	err := ctl.onCallExit(&call{
		pid: 100, op: sysnum.OpOpenAt, name: "openat",
		path: "out.log", dirfd: unix.AT_FDCWD,
		flags: unix.O_WRONLY | unix.O_CREAT, ret: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	events := mem.Events()
	if len(events) != 1 || events[0].Path != "/work/out.log" {
		t.Fatalf("events = %+v, want single open of /work/out.log", events)
	}
}

func TestFailedOpenStillEmitted(t *testing.T) {
	ctl, mem := newTestController(t)
	ctl.table.AddRoot(100, "/", "/bin/sh", nil)

	err := ctl.onCallExit(&call{
		pid: 100, op: sysnum.OpOpen, name: "open",
		path: "/nonexistent", dirfd: noDirFD,
		flags: unix.O_RDONLY, ret: -2,
	})
	if err != nil {
		t.Fatal(err)
	}
	events := mem.Events()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Errno != 2 {
		t.Errorf("errno = %d, want 2", events[0].Errno)
	}
}

func TestRenameResolvesBothPaths(t *testing.T) {
	ctl, mem := newTestController(t)
	ctl.table.AddRoot(100, "/work", "/bin/mv", nil)

	err := ctl.onCallExit(&call{
		pid: 100, op: sysnum.OpRename, name: "rename",
		path: "old.txt", path2: "sub/new.txt",
		dirfd: noDirFD, dirfd2: noDirFD, ret: 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	events := mem.Events()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Path != "/work/old.txt" || ev.Dest != "/work/sub/new.txt" {
		t.Errorf("rename = %q -> %q", ev.Path, ev.Dest)
	}
}

func TestForkThenChildEvents(t *testing.T) {
	ctl, mem := newTestController(t)
	ctl.table.AddRoot(100, "/work", "/bin/sh", nil)

	if err := ctl.onFork(100, 101, false); err != nil {
		t.Fatal(err)
	}
	err := ctl.onCallExit(&call{
		pid: 101, op: sysnum.OpOpen, name: "open",
		path: "child.txt", dirfd: noDirFD,
		flags: unix.O_RDONLY, ret: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	events := mem.Events()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Kind != event.KindFork || events[0].PID != 101 || events[0].ParentPID != 100 {
		t.Errorf("first event = %+v, want fork of 101 from 100", events[0])
	}
	if events[0].Seq >= events[1].Seq {
		t.Errorf("fork seq %d not before child event seq %d", events[0].Seq, events[1].Seq)
	}
	// The child inherited the parent's cwd at fork time.
	if events[1].Path != "/work/child.txt" {
		t.Errorf("child open path = %q, want /work/child.txt", events[1].Path)
	}
}

func TestUntrackedProcessIsIgnored(t *testing.T) {
	ctl, mem := newTestController(t)

	err := ctl.onCallExit(&call{
		pid: 999, op: sysnum.OpOpen, name: "open",
		path: "/x", dirfd: noDirFD, ret: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(mem.Events()); got != 0 {
		t.Errorf("len(events) = %d, want 0", got)
	}
}

func TestRootExitSetsResult(t *testing.T) {
	ctl, mem := newTestController(t)
	ctl.table.AddRoot(100, "/", "/bin/sh", nil)
	ctl.rootPID = 100

	if err := ctl.onExited(100, 3); err != nil {
		t.Fatal(err)
	}
	if ctl.result.ExitCode != 3 || ctl.result.Signaled {
		t.Errorf("result = %+v, want exit code 3", ctl.result)
	}
	if got := ctl.Result().WaitCode(); got != 3 {
		t.Errorf("WaitCode() = %d, want 3", got)
	}
	events := mem.Events()
	if len(events) != 1 || events[0].Kind != event.KindExited {
		t.Fatalf("events = %+v, want single exited", events)
	}
	if _, err := ctl.table.Lookup(100); err == nil {
		t.Error("process still tracked after exit event sequenced")
	}
}

func TestRootKilledSetsResult(t *testing.T) {
	ctl, _ := newTestController(t)
	ctl.table.AddRoot(100, "/", "/bin/sh", nil)
	ctl.rootPID = 100

	if err := ctl.onKilled(100, 9); err != nil {
		t.Fatal(err)
	}
	if !ctl.result.Signaled || ctl.result.Signal != 9 {
		t.Errorf("result = %+v, want signaled by 9", ctl.result)
	}
	if got := ctl.Result().WaitCode(); got != 0x0100|9 {
		t.Errorf("WaitCode() = %#x, want %#x", got, 0x0100|9)
	}
}

func TestExecEmitsWorkDir(t *testing.T) {
	ctl, mem := newTestController(t)
	ctl.table.AddRoot(100, "/build", "/bin/sh", []string{"sh"})

	if err := ctl.onExec(100, "/usr/bin/make", []string{"make", "all"}); err != nil {
		t.Fatal(err)
	}
	events := mem.Events()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != event.KindExec || ev.Path != "/usr/bin/make" {
		t.Errorf("event = %s %q", ev.Kind, ev.Path)
	}
	if ev.WorkDir != "/build" {
		t.Errorf("workdir = %q, want /build", ev.WorkDir)
	}

	p, err := ctl.table.Lookup(100)
	if err != nil {
		t.Fatal(err)
	}
	if p.Exe != "/usr/bin/make" || len(p.Argv) != 2 {
		t.Errorf("table not updated: exe=%q argv=%v", p.Exe, p.Argv)
	}
}

func TestStatusLifecycle(t *testing.T) {
	ctl, _ := newTestController(t)
	if ctl.Status() != Idle {
		t.Errorf("new controller status = %v, want Idle", ctl.Status())
	}

	want := map[Status]string{
		Idle:      "idle",
		Attaching: "attaching",
		Running:   "running",
		Draining:  "draining",
		Completed: "completed",
		Aborted:   "aborted",
	}
	for s, name := range want {
		if s.String() != name {
			t.Errorf("Status(%d).String() = %q, want %q", s, s.String(), name)
		}
	}
	if got := Status(99).String(); got != "status(99)" {
		t.Errorf("unknown status String() = %q", got)
	}
}

func TestFollowFlags(t *testing.T) {
	if followFlags(sysnum.OpStatAt, unix.AT_SYMLINK_NOFOLLOW) {
		t.Error("AT_SYMLINK_NOFOLLOW should disable following")
	}
	if !followFlags(sysnum.OpStatAt, 0) {
		t.Error("fstatat without flags should follow")
	}
	if followFlags(sysnum.OpUnlinkAt, 0) {
		t.Error("unlinkat never follows")
	}
}
