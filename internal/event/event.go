// Package event defines the structured records emitted by the trace
// controller: process lifecycle, program execution, and file access.
package event

import "time"

// Kind identifies what a trace event records.
type Kind string

const (
	// Lifecycle events.
	KindFork   Kind = "fork"
	KindExited Kind = "exited"
	KindKilled Kind = "killed"

	// Execution events.
	KindExec Kind = "exec"

	// File access events.
	KindOpen   Kind = "open"
	KindStat   Kind = "stat"
	KindRename Kind = "rename"
	KindUnlink Kind = "unlink"
	KindMkdir  Kind = "mkdir"
)

// Access is the intent of an open.
type Access string

const (
	AccessRead      Access = "read"
	AccessWrite     Access = "write"
	AccessReadWrite Access = "readwrite"
)

// Mode bits used by the opened-files projection in the trace database.
// The working-directory bit marks paths a process used as its cwd.
const (
	ModeRead    = 0x01
	ModeWrite   = 0x02
	ModeWorkDir = 0x04
	ModeStat    = 0x08
)

// Event is one record in the provenance trace. Seq is assigned by the sink
// and is strictly increasing within a trace; all other fields are set by the
// controller and never mutated after emission.
type Event struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	PID       int       `json:"pid"`

	// File access fields.
	Path       string `json:"path,omitempty"`
	Dest       string `json:"dest,omitempty"` // rename target
	Access     Access `json:"access,omitempty"`
	Errno      int    `json:"errno,omitempty"` // 0 means success
	Unresolved bool   `json:"unresolved,omitempty"`

	// Execution fields.
	Argv    []string `json:"argv,omitempty"`
	WorkDir string   `json:"working_dir,omitempty"`

	// Lifecycle fields.
	ParentPID int `json:"ppid,omitempty"`
	ExitCode  int `json:"exit_code,omitempty"`
	Signal    int `json:"signal,omitempty"`
}

// Fork records the creation of a child process or thread.
func Fork(parent, child int) Event {
	return Event{Kind: KindFork, PID: child, ParentPID: parent, Timestamp: time.Now()}
}

// Exited records a process exiting on its own with the given code.
func Exited(pid, code int) Event {
	return Event{Kind: KindExited, PID: pid, ExitCode: code, Timestamp: time.Now()}
}

// Killed records a process terminated by a signal.
func Killed(pid, sig int) Event {
	return Event{Kind: KindKilled, PID: pid, Signal: sig, Timestamp: time.Now()}
}

// Exec records a successful program execution.
func Exec(pid int, path string, argv []string, workDir string) Event {
	return Event{Kind: KindExec, PID: pid, Path: path, Argv: argv, WorkDir: workDir, Timestamp: time.Now()}
}

// Open records an open with the given access intent. errno is zero on
// success.
func Open(pid int, path string, access Access, errno int) Event {
	return Event{Kind: KindOpen, PID: pid, Path: path, Access: access, Errno: errno, Timestamp: time.Now()}
}

// Stat records a metadata-only access.
func Stat(pid int, path string, errno int) Event {
	return Event{Kind: KindStat, PID: pid, Path: path, Errno: errno, Timestamp: time.Now()}
}

// Rename records a rename from path to dest.
func Rename(pid int, path, dest string, errno int) Event {
	return Event{Kind: KindRename, PID: pid, Path: path, Dest: dest, Errno: errno, Timestamp: time.Now()}
}

// Unlink records a file removal.
func Unlink(pid int, path string, errno int) Event {
	return Event{Kind: KindUnlink, PID: pid, Path: path, Errno: errno, Timestamp: time.Now()}
}

// Mkdir records a directory creation.
func Mkdir(pid int, path string, errno int) Event {
	return Event{Kind: KindMkdir, PID: pid, Path: path, Errno: errno, Timestamp: time.Now()}
}

// IsFileAccess reports whether the event touches a path (as opposed to
// lifecycle or exec records).
func (e Event) IsFileAccess() bool {
	switch e.Kind {
	case KindOpen, KindStat, KindRename, KindUnlink, KindMkdir:
		return true
	}
	return false
}

// FileMode returns the opened-files projection mode bits for the event, or
// zero if the event is not a file access.
func (e Event) FileMode() int {
	switch e.Kind {
	case KindOpen:
		switch e.Access {
		case AccessRead:
			return ModeRead
		case AccessWrite:
			return ModeWrite
		case AccessReadWrite:
			return ModeRead | ModeWrite
		}
	case KindStat:
		return ModeStat
	case KindRename, KindUnlink, KindMkdir:
		return ModeWrite
	}
	return 0
}
