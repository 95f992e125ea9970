// Package tracer implements the syscall-interception trace controller: it
// attaches to a process tree with ptrace, decodes file-system-relevant
// syscalls across execution modes, resolves the paths they touch, and emits
// an ordered provenance trace.
package tracer

import "fmt"

// Status is the controller's lifecycle state.
type Status int

const (
	Idle Status = iota
	Attaching
	Running
	Draining
	Completed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Attaching:
		return "attaching"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Config configures a tracing session.
type Config struct {
	// Argv is the command to launch stopped-at-entry. Ignored when
	// AttachPID is set.
	Argv []string

	// AttachPID attaches to an already-running process instead of
	// launching one.
	AttachPID int

	// Arg0 overrides argv[0] as seen by the launched command, without
	// changing which binary is executed.
	Arg0 string

	// WorkDir is the working directory for a launched command. Defaults
	// to the tracer's own working directory.
	WorkDir string

	// Env is the environment for a launched command. Defaults to the
	// tracer's environment.
	Env []string
}

// Result describes how the traced root process ended. A controller-side
// failure is reported as an error from Run, never folded into Result, so
// callers can tell "the traced program failed" from "the tracer failed".
type Result struct {
	// ExitCode is the root process's own exit code.
	ExitCode int

	// Signaled is true when the root was terminated by a signal.
	Signaled bool

	// Signal is the terminating signal when Signaled.
	Signal int

	// Complete is false when tracing was interrupted and the trace is a
	// valid partial capture.
	Complete bool
}

// WaitCode folds the result into the single-integer convention used by the
// trace database: plain exit codes as-is, signal terminations as
// 0x0100|signo.
func (r *Result) WaitCode() int {
	if r.Signaled {
		return 0x0100 | r.Signal
	}
	return r.ExitCode
}
