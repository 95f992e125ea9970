package tracer

import "errors"

var (
	// ErrAttachDenied means the tracer lacks privilege to attach to the
	// target (ptrace scope restrictions or insufficient capabilities).
	ErrAttachDenied = errors.New("attach denied")

	// ErrUnsupportedArch means the traced process runs in an execution
	// mode with no syscall table entry.
	ErrUnsupportedArch = errors.New("unsupported architecture")

	// ErrProcessVanished means contact was lost with a process the tracer
	// still expected to be alive. Fatal for the root process; descendants
	// are pruned and tracing continues.
	ErrProcessVanished = errors.New("process vanished")

	// ErrUnsupportedPlatform means the tracing engine is not available on
	// this OS/architecture combination.
	ErrUnsupportedPlatform = errors.New("tracing not supported on this platform")
)
