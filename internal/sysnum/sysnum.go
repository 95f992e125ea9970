// Package sysnum maps raw syscall numbers to the semantic operations the
// tracer records. The same operation arrives as different numbers depending
// on the tracee's execution mode, so lookup is a two-step: pick the table for
// the mode (x86-64 native, i386 legacy, or x32 compat), then the number.
package sysnum

import "golang.org/x/sys/unix"

// Op is the semantic operation behind a syscall number.
type Op int

const (
	OpIgnored Op = iota // not file-system relevant, skipped without decoding
	OpOpen              // open, creat
	OpOpenAt
	OpStat   // stat, fstatat following symlinks
	OpLStat  // lstat, final component not followed
	OpStatAt // newfstatat / fstatat64
	OpAccess
	OpAccessAt
	OpReadlink
	OpReadlinkAt
	OpRename
	OpRenameAt
	OpUnlink
	OpUnlinkAt
	OpMkdir
	OpMkdirAt
	OpChdir
	OpFchdir
	OpExec
	OpExecAt
	OpClone // fork, vfork, clone; child pickup happens via ptrace events
	OpClose
	OpExit // exit, exit_group
)

// Mode is a syscall numbering scheme.
type Mode int

const (
	ModeAMD64 Mode = iota // native 64-bit
	Mode386               // legacy 32-bit
	ModeX32               // 32-bit ABI on 64-bit numbers, tagged
)

// X32SyscallBit tags x32-mode syscall numbers on x86-64.
const X32SyscallBit = 0x40000000

// Call describes one table entry.
type Call struct {
	Op   Op
	Name string
}

// Classify determines the numbering mode and the effective syscall number
// from the tracee's word size and the raw number. The tag bit wins over word
// size: x32 processes are 32-bit but number their syscalls off the 64-bit
// table.
func Classify(wordSize int, raw uint64) (Mode, uint64) {
	if raw&X32SyscallBit != 0 {
		return ModeX32, raw &^ X32SyscallBit
	}
	if wordSize == 4 {
		return Mode386, raw
	}
	return ModeAMD64, raw
}

// Lookup returns the call entry for nr under mode. Numbers not in the table
// classify as ignored; that is the normal case, not an error.
func Lookup(mode Mode, nr uint64) (Call, bool) {
	var c Call
	var ok bool
	switch mode {
	case Mode386:
		c, ok = table386[nr]
	case ModeX32:
		// x32 shares the 64-bit numbering except for the handful of
		// calls that pass pointer-bearing structs.
		if c, ok = tableX32[nr]; !ok {
			c, ok = tableAMD64[nr]
		}
	default:
		c, ok = tableAMD64[nr]
	}
	if !ok {
		return Call{Op: OpIgnored}, false
	}
	return c, true
}

// OpenAccess decodes open(2) flags into an access intent.
func OpenAccess(flags uint64) string {
	switch flags & unix.O_ACCMODE {
	case unix.O_WRONLY:
		return "write"
	case unix.O_RDWR:
		return "readwrite"
	default:
		return "read"
	}
}

// FollowsSymlinks reports whether the operation dereferences a symlink in
// the final path component.
func (o Op) FollowsSymlinks() bool {
	switch o {
	case OpLStat, OpReadlink, OpReadlinkAt, OpUnlink, OpUnlinkAt, OpRename, OpRenameAt:
		return false
	}
	return true
}
