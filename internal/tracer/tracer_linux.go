//go:build linux && amd64

package tracer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/provtools/provtrace/internal/log"
	"github.com/provtools/provtrace/internal/sysnum"
)

// ptOptions asks the kernel to auto-attach every descendant and to tag
// syscall stops (bit 0x80 on the stop signal) so they cannot be confused
// with real SIGTRAPs.
const ptOptions = syscall.PTRACE_O_TRACECLONE |
	syscall.PTRACE_O_TRACEFORK |
	syscall.PTRACE_O_TRACEVFORK |
	syscall.PTRACE_O_TRACEEXEC |
	syscall.PTRACE_O_TRACESYSGOOD |
	syscall.PTRACE_O_TRACEEXIT

const traceSysGoodBit = 0x80

// tracee is the engine's per-pid bookkeeping, separate from the process
// table: syscall entry/exit phase and the call pending completion.
type tracee struct {
	insyscall bool
	started   bool
	pending   *call
	wordSize  int
}

// engine drives the ptrace reactor loop. Everything runs on one locked OS
// thread; ptrace requests must come from the thread that attached.
type engine struct {
	ctl      *Controller
	tracees  map[int]*tracee
	parked   map[int]bool // stopped children seen before their fork event
	pendExec map[int]*execImage
	cloneFl  map[int]uint64

	// alive mirrors the tracee set for the watcher goroutine, which must
	// not touch the loop-owned maps.
	aliveMu sync.Mutex
	alive   map[int]bool
}

func (e *engine) trackAlive(pid int) {
	e.aliveMu.Lock()
	e.alive[pid] = true
	e.aliveMu.Unlock()
}

func (e *engine) untrackAlive(pid int) {
	e.aliveMu.Lock()
	delete(e.alive, pid)
	e.aliveMu.Unlock()
}

// wakeAll nudges every live tracee so a wait4 blocked on compute-bound
// processes returns promptly once a drain is requested. The loop swallows
// the resulting stops instead of re-injecting them.
func (e *engine) wakeAll() {
	e.aliveMu.Lock()
	defer e.aliveMu.Unlock()
	for pid := range e.alive {
		_ = unix.Kill(pid, unix.SIGSTOP)
	}
}

// stopRequested reports whether an orderly drain has been requested.
func (e *engine) stopRequested() bool {
	select {
	case <-e.ctl.stop:
		return true
	default:
		return false
	}
}

// execImage is the exec argument set captured at syscall entry, emitted when
// the exec event confirms success.
type execImage struct {
	path       string
	argv       []string
	unresolved bool
}

// Run executes the tracing session to completion. The returned Result
// describes the traced program; a non-nil error means the tracer itself
// failed (Aborted) and the partial trace was still flushed.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	e := &engine{
		ctl:      c,
		tracees:  make(map[int]*tracee),
		parked:   make(map[int]bool),
		pendExec: make(map[int]*execImage),
		cloneFl:  make(map[int]uint64),
		alive:    make(map[int]bool),
	}

	c.setStatus(Attaching)
	var err error
	if c.cfg.AttachPID > 0 {
		err = e.attach(c.cfg.AttachPID)
	} else {
		err = e.launch()
	}
	if err != nil {
		c.setStatus(Aborted)
		_ = c.finalize(false)
		return c.Result(), err
	}

	// Wake the loop when cancellation arrives while all tracees are idle.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-c.stop:
		case <-watchDone:
			return
		}
		e.wakeAll()
	}()

	c.setStatus(Running)
	complete, err := e.loop()
	if err != nil {
		c.setStatus(Aborted)
		_ = c.finalize(false)
		return c.Result(), err
	}

	c.setStatus(Draining)
	if err := c.finalize(complete); err != nil {
		c.setStatus(Aborted)
		return c.Result(), err
	}
	c.setStatus(Completed)
	return c.Result(), nil
}

// launch starts the configured command stopped at its first instruction and
// registers it as the root of the traced tree.
func (e *engine) launch() error {
	argv := e.ctl.cfg.Argv
	if len(argv) == 0 {
		return errors.New("no command to trace")
	}

	exePath, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("locating %s: %w", argv[0], err)
	}
	if !filepath.IsAbs(exePath) {
		if abs, err := filepath.Abs(exePath); err == nil {
			exePath = abs
		}
	}

	cmd := exec.Command(exePath, argv[1:]...)
	cmd.Args = argv
	if e.ctl.cfg.Arg0 != "" {
		cmd.Args = append([]string{e.ctl.cfg.Arg0}, argv[1:]...)
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = e.ctl.cfg.WorkDir
	cmd.Env = e.ctl.cfg.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EPERM) {
			return fmt.Errorf("%w: starting %s: %v", ErrAttachDenied, exePath, err)
		}
		return fmt.Errorf("starting %s: %w", exePath, err)
	}
	pid := cmd.Process.Pid

	// The child stops with SIGTRAP at execve; Wait observes the stop
	// without reaping.
	_ = cmd.Wait()
	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	if !ok || !ws.Stopped() {
		return fmt.Errorf("traced command did not reach its initial stop")
	}

	cwd := e.ctl.cfg.WorkDir
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		} else {
			cwd = "/"
		}
	}
	return e.registerRoot(pid, cwd, exePath, argv)
}

// attach seizes an already-running process as the root.
func (e *engine) attach(pid int) error {
	if err := syscall.PtraceAttach(pid); err != nil {
		switch {
		case errors.Is(err, syscall.EPERM):
			return fmt.Errorf("%w: ptrace attach to pid %d", ErrAttachDenied, pid)
		case errors.Is(err, syscall.ESRCH):
			return fmt.Errorf("%w: pid %d", ErrProcessVanished, pid)
		}
		return fmt.Errorf("attaching to pid %d: %w", pid, err)
	}

	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(pid, &ws, 0, nil); err != nil {
		return fmt.Errorf("waiting for attach stop of pid %d: %w", pid, err)
	}

	cwd, _ := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
	if cwd == "" {
		cwd = "/"
	}
	exe, _ := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	argv := readCmdline(pid)
	return e.registerRoot(pid, cwd, exe, argv)
}

// registerRoot sets ptrace options, verifies the ABI, and puts the root in
// the process table (unless a continue session already carries it).
func (e *engine) registerRoot(pid int, cwd, exe string, argv []string) error {
	if err := syscall.PtraceSetOptions(pid, ptOptions); err != nil {
		return fmt.Errorf("setting ptrace options on pid %d: %w", pid, err)
	}

	ws, err := wordSizeOf(pid)
	if err != nil {
		return err
	}

	e.ctl.rootPID = pid
	if _, err := e.ctl.table.Lookup(pid); err != nil {
		e.ctl.table.AddRoot(pid, cwd, exe, argv)
	}
	e.tracees[pid] = &tracee{started: true, wordSize: ws}
	e.trackAlive(pid)

	log.Debug("root registered", "pid", pid, "exe", exe, "word_size", ws)
	return e.resume(pid, 0)
}

// loop is the reactor: wait for a stop from any tracee, dispatch it, resume.
// Returns complete=false when the session was drained early by Stop.
func (e *engine) loop() (bool, error) {
	for {
		select {
		case <-e.ctl.stop:
			e.drainDetach()
			return false, nil
		default:
		}

		var ws syscall.WaitStatus
		wpid, err := syscall.Wait4(-1, &ws, syscall.WALL, nil)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			if errors.Is(err, syscall.ECHILD) {
				// Every tracee is gone.
				return true, nil
			}
			return false, fmt.Errorf("wait4: %w", err)
		}

		switch {
		case ws.Exited():
			if err := e.onTermination(wpid, ws.ExitStatus(), 0); err != nil {
				return false, err
			}
		case ws.Signaled():
			if err := e.onTermination(wpid, 0, int(ws.Signal())); err != nil {
				return false, err
			}
		case ws.Stopped():
			if err := e.onStop(wpid, ws); err != nil {
				return false, err
			}
		}

		if len(e.tracees) == 0 {
			return true, nil
		}
	}
}

// onTermination handles a tracee leaving the system for good.
func (e *engine) onTermination(pid, code, sig int) error {
	if _, ok := e.tracees[pid]; !ok {
		log.Debug("termination of untracked process", "pid", pid)
		return nil
	}
	delete(e.tracees, pid)
	delete(e.pendExec, pid)
	delete(e.cloneFl, pid)
	e.untrackAlive(pid)

	if sig != 0 {
		return e.ctl.onKilled(pid, sig)
	}
	return e.ctl.onExited(pid, code)
}

// onStop classifies a trace-stop and dispatches it.
func (e *engine) onStop(pid int, ws syscall.WaitStatus) error {
	t, known := e.tracees[pid]
	stopSig := ws.StopSignal()

	if !known {
		// A child can stop before its parent's fork event is delivered.
		// Park it; the fork event will register and resume it.
		log.Debug("parking early-stopped child", "pid", pid)
		e.parked[pid] = true
		return nil
	}

	switch {
	case int(stopSig) == int(syscall.SIGTRAP)|traceSysGoodBit:
		return e.onSyscallStop(pid, t)
	case stopSig == syscall.SIGTRAP && ws.TrapCause() > 0:
		return e.onEventStop(pid, t, ws.TrapCause())
	case stopSig == syscall.SIGSTOP && !t.started:
		// Initial stop of an auto-attached child: swallow it.
		t.started = true
		return e.resume(pid, 0)
	case stopSig == syscall.SIGSTOP && e.stopRequested():
		// Wake-up signal from the drain path, not the outside world;
		// must not reach the tracee.
		return e.resume(pid, 0)
	default:
		// A real signal: re-inject unchanged so tracing stays
		// transparent.
		return e.resume(pid, int(stopSig))
	}
}

// onSyscallStop toggles between syscall entry and exit for the tracee.
func (e *engine) onSyscallStop(pid int, t *tracee) error {
	var regs syscall.PtraceRegs
	if err := syscall.PtraceGetRegs(pid, &regs); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return e.vanished(pid)
		}
		return fmt.Errorf("reading registers of pid %d: %w", pid, err)
	}

	if !t.insyscall {
		t.insyscall = true
		t.pending = e.decodeEntry(pid, t, &regs)
	} else {
		t.insyscall = false
		if cl := t.pending; cl != nil {
			t.pending = nil
			cl.ret = int64(regs.Rax)
			if err := e.ctl.onCallExit(cl); err != nil {
				return err
			}
		}
	}
	return e.resume(pid, 0)
}

// decodeEntry reads the syscall number and the file-system-relevant
// arguments at syscall entry. Unknown numbers are skipped without touching
// tracee memory.
func (e *engine) decodeEntry(pid int, t *tracee, regs *syscall.PtraceRegs) *call {
	mode, nr := sysnum.Classify(t.wordSize, regs.Orig_rax)
	entry, ok := sysnum.Lookup(mode, nr)
	if !ok || entry.Op == sysnum.OpIgnored {
		return nil
	}

	args := argRegs(mode, regs)
	cl := &call{pid: pid, op: entry.Op, name: entry.Name, dirfd: noDirFD, dirfd2: noDirFD}

	peek := func(arg uint64) string {
		s, err := peekString(pid, uintptr(arg))
		if err != nil {
			log.Debug("reading path argument failed", "pid", pid, "syscall", entry.Name, "error", err)
		}
		return s
	}

	switch entry.Op {
	case sysnum.OpOpen:
		cl.path = peek(args[0])
		if entry.Name == "creat" {
			cl.flags = unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC
		} else {
			cl.flags = args[1]
		}
	case sysnum.OpOpenAt:
		cl.dirfd = dirFDArg(args[0])
		cl.path = peek(args[1])
		cl.flags = args[2]
	case sysnum.OpStat, sysnum.OpLStat, sysnum.OpAccess, sysnum.OpReadlink, sysnum.OpChdir:
		cl.path = peek(args[0])
	case sysnum.OpStatAt:
		cl.dirfd = dirFDArg(args[0])
		cl.path = peek(args[1])
		cl.flags = args[3]
	case sysnum.OpAccessAt:
		cl.dirfd = dirFDArg(args[0])
		cl.path = peek(args[1])
		cl.flags = args[3]
	case sysnum.OpReadlinkAt:
		cl.dirfd = dirFDArg(args[0])
		cl.path = peek(args[1])
	case sysnum.OpRename:
		cl.path = peek(args[0])
		cl.path2 = peek(args[1])
	case sysnum.OpRenameAt:
		cl.dirfd = dirFDArg(args[0])
		cl.path = peek(args[1])
		cl.dirfd2 = dirFDArg(args[2])
		cl.path2 = peek(args[3])
	case sysnum.OpUnlink, sysnum.OpMkdir:
		cl.path = peek(args[0])
	case sysnum.OpUnlinkAt, sysnum.OpMkdirAt:
		cl.dirfd = dirFDArg(args[0])
		cl.path = peek(args[1])
		if entry.Op == sysnum.OpUnlinkAt {
			cl.flags = args[2]
		}
	case sysnum.OpFchdir, sysnum.OpClose:
		cl.dirfd = int(int32(args[0]))
	case sysnum.OpExec:
		e.captureExec(pid, noDirFD, peek(args[0]), args[1], t.wordSize)
		return nil
	case sysnum.OpExecAt:
		e.captureExec(pid, dirFDArg(args[0]), peek(args[1]), args[2], t.wordSize)
		return nil
	case sysnum.OpClone:
		if entry.Name == "clone" {
			e.cloneFl[pid] = args[0]
		} else {
			delete(e.cloneFl, pid)
		}
		return nil
	case sysnum.OpExit:
		return nil
	}
	return cl
}

// captureExec resolves the exec target and stashes it until the exec event
// confirms the image actually replaced the process.
func (e *engine) captureExec(pid, dirfd int, rawPath string, argvAddr uint64, wordSize int) {
	img := &execImage{}
	img.argv, _ = peekStringArray(pid, uintptr(argvAddr), wordSize)
	if p, err := e.ctl.table.Lookup(pid); err == nil {
		resolved, ok := e.ctl.resolve(p, dirfd, rawPath, true)
		img.path = resolved
		img.unresolved = !ok
	} else {
		img.path = rawPath
		img.unresolved = true
	}
	e.pendExec[pid] = img
}

// onEventStop handles ptrace lifecycle events: fork/clone, exec, exit.
func (e *engine) onEventStop(pid int, t *tracee, cause int) error {
	switch cause {
	case syscall.PTRACE_EVENT_FORK, syscall.PTRACE_EVENT_VFORK, syscall.PTRACE_EVENT_CLONE:
		msg, err := syscall.PtraceGetEventMsg(pid)
		if err != nil {
			log.Warn("reading forked child pid failed", "pid", pid, "error", err)
			return e.resume(pid, 0)
		}
		child := int(msg)
		if err := e.registerChild(pid, t, child); err != nil {
			return err
		}

	case syscall.PTRACE_EVENT_EXEC:
		if err := e.handleExecEvent(pid, t); err != nil {
			return err
		}

	case syscall.PTRACE_EVENT_EXIT:
		// Termination is recorded at the final wait status; nothing to
		// decode here.
	}
	return e.resume(pid, 0)
}

// registerChild puts a new fork/clone child in the process table before
// either side runs again, closing the race where the child could act
// untraced.
func (e *engine) registerChild(parent int, pt *tracee, child int) error {
	thread := false
	if flags, ok := e.cloneFl[parent]; ok && flags != 0 {
		thread = flags&syscall.CLONE_THREAD != 0
	} else if tgid := readTgid(child); tgid != 0 {
		thread = tgid != child
	}
	delete(e.cloneFl, parent)

	if err := e.ctl.onFork(parent, child, thread); err != nil {
		return err
	}
	e.tracees[child] = &tracee{wordSize: pt.wordSize}
	e.trackAlive(child)

	if e.parked[child] {
		delete(e.parked, child)
		e.tracees[child].started = true
		if err := e.resume(child, 0); err != nil {
			return err
		}
	}
	log.Debug("child registered", "parent", parent, "child", child, "thread", thread)
	return nil
}

// handleExecEvent emits the exec record and re-detects the ABI, which can
// change across exec (64-bit shell launching a 32-bit binary).
func (e *engine) handleExecEvent(pid int, t *tracee) error {
	img := e.pendExec[pid]
	delete(e.pendExec, pid)
	if img == nil {
		// Exec initiated by another thread of the group; fall back to
		// the /proc view.
		exe, _ := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
		img = &execImage{path: exe, argv: readCmdline(pid)}
	}

	ws, err := wordSizeOf(pid)
	if err != nil {
		return err
	}
	t.wordSize = ws
	t.insyscall = true // the execve syscall-exit stop is still due

	return e.ctl.onExec(pid, img.path, img.argv)
}

// vanished handles losing a process mid-flight.
func (e *engine) vanished(pid int) error {
	delete(e.tracees, pid)
	e.untrackAlive(pid)
	return e.ctl.onVanished(pid)
}

// resume lets the tracee run to its next trace-stop, delivering sig if
// non-zero.
func (e *engine) resume(pid, sig int) error {
	if err := syscall.PtraceSyscall(pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return e.vanished(pid)
		}
		return fmt.Errorf("resuming pid %d: %w", pid, err)
	}
	return nil
}

// drainDetach detaches from every still-alive tracee, letting them finish
// untraced. Best effort: processes that died underneath us are skipped.
func (e *engine) drainDetach() {
	for pid := range e.tracees {
		_ = unix.Kill(pid, unix.SIGSTOP)
		var ws syscall.WaitStatus
		_, _ = syscall.Wait4(pid, &ws, syscall.WALL|syscall.WUNTRACED, nil)
		if err := syscall.PtraceDetach(pid); err != nil && !errors.Is(err, syscall.ESRCH) {
			log.Debug("detach failed", "pid", pid, "error", err)
		}
		delete(e.tracees, pid)
		e.untrackAlive(pid)
	}
	log.Info("detached from remaining tracees, trace marked incomplete")
}

// argRegs maps the calling convention's argument registers for the mode.
// 32-bit tracees surface their registers through the 64-bit layout: ebx→rbx,
// ecx→rcx, edx→rdx, esi→rsi, edi→rdi, ebp→rbp.
func argRegs(mode sysnum.Mode, regs *syscall.PtraceRegs) [6]uint64 {
	if mode == sysnum.Mode386 {
		return [6]uint64{regs.Rbx, regs.Rcx, regs.Rdx, regs.Rsi, regs.Rdi, regs.Rbp}
	}
	return [6]uint64{regs.Rdi, regs.Rsi, regs.Rdx, regs.R10, regs.R8, regs.R9}
}

// dirFDArg sign-extends a 32-bit descriptor argument (AT_FDCWD is negative).
func dirFDArg(arg uint64) int {
	return int(int32(uint32(arg)))
}

// readCmdline reads a process's argv from /proc.
func readCmdline(pid int) []string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil || len(data) == 0 {
		return nil
	}
	parts := strings.Split(string(data), "\x00")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
