package tracer

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/provtools/provtrace/internal/event"
	"github.com/provtools/provtrace/internal/log"
	"github.com/provtools/provtrace/internal/paths"
	"github.com/provtools/provtrace/internal/proctab"
	"github.com/provtools/provtrace/internal/sink"
	"github.com/provtools/provtrace/internal/sysnum"
)

// Controller owns the process table and drives event emission. All methods
// are called from the single trace loop; nothing here needs locking.
type Controller struct {
	cfg    Config
	table  *proctab.Table
	sink   sink.Sink
	status Status

	rootPID int
	result  Result

	stop     chan struct{}
	stopOnce sync.Once
}

// NewController builds a controller over an existing process table (empty
// for fresh sessions, restored for continue sessions) and sink.
func NewController(cfg Config, table *proctab.Table, s sink.Sink) *Controller {
	return &Controller{cfg: cfg, table: table, sink: s, status: Idle, stop: make(chan struct{})}
}

// Stop requests an orderly drain: the controller detaches from still-alive
// tracees, letting them run untraced, and flushes the partial trace. Safe to
// call from any goroutine.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Status returns the controller's current lifecycle state.
func (c *Controller) Status() Status { return c.status }

// Result returns how the traced root ended. Valid once the controller has
// reached Draining or Completed.
func (c *Controller) Result() *Result {
	r := c.result
	return &r
}

// Table returns the process table the controller owns. Read-only for
// callers.
func (c *Controller) Table() *proctab.Table { return c.table }

func (c *Controller) setStatus(next Status) {
	if c.status == next {
		return
	}
	log.Debug("controller state change", "from", c.status.String(), "to", next.String())
	c.status = next
}

// call is one decoded syscall observed at a trace-stop, completed with its
// return value at syscall exit.
type call struct {
	pid  int
	op   sysnum.Op
	name string

	path   string // first raw path argument
	path2  string // second raw path argument (rename target)
	dirfd  int
	dirfd2 int
	flags  uint64
	argv   []string

	ret int64
}

func (cl *call) errno() int {
	if cl.ret < 0 && cl.ret > -4096 {
		return int(-cl.ret)
	}
	return 0
}

// resolve turns a raw path argument into a canonical absolute path using the
// process's tracked state. The second return is false when a dirfd could not
// be resolved; the caller records the event flagged instead of dropping it.
func (c *Controller) resolve(p *proctab.Process, dirfd int, raw string, follow bool) (string, bool) {
	var resolved string
	ok := true
	if dirfd == noDirFD {
		resolved = paths.Resolve(p.Cwd(), raw)
	} else {
		resolved, ok = paths.ResolveAt(p.Cwd(), dirfd, p.DirForFD, raw)
	}
	if ok && follow {
		resolved = paths.Follow(resolved)
	}
	return resolved, ok
}

// noDirFD marks plain-path calls that have no directory descriptor argument.
const noDirFD = -1 << 30

// followFlags reports whether an *at call's flags disable symlink following.
func followFlags(op sysnum.Op, flags uint64) bool {
	if !op.FollowsSymlinks() {
		return false
	}
	return flags&unix.AT_SYMLINK_NOFOLLOW == 0
}

// onCallExit dispatches a completed syscall: resolve its paths, mutate the
// process table, and emit the trace event. Failures here are recorded, never
// fatal.
func (c *Controller) onCallExit(cl *call) error {
	p, err := c.table.Lookup(cl.pid)
	if err != nil {
		log.Warn("syscall from untracked process", "pid", cl.pid, "syscall", cl.name)
		return nil
	}
	errno := cl.errno()

	switch cl.op {
	case sysnum.OpOpen, sysnum.OpOpenAt:
		resolved, ok := c.resolve(p, cl.dirfd, cl.path, true)
		access := event.Access(sysnum.OpenAccess(cl.flags))
		ev := event.Open(cl.pid, resolved, access, errno)
		ev.Unresolved = !ok
		if err := c.emit(ev); err != nil {
			return err
		}
		if ok && errno == 0 {
			if cl.flags&unix.O_DIRECTORY != 0 || isDir(resolved) {
				c.table.OnOpenDir(cl.pid, int(cl.ret), resolved)
			}
		}

	case sysnum.OpStat, sysnum.OpLStat, sysnum.OpStatAt,
		sysnum.OpAccess, sysnum.OpAccessAt,
		sysnum.OpReadlink, sysnum.OpReadlinkAt:
		resolved, ok := c.resolve(p, cl.dirfd, cl.path, followFlags(cl.op, cl.flags))
		ev := event.Stat(cl.pid, resolved, errno)
		ev.Unresolved = !ok
		if err := c.emit(ev); err != nil {
			return err
		}

	case sysnum.OpRename, sysnum.OpRenameAt:
		from, okFrom := c.resolve(p, cl.dirfd, cl.path, false)
		to, okTo := c.resolve(p, cl.dirfd2, cl.path2, false)
		ev := event.Rename(cl.pid, from, to, errno)
		ev.Unresolved = !okFrom || !okTo
		if err := c.emit(ev); err != nil {
			return err
		}

	case sysnum.OpUnlink, sysnum.OpUnlinkAt:
		resolved, ok := c.resolve(p, cl.dirfd, cl.path, false)
		ev := event.Unlink(cl.pid, resolved, errno)
		ev.Unresolved = !ok
		if err := c.emit(ev); err != nil {
			return err
		}

	case sysnum.OpMkdir, sysnum.OpMkdirAt:
		resolved, ok := c.resolve(p, cl.dirfd, cl.path, false)
		ev := event.Mkdir(cl.pid, resolved, errno)
		ev.Unresolved = !ok
		if err := c.emit(ev); err != nil {
			return err
		}

	case sysnum.OpChdir:
		if errno == 0 {
			resolved, _ := c.resolve(p, noDirFD, cl.path, true)
			c.table.OnChdir(cl.pid, resolved)
		}

	case sysnum.OpFchdir:
		if errno == 0 {
			if dir, ok := p.DirForFD(cl.dirfd); ok {
				c.table.OnChdir(cl.pid, dir)
			} else {
				log.Warn("fchdir to untracked descriptor", "pid", cl.pid, "fd", cl.dirfd)
			}
		}

	case sysnum.OpClose:
		if errno == 0 {
			c.table.OnCloseFD(cl.pid, cl.dirfd)
		}
	}
	return nil
}

// onFork registers a child observed at a fork/clone stop and emits the fork
// event. Called before either side is resumed.
func (c *Controller) onFork(parentPID, childPID int, thread bool) error {
	c.table.OnFork(parentPID, childPID, thread)
	return c.emit(event.Fork(parentPID, childPID))
}

// onExec records a successful exec. resolved is the absolute binary path.
func (c *Controller) onExec(pid int, resolved string, argv []string) error {
	c.table.OnExec(pid, resolved, argv)
	workDir := ""
	if p, err := c.table.Lookup(pid); err == nil {
		workDir = p.Cwd()
	}
	return c.emit(event.Exec(pid, resolved, argv, workDir))
}

// onExited records a process exiting with code and retires it from the
// table once the event referencing it is sequenced.
func (c *Controller) onExited(pid, code int) error {
	c.table.OnExit(pid, code)
	if err := c.emit(event.Exited(pid, code)); err != nil {
		return err
	}
	c.table.Retire(pid)
	if pid == c.rootPID {
		c.result.ExitCode = code
	}
	return nil
}

// onKilled records a process terminated by a signal.
func (c *Controller) onKilled(pid, sig int) error {
	c.table.OnExit(pid, 0x0100|sig)
	if err := c.emit(event.Killed(pid, sig)); err != nil {
		return err
	}
	c.table.Retire(pid)
	if pid == c.rootPID {
		c.result.Signaled = true
		c.result.Signal = sig
	}
	return nil
}

// onVanished prunes a process the tracer lost contact with. Fatal when it is
// the root.
func (c *Controller) onVanished(pid int) error {
	c.table.Retire(pid)
	if pid == c.rootPID {
		return fmt.Errorf("%w: root process %d", ErrProcessVanished, pid)
	}
	log.Warn("lost contact with traced process, pruning", "pid", pid)
	return nil
}

// emit appends to the sink. A sink failure is fatal: the trace on disk is
// the whole point of the session.
func (c *Controller) emit(ev event.Event) error {
	if _, err := c.sink.Append(ev); err != nil {
		return fmt.Errorf("emitting %s event for pid %d: %w", ev.Kind, ev.PID, err)
	}
	return nil
}

// finalize snapshots the process table and closes out the sink session.
func (c *Controller) finalize(complete bool) error {
	c.result.Complete = complete
	snap, err := c.table.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshotting process table: %w", err)
	}
	if err := c.sink.Finalize(snap, complete); err != nil {
		return fmt.Errorf("finalizing trace: %w", err)
	}
	return nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
