// Package proctab is the in-memory registry of traced processes and threads.
// It is mutated only by the trace controller's loop; everything else gets
// read-only lookups, so no locking is needed.
package proctab

import (
	"encoding/json"
	"fmt"
)

// Liveness is a process's lifecycle state.
type Liveness int

const (
	Running Liveness = iota
	Zombie           // exit observed, retirement pending
	Exited
)

// FSState is the file-system view shared by a thread group: the working
// directory and the directories reachable through open descriptors. Threads
// share one FSState; a forked child gets a copy taken at fork time.
type FSState struct {
	Cwd  string         `json:"cwd"`
	Dirs map[int]string `json:"dirs,omitempty"`
}

func (fs *FSState) clone() *FSState {
	dirs := make(map[int]string, len(fs.Dirs))
	for fd, dir := range fs.Dirs {
		dirs[fd] = dir
	}
	return &FSState{Cwd: fs.Cwd, Dirs: dirs}
}

// Process is one schedulable unit under trace.
type Process struct {
	PID    int      `json:"pid"`
	TGID   int      `json:"tgid"`
	Parent int      `json:"parent"`
	Exe    string   `json:"exe,omitempty"`
	Argv   []string `json:"argv,omitempty"`

	State    Liveness `json:"state"`
	ExitCode int      `json:"exit_code,omitempty"`

	FS *FSState `json:"fs"`
}

// Cwd returns the process's tracked working directory.
func (p *Process) Cwd() string { return p.FS.Cwd }

// DirForFD reports the directory tracked for an open descriptor.
func (p *Process) DirForFD(fd int) (string, bool) {
	dir, ok := p.FS.Dirs[fd]
	return dir, ok
}

// Table tracks every live process in the traced tree, keyed by pid.
type Table struct {
	procs map[int]*Process
}

// New returns an empty table.
func New() *Table {
	return &Table{procs: make(map[int]*Process)}
}

// AddRoot registers the root of the traced tree.
func (t *Table) AddRoot(pid int, cwd, exe string, argv []string) *Process {
	p := &Process{
		PID:    pid,
		TGID:   pid,
		Exe:    exe,
		Argv:   argv,
		FS:     &FSState{Cwd: cwd, Dirs: make(map[int]string)},
		State:  Running,
	}
	t.procs[pid] = p
	return p
}

// OnFork registers a child observed via a fork/clone stop. A thread (clone
// without a new address space) joins the parent's thread group and shares its
// file-system state; a full fork copies that state at the instant of the
// fork. Unknown parents still produce a tracked child so a missed
// registration does not lose the subtree.
func (t *Table) OnFork(parentPID, childPID int, thread bool) *Process {
	parent := t.procs[parentPID]
	child := &Process{PID: childPID, Parent: parentPID, State: Running}
	switch {
	case parent == nil:
		child.TGID = childPID
		child.FS = &FSState{Cwd: "/", Dirs: make(map[int]string)}
	case thread:
		child.TGID = parent.TGID
		child.FS = parent.FS
		child.Exe = parent.Exe
		child.Argv = parent.Argv
	default:
		child.TGID = childPID
		child.FS = parent.FS.clone()
		child.Exe = parent.Exe
		child.Argv = parent.Argv
	}
	t.procs[childPID] = child
	return child
}

// OnExec records a successful exec of path with argv.
func (t *Table) OnExec(pid int, path string, argv []string) {
	if p, ok := t.procs[pid]; ok {
		p.Exe = path
		p.Argv = argv
	}
}

// OnChdir records a working-directory change, visible to the whole thread
// group immediately.
func (t *Table) OnChdir(pid int, cwd string) {
	if p, ok := t.procs[pid]; ok {
		p.FS.Cwd = cwd
	}
}

// OnOpenDir records that fd now refers to the directory at path.
func (t *Table) OnOpenDir(pid, fd int, path string) {
	if p, ok := t.procs[pid]; ok {
		p.FS.Dirs[fd] = path
	}
}

// OnCloseFD drops any directory tracked for fd.
func (t *Table) OnCloseFD(pid, fd int) {
	if p, ok := t.procs[pid]; ok {
		delete(p.FS.Dirs, fd)
	}
}

// OnExit marks the process exited with code. The entry stays resolvable for
// events already sequenced against it until Retire.
func (t *Table) OnExit(pid, code int) {
	if p, ok := t.procs[pid]; ok {
		p.State = Zombie
		p.ExitCode = code
	}
}

// Retire removes a terminated process from the table. Lookups after
// retirement fail with an unknown-process error.
func (t *Table) Retire(pid int) {
	delete(t.procs, pid)
}

// Lookup returns the tracked process for pid.
func (t *Table) Lookup(pid int) (*Process, error) {
	p, ok := t.procs[pid]
	if !ok {
		return nil, fmt.Errorf("unknown process %d", pid)
	}
	return p, nil
}

// Live returns the number of processes not yet observed exiting. Tracing is
// complete when this reaches zero.
func (t *Table) Live() int {
	n := 0
	for _, p := range t.procs {
		if p.State == Running {
			n++
		}
	}
	return n
}

// Size returns the number of entries, including zombies.
func (t *Table) Size() int { return len(t.procs) }

// PIDs returns the pids of all tracked entries.
func (t *Table) PIDs() []int {
	pids := make([]int, 0, len(t.procs))
	for pid := range t.procs {
		pids = append(pids, pid)
	}
	return pids
}

// snapshot is the serialized form of the table. Shared FSState pointers are
// flattened; thread-group sharing is rebuilt from TGIDs on restore.
type snapshot struct {
	Processes []*Process `json:"processes"`
}

// Snapshot serializes the table so a later continue session can start from
// this state.
func (t *Table) Snapshot() ([]byte, error) {
	s := snapshot{Processes: make([]*Process, 0, len(t.procs))}
	for _, p := range t.procs {
		s.Processes = append(s.Processes, p)
	}
	return json.Marshal(s)
}

// Restore rebuilds a table from Snapshot output. Threads of one group are
// re-pointed at a single shared FSState (the group leader's, when present).
func Restore(data []byte) (*Table, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding process table snapshot: %w", err)
	}
	t := New()
	groupFS := make(map[int]*FSState)
	for _, p := range s.Processes {
		if p.FS == nil {
			p.FS = &FSState{Cwd: "/", Dirs: make(map[int]string)}
		}
		if p.FS.Dirs == nil {
			p.FS.Dirs = make(map[int]string)
		}
		if p.PID == p.TGID {
			groupFS[p.TGID] = p.FS
		}
	}
	for _, p := range s.Processes {
		if fs, ok := groupFS[p.TGID]; ok {
			p.FS = fs
		}
		t.procs[p.PID] = p
	}
	return t, nil
}
