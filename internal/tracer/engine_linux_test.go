//go:build linux && amd64

package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/provtools/provtrace/internal/proctab"
	"github.com/provtools/provtrace/internal/sink"
)

func TestEngineWakeBookkeeping(t *testing.T) {
	ctl := NewController(Config{}, proctab.New(), sink.NewMemory(0))
	e := &engine{ctl: ctl, alive: make(map[int]bool)}

	e.trackAlive(101)
	e.trackAlive(102)
	e.untrackAlive(101)

	e.aliveMu.Lock()
	if len(e.alive) != 1 || !e.alive[102] {
		t.Errorf("alive set = %v, want only 102", e.alive)
	}
	e.aliveMu.Unlock()

	if e.stopRequested() {
		t.Error("stopRequested() = true before Stop")
	}
	ctl.Stop()
	if !e.stopRequested() {
		t.Error("stopRequested() = false after Stop")
	}
}

func TestRunAbortsOnAttachToMissingProcess(t *testing.T) {
	mem := sink.NewMemory(0)
	// Beyond the kernel's pid ceiling, so attach must fail with ESRCH.
	ctl := NewController(Config{AttachPID: 1 << 30}, proctab.New(), mem)

	if ctl.Status() != Idle {
		t.Fatalf("initial status = %v, want Idle", ctl.Status())
	}

	_, err := ctl.Run(context.Background())
	if err == nil {
		t.Fatal("Run() on missing pid succeeded, want error")
	}
	if !errors.Is(err, ErrProcessVanished) {
		t.Errorf("Run() error = %v, want ErrProcessVanished", err)
	}
	if ctl.Status() != Aborted {
		t.Errorf("status after failed attach = %v, want Aborted", ctl.Status())
	}
	// Even the failed session flushed a (partial) finalization.
	if mem.Snapshot() == nil {
		t.Error("sink not finalized after abort")
	}
	if mem.Complete() {
		t.Error("aborted session marked complete")
	}
}
