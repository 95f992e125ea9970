package tracer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/provtools/provtrace/internal/id"
	"github.com/provtools/provtrace/internal/log"
	"github.com/provtools/provtrace/internal/proctab"
	"github.com/provtools/provtrace/internal/sink"
	"github.com/provtools/provtrace/internal/storage"
)

// Session ties a controller to a trace directory: the SQLite sink, the
// process table, and the metadata sidecar.
type Session struct {
	ctl   *Controller
	store *sink.Store
	dir   *storage.TraceStore
	meta  storage.Metadata
}

// Launch prepares a fresh session that runs cfg.Argv under trace, writing
// into the trace directory at dir.
func Launch(dir string, cfg Config) (*Session, error) {
	return newSession(dir, cfg, false)
}

// Attach prepares a session that attaches to an already-running process.
func Attach(dir string, pid int) (*Session, error) {
	return newSession(dir, Config{AttachPID: pid}, false)
}

// Continue prepares a session that appends to an existing trace: sequence
// numbers resume past the prior session's maximum and the process table
// starts from the prior final snapshot.
func Continue(dir string, cfg Config) (*Session, error) {
	return newSession(dir, cfg, true)
}

func newSession(dir string, cfg Config, resume bool) (*Session, error) {
	ts, err := storage.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("opening trace directory %s: %w", dir, err)
	}

	if resume && !ts.HasDatabase() {
		return nil, fmt.Errorf("no trace to continue in %s", dir)
	}
	if !resume && ts.HasDatabase() {
		// A plain run replaces the previous trace; only --continue appends.
		if err := ts.Reset(); err != nil {
			return nil, fmt.Errorf("replacing previous trace in %s: %w", dir, err)
		}
	}

	store, err := sink.OpenStore(ts.DatabasePath())
	if err != nil {
		return nil, err
	}

	table := proctab.New()
	if resume {
		snap, err := store.LastSnapshot()
		switch {
		case errors.Is(err, sink.ErrNoSession):
			// Continuing a trace that was never finalized: start from
			// an empty table, numbering still resumes.
		case err != nil:
			store.Close()
			return nil, err
		default:
			if table, err = proctab.Restore(snap); err != nil {
				store.Close()
				return nil, err
			}
		}
	}

	meta, _ := ts.LoadMetadata()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	if meta.TraceID == "" {
		meta.TraceID = id.Generate("trace")
	}
	if len(cfg.Argv) > 0 {
		meta.Command = cfg.Argv
	}
	log.SetTraceID(meta.TraceID)

	return &Session{
		ctl:   NewController(cfg, table, store),
		store: store,
		dir:   ts,
		meta:  meta,
	}, nil
}

// Run executes the session and returns how the traced program ended. The
// error reports tracer-side failure only; a failing traced program is a
// normal Result.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	res, err := s.ctl.Run(ctx)

	s.meta.UpdatedAt = time.Now()
	s.meta.Sessions++
	if err != nil {
		s.meta.Error = err.Error()
	} else {
		s.meta.Complete = res.Complete
		s.meta.Error = ""
	}
	if mErr := s.dir.SaveMetadata(s.meta); mErr != nil && err == nil {
		err = fmt.Errorf("saving trace metadata: %w", mErr)
	}
	return res, err
}

// Stop requests an orderly drain. Safe to call from any goroutine.
func (s *Session) Stop() { s.ctl.Stop() }

// Store exposes the underlying trace database for dumps and queries.
func (s *Session) Store() *sink.Store { return s.store }

// Status returns the controller's lifecycle state.
func (s *Session) Status() Status { return s.ctl.Status() }

// Close releases the trace database.
func (s *Session) Close() error { return s.store.Close() }
