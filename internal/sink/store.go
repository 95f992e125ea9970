package sink

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/provtools/provtrace/internal/event"
)

// ErrNoSession is returned when a continue is requested against a database
// with no finalized session.
var ErrNoSession = errors.New("no finalized session")

// Store is the SQLite-backed sink. Alongside the raw event log it maintains
// the relational projections downstream tooling reads: processes,
// executed_files, and opened_files.
type Store struct {
	db      *sql.DB
	lastSeq uint64
	session int64
}

// OpenStore opens or creates a trace database at path and starts a new
// session whose sequence numbers continue after any prior session's maximum.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening trace database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{db: db}
	if err := store.loadLastSeq(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.beginSession(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// OpenReader opens a trace database for querying without starting a new
// session. Append and Finalize must not be called on a reader.
func OpenReader(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening trace database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	store := &Store{db: db}
	if err := store.loadLastSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			seq  INTEGER PRIMARY KEY,
			ts   TEXT NOT NULL,
			pid  INTEGER NOT NULL,
			kind TEXT NOT NULL,
			data TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_pid ON events(pid);
		CREATE TABLE IF NOT EXISTS processes (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			pid       INTEGER NOT NULL,
			parent    INTEGER,
			timestamp INTEGER NOT NULL,
			exitcode  INTEGER
		);
		CREATE TABLE IF NOT EXISTS executed_files (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			name      TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			process   INTEGER NOT NULL,
			argv      TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS opened_files (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			name      TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			mode      INTEGER NOT NULL,
			process   INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sessions (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			started   TEXT NOT NULL,
			finalized TEXT,
			max_seq   INTEGER,
			complete  INTEGER,
			snapshot  TEXT
		);
	`)
	return err
}

func (s *Store) loadLastSeq() error {
	row := s.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM events`)
	if err := row.Scan(&s.lastSeq); err != nil {
		return fmt.Errorf("loading last sequence number: %w", err)
	}
	return nil
}

func (s *Store) beginSession() error {
	res, err := s.db.Exec(`INSERT INTO sessions (started) VALUES (?)`,
		time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	s.session, err = res.LastInsertId()
	return err
}

// Append implements Sink.
func (s *Store) Append(ev event.Event) (uint64, error) {
	ev.Seq = s.lastSeq + 1
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("marshaling event: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ts := ev.Timestamp.UnixNano()
	_, err = tx.Exec(`INSERT INTO events (seq, ts, pid, kind, data) VALUES (?, ?, ?, ?, ?)`,
		ev.Seq, ev.Timestamp.Format(time.RFC3339Nano), ev.PID, string(ev.Kind), string(data))
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}

	switch ev.Kind {
	case event.KindFork:
		_, err = tx.Exec(`INSERT INTO processes (pid, parent, timestamp) VALUES (?, ?, ?)`,
			ev.PID, ev.ParentPID, ts)
	case event.KindExited:
		err = s.setExitCode(tx, ev.PID, ev.ExitCode, ts)
	case event.KindKilled:
		// Signal terminations use the 0x0100|signo convention so readers
		// can tell them from plain exit codes.
		err = s.setExitCode(tx, ev.PID, 0x0100|ev.Signal, ts)
	case event.KindExec:
		_, err = tx.Exec(`INSERT INTO executed_files (name, timestamp, process, argv) VALUES (?, ?, ?, ?)`,
			ev.Path, ts, ev.PID, strings.Join(ev.Argv, "\x00"))
		if err == nil && ev.WorkDir != "" {
			_, err = tx.Exec(`INSERT INTO opened_files (name, timestamp, mode, process) VALUES (?, ?, ?, ?)`,
				ev.WorkDir, ts, event.ModeWorkDir, ev.PID)
		}
	default:
		if ev.IsFileAccess() && ev.Errno == 0 {
			_, err = tx.Exec(`INSERT INTO opened_files (name, timestamp, mode, process) VALUES (?, ?, ?, ?)`,
				ev.Path, ts, ev.FileMode(), ev.PID)
			if err == nil && ev.Kind == event.KindRename {
				_, err = tx.Exec(`INSERT INTO opened_files (name, timestamp, mode, process) VALUES (?, ?, ?, ?)`,
					ev.Dest, ts, event.ModeWrite, ev.PID)
			}
		}
	}
	if err != nil {
		return 0, fmt.Errorf("updating projection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.lastSeq = ev.Seq
	return ev.Seq, nil
}

// setExitCode fills in the exit code on the most recent processes row for
// pid that has none yet. The root process has no fork row, so a missing row
// is inserted rather than dropped.
func (s *Store) setExitCode(tx *sql.Tx, pid, code int, ts int64) error {
	res, err := tx.Exec(`
		UPDATE processes SET exitcode = ?
		WHERE id = (SELECT id FROM processes WHERE pid = ? AND exitcode IS NULL ORDER BY id DESC LIMIT 1)
	`, code, pid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = tx.Exec(`INSERT INTO processes (pid, parent, timestamp, exitcode) VALUES (?, NULL, ?, ?)`,
			pid, ts, code)
	}
	return err
}

// Finalize implements Sink.
func (s *Store) Finalize(snapshot []byte, complete bool) error {
	completeInt := 0
	if complete {
		completeInt = 1
	}
	_, err := s.db.Exec(`
		UPDATE sessions SET finalized = ?, max_seq = ?, complete = ?, snapshot = ?
		WHERE id = ?
	`, time.Now().Format(time.RFC3339Nano), s.lastSeq, completeInt, string(snapshot), s.session)
	if err != nil {
		return fmt.Errorf("finalizing session: %w", err)
	}
	return nil
}

// LastSeq returns the highest sequence number in the database.
func (s *Store) LastSeq() uint64 { return s.lastSeq }

// LastSnapshot returns the process table snapshot from the most recent
// finalized session, for continue sessions.
func (s *Store) LastSnapshot() ([]byte, error) {
	row := s.db.QueryRow(`
		SELECT snapshot FROM sessions
		WHERE finalized IS NOT NULL AND id != ?
		ORDER BY id DESC LIMIT 1
	`, s.session)
	var snap sql.NullString
	if err := row.Scan(&snap); err == sql.ErrNoRows {
		return nil, ErrNoSession
	} else if err != nil {
		return nil, fmt.Errorf("loading session snapshot: %w", err)
	}
	return []byte(snap.String), nil
}

// Events returns every stored event in sequence order.
func (s *Store) Events() ([]event.Event, error) {
	rows, err := s.db.Query(`SELECT data FROM events ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ProcessRow is a row of the processes projection.
type ProcessRow struct {
	ID        int64
	PID       int
	Parent    sql.NullInt64
	Timestamp int64
	ExitCode  sql.NullInt64
}

// Processes returns the processes projection in insertion order.
func (s *Store) Processes() ([]ProcessRow, error) {
	rows, err := s.db.Query(`SELECT id, pid, parent, timestamp, exitcode FROM processes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProcessRow
	for rows.Next() {
		var r ProcessRow
		if err := rows.Scan(&r.ID, &r.PID, &r.Parent, &r.Timestamp, &r.ExitCode); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExecutedFileRow is a row of the executed_files projection.
type ExecutedFileRow struct {
	ID        int64
	Name      string
	Timestamp int64
	Process   int
	Argv      []string
}

// ExecutedFiles returns the executed_files projection in insertion order.
func (s *Store) ExecutedFiles() ([]ExecutedFileRow, error) {
	rows, err := s.db.Query(`SELECT id, name, timestamp, process, argv FROM executed_files ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutedFileRow
	for rows.Next() {
		var r ExecutedFileRow
		var argv string
		if err := rows.Scan(&r.ID, &r.Name, &r.Timestamp, &r.Process, &argv); err != nil {
			return nil, err
		}
		if argv != "" {
			r.Argv = strings.Split(argv, "\x00")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// OpenedFileRow is a row of the opened_files projection.
type OpenedFileRow struct {
	ID        int64
	Name      string
	Timestamp int64
	Mode      int
	Process   int
}

// OpenedFiles returns the opened_files projection in insertion order.
func (s *Store) OpenedFiles() ([]OpenedFileRow, error) {
	rows, err := s.db.Query(`SELECT id, name, timestamp, mode, process FROM opened_files ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OpenedFileRow
	for rows.Next() {
		var r OpenedFileRow
		if err := rows.Scan(&r.ID, &r.Name, &r.Timestamp, &r.Mode, &r.Process); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Compile-time interface check
var _ Sink = (*Store)(nil)
