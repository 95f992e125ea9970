// Package storage manages trace directories: the trace database plus the
// metadata sidecar describing how the trace was produced.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Metadata holds information about a trace directory.
type Metadata struct {
	TraceID   string    `json:"trace_id,omitempty"`
	Command   []string  `json:"command,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Sessions  int       `json:"sessions"`
	Complete  bool      `json:"complete"`
	Error     string    `json:"error,omitempty"`
}

// TraceStore manages storage for one trace directory.
type TraceStore struct {
	dir string
}

// Open opens (creating if needed) the trace directory at dir.
func Open(dir string) (*TraceStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &TraceStore{dir: dir}, nil
}

// Dir returns the trace directory path.
func (s *TraceStore) Dir() string {
	return s.dir
}

// DatabasePath returns the path of the trace database inside the directory.
func (s *TraceStore) DatabasePath() string {
	return filepath.Join(s.dir, "trace.db")
}

// HasDatabase reports whether a trace database already exists.
func (s *TraceStore) HasDatabase() bool {
	_, err := os.Stat(s.DatabasePath())
	return err == nil
}

// Reset removes the trace database and metadata so a fresh run replaces the
// previous trace instead of appending to it.
func (s *TraceStore) Reset() error {
	if err := os.Remove(s.DatabasePath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, "metadata.json")); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SaveMetadata writes the metadata to metadata.json in the trace directory.
func (s *TraceStore) SaveMetadata(m Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, "metadata.json"), data, 0644)
}

// LoadMetadata reads the metadata from metadata.json in the trace directory.
func (s *TraceStore) LoadMetadata() (Metadata, error) {
	var m Metadata
	data, err := os.ReadFile(filepath.Join(s.dir, "metadata.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}
