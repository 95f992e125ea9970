package log

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

const (
	dayFormat  = "2006-01-02"
	fileSuffix = ".jsonl"
	latestLink = "latest"
)

// logNamePattern matches the daily debug files this writer produces, so
// Cleanup never touches anything else living in the directory.
var logNamePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.jsonl$`)

// FileWriter appends debug records to one file per day under a fixed
// directory and keeps a "latest" symlink pointing at the current file.
type FileWriter struct {
	dir string

	mu   sync.Mutex
	file *os.File
	day  string
}

// NewFileWriter opens today's debug file under dir, creating the directory
// if needed.
func NewFileWriter(dir string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating debug log dir: %w", err)
	}
	fw := &FileWriter{dir: dir}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.rollover(); err != nil {
		return nil, err
	}
	return fw, nil
}

// Write implements io.Writer, rolling to a new file when the date changes
// between records.
func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if time.Now().Format(dayFormat) != fw.day {
		if err := fw.rollover(); err != nil {
			return 0, err
		}
	}
	return fw.file.Write(p)
}

// Close closes the current file.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.file == nil {
		return nil
	}
	err := fw.file.Close()
	fw.file = nil
	return err
}

// rollover switches to today's file. Callers hold fw.mu.
func (fw *FileWriter) rollover() error {
	if fw.file != nil {
		fw.file.Close()
	}

	day := time.Now().Format(dayFormat)
	name := day + fileSuffix
	f, err := os.OpenFile(filepath.Join(fw.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	fw.file = f
	fw.day = day

	// Symlink update via rename so readers never see it missing. Best
	// effort on filesystems without symlinks.
	tmp := filepath.Join(fw.dir, latestLink+".tmp")
	os.Remove(tmp)
	if err := os.Symlink(name, tmp); err == nil {
		_ = os.Rename(tmp, filepath.Join(fw.dir, latestLink))
	}
	return nil
}

// Cleanup removes daily debug files older than retentionDays.
func Cleanup(dir string, retentionDays int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !logNamePattern.MatchString(name) {
			continue
		}
		day, err := time.Parse(dayFormat, name[:len(dayFormat)])
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			os.Remove(filepath.Join(dir, name))
		}
	}
}
