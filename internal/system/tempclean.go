// Package system contains host-side housekeeping helpers.
package system

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TempDirPattern is the glob for throwaway trace directories created by
// testrun sessions under the system temp dir. A crashed or killed testrun
// leaves its directory behind.
const TempDirPattern = "provtrace_*"

// OrphanedTempDir describes a leftover trace directory eligible for removal.
type OrphanedTempDir struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// FindOrphanedTempDirs scans the system temp dir for trace directories older
// than minAge. Recently modified directories are assumed to belong to a live
// session and are skipped.
func FindOrphanedTempDirs(minAge time.Duration) ([]OrphanedTempDir, error) {
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), TempDirPattern))
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-minAge)

	var orphaned []OrphanedTempDir
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		size, _ := dirSize(match)
		orphaned = append(orphaned, OrphanedTempDir{
			Path:    match,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	return orphaned, nil
}

// CleanOrphanedTempDirs removes the given directories, re-checking age first
// so a session started after the scan is not swept out from under itself.
// Returns how many were removed.
func CleanOrphanedTempDirs(dirs []OrphanedTempDir, minAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-minAge)
	removed := 0
	for _, dir := range dirs {
		if info, err := os.Stat(dir.Path); err == nil && info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir.Path); err != nil {
			return removed, fmt.Errorf("removing %s: %w", dir.Path, err)
		}
		removed++
	}
	return removed, nil
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip files we can't access
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// FormatSize formats a byte size into a human-readable string.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
