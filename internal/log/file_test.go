package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileWriter_Write(t *testing.T) {
	tmpDir := t.TempDir()

	fw, err := NewFileWriter(tmpDir)
	if err != nil {
		t.Fatalf("NewFileWriter failed: %v", err)
	}
	defer fw.Close()

	_, err = fw.Write([]byte(`{"msg":"test"}`))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	today := time.Now().Format("2006-01-02")
	logFile := filepath.Join(tmpDir, today+".jsonl")
	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(content), `{"msg":"test"}`) {
		t.Errorf("expected content to contain test message, got: %s", content)
	}
}

func TestFileWriter_LatestSymlink(t *testing.T) {
	tmpDir := t.TempDir()

	fw, err := NewFileWriter(tmpDir)
	if err != nil {
		t.Fatalf("NewFileWriter failed: %v", err)
	}
	defer fw.Close()

	fw.Write([]byte(`{"msg":"test"}`))

	target, err := os.Readlink(filepath.Join(tmpDir, "latest"))
	if err != nil {
		t.Fatalf("reading symlink: %v", err)
	}
	expected := time.Now().Format("2006-01-02") + ".jsonl"
	if target != expected {
		t.Errorf("expected symlink to point to %s, got %s", expected, target)
	}
}

func TestCleanup(t *testing.T) {
	tmpDir := t.TempDir()

	oldName := time.Now().AddDate(0, 0, -30).Format("2006-01-02") + ".jsonl"
	newName := time.Now().Format("2006-01-02") + ".jsonl"
	for _, name := range []string{oldName, newName, "unrelated.txt"} {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	Cleanup(tmpDir, 7)

	if _, err := os.Stat(filepath.Join(tmpDir, oldName)); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed", oldName)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, newName)); err != nil {
		t.Errorf("expected %s to survive: %v", newName, err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "unrelated.txt")); err != nil {
		t.Errorf("expected unrelated file to survive: %v", err)
	}
}
