package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultGlobalConfig(t *testing.T) {
	cfg := DefaultGlobalConfig()
	if cfg.Trace.Dir != ".provtrace" {
		t.Errorf("default trace dir = %q, want .provtrace", cfg.Trace.Dir)
	}
	if cfg.Debug.RetentionDays != 7 {
		t.Errorf("default retention = %d, want 7", cfg.Debug.RetentionDays)
	}
}

func TestLoadGlobalFromFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PROVTRACE_DIR", "")
	t.Setenv("PROVTRACE_DEBUG_RETENTION_DAYS", "")

	dir := filepath.Join(home, ".provtrace")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "trace:\n  dir: /data/traces\ndebug:\n  retention_days: 30\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadGlobal()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Trace.Dir != "/data/traces" {
		t.Errorf("trace dir = %q, want /data/traces", cfg.Trace.Dir)
	}
	if cfg.Debug.RetentionDays != 30 {
		t.Errorf("retention = %d, want 30", cfg.Debug.RetentionDays)
	}
}

func TestLoadGlobalEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PROVTRACE_DIR", "/env/traces")
	t.Setenv("PROVTRACE_DEBUG_RETENTION_DAYS", "3")

	cfg, err := LoadGlobal()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Trace.Dir != "/env/traces" {
		t.Errorf("trace dir = %q, want env override /env/traces", cfg.Trace.Dir)
	}
	if cfg.Debug.RetentionDays != 3 {
		t.Errorf("retention = %d, want env override 3", cfg.Debug.RetentionDays)
	}
}

func TestLoadGlobalBadEnvIgnored(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PROVTRACE_DIR", "")
	t.Setenv("PROVTRACE_DEBUG_RETENTION_DAYS", "not-a-number")

	cfg, err := LoadGlobal()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Debug.RetentionDays != 7 {
		t.Errorf("retention = %d, want default 7", cfg.Debug.RetentionDays)
	}
}
