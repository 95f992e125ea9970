// Package config handles global provtrace settings.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// GlobalConfig holds global provtrace settings from ~/.provtrace/config.yaml.
type GlobalConfig struct {
	Trace TraceConfig `yaml:"trace"`
	Debug DebugConfig `yaml:"debug"`
}

// TraceConfig holds tracing defaults.
type TraceConfig struct {
	// Dir is the default trace directory, relative to the working
	// directory unless absolute.
	Dir string `yaml:"dir"`
}

// DebugConfig holds debug logging settings.
type DebugConfig struct {
	// RetentionDays is how long to keep debug log files.
	RetentionDays int `yaml:"retention_days"`
}

// DefaultGlobalConfig returns the default global configuration.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Trace: TraceConfig{Dir: ".provtrace"},
		Debug: DebugConfig{RetentionDays: 7},
	}
}

// LoadGlobal reads ~/.provtrace/config.yaml and applies environment overrides.
func LoadGlobal() (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".provtrace", "config.yaml")
		if data, err := os.ReadFile(configPath); err == nil {
			_ = yaml.Unmarshal(data, cfg) // Ignore unmarshal errors, use defaults
		}
	}

	if dir := os.Getenv("PROVTRACE_DIR"); dir != "" {
		cfg.Trace.Dir = dir
	}
	if days := os.Getenv("PROVTRACE_DEBUG_RETENTION_DAYS"); days != "" {
		if n, err := strconv.Atoi(days); err == nil {
			cfg.Debug.RetentionDays = n
		}
	}

	return cfg, nil
}

// GlobalConfigDir returns the path to ~/.provtrace.
func GlobalConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".provtrace")
	}
	return filepath.Join(homeDir, ".provtrace")
}
