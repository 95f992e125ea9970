// Package cli implements the provtrace command-line interface using Cobra.
// It provides commands for tracing program runs and inspecting the
// resulting provenance databases.
package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/provtools/provtrace/internal/config"
	"github.com/provtools/provtrace/internal/log"
)

var (
	verbose  bool
	jsonOut  bool
	traceDir string
)

var rootCmd = &cobra.Command{
	Use:   "provtrace",
	Short: "Provtrace - provenance tracing for program runs",
	Long: `Provtrace records the complete provenance of a running program tree:
every process it spawns, every file it opens, renames or deletes, and
every program it executes. The resulting trace database feeds pack and
dependency-graph tooling.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		globalCfg, _ := config.LoadGlobal()
		if traceDir == "" {
			traceDir = globalCfg.Trace.Dir
		}

		debugDir := filepath.Join(config.GlobalConfigDir(), "debug")
		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			DebugDir:      debugDir,
			RetentionDays: globalCfg.Debug.RetentionDays,
		}); err != nil {
			// Log init failure is non-fatal - fallback to default logger
			cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&traceDir, "dir", "d", "", "trace directory (default: .provtrace, env: PROVTRACE_DIR)")
}
