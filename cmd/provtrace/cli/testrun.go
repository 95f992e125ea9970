package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/provtools/provtrace/internal/log"
	"github.com/provtools/provtrace/internal/system"
	"github.com/provtools/provtrace/internal/tracer"
)

var testrunArg0 string

var testrunCmd = &cobra.Command{
	Use:   "testrun -- command [args...]",
	Short: "Trace a command into a temporary database and dump it",
	Long: `Run a command under trace using a temporary database, then dump the
captured provenance and discard it. Mostly useful for checking what a
trace would record.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTestrun,
}

func init() {
	rootCmd.AddCommand(testrunCmd)
	testrunCmd.Flags().StringVarP(&testrunArg0, "arg0", "a", "", "argument 0 to the program, if different from its path")
}

func runTestrun(cmd *cobra.Command, args []string) error {
	sweepStaleTempDirs()

	dir, err := os.MkdirTemp("", "provtrace_")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	sess, err := tracer.Launch(dir, tracer.Config{Argv: args, Arg0: testrunArg0})
	if err != nil {
		return err
	}

	res, err := runSession(sess)
	if err != nil {
		sess.Close()
		return err
	}

	out := cmd.OutOrStdout()
	if err := dumpTrace(out, sess.Store()); err != nil {
		sess.Close()
		return err
	}
	sess.Close()

	reportResult(cmd, res)
	return nil
}

// sweepStaleTempDirs removes trace directories left behind by testruns that
// never got to their own cleanup. Best effort.
func sweepStaleTempDirs() {
	const minAge = 24 * time.Hour
	orphaned, err := system.FindOrphanedTempDirs(minAge)
	if err != nil || len(orphaned) == 0 {
		return
	}
	var total int64
	for _, d := range orphaned {
		total += d.Size
	}
	removed, err := system.CleanOrphanedTempDirs(orphaned, minAge)
	if err != nil {
		log.Debug("stale temp dir sweep failed", "error", err)
		return
	}
	log.Debug("swept stale temp dirs", "removed", removed, "reclaimed", system.FormatSize(total))
}
