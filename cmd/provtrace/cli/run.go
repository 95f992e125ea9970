package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/provtools/provtrace/internal/log"
	"github.com/provtools/provtrace/internal/tracer"
)

var (
	runContinue bool
	runArg0     string
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- command [args...]",
	Short: "Run a command under trace and record its provenance",
	Long: `Run a command under the syscall tracer, recording every process it
spawns and every file it touches into the trace database.

Examples:
  provtrace run -- make all              # Trace a build
  provtrace run -c -- make install       # Append to the previous trace
  provtrace run -a sh -- /bin/dash -c x  # Override argv[0]`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "append to the previous trace instead of replacing it")
	runCmd.Flags().StringVarP(&runArg0, "arg0", "a", "", "argument 0 to the program, if different from its path")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := tracer.Config{Argv: args, Arg0: runArg0}

	var (
		sess *tracer.Session
		err  error
	)
	if runContinue {
		sess, err = tracer.Continue(traceDir, cfg)
	} else {
		sess, err = tracer.Launch(traceDir, cfg)
	}
	if err != nil {
		return err
	}
	defer sess.Close()

	res, err := runSession(sess)
	if err != nil {
		return err
	}
	reportResult(cmd, res)
	return nil
}

// runSession drives a session to completion, draining it cleanly on
// SIGINT/SIGTERM so the partial trace is flushed.
func runSession(sess *tracer.Session) (*tracer.Result, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	var res *tracer.Result
	g.Go(func() error {
		r, err := sess.Run(gctx)
		res = r
		return err
	})
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("tracing failed: %w", err)
	}
	return res, nil
}

func reportResult(cmd *cobra.Command, res *tracer.Result) {
	if !res.Complete {
		cmd.PrintErrln("Warning: tracing was interrupted; the trace is a valid partial capture")
	}
	switch {
	case res.Signaled:
		cmd.PrintErrf("Warning: program appears to have been terminated by signal %d\n", res.Signal)
	case res.ExitCode != 0:
		cmd.PrintErrf("Warning: program exited with non-zero code %d\n", res.ExitCode)
	}
	log.Debug("trace session finished", "exit_code", res.ExitCode, "signaled", res.Signaled, "complete", res.Complete)
}
