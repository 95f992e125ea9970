package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/provtools/provtrace/internal/tracer"
)

var attachCmd = &cobra.Command{
	Use:   "attach <pid>",
	Short: "Attach to a running process and trace it from here on",
	Long: `Attach to an already-running process and record its provenance from
this point forward. Requires the same privilege as ptrace-attaching to
the target.`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	pid, err := strconv.Atoi(args[0])
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid pid %q", args[0])
	}

	sess, err := tracer.Attach(traceDir, pid)
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
