package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/provtools/provtrace/internal/event"
	"github.com/provtools/provtrace/internal/sink"
)

var showEvents bool

var showCmd = &cobra.Command{
	Use:   "show [trace-dir]",
	Short: "Print the contents of a trace database",
	Long: `Print the processes, executed binaries, and accessed files recorded in
a trace database. With --events, print the raw ordered event stream
instead.

Examples:
  provtrace show               # Dump the default trace directory
  provtrace show /tmp/t1       # Dump a specific trace directory
  provtrace show --events      # Raw event stream
  provtrace show --json        # Machine-readable output`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showEvents, "events", false, "print the raw event stream")
}

func runShow(cmd *cobra.Command, args []string) error {
	dir := traceDir
	if len(args) > 0 {
		dir = args[0]
	}

	store, err := sink.OpenReader(filepath.Join(dir, "trace.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	if showEvents {
		return dumpEvents(cmd.OutOrStdout(), store)
	}
	return dumpTrace(cmd.OutOrStdout(), store)
}

func dumpEvents(w io.Writer, store *sink.Store) error {
	events, err := store.Events()
	if err != nil {
		return err
	}
	if jsonOut {
		enc := json.NewEncoder(w)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tPID\tKIND\tDETAIL")
	for _, ev := range events {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", ev.Seq, ev.PID, ev.Kind, eventDetail(ev))
	}
	return tw.Flush()
}

func eventDetail(ev event.Event) string {
	switch ev.Kind {
	case event.KindFork:
		return fmt.Sprintf("parent=%d", ev.ParentPID)
	case event.KindExited:
		return fmt.Sprintf("code=%d", ev.ExitCode)
	case event.KindKilled:
		return fmt.Sprintf("signal=%d", ev.Signal)
	case event.KindExec:
		return truncateLine(fmt.Sprintf("%s %s", ev.Path, strings.Join(ev.Argv, " ")))
	case event.KindRename:
		return truncateLine(fmt.Sprintf("%s -> %s", ev.Path, ev.Dest))
	case event.KindOpen:
		detail := fmt.Sprintf("%s (%s)", ev.Path, ev.Access)
		if ev.Errno != 0 {
			detail += fmt.Sprintf(" errno=%d", ev.Errno)
		}
		return truncateLine(detail)
	default:
		detail := ev.Path
		if ev.Errno != 0 {
			detail += fmt.Sprintf(" errno=%d", ev.Errno)
		}
		return truncateLine(detail)
	}
}

func dumpTrace(w io.Writer, store *sink.Store) error {
	if jsonOut {
		return dumpTraceJSON(w, store)
	}

	procs, err := store.Processes()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Processes:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  PID\tPARENT\tEXIT\tSTARTED")
	for _, p := range procs {
		parent := "-"
		if p.Parent.Valid {
			parent = fmt.Sprintf("%d", p.Parent.Int64)
		}
		exit := "-"
		if p.ExitCode.Valid {
			if p.ExitCode.Int64&0x0100 != 0 {
				exit = fmt.Sprintf("sig%d", p.ExitCode.Int64&0xff)
			} else {
				exit = fmt.Sprintf("%d", p.ExitCode.Int64)
			}
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", p.PID, parent, exit, formatStamp(p.Timestamp))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	execs, err := store.ExecutedFiles()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nExecuted files:")
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  PID\tNAME\tARGV")
	for _, e := range execs {
		fmt.Fprintf(tw, "  %d\t%s\t%s\n", e.Process, e.Name, truncateLine(strings.Join(e.Argv, " ")))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	files, err := store.OpenedFiles()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nFiles:")
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  PID\tMODE\tNAME")
	for _, f := range files {
		fmt.Fprintf(tw, "  %d\t%s\t%s\n", f.Process, modeString(f.Mode), f.Name)
	}
	return tw.Flush()
}

func dumpTraceJSON(w io.Writer, store *sink.Store) error {
	procs, err := store.Processes()
	if err != nil {
		return err
	}
	execs, err := store.ExecutedFiles()
	if err != nil {
		return err
	}
	files, err := store.OpenedFiles()
	if err != nil {
		return err
	}
	out := map[string]any{
		"processes":      procs,
		"executed_files": execs,
		"opened_files":   files,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func modeString(mode int) string {
	var parts []string
	if mode&event.ModeRead != 0 {
		parts = append(parts, "r")
	}
	if mode&event.ModeWrite != 0 {
		parts = append(parts, "w")
	}
	if mode&event.ModeWorkDir != 0 {
		parts = append(parts, "wd")
	}
	if mode&event.ModeStat != 0 {
		parts = append(parts, "s")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "")
}

func formatStamp(unixNano int64) string {
	return time.Unix(0, unixNano).Format(time.RFC3339)
}

// truncateLine trims long lines to the terminal width so tables stay
// readable. Non-terminal output is left untouched.
func truncateLine(s string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return s
	}
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 20 {
		return s
	}
	if len(s) > width-4 {
		return s[:width-7] + "..."
	}
	return s
}
