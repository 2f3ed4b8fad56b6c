package main

import (
	"fmt"
	"strings"

	"recongo/internal/articulation"
	"recongo/internal/search"

	"github.com/spf13/cobra"
)

// =============================================================================
// HISTORY COMMAND - list journaled runs
// =============================================================================

func newHistoryCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the run journal",
		Long: `Lists the most recent runs recorded in the SQLite run journal, newest first.
The journal is set with --journal, RECONGO_JOURNAL or journal.path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.historyLimit, "limit", "n", 20, "Maximum number of runs to list")
	return cmd
}

func runHistory(cmd *cobra.Command, opts *options) error {
	a, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer a.close()

	if a.journal == nil {
		a.emitter.EmitError(&search.ConfigError{Option: "journal", Reason: "no run journal configured"})
		return errReported
	}

	runs, err := a.journal.ListRuns(cmd.Context(), opts.historyLimit)
	if err != nil {
		return err
	}

	if a.emitter.Format() == articulation.FormatJSON {
		return a.emitter.Emit(runs)
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	fmt.Fprintf(out, "%-36s  %-19s  %-9s  %-20s  %7s  %5s  %s\n",
		"RUN", "STARTED", "STATUS", "VERDICT", "WITNESS", "STEPS", "CONFIG")
	fmt.Fprintln(out, strings.Repeat("-", 120))
	for _, r := range runs {
		verdict := r.Verdict
		if verdict == "" {
			verdict = "-"
		}
		witness := "-"
		if r.WitnessStep != search.NoWitness && r.Verdict != "" {
			witness = fmt.Sprint(r.WitnessStep)
		}
		fmt.Fprintf(out, "%-36s  %-19s  %-9s  %-20s  %7s  %5d  %s\n",
			r.ID,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Status,
			verdict,
			witness,
			r.Steps,
			r.Config)
		if r.ErrorKind != "" {
			fmt.Fprintf(out, "  %s: %s\n", r.ErrorKind, r.Error)
		}
	}
	return nil
}
