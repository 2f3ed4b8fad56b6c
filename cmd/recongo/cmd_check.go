package main

import (
	"fmt"
	"strings"

	"recongo/internal/articulation"
	"recongo/internal/mangle"
	"recongo/internal/search"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// CHECK COMMAND - load and ground the first step without solving
// =============================================================================

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check [files...]",
		Short: "Check that a program loads and grounds",
		Long: `Loads the program and grounds base, step(0) and check(0) without solving.
Lists the fragments, their external predicates and the #show signatures.
Exits with status 1 on any parse or analysis error.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts, args)
		},
	}
}

// checkReport is the JSON form of a successful check.
type checkReport struct {
	Sources []string       `json:"sources"`
	Program mangle.Summary `json:"program"`
}

func runCheck(cmd *cobra.Command, opts *options, args []string) error {
	a, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	sources := sourcesOf(args)
	engine := a.newEngine()

	fail := func(op string, err error) error {
		engineErr := &search.EngineError{Op: op, Step: -1, Err: err}
		a.loggers.Root().Debug("check failed", zap.Error(engineErr))
		a.emitter.EmitError(engineErr)
		return errReported
	}

	if err := engine.Load(ctx, sources); err != nil {
		return fail("load", err)
	}
	parts := []search.Part{
		{Name: search.FragmentBase},
		{Name: search.FragmentStep, Params: []int{0}},
		{Name: search.FragmentCheck, Params: []int{0}},
	}
	if err := engine.Ground(ctx, parts); err != nil {
		return fail("ground", err)
	}
	summary, err := engine.Summary()
	if err != nil {
		return fail("summary", err)
	}

	if a.emitter.Format() == articulation.FormatJSON {
		return a.emitter.Emit(checkReport{Sources: sources, Program: summary})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "c Program: %s\n", joinPaths(sources))
	for _, frag := range summary.Fragments {
		line := "c Fragment: " + frag.Name
		if len(frag.Params) > 0 {
			line += "(" + strings.Join(frag.Params, ", ") + ")"
		}
		if len(frag.Externals) > 0 {
			line += " externals: " + strings.Join(frag.Externals, " ")
		}
		fmt.Fprintln(out, line)
	}
	switch {
	case summary.HideAll:
		fmt.Fprintln(out, "c Show: nothing")
	case len(summary.Shows) > 0:
		fmt.Fprintf(out, "c Show: %s\n", strings.Join(summary.Shows, " "))
	}
	fmt.Fprintf(out, "c Grounded clauses: %d\n", summary.Clauses)
	fmt.Fprintln(out, "s OK")
	return nil
}
