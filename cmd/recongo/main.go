// Command recongo runs an incremental reachability search over a Mangle
// program split into base, step(t) and check(t) fragments.
//
// Results are written to standard output as lines prefixed with
//
//	c  progress comment
//	s  verdict
//	a  answer (model and witness step)
//	e  error
//
// Logs go to standard error or to the configured log file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is the program version.
const Version = "0.3 (compet 2023 version)"

// errReported marks failures already written to the output; main only sets
// the exit status for them.
var errReported = errors.New("reported")

// options holds the command-line flags. Only flags that were set explicitly
// override the configuration file and environment.
type options struct {
	configPath   string
	verbose      bool
	imin         string
	imax         string
	istop        string
	isearch      string
	istrategy    string
	output       string
	journal      string
	solveTimeout string
	historyLimit int
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "recongo [files...]",
		Short: "Incremental reachability search over Mangle programs",
		Long: `recongo grounds the base fragment once, then extends the horizon one step
at a time by grounding step(t) and check(t) and solving, until the stop
criterion or the step bound is reached.

With no files, or with "-", the program is read from standard input.

Examples:
  recongo reach.mg
  recongo --imax 20 --istrategy sqr reach.mg
  recongo --isearch longest --imax 8 --output json reach.mg`,
		Version:       Version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, opts, args)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Configuration file (default: recongo.yaml if present)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	pf.StringVar(&opts.imin, "imin", "", "Minimum number of steps [1]")
	pf.StringVar(&opts.imax, "imax", "", "Maximum number of steps or none [none]")
	pf.StringVar(&opts.istop, "istop", "", "Stop criterion: SAT, UNSAT or UNKNOWN [SAT]")
	pf.StringVar(&opts.isearch, "isearch", "", "Search path: existent, shortest or longest [shortest]")
	pf.StringVar(&opts.istrategy, "istrategy", "", "Search strategy: lin, sqr or exp [lin]")
	pf.StringVarP(&opts.output, "output", "o", "", "Output format: text or json [text]")
	pf.StringVar(&opts.journal, "journal", "", "SQLite run journal path (disabled when empty)")
	pf.StringVar(&opts.solveTimeout, "solve-timeout", "", "Bound on a single solve, e.g. 30s (0 disables)")

	rootCmd.AddCommand(
		newCheckCmd(opts),
		newWatchCmd(opts),
		newHistoryCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the recongo version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "recongo version %s\n", Version)
		},
	}
}

// execute runs the command tree and returns the process exit status.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
