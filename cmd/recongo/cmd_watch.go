package main

import (
	"context"
	"errors"

	"recongo/internal/articulation"
	"recongo/internal/logging"
	"recongo/internal/search"
	"recongo/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// WATCH COMMAND - re-run the search whenever a program file settles
// =============================================================================

var errWatcherClosed = errors.New("file watcher closed")

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch files...",
		Short: "Re-run the search whenever a program file changes",
		Long: `Runs the search once, then again with a fresh engine each time one of the
files is saved, until interrupted. Standard input cannot be watched.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args)
		},
	}
}

func runWatch(cmd *cobra.Command, opts *options, args []string) error {
	if err := checkWatchable(args); err != nil {
		articulation.NewEmitter(cmd.OutOrStdout(), articulation.FormatText).EmitError(err)
		return errReported
	}

	a, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer a.close()

	logger := a.loggers.Get(logging.CategoryWatch)
	w, err := watch.New(args,
		watch.WithDebounce(a.cfg.GetWatchDebounce()),
		watch.WithLogger(logger))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}

	g.Go(func() error {
		<-ctx.Done()
		w.Stop()
		return nil
	})
	g.Go(func() error {
		return a.watchLoop(ctx, w, args)
	})

	err = g.Wait()
	if errors.Is(err, errWatcherClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchLoop runs the search once and then once per settled batch of changes.
func (a *app) watchLoop(ctx context.Context, w *watch.Watcher, files []string) error {
	logger := a.loggers.Get(logging.CategoryWatch)
	run := 0
	for {
		run++
		logger.Info("search run", zap.Int("run", run), zap.Strings("files", files))
		if _, err := a.runOnce(ctx, files); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case changed, ok := <-w.Changes():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errWatcherClosed
			}
			a.emitter.Comment("Changed: " + joinPaths(changed))
		}
	}
}

// checkWatchable rejects standard input, which cannot be watched.
func checkWatchable(files []string) error {
	if len(files) == 0 {
		return &search.ConfigError{Option: "files", Reason: "watch needs at least one program file"}
	}
	for _, f := range files {
		if f == "-" {
			return &search.ConfigError{Option: "files", Value: f, Reason: "standard input cannot be watched"}
		}
	}
	return nil
}
