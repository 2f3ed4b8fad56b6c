package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"recongo/internal/articulation"
	"recongo/internal/config"
	"recongo/internal/logging"
	"recongo/internal/mangle"
	"recongo/internal/search"
	"recongo/internal/store"
	"recongo/internal/telemetry"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is the resolved environment of one command invocation.
type app struct {
	cfg     *config.Config
	search  search.Config
	loggers *logging.Loggers
	emitter *articulation.Emitter
	journal *store.Journal
	stdin   io.Reader

	shutdownTelemetry func(context.Context) error
}

// loadConfig resolves the configuration: defaults, then file, then
// environment, then explicitly set flags.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = config.DefaultPath
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: config file: %v", search.ErrInvalidConfig, err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", search.ErrInvalidConfig, err)
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, value string) {
		if flags.Changed(name) {
			*dst = value
		}
	}
	set("imin", &cfg.Search.IMin, opts.imin)
	set("imax", &cfg.Search.IMax, opts.imax)
	set("istop", &cfg.Search.IStop, opts.istop)
	set("isearch", &cfg.Search.ISearch, opts.isearch)
	set("istrategy", &cfg.Search.IStrategy, opts.istrategy)
	set("output", &cfg.Output.Format, opts.output)
	set("journal", &cfg.Journal.Path, opts.journal)
	set("solve-timeout", &cfg.Engine.SolveTimeout, opts.solveTimeout)
	cfg.Telemetry.ServiceVersion = Version

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup builds the app for cmd. Configuration failures are reported on the
// output in the result protocol before errReported is returned.
func setup(cmd *cobra.Command, opts *options) (*app, error) {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		format := articulation.FormatText
		if f, ferr := articulation.ParseFormat(opts.output); ferr == nil && cmd.Flags().Changed("output") {
			format = f
		}
		articulation.NewEmitter(out, format).EmitError(err)
		return nil, errReported
	}
	searchCfg, err := cfg.BuildSearch()
	if err != nil {
		return nil, err
	}

	loggers, err := logging.New(cfg.Logging, opts.verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	format, _ := articulation.ParseFormat(cfg.Output.Format)
	emitter := articulation.NewEmitter(out, format)
	emitter.PrettyPrint = cfg.Output.Pretty

	a := &app{
		cfg:     cfg,
		search:  searchCfg,
		loggers: loggers,
		emitter: emitter,
		stdin:   cmd.InOrStdin(),
	}

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry, cmd.ErrOrStderr())
	if err != nil {
		_ = loggers.Sync()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.shutdownTelemetry = shutdown
	if cfg.Telemetry.Enabled() {
		loggers.Get(logging.CategoryTelemetry).Debug("telemetry enabled",
			zap.String("traces", cfg.Telemetry.TraceExporter),
			zap.String("metrics", cfg.Telemetry.MetricExporter))
	}

	if cfg.Journal.Path != "" {
		j, err := store.OpenJournal(cfg.Journal.Path, loggers.Get(logging.CategoryJournal))
		if err != nil {
			a.close()
			return nil, err
		}
		a.journal = j
	}

	loggers.Get(logging.CategoryBoot).Debug("configuration resolved",
		zap.Stringer("search", searchCfg),
		zap.String("output", cfg.Output.Format),
		zap.String("journal", cfg.Journal.Path))
	return a, nil
}

// close flushes telemetry, the journal and the logs.
func (a *app) close() {
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(context.Background()); err != nil {
			a.loggers.Get(logging.CategoryTelemetry).Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.loggers.Get(logging.CategoryJournal).Warn("journal close failed", zap.Error(err))
		}
	}
	_ = a.loggers.Sync()
}

func (a *app) newEngine() *mangle.Engine {
	return mangle.NewEngine(mangle.Config{
		FactLimit:    a.cfg.Engine.FactLimit,
		SolveTimeout: a.cfg.GetSolveTimeout(),
	},
		mangle.WithLogger(a.loggers.Get(logging.CategoryEngine)),
		mangle.WithStdin(a.stdin),
	)
}

// runOnce performs one complete search over sources with a fresh engine
// and prints its report.
func (a *app) runOnce(ctx context.Context, sources []string) (search.Report, error) {
	runID := uuid.NewString()
	sessionOpts := []search.Option{
		search.WithRunID(runID),
		search.WithLogger(a.loggers.Get(logging.CategorySession)),
		search.WithObserver(a.emitter),
	}

	var recorder *store.Recorder
	if a.journal != nil {
		if err := a.journal.BeginRun(ctx, runID, a.search.String(), sources); err != nil {
			a.loggers.Get(logging.CategoryJournal).Warn("journal begin failed, run not recorded",
				zap.String("run_id", runID), zap.Error(err))
		} else {
			recorder = a.journal.Recorder(runID)
			sessionOpts = append(sessionOpts, search.WithObserver(recorder))
		}
	}

	session := search.NewSession(a.search, a.newEngine(), sessionOpts...)
	report := session.Run(ctx, sources)

	if a.journal != nil && recorder != nil {
		// the run context may already be cancelled; the audit row is still written
		if err := a.journal.FinishRun(context.WithoutCancel(ctx), report); err != nil {
			a.loggers.Get(logging.CategoryJournal).Warn("journal finish failed", zap.Error(err))
		}
	}

	if err := a.emitter.EmitReport(report); err != nil {
		return report, fmt.Errorf("write report: %w", err)
	}
	return report, nil
}

// runSearch is the root command: one search over the given files.
func runSearch(cmd *cobra.Command, opts *options, args []string) error {
	a, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.runOnce(cmd.Context(), sourcesOf(args))
	if err != nil {
		return err
	}
	// a configuration error found by the session is still a usage error
	if report.Err != nil && errors.Is(report.Err, search.ErrInvalidConfig) {
		return errReported
	}
	return nil
}

// sourcesOf maps an empty file list to standard input.
func sourcesOf(args []string) []string {
	if len(args) == 0 {
		return []string{"-"}
	}
	return args
}

func joinPaths(paths []string) string {
	return strings.Join(paths, " ")
}
