// Package search implements the incremental search controller: the loop that
// extends the horizon one step at a time, decides which steps are solved,
// decides when to stop, and turns the accumulated outcomes into a verdict.
package search

import (
	"context"
	"time"

	"recongo/internal/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Session drives one incremental search over an Engine. A Session is
// single-use and not safe for concurrent use.
type Session struct {
	cfg       Config
	engine    Engine
	logger    *zap.Logger
	observers observers
	tracer    trace.Tracer
	metrics   *telemetry.SearchMetrics
	runID     string

	state State
	done  bool
	final Report
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers a progress observer. Observers are called in
// registration order.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.runID = id
		}
	}
}

// NewSession creates a session for cfg over engine.
func NewSession(cfg Config, engine Engine, opts ...Option) *Session {
	s := &Session{
		cfg:    cfg,
		engine: engine,
		logger: zap.NewNop(),
		tracer: otel.Tracer(telemetry.InstrumentationName),
		runID:  uuid.NewString(),
		state:  newState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	metrics, err := telemetry.NewSearchMetrics(otel.Meter(telemetry.InstrumentationName))
	if err != nil {
		s.logger.Warn("search metrics unavailable", zap.Error(err))
		metrics = telemetry.NopSearchMetrics()
	}
	s.metrics = metrics
	return s
}

// RunID identifies this session in logs, traces and the journal.
func (s *Session) RunID() string {
	return s.runID
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// State returns a copy of the current session state.
func (s *Session) State() State {
	return s.state
}

// Run loads sources and extends the horizon until the termination policy,
// an engine failure or cancellation halts the loop. It always returns a
// report; failures are recorded in Report.Err rather than returned.
func (s *Session) Run(ctx context.Context, sources []string) Report {
	if s.done {
		return s.final
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "search.run", trace.WithAttributes(
		attribute.String("run_id", s.runID),
		attribute.String("config", s.cfg.String()),
	))
	defer span.End()

	s.logger.Info("search started",
		zap.String("run_id", s.runID),
		zap.Stringer("config", s.cfg),
		zap.Strings("sources", sources))

	if err := s.engine.Load(ctx, sources); err != nil {
		s.fail(ctx, &EngineError{Op: "load", Step: -1, Err: err})
	} else {
		for ShouldContinue(s.state.Step, s.state.LastOutcome, s.cfg) {
			if err := s.iterate(ctx); err != nil {
				s.fail(ctx, err)
				break
			}
		}
	}

	report := Render(s.state, s.cfg)
	report.RunID = s.runID
	report.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("verdict", report.Verdict.String()),
		attribute.Int("witness_step", report.WitnessStep),
		attribute.Int("steps", report.Steps),
	)
	s.logger.Info("search finished",
		zap.String("run_id", s.runID),
		zap.Stringer("verdict", report.Verdict),
		zap.Int("witness_step", report.WitnessStep),
		zap.Int("steps", report.Steps),
		zap.Int("solves", report.Solves),
		zap.Int("skips", report.Skips),
		zap.Duration("duration", report.Duration))

	s.done = true
	s.final = report
	return report
}

// iterate runs one step of the incremental protocol.
func (s *Session) iterate(ctx context.Context) error {
	step := s.state.Step
	ctx, span := s.tracer.Start(ctx, "search.step", trace.WithAttributes(attribute.Int("step", step)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	parts := []Part{
		{Name: FragmentCheck, Params: []int{step}},
		{Name: FragmentStep, Params: []int{step}},
	}
	if step == 0 {
		parts = append(parts, Part{Name: FragmentBase})
	}
	if err := s.engine.Ground(ctx, parts); err != nil {
		return &EngineError{Op: "ground", Step: step, Err: err}
	}
	if step > 0 {
		if err := s.engine.ReleaseExternal(QueryExternal, []int{s.state.ExternalStep}); err != nil {
			return &EngineError{Op: "release external", Step: step, Err: err}
		}
	}
	if err := s.engine.AssignExternal(QueryExternal, []int{step}, true); err != nil {
		return &EngineError{Op: "assign external", Step: step, Err: err}
	}
	s.state.ExternalStep = step

	s.observers.StepStarted(step)
	s.metrics.Steps.Add(ctx, 1)

	if ShouldSolve(step, s.cfg) {
		res, err := s.solve(ctx, step)
		if err != nil {
			return err
		}
		hadWitness := s.state.Witness != nil
		s.state.recordSolve(step, res)
		s.observers.StepSolved(step, res)
		if !hadWitness && s.state.Witness != nil {
			s.logger.Info("witness found", zap.String("run_id", s.runID), zap.Int("step", step))
		}
	} else {
		s.state.Skips++
		s.metrics.Skips.Add(ctx, 1)
		s.observers.StepSkipped(step)
		s.logger.Debug("step skipped", zap.Int("step", step), zap.Stringer("strategy", s.cfg.Strategy()))
	}

	s.state.Step++
	return nil
}

func (s *Session) solve(ctx context.Context, step int) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "search.solve", trace.WithAttributes(attribute.Int("step", step)))
	defer span.End()

	start := time.Now()
	res, err := s.engine.Solve(ctx)
	elapsed := time.Since(start)
	s.metrics.SolveDuration.Record(ctx, elapsed.Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, &EngineError{Op: "solve", Step: step, Err: err}
	}
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	s.metrics.Solves.Add(ctx, 1, telemetry.OutcomeAttr(res.Outcome.String()))
	s.logger.Debug("step solved",
		zap.Int("step", step),
		zap.Stringer("outcome", res.Outcome),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

// fail records err as the reason the loop halted.
func (s *Session) fail(ctx context.Context, err error) {
	s.state.Err = err
	kind := Classify(err)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	s.logger.Error("search halted",
		zap.String("run_id", s.runID),
		zap.String("kind", string(kind)),
		zap.Int("step", s.state.Step),
		zap.Error(err))
	s.observers.Failed(s.state.Step, err)
}
