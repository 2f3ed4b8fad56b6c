// Package mangle runs incremental searches on the Google Mangle engine.
//
// Programs are ordinary Mangle source split into fragments with #program
// directives. Grounding a fragment instantiates its parameters and adds the
// result to the program; solving evaluates the program to a fixpoint and
// checks it for conflict facts.
package mangle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"recongo/internal/search"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

var (
	// ErrNotLoaded is returned when grounding or solving before Load.
	ErrNotLoaded = errors.New("no program loaded")
	// ErrNotGrounded is returned when solving before any fragment was grounded.
	ErrNotGrounded = errors.New("no fragment grounded")
)

// Config holds Mangle engine configuration.
type Config struct {
	// FactLimit caps the facts created by one solve; 0 disables the cap.
	FactLimit int `yaml:"fact_limit" validate:"gte=0"`

	// SolveTimeout bounds a single solve; an expired solve is UNKNOWN.
	// 0 disables the bound. The abandoned evaluation keeps running in the
	// background until it finishes or hits FactLimit, so keep FactLimit
	// set when a timeout is used.
	SolveTimeout time.Duration `yaml:"solve_timeout" validate:"gte=0"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FactLimit:    1000000,
		SolveTimeout: 0,
	}
}

// Stats contains engine statistics.
type Stats struct {
	GroundedClauses int            `json:"grounded_clauses"`
	Instantiations  int            `json:"instantiations"`
	Solves          int            `json:"solves"`
	// Timeouts counts solves abandoned after SolveTimeout. Each one may
	// still hold an evaluation goroutine until FactLimit stops it.
	Timeouts        int            `json:"timeouts"`
	LastModelSize   int            `json:"last_model_size"`
	TotalFacts      int            `json:"total_facts"`
	PredicateCounts map[string]int `json:"predicate_counts"`
}

type evalFunc func(info *analysis.ProgramInfo, store factstore.ConcurrentFactStore, factLimit int) error

type external struct {
	atom  ast.Atom
	value bool
}

// Engine implements search.Engine on top of Mangle.
type Engine struct {
	config Config
	logger *zap.Logger
	stdin  io.Reader
	eval   evalFunc

	mu            sync.Mutex
	program       *Program
	clauses       []ast.Clause
	decls         []ast.Decl
	userDecls     map[ast.PredicateSym]bool
	externalDecls map[ast.PredicateSym]ast.Decl
	externals     map[string]*external
	released      map[string]bool
	programInfo   *analysis.ProgramInfo
	stats         Stats
}

var _ search.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithStdin sets the reader used for the "-" source.
func WithStdin(r io.Reader) Option {
	return func(e *Engine) {
		if r != nil {
			e.stdin = r
		}
	}
}

// NewEngine creates a new Mangle engine instance.
func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		config: cfg,
		logger: zap.NewNop(),
		stdin:  os.Stdin,
		eval:   evalProgram,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.reset(nil)
	return e
}

func evalProgram(info *analysis.ProgramInfo, store factstore.ConcurrentFactStore, factLimit int) error {
	var err error
	if factLimit > 0 {
		_, err = mengine.EvalProgramWithStats(info, store, mengine.WithCreatedFactLimit(factLimit))
	} else {
		_, err = mengine.EvalProgramWithStats(info, store)
	}
	return err
}

func (e *Engine) reset(p *Program) {
	e.program = p
	e.clauses = nil
	e.decls = nil
	e.userDecls = make(map[ast.PredicateSym]bool)
	e.externalDecls = make(map[ast.PredicateSym]ast.Decl)
	e.externals = make(map[string]*external)
	e.released = make(map[string]bool)
	e.programInfo = nil
	e.stats = Stats{}
}

// Load reads and splits the program sources, discarding anything grounded
// before. No sources, or "-", reads standard input.
func (e *Engine) Load(ctx context.Context, sources []string) error {
	if len(sources) == 0 {
		sources = []string{"-"}
	}
	program := NewProgram()
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.parseSource(program, src); err != nil {
			return err
		}
	}
	if err := program.declareQuery(); err != nil {
		return err
	}

	e.mu.Lock()
	e.reset(program)
	e.mu.Unlock()

	e.logger.Debug("program loaded",
		zap.Strings("sources", sources),
		zap.Int("fragments", len(program.order)))
	return nil
}

func (e *Engine) parseSource(program *Program, src string) error {
	if src == "-" {
		return program.Parse("<stdin>", e.stdin)
	}
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open program file %s: %w", src, err)
	}
	defer f.Close()
	return program.Parse(src, f)
}

// Ground instantiates parts and re-analyses the whole program. Parts that
// name no fragment ground nothing. On error the program is left unchanged.
func (e *Engine) Ground(ctx context.Context, parts []search.Part) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.program == nil {
		return ErrNotLoaded
	}

	var (
		clauses   []ast.Clause
		decls     []ast.Decl
		externals []ast.Atom
	)
	userDecls := make(map[ast.PredicateSym]bool, len(e.userDecls))
	for sym := range e.userDecls {
		userDecls[sym] = true
	}

	instantiated := 0
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		frag, ok := e.program.Fragment(part.Name)
		if !ok {
			e.logger.Debug("fragment not defined", zap.Stringer("part", part))
			continue
		}
		instantiated++
		text, exts, err := frag.Instantiate(part.Params)
		if err != nil {
			return err
		}
		unit, err := parse.Unit(strings.NewReader(text))
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", part, err)
		}
		clauses = append(clauses, unit.Clauses...)
		for _, decl := range unit.Decls {
			sym := decl.DeclaredAtom.Predicate
			if userDecls[sym] {
				continue
			}
			userDecls[sym] = true
			decls = append(decls, decl)
		}
		for _, ext := range exts {
			atom, err := parseExternal(ext)
			if err != nil {
				return fmt.Errorf("%s: %w", part, err)
			}
			externals = append(externals, atom)
		}
	}

	externalDecls := make(map[ast.PredicateSym]ast.Decl, len(e.externalDecls))
	for sym, decl := range e.externalDecls {
		externalDecls[sym] = decl
	}
	for _, atom := range externals {
		sym := atom.Predicate
		if _, ok := externalDecls[sym]; ok {
			continue
		}
		decl, err := synthesizeDecl(sym)
		if err != nil {
			return err
		}
		externalDecls[sym] = decl
	}

	allClauses := append(append([]ast.Clause(nil), e.clauses...), clauses...)
	allDecls := append(append([]ast.Decl(nil), e.decls...), decls...)
	unit := parse.SourceUnit{
		Clauses: allClauses,
		Decls:   append(allDecls, sortedDecls(externalDecls, userDecls)...),
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return fmt.Errorf("failed to analyze program: %w", err)
	}

	e.clauses = allClauses
	e.decls = allDecls
	e.userDecls = userDecls
	e.externalDecls = externalDecls
	e.programInfo = programInfo
	for _, atom := range externals {
		key := atom.String()
		if e.released[key] {
			continue
		}
		if _, ok := e.externals[key]; !ok {
			e.externals[key] = &external{atom: atom}
		}
	}
	e.stats.GroundedClauses = len(allClauses)
	e.stats.Instantiations += instantiated

	e.logger.Debug("grounded",
		zap.Stringers("parts", parts),
		zap.Int("clauses", len(clauses)),
		zap.Int("externals", len(externals)))
	return nil
}

// parseExternal parses an instantiated #external atom, which must be ground.
func parseExternal(text string) (ast.Atom, error) {
	atom, err := parse.Atom(text)
	if err != nil {
		atom, err = parse.Atom(text + ".")
		if err != nil {
			return ast.Atom{}, fmt.Errorf("failed to parse external %q: %w", text, err)
		}
	}
	for _, arg := range atom.Args {
		if _, ok := arg.(ast.Constant); !ok {
			return ast.Atom{}, fmt.Errorf("external %s is not ground", atom)
		}
	}
	return atom, nil
}

// synthesizeDecl declares an external predicate so rules may use it in
// their bodies without any rule defining it.
func synthesizeDecl(sym ast.PredicateSym) (ast.Decl, error) {
	vars := make([]string, sym.Arity)
	for i := range vars {
		vars[i] = fmt.Sprintf("A%d", i)
	}
	src := fmt.Sprintf("Decl %s(%s).", sym.Symbol, strings.Join(vars, ", "))
	unit, err := parse.Unit(strings.NewReader(src))
	if err != nil {
		return ast.Decl{}, fmt.Errorf("failed to declare external %s: %w", sym.Symbol, err)
	}
	// parse.Unit prepends the implicit package declaration
	for _, decl := range unit.Decls {
		if decl.DeclaredAtom.Predicate == sym {
			return decl, nil
		}
	}
	return ast.Decl{}, fmt.Errorf("failed to declare external %s", sym.Symbol)
}

func sortedDecls(decls map[ast.PredicateSym]ast.Decl, skip map[ast.PredicateSym]bool) []ast.Decl {
	syms := make([]ast.PredicateSym, 0, len(decls))
	for sym := range decls {
		if !skip[sym] {
			syms = append(syms, sym)
		}
	}
	sort.Slice(syms, func(i, j int) bool { return signature(syms[i]) < signature(syms[j]) })
	out := make([]ast.Decl, len(syms))
	for i, sym := range syms {
		out[i] = decls[sym]
	}
	return out
}

// signature renders a predicate as name/arity.
func signature(sym ast.PredicateSym) string {
	return fmt.Sprintf("%s/%d", sym.Symbol, sym.Arity)
}

func externalAtom(name string, args []int) ast.Atom {
	terms := make([]ast.BaseTerm, len(args))
	for i, a := range args {
		terms[i] = ast.Number(int64(a))
	}
	return ast.NewAtom(name, terms...)
}

// AssignExternal sets a grounded external atom. Atoms that were never
// grounded, or were released, are ignored.
func (e *Engine) AssignExternal(name string, args []int, value bool) error {
	atom := externalAtom(name, args)
	key := atom.String()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.program == nil {
		return ErrNotLoaded
	}
	ext, ok := e.externals[key]
	if !ok {
		e.logger.Debug("assign ignored for unknown external", zap.String("atom", key))
		return nil
	}
	ext.value = value
	return nil
}

// ReleaseExternal permanently removes an external atom; it stays false.
func (e *Engine) ReleaseExternal(name string, args []int) error {
	atom := externalAtom(name, args)
	key := atom.String()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.program == nil {
		return ErrNotLoaded
	}
	delete(e.externals, key)
	e.released[key] = true
	return nil
}

type evalResult struct {
	store factstore.ConcurrentFactStore
	err   error
}

// Solve evaluates the grounded program with the asserted externals. A
// conflict fact makes the result UNSAT; otherwise it is SAT and the model
// lists the shown atoms. When the solve timeout expires first the result is
// UNKNOWN.
func (e *Engine) Solve(ctx context.Context) (search.Result, error) {
	e.mu.Lock()
	if e.program == nil {
		e.mu.Unlock()
		return search.Result{}, ErrNotLoaded
	}
	programInfo := e.programInfo
	if programInfo == nil {
		e.mu.Unlock()
		return search.Result{}, ErrNotGrounded
	}
	var asserted []ast.Atom
	hidden := make(map[ast.PredicateSym]bool, len(e.externalDecls)+1)
	for sym := range e.externalDecls {
		hidden[sym] = true
	}
	for _, ext := range e.externals {
		if ext.value {
			asserted = append(asserted, ext.atom)
		}
	}
	shows := e.program.Shows()
	hideAll := e.program.hideAll
	e.stats.Solves++
	e.mu.Unlock()

	var timeout <-chan time.Time
	if e.config.SolveTimeout > 0 {
		timer := time.NewTimer(e.config.SolveTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	start := time.Now()
	done := make(chan evalResult, 1)
	go func() {
		store := factstore.NewConcurrentFactStore(factstore.NewSimpleInMemoryStore())
		for _, atom := range asserted {
			store.Add(atom)
		}
		err := e.eval(programInfo, store, e.config.FactLimit)
		done <- evalResult{store: store, err: err}
	}()

	var res evalResult
	select {
	case res = <-done:
	case <-timeout:
		e.mu.Lock()
		e.stats.Timeouts++
		e.mu.Unlock()
		e.logger.Warn("solve timed out", zap.Duration("timeout", e.config.SolveTimeout))
		return search.Result{Outcome: search.OutcomeUnknown}, nil
	case <-ctx.Done():
		return search.Result{}, fmt.Errorf("solve interrupted after %v: %w", time.Since(start), ctx.Err())
	}
	if res.err != nil {
		return search.Result{}, fmt.Errorf("evaluation failed: %w", res.err)
	}

	visible := func(sym ast.PredicateSym) bool {
		if hidden[sym] || sym.Symbol == ConflictPredicate {
			return false
		}
		if len(shows) == 0 {
			return !hideAll
		}
		for _, s := range shows {
			if s == sym {
				return true
			}
		}
		return false
	}

	conflict := false
	var model []string
	counts := make(map[string]int)
	for _, sym := range res.store.ListPredicates() {
		n := 0
		show := visible(sym)
		err := res.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
			n++
			if show {
				model = append(model, atom.String())
			}
			return nil
		})
		if err != nil {
			return search.Result{}, fmt.Errorf("read facts of %s: %w", signature(sym), err)
		}
		counts[signature(sym)] += n
		if sym.Symbol == ConflictPredicate && n > 0 {
			conflict = true
		}
	}
	sort.Strings(model)

	e.mu.Lock()
	e.stats.TotalFacts = res.store.EstimateFactCount()
	e.stats.PredicateCounts = counts
	e.stats.LastModelSize = len(model)
	e.mu.Unlock()

	e.logger.Debug("solved",
		zap.Bool("conflict", conflict),
		zap.Int("asserted_externals", len(asserted)),
		zap.Int("model_size", len(model)),
		zap.Duration("elapsed", time.Since(start)))

	if conflict {
		return search.Result{Outcome: search.OutcomeUnsatisfiable}, nil
	}
	return search.Result{
		Outcome:  search.OutcomeSatisfiable,
		Model:    strings.Join(model, " "),
		HasModel: true,
	}, nil
}

// GetStats returns engine statistics.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := e.stats
	if e.stats.PredicateCounts != nil {
		stats.PredicateCounts = make(map[string]int, len(e.stats.PredicateCounts))
		for k, v := range e.stats.PredicateCounts {
			stats.PredicateCounts[k] = v
		}
	}
	return stats
}

// FragmentSummary describes one fragment of a loaded program.
type FragmentSummary struct {
	Name      string   `json:"name"`
	Params    []string `json:"params,omitempty"`
	Externals []string `json:"externals,omitempty"`
}

// Summary describes a loaded program.
type Summary struct {
	Fragments []FragmentSummary `json:"fragments"`
	Shows     []string          `json:"shows,omitempty"`
	HideAll   bool              `json:"hide_all,omitempty"`
	Clauses   int               `json:"grounded_clauses"`
}

// Summary reports the fragments, externals and show signatures of the
// loaded program.
func (e *Engine) Summary() (Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.program == nil {
		return Summary{}, ErrNotLoaded
	}
	var s Summary
	for _, frag := range e.program.Fragments() {
		s.Fragments = append(s.Fragments, FragmentSummary{
			Name:      frag.Name,
			Params:    frag.Params,
			Externals: frag.Externals(),
		})
	}
	for _, sym := range e.program.Shows() {
		s.Shows = append(s.Shows, signature(sym))
	}
	s.HideAll = e.program.hideAll
	s.Clauses = len(e.clauses)
	return s, nil
}
