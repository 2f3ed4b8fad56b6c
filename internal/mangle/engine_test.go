package mangle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"recongo/internal/search"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/factstore"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const toggleProgram = `
#program check(t).
#external query(t).
conflict(t) :- query(t).
`

func loadString(t *testing.T, cfg Config, src string) *Engine {
	t.Helper()
	engine := NewEngine(cfg, WithStdin(strings.NewReader(src)), WithLogger(zaptest.NewLogger(t)))
	if err := engine.Load(context.Background(), nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return engine
}

func groundStep(t *testing.T, engine *Engine, step int) {
	t.Helper()
	parts := []search.Part{
		{Name: search.FragmentCheck, Params: []int{step}},
		{Name: search.FragmentStep, Params: []int{step}},
	}
	if step == 0 {
		parts = append(parts, search.Part{Name: search.FragmentBase})
	}
	if err := engine.Ground(context.Background(), parts); err != nil {
		t.Fatalf("Ground(%d) error = %v", step, err)
	}
}

func mustSolve(t *testing.T, engine *Engine) search.Result {
	t.Helper()
	res, err := engine.Solve(context.Background())
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	return res
}

func TestEngineReachabilityIncremental(t *testing.T) {
	engine := NewEngine(DefaultConfig(), WithLogger(zaptest.NewLogger(t)))
	if err := engine.Load(context.Background(), []string{"testdata/reach.mg"}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := []search.Outcome{
		search.OutcomeUnsatisfiable,
		search.OutcomeUnsatisfiable,
		search.OutcomeUnsatisfiable,
		search.OutcomeSatisfiable,
	}
	for step, outcome := range want {
		groundStep(t, engine, step)
		if step > 0 {
			if err := engine.ReleaseExternal("query", []int{step - 1}); err != nil {
				t.Fatalf("ReleaseExternal() error = %v", err)
			}
		}
		if err := engine.AssignExternal("query", []int{step}, true); err != nil {
			t.Fatalf("AssignExternal() error = %v", err)
		}
		res := mustSolve(t, engine)
		if res.Outcome != outcome {
			t.Fatalf("step %d: outcome = %s, want %s", step, res.Outcome, outcome)
		}
		if outcome == search.OutcomeSatisfiable {
			if !res.HasModel || res.Model != "reached(3)" {
				t.Errorf("step %d: model = %q (has %v), want reached(3)", step, res.Model, res.HasModel)
			}
		}
	}

	stats := engine.GetStats()
	if stats.Solves != 4 {
		t.Errorf("Solves = %d, want 4", stats.Solves)
	}
	if stats.Instantiations != 9 {
		t.Errorf("Instantiations = %d, want 9", stats.Instantiations)
	}
	if stats.LastModelSize != 1 {
		t.Errorf("LastModelSize = %d, want 1", stats.LastModelSize)
	}
}

func TestEngineDrivenBySession(t *testing.T) {
	tests := []struct {
		name    string
		max     int
		verdict search.Verdict
		witness int
	}{
		{"reachable", 6, search.VerdictReachable, 3},
		{"bound too small", 3, search.VerdictUnreachable, search.NoWitness},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxSteps, minSteps := tt.max, 1
			cfg, err := search.Options{MinSteps: &minSteps, MaxSteps: &maxSteps}.Build()
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			engine := NewEngine(DefaultConfig(), WithLogger(zaptest.NewLogger(t)))
			session := search.NewSession(cfg, engine, search.WithLogger(zaptest.NewLogger(t)))
			report := session.Run(context.Background(), []string{"testdata/reach.mg"})
			if report.Err != nil {
				t.Fatalf("Run() error = %v", report.Err)
			}
			if report.Verdict != tt.verdict {
				t.Errorf("Verdict = %s, want %s", report.Verdict, tt.verdict)
			}
			if report.WitnessStep != tt.witness {
				t.Errorf("WitnessStep = %d, want %d", report.WitnessStep, tt.witness)
			}
		})
	}
}

func TestEngineExternalAssignment(t *testing.T) {
	engine := loadString(t, DefaultConfig(), toggleProgram)
	groundStep(t, engine, 0)

	if res := mustSolve(t, engine); res.Outcome != search.OutcomeSatisfiable {
		t.Fatalf("unassigned external: outcome = %s, want SAT", res.Outcome)
	}

	if err := engine.AssignExternal("query", []int{0}, true); err != nil {
		t.Fatal(err)
	}
	if res := mustSolve(t, engine); res.Outcome != search.OutcomeUnsatisfiable {
		t.Fatalf("asserted external: outcome = %s, want UNSAT", res.Outcome)
	}

	if err := engine.AssignExternal("query", []int{0}, false); err != nil {
		t.Fatal(err)
	}
	if res := mustSolve(t, engine); res.Outcome != search.OutcomeSatisfiable {
		t.Fatalf("retracted external: outcome = %s, want SAT", res.Outcome)
	}
}

func TestEngineReleaseIsPermanent(t *testing.T) {
	engine := loadString(t, DefaultConfig(), toggleProgram)
	groundStep(t, engine, 0)

	if err := engine.ReleaseExternal("query", []int{0}); err != nil {
		t.Fatal(err)
	}
	if err := engine.AssignExternal("query", []int{0}, true); err != nil {
		t.Fatal(err)
	}
	// grounding the same fragment again must not resurrect the atom
	groundStep(t, engine, 0)
	if err := engine.AssignExternal("query", []int{0}, true); err != nil {
		t.Fatal(err)
	}

	res := mustSolve(t, engine)
	if res.Outcome != search.OutcomeSatisfiable {
		t.Fatalf("outcome = %s, want SAT", res.Outcome)
	}
	if res.Model != "" {
		t.Errorf("model = %q, externals and conflicts must be hidden", res.Model)
	}
}

func TestEngineUnknownFragmentGroundsNothing(t *testing.T) {
	engine := loadString(t, DefaultConfig(), "fact(1).\n")
	err := engine.Ground(context.Background(), []search.Part{
		{Name: search.FragmentBase},
		{Name: "missing", Params: []int{3}},
	})
	if err != nil {
		t.Fatalf("Ground() error = %v", err)
	}
	res := mustSolve(t, engine)
	if res.Model != "fact(1)" {
		t.Errorf("model = %q, want fact(1)", res.Model)
	}
	if got := engine.GetStats().Instantiations; got != 1 {
		t.Errorf("Instantiations = %d, want 1", got)
	}
}

func TestEngineGroundErrorLeavesProgramUnchanged(t *testing.T) {
	src := "fact(1).\n#program step(t).\nbroken(t :- .\n"
	engine := loadString(t, DefaultConfig(), src)
	if err := engine.Ground(context.Background(), []search.Part{{Name: search.FragmentBase}}); err != nil {
		t.Fatalf("Ground(base) error = %v", err)
	}
	before, _ := engine.Summary()

	err := engine.Ground(context.Background(), []search.Part{{Name: search.FragmentStep, Params: []int{0}}})
	if err == nil {
		t.Fatal("Ground(step) succeeded on malformed text")
	}
	after, _ := engine.Summary()
	if before.Clauses != after.Clauses {
		t.Errorf("clauses changed from %d to %d after failed ground", before.Clauses, after.Clauses)
	}
}

func TestEngineParameterCountMismatch(t *testing.T) {
	engine := loadString(t, DefaultConfig(), toggleProgram)
	err := engine.Ground(context.Background(), []search.Part{{Name: search.FragmentCheck}})
	if err == nil || !strings.Contains(err.Error(), "takes 1 parameters") {
		t.Fatalf("Ground() error = %v, want parameter count error", err)
	}
}

func TestEngineRequiresLoadAndGround(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	if err := engine.Ground(context.Background(), nil); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Ground() error = %v, want ErrNotLoaded", err)
	}
	if _, err := engine.Solve(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Solve() error = %v, want ErrNotLoaded", err)
	}

	engine = loadString(t, DefaultConfig(), toggleProgram)
	if _, err := engine.Solve(context.Background()); !errors.Is(err, ErrNotGrounded) {
		t.Errorf("Solve() error = %v, want ErrNotGrounded", err)
	}
}

func TestEngineLoadMissingFile(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	err := engine.Load(context.Background(), []string{"testdata/does-not-exist.mg"})
	if err == nil {
		t.Fatal("Load() succeeded for a missing file")
	}
}

// blockingEval stands in for an evaluation that does not finish until
// release is closed.
func blockingEval(release <-chan struct{}) evalFunc {
	return func(*analysis.ProgramInfo, factstore.ConcurrentFactStore, int) error {
		<-release
		return nil
	}
}

func TestEngineSolveTimeoutIsUnknown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SolveTimeout = 20 * time.Millisecond
	engine := loadString(t, cfg, toggleProgram)
	groundStep(t, engine, 0)

	release := make(chan struct{})
	defer close(release)
	engine.eval = blockingEval(release)

	res, err := engine.Solve(context.Background())
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if res.Outcome != search.OutcomeUnknown {
		t.Errorf("outcome = %s, want UNKNOWN", res.Outcome)
	}
	if got := engine.GetStats().Timeouts; got != 1 {
		t.Errorf("Timeouts = %d, want 1", got)
	}
}

func TestEngineSolveCancellation(t *testing.T) {
	engine := loadString(t, DefaultConfig(), toggleProgram)
	groundStep(t, engine, 0)

	release := make(chan struct{})
	defer close(release)
	engine.eval = blockingEval(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Solve(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Solve() error = %v, want context.Canceled", err)
	}
	if search.Classify(err) != search.KindInterruption {
		t.Errorf("Classify() = %s, want %s", search.Classify(err), search.KindInterruption)
	}
}

func TestEngineEvaluationError(t *testing.T) {
	engine := loadString(t, DefaultConfig(), toggleProgram)
	groundStep(t, engine, 0)
	boom := errors.New("fact limit exceeded")
	engine.eval = func(*analysis.ProgramInfo, factstore.ConcurrentFactStore, int) error { return boom }

	if _, err := engine.Solve(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Solve() error = %v, want %v", err, boom)
	}
}

func TestEngineSummary(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	if err := engine.Load(context.Background(), []string{"testdata/reach.mg"}); err != nil {
		t.Fatal(err)
	}
	summary, err := engine.Summary()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, f := range summary.Fragments {
		names = append(names, f.Name)
	}
	if got := strings.Join(names, ","); got != "base,step,check" {
		t.Errorf("fragments = %s, want base,step,check", got)
	}
	check := summary.Fragments[2]
	if len(check.Externals) != 1 || check.Externals[0] != "query(t)" {
		t.Errorf("check externals = %v, want [query(t)]", check.Externals)
	}
	if len(summary.Shows) != 1 || summary.Shows[0] != "reached/1" {
		t.Errorf("shows = %v, want [reached/1]", summary.Shows)
	}
}

func TestEngineDeclaresQueryExternal(t *testing.T) {
	src := "#program check(k).\nconflict(k) :- query(k).\n"
	engine := loadString(t, DefaultConfig(), src)
	summary, err := engine.Summary()
	if err != nil {
		t.Fatal(err)
	}
	check := summary.Fragments[len(summary.Fragments)-1]
	if check.Name != "check" || len(check.Externals) != 1 || check.Externals[0] != "query(k)" {
		t.Fatalf("check fragment = %+v, want external query(k)", check)
	}

	groundStep(t, engine, 0)
	if err := engine.AssignExternal("query", []int{0}, true); err != nil {
		t.Fatal(err)
	}
	if res := mustSolve(t, engine); res.Outcome != search.OutcomeUnsatisfiable {
		t.Errorf("outcome = %s, want UNSAT once query(0) holds", res.Outcome)
	}
}

func TestEngineCheckFragmentArity(t *testing.T) {
	engine := NewEngine(DefaultConfig(), WithStdin(strings.NewReader("#program check(a, b).\n")))
	err := engine.Load(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "exactly one parameter") {
		t.Fatalf("Load() error = %v, want check arity error", err)
	}
}

func TestSynthesizeDeclDeclaresExternal(t *testing.T) {
	sym := ast.PredicateSym{Symbol: "query", Arity: 1}
	decl, err := synthesizeDecl(sym)
	if err != nil {
		t.Fatalf("synthesizeDecl() error = %v", err)
	}
	if decl.DeclaredAtom.Predicate != sym {
		t.Fatalf("declared %v, want %v", decl.DeclaredAtom.Predicate, sym)
	}
}

func TestEngineGroundsRuleOverExternal(t *testing.T) {
	src := "#program check(t).\n#external query(t).\nreached(t) :- query(t).\n#show reached/1.\n"
	engine := loadString(t, DefaultConfig(), src)
	if err := engine.Ground(context.Background(), []search.Part{{Name: search.FragmentCheck, Params: []int{0}}}); err != nil {
		t.Fatalf("Ground() error = %v", err)
	}
	if err := engine.AssignExternal("query", []int{0}, true); err != nil {
		t.Fatal(err)
	}
	res := mustSolve(t, engine)
	if res.Outcome != search.OutcomeSatisfiable || res.Model != "reached(0)" {
		t.Errorf("result = %s %q, want SAT reached(0)", res.Outcome, res.Model)
	}
}
