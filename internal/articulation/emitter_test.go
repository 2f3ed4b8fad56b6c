package articulation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"recongo/internal/search"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

func TestEmitterTextProgress(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, FormatText)

	e.StepStarted(0)
	e.StepSolved(0, search.Result{Outcome: search.OutcomeUnsatisfiable})
	e.StepStarted(1)
	e.StepSkipped(1)
	e.StepStarted(2)
	e.StepSolved(2, search.Result{Outcome: search.OutcomeSatisfiable, Model: "at(3)", HasModel: true})
	require.NoError(t, e.EmitReport(search.Report{
		Verdict:     search.VerdictReachable,
		WitnessStep: 2,
		Model:       "at(3)",
	}))

	want := []string{
		"c Step: 0",
		"c Result: UNSAT",
		"c Step: 1",
		"c Skipping",
		"c Step: 2",
		"c Result: SAT",
		"a Answer: at(3)",
		"s REACHABLE",
		"a Step: 2",
	}
	if diff := cmp.Diff(want, lines(&buf)); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestEmitterTextVerdictWithoutWitness(t *testing.T) {
	for _, verdict := range []search.Verdict{search.VerdictUnreachable, search.VerdictUnknown} {
		var buf bytes.Buffer
		e := NewEmitter(&buf, FormatText)
		require.NoError(t, e.EmitReport(search.Report{Verdict: verdict, WitnessStep: search.NoWitness}))
		assert.Equal(t, []string{"s " + verdict.String(), "a Step: -1"}, lines(&buf))
	}
}

func TestEmitterTextError(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, FormatText)

	e.Failed(3, &search.EngineError{Op: "solve", Step: 3, Err: errors.New("boom")})
	e.EmitError(&search.ConfigError{Option: "isearch", Value: "longest", Reason: "requires imax"})
	e.EmitError(fmt.Errorf("solve: %w", context.Canceled))
	e.EmitError(nil)

	assert.Equal(t, []string{
		"e *** EngineFailure engine solve at step 3: boom",
		`e *** ConfigurationError isearch="longest": requires imax`,
		"e *** Interruption solve: context canceled",
	}, lines(&buf))
}

func TestEmitterJSONSuppressesProgress(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, FormatJSON)
	e.PrettyPrint = false

	e.StepStarted(0)
	e.StepSkipped(0)
	e.StepSolved(0, search.Result{Outcome: search.OutcomeSatisfiable})
	e.Failed(0, errors.New("ignored in json mode"))
	require.NoError(t, e.EmitReport(search.Report{
		RunID:       "run-1",
		Verdict:     search.VerdictUnreachable,
		WitnessStep: search.NoWitness,
		Steps:       4,
		Err:         &search.EngineError{Op: "solve", Step: 3, Err: errors.New("boom")},
		ErrorKind:   search.KindEngine,
	}))

	out := lines(&buf)
	require.Len(t, out, 1)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[0]), &decoded))
	assert.Equal(t, "UNREACHABLE", decoded["verdict"])
	assert.Equal(t, float64(-1), decoded["witness_step"])
	assert.Equal(t, "EngineFailure", decoded["error_kind"])
	assert.Equal(t, "engine solve at step 3: boom", decoded["error"])
}

func TestEmitterJSONError(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, FormatJSON)
	e.EmitError(&search.ConfigError{Option: "imin", Value: "x", Reason: "not an integer"})

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "ConfigurationError", decoded["error_kind"])
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestEmitterKeepsFirstWriteError(t *testing.T) {
	e := NewEmitter(failingWriter{}, FormatText)
	e.StepStarted(0)
	err := e.EmitReport(search.Report{Verdict: search.VerdictUnknown, WitnessStep: search.NoWitness})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed pipe")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}

func TestEmitterComment(t *testing.T) {
	var buf bytes.Buffer
	NewEmitter(&buf, FormatText).Comment("Changed: reach.mg")
	assert.Equal(t, "c Changed: reach.mg\n", buf.String())

	buf.Reset()
	NewEmitter(&buf, FormatJSON).Comment("Changed: reach.mg")
	assert.Empty(t, buf.String())
}
