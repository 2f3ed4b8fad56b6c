package search

import (
	"encoding/json"
	"fmt"
	"time"
)

// NoWitness is the witness step reported when no satisfying model was found.
const NoWitness = -1

// Verdict is the final answer of a search.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictReachable
	VerdictUnreachable
)

func (v Verdict) String() string {
	switch v {
	case VerdictReachable:
		return "REACHABLE"
	case VerdictUnreachable:
		return "UNREACHABLE"
	case VerdictUnknown:
		return "REACHABILITY UNKNOWN"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// MarshalText makes verdicts render by name in JSON reports.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Witness is the first step at which a satisfying model was observed.
type Witness struct {
	Step  int
	Model string
}

// State is the mutable state of a session. It is owned by exactly one
// Session and is discarded when the run ends.
type State struct {
	Step         int
	LastOutcome  Outcome
	Witness      *Witness
	ExternalStep int
	Solves       int
	Skips        int
	Err          error
}

func newState() State {
	return State{ExternalStep: -1}
}

// recordSolve stores an outcome. The first satisfying model wins.
func (s *State) recordSolve(step int, res Result) {
	s.LastOutcome = res.Outcome
	s.Solves++
	if res.Outcome == OutcomeSatisfiable && s.Witness == nil {
		s.Witness = &Witness{Step: step, Model: res.Model}
	}
}

// Report is the rendered outcome of a finished session.
type Report struct {
	RunID       string        `json:"run_id"`
	Verdict     Verdict       `json:"verdict"`
	WitnessStep int           `json:"witness_step"`
	Model       string        `json:"model,omitempty"`
	Steps       int           `json:"steps"`
	Solves      int           `json:"solves"`
	Skips       int           `json:"skips"`
	LastOutcome string        `json:"last_outcome"`
	Config      string        `json:"config"`
	Duration    time.Duration `json:"duration_ns"`
	Err         error         `json:"-"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
}

// MarshalJSON adds the error message next to its kind.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Render turns the final session state into a verdict.
func Render(state State, cfg Config) Report {
	r := Report{
		Verdict:     VerdictUnknown,
		WitnessStep: NoWitness,
		Steps:       state.Step,
		Solves:      state.Solves,
		Skips:       state.Skips,
		LastOutcome: state.LastOutcome.String(),
		Config:      cfg.String(),
		Err:         state.Err,
	}
	if state.Err != nil {
		r.ErrorKind = Classify(state.Err)
	}
	maxSteps, bounded := cfg.MaxSteps()
	switch {
	case state.Witness != nil:
		r.Verdict = VerdictReachable
		r.WitnessStep = state.Witness.Step
		r.Model = state.Witness.Model
	case bounded && state.Step >= maxSteps:
		r.Verdict = VerdictUnreachable
	}
	return r
}
