package search

import (
	"context"
	"fmt"
)

// Outcome is the result of one solve attempt. OutcomeNone marks the absence
// of any solve so far.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSatisfiable
	OutcomeUnsatisfiable
	OutcomeUnknown
)

// String uses the solver's short names (SAT, UNSAT, UNKNOWN).
func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "NONE"
	case OutcomeSatisfiable:
		return "SAT"
	case OutcomeUnsatisfiable:
		return "UNSAT"
	case OutcomeUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Fragment names passed to Engine.Ground.
const (
	FragmentBase  = "base"
	FragmentStep  = "step"
	FragmentCheck = "check"
)

// QueryExternal is the external predicate marking the active continuation
// point of the horizon.
const QueryExternal = "query"

// Part names one program fragment instantiated with integer parameters.
type Part struct {
	Name   string
	Params []int
}

func (p Part) String() string {
	return fmt.Sprintf("%s%v", p.Name, p.Params)
}

// Result is what one solve attempt produced. Model holds the rendering of the
// first model found when HasModel is set.
type Result struct {
	Outcome  Outcome
	Model    string
	HasModel bool
}

// Engine is the grounding and solving backend driven by a Session.
type Engine interface {
	// Load reads program sources; "-" designates standard input.
	Load(ctx context.Context, sources []string) error
	// Ground instantiates the named fragments into the current program.
	Ground(ctx context.Context, parts []Part) error
	// AssignExternal sets an external atom true or false.
	AssignExternal(name string, args []int, value bool) error
	// ReleaseExternal permanently removes an external atom.
	ReleaseExternal(name string, args []int) error
	// Solve runs one solve attempt over the grounded program.
	Solve(ctx context.Context) (Result, error)
}

// Observer receives progress events from a running session.
type Observer interface {
	StepStarted(step int)
	StepSkipped(step int)
	StepSolved(step int, res Result)
	Failed(step int, err error)
}

// observers fans events out in registration order.
type observers []Observer

func (o observers) StepStarted(step int) {
	for _, obs := range o {
		obs.StepStarted(step)
	}
}

func (o observers) StepSkipped(step int) {
	for _, obs := range o {
		obs.StepSkipped(step)
	}
}

func (o observers) StepSolved(step int, res Result) {
	for _, obs := range o {
		obs.StepSolved(step, res)
	}
}

func (o observers) Failed(step int, err error) {
	for _, obs := range o {
		obs.Failed(step, err)
	}
}
