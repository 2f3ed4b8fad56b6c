package search

import "math"

// ShouldSolve reports whether the solver runs at step. The first step and the
// last admissible step are always solved; otherwise the strategy decides.
func ShouldSolve(step int, cfg Config) bool {
	if step == 0 {
		return true
	}
	if maxSteps, ok := cfg.MaxSteps(); ok && step == maxSteps-1 {
		return true
	}
	switch cfg.Strategy() {
	case StrategySquare:
		return isSquare(step)
	case StrategyExponential:
		return isPowerOfTwo(step)
	}
	return true
}

// ShouldContinue reports whether the loop extends the horizon to step given
// the most recent solve outcome.
func ShouldContinue(step int, last Outcome, cfg Config) bool {
	if maxSteps, ok := cfg.MaxSteps(); ok && step >= maxSteps {
		return false
	}
	if minSteps, ok := cfg.MinSteps(); !ok || step < minSteps {
		return true
	}
	if last == OutcomeNone {
		return true
	}
	return !stopReached(cfg.Stop(), last)
}

func stopReached(stop StopCriterion, last Outcome) bool {
	switch stop {
	case StopSat:
		return last == OutcomeSatisfiable
	case StopUnsat:
		return last == OutcomeUnsatisfiable
	case StopUnknown:
		return last == OutcomeUnknown
	}
	return false
}

func isSquare(x int) bool {
	if x < 0 {
		return false
	}
	r := int(math.Sqrt(float64(x)))
	// float rounding can land one off for large x
	for r*r > x {
		r--
	}
	for (r+1)*(r+1) <= x {
		r++
	}
	return r*r == x
}

func isPowerOfTwo(x int) bool {
	return x > 0 && x&(x-1) == 0
}
