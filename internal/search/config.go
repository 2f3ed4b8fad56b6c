package search

import (
	"fmt"
	"strconv"
	"strings"
)

// StopCriterion selects the solver outcome that, once observed after the
// minimum horizon, allows the search to stop.
type StopCriterion int

const (
	StopSat StopCriterion = iota
	StopUnsat
	StopUnknown
)

func (s StopCriterion) String() string {
	switch s {
	case StopSat:
		return "SAT"
	case StopUnsat:
		return "UNSAT"
	case StopUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("StopCriterion(%d)", int(s))
	}
}

// ParseStopCriterion accepts SAT, UNSAT or UNKNOWN.
func ParseStopCriterion(s string) (StopCriterion, error) {
	switch s {
	case "SAT":
		return StopSat, nil
	case "UNSAT":
		return StopUnsat, nil
	case "UNKNOWN":
		return StopUnknown, nil
	}
	return 0, &ConfigError{Option: "istop", Value: s, Reason: "expected SAT, UNSAT or UNKNOWN"}
}

// SearchMode selects the search path.
type SearchMode int

const (
	ModeShortest SearchMode = iota
	ModeExistent
	ModeLongest
)

func (m SearchMode) String() string {
	switch m {
	case ModeExistent:
		return "existent"
	case ModeShortest:
		return "shortest"
	case ModeLongest:
		return "longest"
	default:
		return fmt.Sprintf("SearchMode(%d)", int(m))
	}
}

// ParseSearchMode accepts existent, shortest or longest.
func ParseSearchMode(s string) (SearchMode, error) {
	switch s {
	case "existent":
		return ModeExistent, nil
	case "shortest":
		return ModeShortest, nil
	case "longest":
		return ModeLongest, nil
	}
	return 0, &ConfigError{Option: "isearch", Value: s, Reason: "expected existent, shortest or longest"}
}

// StepStrategy selects which step indices are actually solved.
type StepStrategy int

const (
	StrategyLinear StepStrategy = iota
	StrategySquare
	StrategyExponential
)

func (s StepStrategy) String() string {
	switch s {
	case StrategyLinear:
		return "lin"
	case StrategySquare:
		return "sqr"
	case StrategyExponential:
		return "exp"
	default:
		return fmt.Sprintf("StepStrategy(%d)", int(s))
	}
}

// ParseStepStrategy accepts lin, sqr or exp.
func ParseStepStrategy(s string) (StepStrategy, error) {
	switch s {
	case "lin":
		return StrategyLinear, nil
	case "sqr":
		return StrategySquare, nil
	case "exp":
		return StrategyExponential, nil
	}
	return 0, &ConfigError{Option: "istrategy", Value: s, Reason: "expected lin, sqr or exp"}
}

// ParseSteps parses a non-negative step bound. When optional is set the
// literal "none" yields a nil bound.
func ParseSteps(option, s string, optional bool) (*int, error) {
	s = strings.TrimSpace(s)
	if optional && s == "none" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, &ConfigError{Option: option, Value: s, Reason: "not an integer"}
	}
	if n < 0 {
		return nil, &ConfigError{Option: option, Value: s, Reason: "value too small"}
	}
	return &n, nil
}

// FormatSteps renders a bound the way ParseSteps reads it.
func FormatSteps(n *int) string {
	if n == nil {
		return "none"
	}
	return strconv.Itoa(*n)
}

// Options is the mutable form of the configuration, filled while flags and
// config files are parsed. Build turns it into an immutable Config.
type Options struct {
	MinSteps *int
	MaxSteps *int
	Stop     StopCriterion
	Mode     SearchMode
	Strategy StepStrategy
}

// DefaultOptions mirrors the command-line defaults.
func DefaultOptions() Options {
	minSteps := 1
	return Options{
		MinSteps: &minSteps,
		Stop:     StopSat,
		Mode:     ModeShortest,
		Strategy: StrategyLinear,
	}
}

// Build validates the options and freezes them. In longest mode the minimum
// horizon is forced to the maximum one.
func (o Options) Build() (Config, error) {
	cfg := Config{
		stop:     o.Stop,
		mode:     o.Mode,
		strategy: o.Strategy,
	}
	if o.MinSteps != nil {
		if *o.MinSteps < 0 {
			return Config{}, &ConfigError{Option: "imin", Value: strconv.Itoa(*o.MinSteps), Reason: "value too small"}
		}
		cfg.minSteps, cfg.hasMin = *o.MinSteps, true
	}
	if o.MaxSteps != nil {
		if *o.MaxSteps < 0 {
			return Config{}, &ConfigError{Option: "imax", Value: strconv.Itoa(*o.MaxSteps), Reason: "value too small"}
		}
		cfg.maxSteps, cfg.hasMax = *o.MaxSteps, true
	}
	if o.Stop < StopSat || o.Stop > StopUnknown {
		return Config{}, &ConfigError{Option: "istop", Value: o.Stop.String(), Reason: "unknown stop criterion"}
	}
	if o.Strategy < StrategyLinear || o.Strategy > StrategyExponential {
		return Config{}, &ConfigError{Option: "istrategy", Value: o.Strategy.String(), Reason: "unknown step strategy"}
	}
	switch o.Mode {
	case ModeExistent, ModeShortest:
	case ModeLongest:
		if !cfg.hasMax {
			return Config{}, &ConfigError{Option: "isearch", Value: o.Mode.String(), Reason: "longest search requires --imax"}
		}
		cfg.minSteps, cfg.hasMin = cfg.maxSteps, true
	default:
		return Config{}, &ConfigError{Option: "isearch", Value: o.Mode.String(), Reason: "unknown search mode"}
	}
	return cfg, nil
}

// Config is the immutable configuration of one search session.
type Config struct {
	minSteps int
	hasMin   bool
	maxSteps int
	hasMax   bool
	stop     StopCriterion
	mode     SearchMode
	strategy StepStrategy
}

// MinSteps returns the minimum horizon and whether it is set.
func (c Config) MinSteps() (int, bool) { return c.minSteps, c.hasMin }

// MaxSteps returns the maximum horizon and whether it is set.
func (c Config) MaxSteps() (int, bool) { return c.maxSteps, c.hasMax }

func (c Config) Stop() StopCriterion    { return c.stop }
func (c Config) Mode() SearchMode       { return c.mode }
func (c Config) Strategy() StepStrategy { return c.strategy }

func (c Config) String() string {
	minSteps := "none"
	if c.hasMin {
		minSteps = strconv.Itoa(c.minSteps)
	}
	maxSteps := "none"
	if c.hasMax {
		maxSteps = strconv.Itoa(c.maxSteps)
	}
	return fmt.Sprintf("imin=%s imax=%s istop=%s isearch=%s istrategy=%s",
		minSteps, maxSteps, c.stop, c.mode, c.strategy)
}
