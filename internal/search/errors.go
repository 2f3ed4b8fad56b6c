package search

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidConfig is the sentinel wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("invalid search configuration")

// ConfigError reports an invalid option value or option combination.
type ConfigError struct {
	Option string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Option, e.Reason)
	}
	return fmt.Sprintf("%s=%q: %s", e.Option, e.Value, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// EngineError wraps a failure raised by the engine during one operation.
type EngineError struct {
	Op   string
	Step int
	Err  error
}

func (e *EngineError) Error() string {
	if e.Step < 0 {
		return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("engine %s at step %d: %v", e.Op, e.Step, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies a failure for reporting.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "ConfigurationError"
	KindEngine        ErrorKind = "EngineFailure"
	KindInterruption  ErrorKind = "Interruption"
)

// Classify maps an error onto the reporting taxonomy. Cancellation wins over
// engine failure because an interrupted solve surfaces as both.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled):
		return KindInterruption
	case errors.Is(err, ErrInvalidConfig):
		return KindConfiguration
	default:
		return KindEngine
	}
}
