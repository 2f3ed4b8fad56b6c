package search

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	cfg, err := DefaultOptions().Build()
	require.NoError(t, err)

	minSteps, ok := cfg.MinSteps()
	assert.True(t, ok)
	assert.Equal(t, 1, minSteps)
	_, ok = cfg.MaxSteps()
	assert.False(t, ok)
	assert.Equal(t, StopSat, cfg.Stop())
	assert.Equal(t, ModeShortest, cfg.Mode())
	assert.Equal(t, StrategyLinear, cfg.Strategy())
	assert.Equal(t, "imin=1 imax=none istop=SAT isearch=shortest istrategy=lin", cfg.String())
}

func TestLongestForcesMinToMax(t *testing.T) {
	opts := DefaultOptions()
	opts.Mode = ModeLongest
	opts.MaxSteps = intp(6)
	cfg, err := opts.Build()
	require.NoError(t, err)

	minSteps, ok := cfg.MinSteps()
	require.True(t, ok)
	assert.Equal(t, 6, minSteps)
}

func TestLongestWithoutBoundIsConfigError(t *testing.T) {
	opts := DefaultOptions()
	opts.Mode = ModeLongest
	_, err := opts.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "isearch", cfgErr.Option)
	assert.Equal(t, KindConfiguration, Classify(err))
}

func TestBuildRejectsNegativeBounds(t *testing.T) {
	_, err := Options{MinSteps: intp(-1)}.Build()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = Options{MaxSteps: intp(-3)}.Build()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBuildRejectsUnknownEnums(t *testing.T) {
	_, err := Options{Stop: StopCriterion(9)}.Build()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = Options{Strategy: StepStrategy(9)}.Build()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = Options{Mode: SearchMode(9)}.Build()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseSteps(t *testing.T) {
	n, err := ParseSteps("imax", "none", true)
	require.NoError(t, err)
	assert.Nil(t, n)

	n, err = ParseSteps("imax", " 12 ", true)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, 12, *n)
	assert.Equal(t, "12", FormatSteps(n))
	assert.Equal(t, "none", FormatSteps(nil))

	_, err = ParseSteps("imin", "none", false)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseSteps("imin", "-1", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value too small")

	_, err = ParseSteps("imin", "ten", false)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseEnums(t *testing.T) {
	stop, err := ParseStopCriterion("UNSAT")
	require.NoError(t, err)
	assert.Equal(t, StopUnsat, stop)
	_, err = ParseStopCriterion("sat")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	mode, err := ParseSearchMode("existent")
	require.NoError(t, err)
	assert.Equal(t, ModeExistent, mode)
	_, err = ParseSearchMode("widest")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	strategy, err := ParseStepStrategy("exp")
	require.NoError(t, err)
	assert.Equal(t, StrategyExponential, strategy)
	_, err = ParseStepStrategy("cube")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	for _, s := range []StopCriterion{StopSat, StopUnsat, StopUnknown} {
		parsed, err := ParseStopCriterion(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
}
