package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"recongo/internal/search"
	"recongo/internal/telemetry"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "recongo.yaml"

// Config holds all recongo configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Incremental search options
	Search SearchConfig `yaml:"search"`

	// Mangle engine limits
	Engine EngineConfig `yaml:"engine"`

	// Result output
	Output OutputConfig `yaml:"output"`

	// Run journal
	Journal JournalConfig `yaml:"journal"`

	// Watch mode
	Watch WatchConfig `yaml:"watch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// OpenTelemetry exporters
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// SearchConfig holds the search options in their command-line spelling.
type SearchConfig struct {
	IMin      string `yaml:"imin" validate:"count"`                               // integer
	IMax      string `yaml:"imax" validate:"steps"`                               // integer or "none"
	IStop     string `yaml:"istop" validate:"oneof=SAT UNSAT UNKNOWN"`            // stop criterion
	ISearch   string `yaml:"isearch" validate:"oneof=existent shortest longest"` // search mode
	IStrategy string `yaml:"istrategy" validate:"oneof=lin sqr exp"`             // step strategy
}

// EngineConfig configures the Mangle engine.
type EngineConfig struct {
	FactLimit    int    `yaml:"fact_limit" validate:"gte=0"`
	SolveTimeout string `yaml:"solve_timeout" validate:"omitempty,duration"` // empty or "0s" disables
}

// OutputConfig configures result rendering.
type OutputConfig struct {
	Format string `yaml:"format" validate:"oneof=text json"`
	Pretty bool   `yaml:"pretty"`
}

// JournalConfig configures the SQLite run journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce string `yaml:"debounce" validate:"omitempty,duration"`
}

// envOverrides lists the environment variables that override file settings.
type envOverrides struct {
	IMin           string `env:"RECONGO_IMIN"`
	IMax           string `env:"RECONGO_IMAX"`
	IStop          string `env:"RECONGO_ISTOP"`
	ISearch        string `env:"RECONGO_ISEARCH"`
	IStrategy      string `env:"RECONGO_ISTRATEGY"`
	LogLevel       string `env:"RECONGO_LOG_LEVEL"`
	Journal        string `env:"RECONGO_JOURNAL"`
	SolveTimeout   string `env:"RECONGO_SOLVE_TIMEOUT"`
	Output         string `env:"RECONGO_OUTPUT"`
	TraceExporter  string `env:"OTEL_TRACES_EXPORTER"`
	MetricExporter string `env:"OTEL_METRICS_EXPORTER"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "recongo",
		Version: "1.0.0",

		Search: SearchConfig{
			IMin:      "1",
			IMax:      "none",
			IStop:     "SAT",
			ISearch:   "shortest",
			IStrategy: "lin",
		},

		Engine: EngineConfig{
			FactLimit:    1000000,
			SolveTimeout: "0s",
		},

		Output: OutputConfig{
			Format: "text",
			Pretty: true,
		},

		Watch: WatchConfig{
			Debounce: "500ms",
		},

		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},

		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load loads configuration from a YAML file and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Search.IMin, o.IMin)
	set(&c.Search.IMax, o.IMax)
	set(&c.Search.IStop, o.IStop)
	set(&c.Search.ISearch, o.ISearch)
	set(&c.Search.IStrategy, o.IStrategy)
	set(&c.Logging.Level, o.LogLevel)
	set(&c.Journal.Path, o.Journal)
	set(&c.Engine.SolveTimeout, o.SolveTimeout)
	set(&c.Output.Format, o.Output)
	set(&c.Telemetry.TraceExporter, o.TraceExporter)
	set(&c.Telemetry.MetricExporter, o.MetricExporter)
	return nil
}

// GetSolveTimeout returns the per-solve timeout; zero means unbounded.
func (c *Config) GetSolveTimeout() time.Duration {
	if c.Engine.SolveTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Engine.SolveTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetWatchDebounce returns the watch debounce interval.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", validateDuration)
	_ = v.RegisterValidation("steps", validateSteps)
	_ = v.RegisterValidation("count", validateCount)
	return v
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateSteps(fl validator.FieldLevel) bool {
	_, err := search.ParseSteps(fl.FieldName(), fl.Field().String(), true)
	return err == nil
}

func validateCount(fl validator.FieldLevel) bool {
	_, err := search.ParseSteps(fl.FieldName(), fl.Field().String(), false)
	return err == nil
}

// Validate validates the configuration. Failures wrap
// search.ErrInvalidConfig.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		_, err = c.BuildSearch()
		return err
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", search.ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s=%q fails %q", fe.Namespace(), fmt.Sprint(fe.Value()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", search.ErrInvalidConfig, strings.Join(msgs, "; "))
}

// SearchOptions converts the search section into search.Options.
func (c *Config) SearchOptions() (search.Options, error) {
	var opts search.Options
	var err error

	if opts.MinSteps, err = search.ParseSteps("imin", c.Search.IMin, false); err != nil {
		return search.Options{}, err
	}
	if opts.MaxSteps, err = search.ParseSteps("imax", c.Search.IMax, true); err != nil {
		return search.Options{}, err
	}
	if opts.Stop, err = search.ParseStopCriterion(c.Search.IStop); err != nil {
		return search.Options{}, err
	}
	if opts.Mode, err = search.ParseSearchMode(c.Search.ISearch); err != nil {
		return search.Options{}, err
	}
	if opts.Strategy, err = search.ParseStepStrategy(c.Search.IStrategy); err != nil {
		return search.Options{}, err
	}
	return opts, nil
}

// BuildSearch validates the search section as a whole and returns the
// immutable search configuration.
func (c *Config) BuildSearch() (search.Config, error) {
	opts, err := c.SearchOptions()
	if err != nil {
		return search.Config{}, err
	}
	return opts.Build()
}
