// Package logging builds the zap loggers used by recongo.
// Each subsystem logs under its own category; categories can be switched off
// individually in the logging section of the configuration. Output goes to
// stderr or a file, never to stdout.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"recongo/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and configuration
	CategorySession   Category = "session"   // Search loop
	CategoryEngine    Category = "engine"    // Mangle grounding and solving
	CategoryJournal   Category = "journal"   // SQLite run journal
	CategoryWatch     Category = "watch"     // File watching
	CategoryTelemetry Category = "telemetry" // Exporter setup and shutdown
)

// Loggers hands out category loggers derived from one root logger.
type Loggers struct {
	root *zap.Logger
	cfg  config.LoggingConfig
}

// New builds the root logger from cfg. verbose forces the debug level.
func New(cfg config.LoggingConfig, verbose bool) (*Loggers, error) {
	zc := zap.NewProductionConfig()

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if cfg.Level == "" {
		level, err = zap.NewAtomicLevelAt(zapcore.WarnLevel), nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if verbose {
		level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zc.Level = level

	switch cfg.Format {
	case "", "console":
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	case "json":
		zc.Encoding = "json"
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zc.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		if dir := filepath.Dir(cfg.File); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		zc.OutputPaths = []string{cfg.File}
	}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.Sampling = nil

	root, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Loggers{root: root, cfg: cfg}, nil
}

// Wrap uses an existing logger as the root, e.g. zap.NewNop() in tests.
func Wrap(root *zap.Logger, cfg config.LoggingConfig) *Loggers {
	if root == nil {
		root = zap.NewNop()
	}
	return &Loggers{root: root, cfg: cfg}
}

// Root returns the uncategorised logger.
func (l *Loggers) Root() *zap.Logger {
	return l.root
}

// Get returns the logger for a category, or a no-op logger when the
// category is disabled.
func (l *Loggers) Get(category Category) *zap.Logger {
	if !l.cfg.IsCategoryEnabled(string(category)) {
		return zap.NewNop()
	}
	return l.root.Named(string(category))
}

// Sync flushes buffered entries.
func (l *Loggers) Sync() error {
	return l.root.Sync()
}
