// Package telemetry wires OpenTelemetry tracing and metrics for recongo.
//
// Exporters are limited to "stdout" and "none": recongo is a short-lived
// command whose standard output carries the result protocol, so the stdout
// exporters write to an explicit writer (stderr by default).
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// InstrumentationName names the tracer and meter used by recongo packages.
const InstrumentationName = "recongo/search"

// ErrUnknownExporter is returned for exporter names other than stdout/none.
var ErrUnknownExporter = errors.New("unknown exporter")

// Config controls telemetry behavior.
type Config struct {
	// ServiceName identifies this process in exported data.
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the version string attached to the resource.
	ServiceVersion string `yaml:"service_version"`

	// TraceExporter selects the trace exporter: "stdout" or "none".
	TraceExporter string `yaml:"trace_exporter" validate:"omitempty,oneof=stdout none"`

	// MetricExporter selects the metric exporter: "stdout" or "none".
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=stdout none"`
}

// DefaultConfig disables both exporters.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "recongo",
		ServiceVersion: "dev",
		TraceExporter:  "none",
		MetricExporter: "none",
	}
}

// Enabled reports whether any exporter is configured.
func (c Config) Enabled() bool {
	return (c.TraceExporter != "" && c.TraceExporter != "none") ||
		(c.MetricExporter != "" && c.MetricExporter != "none")
}

// Init installs global tracer and meter providers according to cfg. The
// returned shutdown flushes exporters and must be called before exit. A nil
// writer means os.Stderr.
func Init(ctx context.Context, cfg Config, w io.Writer) (shutdown func(context.Context) error, err error) {
	if w == nil {
		w = os.Stderr
	}

	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	switch cfg.TraceExporter {
	case "", "none":
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp := trace.NewTracerProvider(
			trace.WithSyncer(exporter),
			trace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
	default:
		return nil, fmt.Errorf("%w: trace %q", ErrUnknownExporter, cfg.TraceExporter)
	}

	switch cfg.MetricExporter {
	case "", "none":
	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("create metric exporter: %w", err)
		}
		mp := metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(exporter)),
		)
		otel.SetMeterProvider(mp)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
	default:
		_ = shutdown(ctx)
		return nil, fmt.Errorf("%w: metric %q", ErrUnknownExporter, cfg.MetricExporter)
	}

	return shutdown, nil
}
