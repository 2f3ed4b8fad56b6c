package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// SearchMetrics holds the instruments recorded by a search session.
//
// Thread Safety: Safe for concurrent use after creation.
type SearchMetrics struct {
	// Steps counts horizon extensions.
	Steps metric.Int64Counter

	// Solves counts solve attempts by outcome.
	Solves metric.Int64Counter

	// Skips counts steps the strategy did not solve.
	Skips metric.Int64Counter

	// SolveDuration records solve latency in seconds.
	SolveDuration metric.Float64Histogram
}

// NewSearchMetrics registers the search instruments with meter.
func NewSearchMetrics(meter metric.Meter) (*SearchMetrics, error) {
	m := &SearchMetrics{}
	var err error

	m.Steps, err = meter.Int64Counter("recongo.steps",
		metric.WithDescription("Horizon extensions performed"),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, fmt.Errorf("create steps counter: %w", err)
	}

	m.Solves, err = meter.Int64Counter("recongo.solves",
		metric.WithDescription("Solve attempts by outcome"),
		metric.WithUnit("{solve}"))
	if err != nil {
		return nil, fmt.Errorf("create solves counter: %w", err)
	}

	m.Skips, err = meter.Int64Counter("recongo.skips",
		metric.WithDescription("Steps skipped by the step strategy"),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, fmt.Errorf("create skips counter: %w", err)
	}

	m.SolveDuration, err = meter.Float64Histogram("recongo.solve.duration",
		metric.WithDescription("Solve latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create solve duration histogram: %w", err)
	}

	return m, nil
}

// NopSearchMetrics returns instruments that record nothing.
func NopSearchMetrics() *SearchMetrics {
	m, _ := NewSearchMetrics(noop.NewMeterProvider().Meter(InstrumentationName))
	return m
}

// OutcomeAttr tags a measurement with a solve outcome.
func OutcomeAttr(outcome string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("outcome", outcome))
}
