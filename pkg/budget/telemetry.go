package budget

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Idkasam/kora-sdk/pkg/contracts"
)

const instrumentationName = "github.com/Idkasam/kora-sdk/pkg/budget"

type telemetry struct {
	tracer    trace.Tracer
	decisions metric.Int64Counter
	duration  metric.Float64Histogram
}

func newTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) (*telemetry, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter(instrumentationName)
	t := &telemetry{tracer: tp.Tracer(instrumentationName)}

	var err error
	t.decisions, err = meter.Int64Counter("kora.budget.decisions",
		metric.WithDescription("Spend decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}
	t.duration, err = meter.Float64Histogram("kora.budget.evaluation.duration",
		metric.WithDescription("Time spent evaluating one spend request"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100),
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *telemetry) record(ctx context.Context, rec *contracts.DecisionRecord, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("decision", rec.Decision),
		attribute.String("reason_code", string(rec.ReasonCode)),
	)
	t.decisions.Add(ctx, 1, attrs)
	t.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}
