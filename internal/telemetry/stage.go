package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// StageInstruments traces and measures pipeline stages through the global
// OTel providers. With telemetry disabled those providers are noop.
type StageInstruments struct {
	tracer trace.Tracer
	meter  metric.Meter

	stageTotal    metric.Int64Counter
	stageDuration metric.Float64Histogram
}

// NewStageInstruments creates the stage tracer and instruments.
func NewStageInstruments() (*StageInstruments, error) {
	s := &StageInstruments{
		tracer: Tracer(),
		meter:  otel.Meter(InstrumentationName),
	}

	var err error
	s.stageTotal, err = s.meter.Int64Counter("meshypipe.stage.total",
		metric.WithDescription("Pipeline stages executed"),
		metric.WithUnit("{stage}"))
	if err != nil {
		return nil, err
	}

	s.stageDuration, err = s.meter.Float64Histogram("meshypipe.stage.duration",
		metric.WithDescription("Pipeline stage duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return s, nil
}

// StartStage opens a span named after the stage. A nil receiver yields a
// noop span.
func (s *StageInstruments) StartStage(ctx context.Context, runID, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if s == nil {
		return ctx, noop.Span{}
	}
	attrs = append(attrs,
		attribute.String("meshypipe.run_id", runID),
		attribute.String("meshypipe.stage", stage),
	)
	return s.tracer.Start(ctx, "meshypipe."+stage, trace.WithAttributes(attrs...))
}

// EndStage records the outcome and ends span.
func (s *StageInstruments) EndStage(ctx context.Context, span trace.Span, stage string, duration time.Duration, err error) {
	if s == nil {
		return
	}
	defer span.End()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	)
	s.stageTotal.Add(ctx, 1, attrs)
	s.stageDuration.Record(ctx, duration.Seconds(), attrs)
}
