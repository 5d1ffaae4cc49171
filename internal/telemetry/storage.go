package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mobizinc/changegate/internal/storage"
	"github.com/Mobizinc/changegate/internal/types"
)

const storageScopeName = "github.com/Mobizinc/changegate/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in cg.storage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("cg.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("cg.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("cg.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) Create(ctx context.Context, req *types.ValidationRequest) error {
	attrs := []attribute.KeyValue{
		attribute.String("cg.change.id", req.ChangeID),
		attribute.String("cg.component.type", req.ComponentType),
	}
	ctx, span, t := s.op(ctx, "Create", attrs...)
	err := s.inner.Create(ctx, req)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetByChangeID(ctx context.Context, changeID string) (*types.ValidationRequest, error) {
	attrs := []attribute.KeyValue{attribute.String("cg.change.id", changeID)}
	ctx, span, t := s.op(ctx, "GetByChangeID", attrs...)
	v, err := s.inner.GetByChangeID(ctx, changeID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) MarkProcessing(ctx context.Context, changeID string) (*types.ValidationRequest, error) {
	attrs := []attribute.KeyValue{attribute.String("cg.change.id", changeID)}
	ctx, span, t := s.op(ctx, "MarkProcessing", attrs...)
	v, err := s.inner.MarkProcessing(ctx, changeID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) MarkCompleted(ctx context.Context, changeID string, verdict *types.Verdict, durationMs int64) (*types.ValidationRequest, error) {
	attrs := []attribute.KeyValue{
		attribute.String("cg.change.id", changeID),
		attribute.String("cg.verdict", string(verdict.OverallStatus)),
	}
	ctx, span, t := s.op(ctx, "MarkCompleted", attrs...)
	v, err := s.inner.MarkCompleted(ctx, changeID, verdict, durationMs)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) MarkFailed(ctx context.Context, changeID, reason string) (*types.ValidationRequest, error) {
	attrs := []attribute.KeyValue{attribute.String("cg.change.id", changeID)}
	ctx, span, t := s.op(ctx, "MarkFailed", attrs...)
	v, err := s.inner.MarkFailed(ctx, changeID, reason)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListRecent(ctx context.Context, limit int) ([]*types.ValidationRequest, error) {
	attrs := []attribute.KeyValue{attribute.Int("cg.limit", limit)}
	ctx, span, t := s.op(ctx, "ListRecent", attrs...)
	v, err := s.inner.ListRecent(ctx, limit)
	if err == nil {
		span.SetAttributes(attribute.Int("cg.result.count", len(v)))
	}
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
