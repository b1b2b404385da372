package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rocketbitz/briefkasten/queue"
)

var _ queue.Tracer = (*OTelTracer)(nil)

// OTelTracer implements queue.Tracer over an OpenTelemetry trace.Tracer.
// The queue wraps each Terminate call in its own span; flushes are not
// traced.
type OTelTracer struct {
	tracer trace.Tracer
	ctx    context.Context
}

// NewOTelTracer constructs a queue.Tracer backed by the given
// trace.TracerProvider (otel.GetTracerProvider() if nil). Spans are
// started against ctx, or context.Background() if ctx is nil; briefkasten
// queues are not themselves context-aware, so every span shares one root.
func NewOTelTracer(ctx context.Context, provider trace.TracerProvider, name string) *OTelTracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if name == "" {
		name = "github.com/rocketbitz/briefkasten/queue"
	}
	return &OTelTracer{tracer: provider.Tracer(name), ctx: ctx}
}

// StartSpan implements queue.Tracer.
func (t *OTelTracer) StartSpan(name string, attrs ...queue.TraceAttribute) queue.Span {
	_, span := t.tracer.Start(t.ctx, name, trace.WithAttributes(toOtelAttributes(attrs)...))
	return &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

// End implements queue.Span.
func (s *otelSpan) End(err error) {
	if err != nil {
		s.span.SetStatus(codes.Error, err.Error())
		s.span.RecordError(err)
	}
	s.span.End()
}

// AddEvent implements queue.Span.
func (s *otelSpan) AddEvent(name string, attrs ...queue.TraceAttribute) {
	s.span.AddEvent(name, trace.WithAttributes(toOtelAttributes(attrs)...))
}

// RecordError implements queue.Span.
func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}

func toOtelAttributes(attrs []queue.TraceAttribute) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		if s, ok := a.Value.(string); ok {
			kvs = append(kvs, attribute.String(a.Key, s))
			continue
		}
		kvs = append(kvs, attribute.String(a.Key, fmt.Sprint(a.Value)))
	}
	return kvs
}
