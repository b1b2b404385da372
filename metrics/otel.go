// Package metrics provides concrete queue.MetricHook, queue.Tracer and
// queue.Span implementations backed by OpenTelemetry and Prometheus,
// covering the buffered-queue lifecycle events queue.MetricHook names.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rocketbitz/briefkasten/queue"
)

// OTelOptions configures NewOTel.
type OTelOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ queue.MetricHook = (*OTel)(nil)

// OTel implements queue.MetricHook using OpenTelemetry counters.
type OTel struct {
	envelopePosted    metric.Int64Counter
	envelopeDelivered metric.Int64Counter
	bufferFlushed     metric.Int64Counter
	overflowed        metric.Int64Counter
	terminationRound  metric.Int64Counter
	terminationQuiet  metric.Int64Counter
	transportErrors   metric.Int64Counter
}

// NewOTel constructs a queue.MetricHook that emits OpenTelemetry counter
// measurements for every buffered-queue lifecycle event.
func NewOTel(opts OTelOptions) (*OTel, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/rocketbitz/briefkasten/queue"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	var err error
	o := &OTel{}
	if o.envelopePosted, err = meter.Int64Counter("briefkasten.queue.envelope.posted"); err != nil {
		return nil, err
	}
	if o.envelopeDelivered, err = meter.Int64Counter("briefkasten.queue.envelope.delivered"); err != nil {
		return nil, err
	}
	if o.bufferFlushed, err = meter.Int64Counter("briefkasten.queue.buffer.flushed"); err != nil {
		return nil, err
	}
	if o.overflowed, err = meter.Int64Counter("briefkasten.queue.overflow.triggered"); err != nil {
		return nil, err
	}
	if o.terminationRound, err = meter.Int64Counter("briefkasten.queue.termination.rounds"); err != nil {
		return nil, err
	}
	if o.terminationQuiet, err = meter.Int64Counter("briefkasten.queue.termination.quiesced"); err != nil {
		return nil, err
	}
	if o.transportErrors, err = meter.Int64Counter("briefkasten.queue.transport.errors"); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *OTel) EnvelopePosted(attrs map[string]string) {
	o.envelopePosted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, "dest", "receiver", "elements")...))
}

func (o *OTel) EnvelopeDelivered(attrs map[string]string) {
	o.envelopeDelivered.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, "sender")...))
}

func (o *OTel) BufferFlushed(attrs map[string]string) {
	o.bufferFlushed.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, "peer", "elements")...))
}

func (o *OTel) Overflowed(attrs map[string]string) {
	o.overflowed.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, "policy", "peer")...))
}

func (o *OTel) TerminationRoundStarted(attrs map[string]string) {
	o.terminationRound.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

func (o *OTel) TerminationQuiesced(attrs map[string]string) {
	o.terminationQuiet.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

func (o *OTel) TransportError(_ error, attrs map[string]string) {
	o.transportErrors.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, "op", "peer")...))
}

// otelAttrs always carries rank, and includes each optional key only when
// the caller supplied a non-empty value for it, keeping unused label
// dimensions off the series.
func otelAttrs(attrs map[string]string, optional ...string) []attribute.KeyValue {
	kvs := []attribute.KeyValue{attribute.String("rank", attrs["rank"])}
	for _, key := range optional {
		if v, ok := attrs[key]; ok && v != "" {
			kvs = append(kvs, attribute.String(key, v))
		}
	}
	return kvs
}
