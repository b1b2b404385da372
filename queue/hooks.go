package queue

// Logger provides unstructured debug logging hooks for a Queue.
type Logger interface {
	Debugf(format string, args ...any)
}

// StructuredLogger emits key/value pairs for structured logging
// backends.
type StructuredLogger interface {
	Debugw(msg string, keyvals ...any)
}

// TraceAttribute is one key/value pair attached to a span or event.
type TraceAttribute struct {
	Key   string
	Value any
}

// Tracer starts spans that wrap queue lifecycle activity. The queue
// starts one span per Terminate call; flushes are not traced.
type Tracer interface {
	StartSpan(name string, attrs ...TraceAttribute) Span
}

// Span records queue lifecycle events and errors for tracing systems.
type Span interface {
	End(err error)
	AddEvent(name string, attrs ...TraceAttribute)
	RecordError(err error)
}

// MetricHook captures queue telemetry events, one method per
// buffered-queue lifecycle event.
type MetricHook interface {
	EnvelopePosted(attrs map[string]string)
	EnvelopeDelivered(attrs map[string]string)
	BufferFlushed(attrs map[string]string)
	Overflowed(attrs map[string]string)
	TerminationRoundStarted(attrs map[string]string)
	TerminationQuiesced(attrs map[string]string)
	TransportError(err error, attrs map[string]string)
}

func logKV(key string, value any) TraceAttribute { return TraceAttribute{Key: key, Value: value} }

func (q *Queue[M, E]) metricAttrs(extra ...TraceAttribute) map[string]string {
	attrs := make(map[string]string, len(extra)+1)
	attrs["rank"] = itoa(int(q.self))
	for _, a := range extra {
		if a.Key == "" {
			continue
		}
		attrs[a.Key] = toString(a.Value)
	}
	return attrs
}

func (q *Queue[M, E]) logEvent(event string, attrs ...TraceAttribute) {
	if q.cfg.StructuredLogger != nil {
		kv := make([]any, 0, len(attrs)*2+2)
		kv = append(kv, "event", event)
		for _, a := range attrs {
			kv = append(kv, a.Key, a.Value)
		}
		q.cfg.StructuredLogger.Debugw("briefkasten queue", kv...)
		return
	}
	if q.cfg.Logger != nil {
		q.cfg.Logger.Debugf("briefkasten queue: %s %v", event, attrs)
	}
}
