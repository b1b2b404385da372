package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rocketbitz/briefkasten/queue"
)

// PrometheusOptions configures NewPrometheus.
type PrometheusOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

var _ queue.MetricHook = (*Prometheus)(nil)

// Prometheus implements queue.MetricHook using Prometheus counters.
type Prometheus struct {
	envelopePosted    *prometheus.CounterVec
	envelopeDelivered *prometheus.CounterVec
	bufferFlushed     *prometheus.CounterVec
	overflowed        *prometheus.CounterVec
	terminationRound  *prometheus.CounterVec
	terminationQuiet  *prometheus.CounterVec
	transportErrors   *prometheus.CounterVec
}

var (
	envelopePostedKeys    = []string{"rank", "dest", "receiver", "elements"}
	envelopeDeliveredKeys = []string{"rank", "sender"}
	bufferFlushedKeys     = []string{"rank", "peer", "elements"}
	overflowedKeys        = []string{"rank", "policy", "peer"}
	terminationKeys       = []string{"rank"}
	transportErrorKeys    = []string{"rank", "op", "peer"}
)

// NewPrometheus constructs a queue.MetricHook backed by Prometheus
// counters, one vector per buffered-queue lifecycle event.
func NewPrometheus(opts PrometheusOptions) (*Prometheus, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &Prometheus{
		envelopePosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "briefkasten_queue_envelope_posted_total",
			Help:        "Number of envelopes appended to an OutBuffer",
			ConstLabels: opts.ConstLabels,
		}, envelopePostedKeys),
		envelopeDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "briefkasten_queue_envelope_delivered_total",
			Help:        "Number of envelopes reconstructed and dispatched to OnMessage",
			ConstLabels: opts.ConstLabels,
		}, envelopeDeliveredKeys),
		bufferFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "briefkasten_queue_buffer_flushed_total",
			Help:        "Number of OutBuffers handed off to the transport",
			ConstLabels: opts.ConstLabels,
		}, bufferFlushedKeys),
		overflowed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "briefkasten_queue_overflow_triggered_total",
			Help:        "Number of times the global threshold overflow policy forced a flush",
			ConstLabels: opts.ConstLabels,
		}, overflowedKeys),
		terminationRound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "briefkasten_queue_termination_rounds_total",
			Help:        "Number of termination protocol rounds run",
			ConstLabels: opts.ConstLabels,
		}, terminationKeys),
		terminationQuiet: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "briefkasten_queue_termination_quiesced_total",
			Help:        "Number of times termination reached global quiescence",
			ConstLabels: opts.ConstLabels,
		}, terminationKeys),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "briefkasten_queue_transport_errors_total",
			Help:        "Number of transport-level errors surfaced to the queue",
			ConstLabels: opts.ConstLabels,
		}, transportErrorKeys),
	}

	var err error
	if p.envelopePosted, err = registerCounterVec(reg, p.envelopePosted); err != nil {
		return nil, err
	}
	if p.envelopeDelivered, err = registerCounterVec(reg, p.envelopeDelivered); err != nil {
		return nil, err
	}
	if p.bufferFlushed, err = registerCounterVec(reg, p.bufferFlushed); err != nil {
		return nil, err
	}
	if p.overflowed, err = registerCounterVec(reg, p.overflowed); err != nil {
		return nil, err
	}
	if p.terminationRound, err = registerCounterVec(reg, p.terminationRound); err != nil {
		return nil, err
	}
	if p.terminationQuiet, err = registerCounterVec(reg, p.terminationQuiet); err != nil {
		return nil, err
	}
	if p.transportErrors, err = registerCounterVec(reg, p.transportErrors); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Prometheus) EnvelopePosted(attrs map[string]string) {
	p.envelopePosted.With(labels(attrs, envelopePostedKeys...)).Inc()
}

func (p *Prometheus) EnvelopeDelivered(attrs map[string]string) {
	p.envelopeDelivered.With(labels(attrs, envelopeDeliveredKeys...)).Inc()
}

func (p *Prometheus) BufferFlushed(attrs map[string]string) {
	p.bufferFlushed.With(labels(attrs, bufferFlushedKeys...)).Inc()
}

func (p *Prometheus) Overflowed(attrs map[string]string) {
	p.overflowed.With(labels(attrs, overflowedKeys...)).Inc()
}

func (p *Prometheus) TerminationRoundStarted(attrs map[string]string) {
	p.terminationRound.With(labels(attrs, terminationKeys...)).Inc()
}

func (p *Prometheus) TerminationQuiesced(attrs map[string]string) {
	p.terminationQuiet.With(labels(attrs, terminationKeys...)).Inc()
}

func (p *Prometheus) TransportError(_ error, attrs map[string]string) {
	p.transportErrors.With(labels(attrs, transportErrorKeys...)).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

func labels(attrs map[string]string, keys ...string) prometheus.Labels {
	labs := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		labs[key] = attrs[key]
	}
	return labs
}
