package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPrometheusCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook, err := NewPrometheus(PrometheusOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("NewPrometheus: %v", err)
	}

	hook.EnvelopePosted(map[string]string{"rank": "0", "dest": "1", "receiver": "1", "elements": "3"})
	hook.EnvelopeDelivered(map[string]string{"rank": "1", "sender": "0"})
	hook.BufferFlushed(map[string]string{"rank": "0", "peer": "1", "elements": "3"})
	hook.Overflowed(map[string]string{"rank": "0", "policy": "round_robin", "peer": "2"})
	hook.TerminationRoundStarted(map[string]string{"rank": "0"})
	hook.TerminationQuiesced(map[string]string{"rank": "0"})
	hook.TransportError(errors.New("boom"), map[string]string{"rank": "0", "op": "progress"})

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	cases := map[string]float64{
		"briefkasten_queue_envelope_posted_total":      1,
		"briefkasten_queue_envelope_delivered_total":   1,
		"briefkasten_queue_buffer_flushed_total":       1,
		"briefkasten_queue_overflow_triggered_total":   1,
		"briefkasten_queue_termination_rounds_total":   1,
		"briefkasten_queue_termination_quiesced_total": 1,
		"briefkasten_queue_transport_errors_total":     1,
	}
	for name, want := range cases {
		if got := findCounterValue(mfs, name); got != want {
			t.Fatalf("unexpected counter %s: got %v want %v", name, got, want)
		}
	}
}

func findCounterValue(mfs []*dto.MetricFamily, name string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.Metric {
			sum += m.GetCounter().GetValue()
		}
		return sum
	}
	return 0
}
