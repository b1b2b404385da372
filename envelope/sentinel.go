package envelope

import (
	"iter"

	"github.com/rocketbitz/briefkasten/bkerr"
)

// SentinelMerger appends payload elements followed by a reserved
// sentinel value. M == E: the sentinel must lie outside the valid
// payload alphabet, which callers are responsible for arranging.
// Grounded on briefkasten::aggregation::SentinelMerger.
type SentinelMerger[E comparable] struct {
	Sentinel E
}

var _ EstimatingMerger[int, int] = SentinelMerger[int]{}

// Append implements Merger: payload elements followed by one sentinel,
// so consecutive posts to the same peer remain individually delimited.
func (s SentinelMerger[E]) Append(buf []E, _, _ PeerId, env MessageEnvelope[E]) ([]E, error) {
	buf = append(buf, env.Payload...)
	buf = append(buf, s.Sentinel)
	return buf, nil
}

// Estimate implements EstimatingMerger.
func (s SentinelMerger[E]) Estimate(buf []E, _, _ PeerId, env MessageEnvelope[E]) int {
	return len(buf) + len(env.Payload) + 1
}

// SentinelSplitter splits a sentinel-delimited buffer into envelopes. The
// spec leaves the behavior undefined when the buffer does not end with
// the sentinel; this implementation rejects such buffers as a
// TransportFailure rather than silently dropping the final record.
type SentinelSplitter[E comparable] struct {
	Sentinel E
}

var _ Splitter[int, int] = SentinelSplitter[int]{}

// Split implements Splitter.
func (s SentinelSplitter[E]) Split(buf []E, origin, self PeerId) (iter.Seq[MessageEnvelope[E]], error) {
	if len(buf) == 0 {
		return func(func(MessageEnvelope[E]) bool) {}, nil
	}
	if buf[len(buf)-1] != s.Sentinel {
		return nil, &bkerr.TransportFailure{
			Op:  "sentinel split",
			Err: &bkerr.CodecMisuse{Reason: "received buffer does not end with the configured sentinel"},
		}
	}
	body := buf[:len(buf)-1]
	return func(yield func(MessageEnvelope[E]) bool) {
		start := 0
		for i, v := range body {
			if v != s.Sentinel {
				continue
			}
			env := MessageEnvelope[E]{Payload: body[start:i], Sender: origin, Receiver: self, Tag: TagData}
			if !yield(env) {
				return
			}
			start = i + 1
		}
		if start < len(body) {
			env := MessageEnvelope[E]{Payload: body[start:], Sender: origin, Receiver: self, Tag: TagData}
			yield(env)
		}
	}, nil
}
