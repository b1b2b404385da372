package envelope

import "iter"

// AppendMerger concatenates the payload directly into the peer buffer.
// It requires M == E: the caller structures messages itself. Grounded on
// briefkasten::aggregation::AppendMerger in the original source.
type AppendMerger[E any] struct{}

var _ EstimatingMerger[int, int] = AppendMerger[int]{}

// Append implements Merger.
func (AppendMerger[E]) Append(buf []E, _, _ PeerId, env MessageEnvelope[E]) ([]E, error) {
	return append(buf, env.Payload...), nil
}

// Estimate implements EstimatingMerger.
func (AppendMerger[E]) Estimate(buf []E, _, _ PeerId, env MessageEnvelope[E]) int {
	return len(buf) + len(env.Payload)
}

// NoSplitSplitter treats an entire received buffer as a single envelope,
// the counterpart to AppendMerger. Grounded on
// briefkasten::aggregation::NoSplitter.
type NoSplitSplitter[E any] struct{}

var _ Splitter[int, int] = NoSplitSplitter[int]{}

// Split implements Splitter.
func (NoSplitSplitter[E]) Split(buf []E, origin, self PeerId) (iter.Seq[MessageEnvelope[E]], error) {
	env := MessageEnvelope[E]{Payload: buf, Sender: origin, Receiver: self, Tag: TagData}
	return func(yield func(MessageEnvelope[E]) bool) {
		if len(buf) == 0 {
			return
		}
		yield(env)
	}, nil
}
