// Package envelope defines the message envelope value type and the
// Merger/Splitter codec contract used by the rest of BriefKAsten to
// turn typed payloads into per-peer wire buffers and back.
package envelope

// PeerId identifies a peer in the communication group. Valid values lie
// in [0, Size) for a group of the given size.
type PeerId int

// Tag distinguishes logical channels multiplexed over the same transport.
type Tag uint64

// Reserved tags. User codecs never need to pick their own tag; the queue
// layers route data and termination traffic separately.
const (
	TagData    Tag = 0
	TagControl Tag = 1
)

// MessageEnvelope is an immutable routing record paired with a borrowed
// view over a payload. Payload remains valid only for the duration of the
// on-message callback that received it; callbacks must copy anything they
// need to retain.
type MessageEnvelope[M any] struct {
	Payload  []M
	Sender   PeerId
	Receiver PeerId
	Tag      Tag
}

// Len reports the number of payload elements in the envelope.
func (e MessageEnvelope[M]) Len() int {
	return len(e.Payload)
}
