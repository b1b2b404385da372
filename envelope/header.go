package envelope

import (
	"iter"
	"slices"

	"github.com/rocketbitz/briefkasten/bkerr"
)

// HeaderField names an optional field that may be carried in an
// EnvelopeMerger/EnvelopeSplitter header, mirroring
// briefkasten::aggregation::EnvelopeMetadataField from the original
// source. Size is implicitly always present and always first.
type HeaderField int

const (
	HeaderSender HeaderField = iota
	HeaderReceiver
	HeaderTag
)

// HeaderSpec fixes which optional fields a queue instance writes, in a
// fixed order: size, then sender, receiver, tag in that declared order.
// The default spec matches the original library's default
// EnvelopeMetadata<size, receiver>.
type HeaderSpec struct {
	fields []HeaderField
}

// DefaultHeaderSpec carries only the receiver, the minimum required for
// indirection to recover the final destination after a forwarding hop.
func DefaultHeaderSpec() HeaderSpec {
	return HeaderSpec{fields: []HeaderField{HeaderReceiver}}
}

// NewHeaderSpec builds a HeaderSpec carrying exactly the given fields,
// arranged in the fixed sender, receiver, tag order whatever the order
// supplied.
func NewHeaderSpec(fields ...HeaderField) HeaderSpec {
	sorted := append([]HeaderField(nil), fields...)
	slices.Sort(sorted)
	return HeaderSpec{fields: sorted}
}

// Contains reports whether field is part of this header.
func (h HeaderSpec) Contains(field HeaderField) bool {
	for _, f := range h.fields {
		if f == field {
			return true
		}
	}
	return false
}

// Len returns the number of header elements after the leading size field.
func (h HeaderSpec) Len() int {
	return len(h.fields)
}

// FieldCodec converts a structured payload type M to and from a fixed
// number ("arity") of buffer elements E, flattened field by field. It is
// the capability EnvelopeMerger/EnvelopeSplitter need to support payloads
// other than E itself.
type FieldCodec[M, E any] interface {
	Arity() int
	Flatten(v M) []E
	Unflatten(fields []E) M
}

// ScalarCodec is the identity FieldCodec for M == E, arity 1.
type ScalarCodec[E any] struct{}

func (ScalarCodec[E]) Arity() int { return 1 }
func (ScalarCodec[E]) Flatten(v E) []E { return []E{v} }
func (ScalarCodec[E]) Unflatten(f []E) E { return f[0] }

// PairCodec flattens a fixed 2-element array payload, for structured
// payloads such as a (target_rank, self_rank) pair.
type PairCodec[E any] struct{}

func (PairCodec[E]) Arity() int { return 2 }
func (PairCodec[E]) Flatten(v [2]E) []E {
	return []E{v[0], v[1]}
}
func (PairCodec[E]) Unflatten(f []E) [2]E {
	return [2]E{f[0], f[1]}
}

// IntConvertible's ToElement/FromElement narrow between the header's
// integer domain and the buffer element type E. The header always stores size,
// sender, receiver and tag as plain integers; E must be wide enough to
// hold them without loss, which is the queue builder's responsibility to
// arrange.
type IntConvertible[E any] interface {
	ToElement(v int64) E
	FromElement(e E) int64
}

// EnvelopeMerger writes [size, sender?, receiver?, tag?] followed by the
// flattened payload. Grounded on
// briefkasten::aggregation::EnvelopeSerializationMerger.
type EnvelopeMerger[M, E any] struct {
	Header HeaderField
	Spec   HeaderSpec
	Codec  FieldCodec[M, E]
	Ints   IntConvertible[E]
}

// NewEnvelopeMerger constructs an EnvelopeMerger with the given header
// spec, field codec and integer conversion.
func NewEnvelopeMerger[M, E any](spec HeaderSpec, codec FieldCodec[M, E], ints IntConvertible[E]) EnvelopeMerger[M, E] {
	return EnvelopeMerger[M, E]{Spec: spec, Codec: codec, Ints: ints}
}

var _ EstimatingMerger[int, int] = EnvelopeMerger[int, int]{
	Codec: ScalarCodec[int]{},
	Ints:  identityInts{},
}

type identityInts struct{}

func (identityInts) ToElement(v int64) int   { return int(v) }
func (identityInts) FromElement(e int) int64 { return int64(e) }

// Int64Ints is the IntConvertible for int64 buffer elements, the type
// rawqueue.Int64Codec moves over the wire.
type Int64Ints struct{}

func (Int64Ints) ToElement(v int64) int64   { return v }
func (Int64Ints) FromElement(e int64) int64 { return e }

func (m EnvelopeMerger[M, E]) headerLen() int {
	return 1 + m.Spec.Len()
}

// Append implements Merger.
func (m EnvelopeMerger[M, E]) Append(buf []E, _, _ PeerId, env MessageEnvelope[M]) ([]E, error) {
	arity := m.Codec.Arity()
	elementCount := len(env.Payload) * arity
	header := make([]E, 0, m.headerLen())
	header = append(header, m.Ints.ToElement(int64(elementCount+m.Spec.Len())))
	for _, f := range m.Spec.fields {
		switch f {
		case HeaderSender:
			header = append(header, m.Ints.ToElement(int64(env.Sender)))
		case HeaderReceiver:
			header = append(header, m.Ints.ToElement(int64(env.Receiver)))
		case HeaderTag:
			header = append(header, m.Ints.ToElement(int64(env.Tag)))
		}
	}
	buf = append(buf, header...)
	for _, v := range env.Payload {
		buf = append(buf, m.Codec.Flatten(v)...)
	}
	return buf, nil
}

// Estimate implements EstimatingMerger.
func (m EnvelopeMerger[M, E]) Estimate(buf []E, _, _ PeerId, env MessageEnvelope[M]) int {
	return len(buf) + m.headerLen() + len(env.Payload)*m.Codec.Arity()
}

// EnvelopeSplitter reconstructs envelopes written by the matching
// EnvelopeMerger. Grounded on
// briefkasten::aggregation::EnvelopeSerializationSplitter.
type EnvelopeSplitter[M, E any] struct {
	Spec  HeaderSpec
	Codec FieldCodec[M, E]
	Ints  IntConvertible[E]
}

// NewEnvelopeSplitter constructs an EnvelopeSplitter matching the
// EnvelopeMerger it is paired with.
func NewEnvelopeSplitter[M, E any](spec HeaderSpec, codec FieldCodec[M, E], ints IntConvertible[E]) EnvelopeSplitter[M, E] {
	return EnvelopeSplitter[M, E]{Spec: spec, Codec: codec, Ints: ints}
}

var _ Splitter[int, int] = EnvelopeSplitter[int, int]{Codec: ScalarCodec[int]{}, Ints: identityInts{}}

// Split implements Splitter.
func (s EnvelopeSplitter[M, E]) Split(buf []E, origin, self PeerId) (iter.Seq[MessageEnvelope[M]], error) {
	chunks, err := ChunkByEmbeddedSize(buf, 0)
	if err != nil {
		return nil, err
	}
	arity := s.Codec.Arity()
	return func(yield func(MessageEnvelope[M]) bool) {
		for _, chunk := range chunks {
			sender, receiver, tag := origin, self, Tag(0)
			idx := 1
			for _, f := range s.Spec.fields {
				switch f {
				case HeaderSender:
					sender = PeerId(s.Ints.FromElement(chunk[idx]))
				case HeaderReceiver:
					receiver = PeerId(s.Ints.FromElement(chunk[idx]))
				case HeaderTag:
					tag = Tag(s.Ints.FromElement(chunk[idx]))
				}
				idx++
			}
			body := chunk[idx:]
			payload := make([]M, 0, len(body)/max(arity, 1))
			for i := 0; i+arity <= len(body); i += arity {
				payload = append(payload, s.Codec.Unflatten(body[i:i+arity]))
			}
			env := MessageEnvelope[M]{Payload: payload, Sender: sender, Receiver: receiver, Tag: tag}
			if !yield(env) {
				return
			}
		}
	}, nil
}

// ChunkByEmbeddedSize splits buf into records whose length is embedded at
// sizeOffset elements into each record: a record occupies
// [sizeOffset+1+size] elements, where size is the value stored at
// sizeOffset. This mirrors briefkasten::chunk_by_embedded_size from the
// original source.
func ChunkByEmbeddedSize[E any](buf []E, sizeOffset int) ([][]E, error) {
	toInt := func(e E) (int, bool) {
		switch v := any(e).(type) {
		case int:
			return v, true
		case int32:
			return int(v), true
		case int64:
			return int(v), true
		case uint64:
			return int(v), true
		default:
			return 0, false
		}
	}
	var chunks [][]E
	pos := 0
	for pos < len(buf) {
		if pos+sizeOffset >= len(buf) {
			return nil, &bkerr.TransportFailure{Op: "chunk by embedded size", Err: &bkerr.CodecMisuse{Reason: "buffer truncated before size field"}}
		}
		size, ok := toInt(buf[pos+sizeOffset])
		if !ok || size < 0 {
			return nil, &bkerr.TransportFailure{Op: "chunk by embedded size", Err: &bkerr.CodecMisuse{Reason: "size field is not a valid non-negative integer"}}
		}
		end := pos + sizeOffset + 1 + size
		if end > len(buf) {
			return nil, &bkerr.TransportFailure{Op: "chunk by embedded size", Err: &bkerr.CodecMisuse{Reason: "record length exceeds remaining buffer"}}
		}
		chunks = append(chunks, buf[pos:end])
		pos = end
	}
	return chunks, nil
}
