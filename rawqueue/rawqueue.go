// Package rawqueue implements the raw message queue: it moves opaque
// sequences of a fixed element type E between peers,
// driven by probe-matched receive allocation rather than a fixed
// receive buffer size. Grounded on btracey-mpi's Network/tagManager for
// the probe-then-allocate shape and on fi's tagged send/recv pairing,
// with completions reaped through package pool instead of a background
// dispatcher.
package rawqueue

import (
	"github.com/rocketbitz/briefkasten/bkerr"
	"github.com/rocketbitz/briefkasten/envelope"
	"github.com/rocketbitz/briefkasten/pool"
	"github.com/rocketbitz/briefkasten/transport"
)

// ElementCodec converts between a slice of the fixed buffer element
// type E and the raw bytes the transport substrate moves. Grounded on
// the wal package's binary.LittleEndian append idiom; concrete codecs
// for the scalar types BriefKAsten ships with live in codec.go.
type ElementCodec[E any] interface {
	// Size is the fixed encoded width, in bytes, of one element.
	Size() int
	Encode(buf []E) []byte
	Decode(data []byte) []E
}

// OnBuffer is invoked once per completed receive, with the raw element
// buffer and the rank that sent it. It returns the number of envelopes
// the buffer decoded into, which rawqueue has no way to know on its
// own: that is the Splitter's job, run inside this callback by the
// buffered queue that installs it. The received counter in CounterPair
// only advances by this returned count, never by element count.
type OnBuffer[E any] func(buf []E, origin envelope.PeerId) (envelopeCount int, err error)

// CounterPair tracks the process-local envelope counts termination
// detection needs: envelopes that have actually
// crossed the process boundary, not merely been posted to an OutBuffer.
type CounterPair struct {
	Sent     uint64
	Received uint64
}

// Queue is the raw message queue. One Queue exists per buffer element
// type per BufferedQueue instance; it owns no peer-level concept of a
// "message" beyond a tagged buffer of E.
type Queue[E any] struct {
	group transport.Group
	pool  *pool.Pool
	self  envelope.PeerId
	codec ElementCodec[E]
	tag   envelope.Tag

	onBuffer OnBuffer[E]
	counters CounterPair
}

// New constructs a raw Queue bound to group's data tag (group.Rank()
// identifies self). p must not be shared with any other Queue in the
// same process; each queue instance needs its own communicator
// duplicate, and the request pool is equally exclusive.
func New[E any](group transport.Group, p *pool.Pool, codec ElementCodec[E], tag envelope.Tag, onBuffer OnBuffer[E]) *Queue[E] {
	return &Queue[E]{
		group:    group,
		pool:     p,
		self:     envelope.PeerId(group.Rank()),
		codec:    codec,
		tag:      tag,
		onBuffer: onBuffer,
	}
}

// Counters returns a snapshot of the process-local sent/received
// envelope counts.
func (q *Queue[E]) Counters() CounterPair { return q.counters }

// InFlight reports whether any send or receive initiated by this Queue
// is still outstanding in the pool.
func (q *Queue[E]) InFlight() bool { return q.pool.Size() > 0 }

// PostRaw hands buf to the request pool as a single nonblocking send
// attempt to receiver. It returns *bkerr.Backpressure immediately,
// without touching the transport, if the pool is currently full; the
// caller is responsible for driving Progress and retrying, the same
// busy-signal contract pool.TryInitiateSend exposes one layer down.
// envelopeCount is the number of logical envelopes buf carries, used
// only for the sent counter; rawqueue has no envelope boundary concept
// of its own.
func (q *Queue[E]) PostRaw(buf []E, receiver envelope.PeerId, envelopeCount int) error {
	encoded := q.codec.Encode(buf)
	if _, err := q.pool.TryInitiateSend(q.group, receiver, q.tag, encoded); err != nil {
		return err
	}
	q.counters.Sent += uint64(envelopeCount)
	return nil
}

// Progress runs one round: probe for an arriving transfer on this
// Queue's tag, allocate and initiate a receive for it if found, then
// poll the pool and dispatch any receive completions through onBuffer.
func (q *Queue[E]) Progress() error {
	info, ok, err := q.group.Probe(q.tag)
	if err != nil {
		return &bkerr.TransportFailure{Op: "probe", Err: err}
	}
	if ok {
		encoded := make([]byte, info.ByteLen)
		if _, err := q.pool.TryInitiateRecv(q.group, info.Source, q.tag, encoded); err != nil {
			if _, busy := err.(*bkerr.Backpressure); !busy {
				return err
			}
			// No room to initiate yet; the transfer stays pending at
			// the transport and will be re-probed next round. The poll
			// below still runs so completed slots free up capacity.
		}
	}

	completed, err := q.pool.Poll()
	if err != nil {
		return err
	}
	for _, slot := range completed {
		if slot.Kind != pool.KindRecv {
			continue
		}
		decoded := q.codec.Decode(slot.Buffer)
		n, err := q.onBuffer(decoded, slot.Peer)
		if err != nil {
			return err
		}
		q.counters.Received += uint64(n)
	}
	return nil
}

// Drain cooperatively progresses until this Queue has no outstanding
// sends or receives. It does not itself guarantee no new transfer can
// still be probed; callers that need full quiescence use the
// termination protocol in package queue.
func (q *Queue[E]) Drain() error {
	for q.InFlight() {
		if err := q.Progress(); err != nil {
			return err
		}
	}
	return nil
}
