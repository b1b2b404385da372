// Package transport defines the substrate contract BriefKAsten's engine
// consumes: a ranked group of peers offering nonblocking send/recv,
// probe, nonblocking all-reduce, group duplication and an optional
// all-to-all-variable collective. It is treated as an external
// collaborator — the engine only ever talks to this interface. Package
// transport/inproc ships the one concrete, pure-Go implementation this
// module provides.
package transport

import "github.com/rocketbitz/briefkasten/envelope"

// ProbeInfo describes an unmatched incoming transfer discovered by Probe:
// its source, tag, and byte length, sized exactly so the caller can
// allocate a receive buffer without truncation. The raw queue allocates
// a byte buffer of exactly ByteLen and lets its ElementCodec decode it
// into elements once the receive completes.
type ProbeInfo struct {
	Source  envelope.PeerId
	Tag     envelope.Tag
	ByteLen int
}

// Request is a handle to an outstanding nonblocking send or receive.
type Request interface {
	// Test reports whether the operation has completed, without blocking.
	Test() (bool, error)
	// Wait blocks (cooperatively, via repeated Test) until the operation
	// completes.
	Wait() error
}

// ReduceHandle is a handle to an outstanding nonblocking all-reduce.
type ReduceHandle interface {
	// Test reports whether the reduction has completed; when done is
	// true, sums holds the globally reduced values.
	Test() (sums [2]uint64, done bool, err error)
}

// Group is the set of primitives the engine requires from the
// communication substrate, for a fixed-size ranked group of peers.
type Group interface {
	Rank() int
	Size() int

	// Dup returns an independent duplicate of this group, with its own
	// tag space, so two queue instances in one process never collide.
	Dup() (Group, error)

	PostSend(peer envelope.PeerId, tag envelope.Tag, buf []byte) (Request, error)
	PostRecv(peer envelope.PeerId, tag envelope.Tag, buf []byte) (Request, error)

	// Probe reports an unmatched incoming transfer on tag, if one exists,
	// without consuming it. A probe that finds nothing is normal and
	// returns ok == false with a nil error.
	Probe(tag envelope.Tag) (ProbeInfo, bool, error)

	// AllReduceSum initiates a nonblocking sum reduction of local across
	// the whole group.
	AllReduceSum(local [2]uint64) (ReduceHandle, error)

	// AllToAllV exchanges variable-length buffers with every peer in one
	// collective round, used only by synchronous mode.
	AllToAllV(sendBufs [][]byte) ([][]byte, error)

	Close() error
}
