// Package pool implements the fixed-capacity request pool: a bounded
// set of in-flight nonblocking sends and receives, each pinned to its
// backing buffer until the transport reports completion. Polling here is
// synchronous: the owning queue calls Poll/Drain directly from its own
// call stack, never from a background goroutine, keeping the whole
// module single-threaded and cooperative.
package pool

import (
	"github.com/google/uuid"

	"github.com/rocketbitz/briefkasten/bkerr"
	"github.com/rocketbitz/briefkasten/envelope"
	"github.com/rocketbitz/briefkasten/transport"
)

// Kind distinguishes a send slot from a receive slot.
type Kind int

const (
	KindSend Kind = iota
	KindRecv
)

func (k Kind) String() string {
	if k == KindSend {
		return "send"
	}
	return "recv"
}

// Slot is one outstanding nonblocking operation and its pinned buffer.
// ID is a correlation identifier for structured logging; it carries no
// meaning to the pool itself.
type Slot struct {
	ID      uuid.UUID
	Request transport.Request
	Buffer  []byte
	Kind    Kind
	Peer    envelope.PeerId
	Tag     envelope.Tag
}

// Pool is a fixed-capacity collection of outstanding Slots. It is not
// safe for concurrent use from more than one goroutine; the engine that
// owns it is itself single-threaded cooperative.
type Pool struct {
	capacity int
	slots    []*Slot
}

// New constructs a Pool with the given capacity. A non-positive capacity
// is treated as zero: every initiation attempt reports Backpressure.
func New(capacity int) *Pool {
	if capacity < 0 {
		capacity = 0
	}
	return &Pool{capacity: capacity}
}

// Capacity returns the configured capacity C.
func (p *Pool) Capacity() int { return p.capacity }

// Size returns the number of outstanding slots.
func (p *Pool) Size() int { return len(p.slots) }

// Full reports whether the pool is at capacity.
func (p *Pool) Full() bool { return len(p.slots) >= p.capacity }

// TryInitiateSend posts a nonblocking send through group and, if the
// pool has room, tracks it as an outstanding slot. It returns
// Backpressure without touching the transport if the pool is full.
func (p *Pool) TryInitiateSend(group transport.Group, peer envelope.PeerId, tag envelope.Tag, buf []byte) (*Slot, error) {
	if p.Full() {
		return nil, &bkerr.Backpressure{Peer: int(peer)}
	}
	req, err := group.PostSend(peer, tag, buf)
	if err != nil {
		return nil, &bkerr.TransportFailure{Op: "initiate send", Err: err}
	}
	slot := &Slot{ID: uuid.New(), Request: req, Buffer: buf, Kind: KindSend, Peer: peer, Tag: tag}
	p.slots = append(p.slots, slot)
	return slot, nil
}

// TryInitiateRecv posts a nonblocking receive through group, sized from
// buf, which the caller must have sized exactly from a prior Probe.
func (p *Pool) TryInitiateRecv(group transport.Group, peer envelope.PeerId, tag envelope.Tag, buf []byte) (*Slot, error) {
	if p.Full() {
		return nil, &bkerr.Backpressure{Peer: int(peer)}
	}
	req, err := group.PostRecv(peer, tag, buf)
	if err != nil {
		return nil, &bkerr.TransportFailure{Op: "initiate recv", Err: err}
	}
	slot := &Slot{ID: uuid.New(), Request: req, Buffer: buf, Kind: KindRecv, Peer: peer, Tag: tag}
	p.slots = append(p.slots, slot)
	return slot, nil
}

// Poll tests every outstanding slot once, reaps whichever have
// completed back to the free list, and returns them in no particular
// order. It never blocks.
func (p *Pool) Poll() ([]*Slot, error) {
	if len(p.slots) == 0 {
		return nil, nil
	}
	var completed, remaining []*Slot
	for _, s := range p.slots {
		done, err := s.Request.Test()
		if err != nil {
			return nil, &bkerr.TransportFailure{Op: "poll request " + s.Kind.String(), Err: err}
		}
		if done {
			completed = append(completed, s)
		} else {
			remaining = append(remaining, s)
		}
	}
	p.slots = remaining
	return completed, nil
}

// Drain cooperatively polls until every outstanding slot has completed,
// invoking onComplete once per reaped slot in the order Poll returned
// them. It is the caller's responsibility to keep calling Drain only
// from the single cooperative thread that owns this pool.
func (p *Pool) Drain(onComplete func(*Slot)) error {
	for len(p.slots) > 0 {
		completed, err := p.Poll()
		if err != nil {
			return err
		}
		for _, s := range completed {
			onComplete(s)
		}
	}
	return nil
}
