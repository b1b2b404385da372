// Package inproc provides the one transport substrate this module ships:
// an in-process group of peers wired together through a shared hub,
// rather than real network endpoints. It exists so the rest of
// BriefKAsten can be exercised and tested without a real fabric
// provider, and is grounded on btracey-mpi's Network type for naming
// (rank/size bookkeeping, per-tag matching): callers Post a transfer and
// Test/Wait the returned handle, exactly as they would against a real
// network endpoint.
package inproc

import (
	"sync"
	"sync/atomic"

	"github.com/rocketbitz/briefkasten/bkerr"
	"github.com/rocketbitz/briefkasten/envelope"
	"github.com/rocketbitz/briefkasten/transport"
)

// pendingMsg is one unmatched transfer sitting in a peer's inbox,
// indexed by tag.
type pendingMsg struct {
	source envelope.PeerId
	data   []byte
}

// hub is the shared substrate backing every transport.Group returned by
// a single call to NewGroup, plus anything reachable from it through
// Dup. All state lives here, not on the Peer handles, so Dup can bind
// multiple Peer handles to a newly created hub without disturbing the
// original.
type hub struct {
	mu      sync.Mutex
	size    int
	inboxes []map[envelope.Tag][]pendingMsg

	reduceRounds map[int]*reduceRound
	dupRounds    map[int]*dupRound
	allToAll     map[int]*allToAllRound

	// pendingPolls artificially delays completion of every Request by
	// this many Test calls, so pool and progress-loop logic actually
	// exercises its retry path instead of completing every transfer on
	// the first poll. Zero means complete immediately.
	pendingPolls int32
}

func newHub(size int, pendingPolls int32) *hub {
	h := &hub{
		size:         size,
		inboxes:      make([]map[envelope.Tag][]pendingMsg, size),
		reduceRounds: make(map[int]*reduceRound),
		dupRounds:    make(map[int]*dupRound),
		allToAll:     make(map[int]*allToAllRound),
		pendingPolls: pendingPolls,
	}
	for i := range h.inboxes {
		h.inboxes[i] = make(map[envelope.Tag][]pendingMsg)
	}
	return h
}

// Peer is one rank's handle onto a hub. It implements transport.Group.
type Peer struct {
	rank int
	hub  *hub

	reduceCalls   int32
	dupCalls      int32
	allToAllCalls int32
}

// NewGroup builds a fresh, mutually linked group of size peers, each
// implementing transport.Group. All size handles must be distributed to
// the size logical ranks of the same run; mixing handles from different
// calls to NewGroup produces disjoint, non-communicating groups.
func NewGroup(size int) []transport.Group {
	return NewGroupWithLatency(size, 0)
}

// NewGroupWithLatency is NewGroup, but every Request and ReduceHandle
// requires pendingPolls extra Test calls before reporting completion,
// for tests that need to exercise backpressure and retry paths against
// a substrate that does not complete every transfer instantly.
func NewGroupWithLatency(size int, pendingPolls int32) []transport.Group {
	h := newHub(size, pendingPolls)
	groups := make([]transport.Group, size)
	for r := 0; r < size; r++ {
		groups[r] = &Peer{rank: r, hub: h}
	}
	return groups
}

// Rank implements transport.Group.
func (p *Peer) Rank() int { return p.rank }

// Size implements transport.Group.
func (p *Peer) Size() int { return p.hub.size }

// Close implements transport.Group. The in-process hub owns no external
// resources, so this is a no-op.
func (p *Peer) Close() error { return nil }

// dupRound coordinates Dup across every rank's matching call: whichever
// rank calls Dup first for a given per-rank call index creates the new
// hub, and every other rank's call with the same index is handed the
// same hub. This mirrors a real communicator duplication's requirement
// that every rank call it in the same relative order, without requiring
// an actual rendezvous barrier.
type dupRound struct {
	mu     sync.Mutex
	newHub *hub
}

func (h *hub) dupRoundFor(index int) *dupRound {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.dupRounds[index]
	if !ok {
		r = &dupRound{}
		h.dupRounds[index] = r
	}
	return r
}

// Dup implements transport.Group.
func (p *Peer) Dup() (transport.Group, error) {
	index := int(atomic.AddInt32(&p.dupCalls, 1))
	round := p.hub.dupRoundFor(index)

	round.mu.Lock()
	if round.newHub == nil {
		round.newHub = newHub(p.hub.size, p.hub.pendingPolls)
	}
	child := round.newHub
	round.mu.Unlock()

	return &Peer{rank: p.rank, hub: child}, nil
}

// completedRequest is a Request that is already done; every send and
// every matched receive in this reference substrate resolves
// synchronously once pendingPolls Test calls have been observed.
type completedRequest struct {
	remaining int32
}

func newRequest(pendingPolls int32) transport.Request {
	return &completedRequest{remaining: pendingPolls}
}

func (r *completedRequest) Test() (bool, error) {
	if atomic.AddInt32(&r.remaining, -1) >= 0 {
		return false, nil
	}
	return true, nil
}

func (r *completedRequest) Wait() error {
	for {
		done, err := r.Test()
		if err != nil || done {
			return err
		}
	}
}

// PostSend implements transport.Group. The transfer is copied into the
// destination's inbox immediately; only the handle's completion is
// throttled by pendingPolls, so callers still exercise the full
// Post/Test/Wait protocol against a substrate that never actually loses
// or reorders a send.
func (p *Peer) PostSend(peer envelope.PeerId, tag envelope.Tag, buf []byte) (transport.Request, error) {
	if int(peer) < 0 || int(peer) >= p.hub.size {
		return nil, &bkerr.TransportFailure{Op: "post send", Err: &bkerr.CodecMisuse{Reason: "destination peer out of range"}}
	}
	data := append([]byte(nil), buf...)

	p.hub.mu.Lock()
	p.hub.inboxes[peer][tag] = append(p.hub.inboxes[peer][tag], pendingMsg{source: envelope.PeerId(p.rank), data: data})
	p.hub.mu.Unlock()

	return newRequest(p.hub.pendingPolls), nil
}

// PostRecv implements transport.Group. peer must name the source a
// prior Probe reported for this tag; PostRecv consumes exactly that
// transfer and copies it into buf, which must be sized from
// ProbeInfo.ByteLen.
func (p *Peer) PostRecv(peer envelope.PeerId, tag envelope.Tag, buf []byte) (transport.Request, error) {
	p.hub.mu.Lock()
	inbox := p.hub.inboxes[p.rank][tag]
	idx := -1
	for i, m := range inbox {
		if m.source == peer {
			idx = i
			break
		}
	}
	if idx == -1 {
		p.hub.mu.Unlock()
		return nil, &bkerr.TransportFailure{Op: "post recv", Err: &bkerr.CodecMisuse{Reason: "no pending transfer from the given peer on this tag"}}
	}
	msg := inbox[idx]
	p.hub.inboxes[p.rank][tag] = append(inbox[:idx], inbox[idx+1:]...)
	p.hub.mu.Unlock()

	n := copy(buf, msg.data)
	if n != len(msg.data) {
		return nil, &bkerr.TransportFailure{Op: "post recv", Err: &bkerr.CodecMisuse{Reason: "receive buffer too small for the probed transfer"}}
	}
	return newRequest(p.hub.pendingPolls), nil
}

// Probe implements transport.Group, reporting the oldest unmatched
// transfer on tag without consuming it.
func (p *Peer) Probe(tag envelope.Tag) (transport.ProbeInfo, bool, error) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()

	inbox := p.hub.inboxes[p.rank][tag]
	if len(inbox) == 0 {
		return transport.ProbeInfo{}, false, nil
	}
	front := inbox[0]
	return transport.ProbeInfo{Source: front.source, Tag: tag, ByteLen: len(front.data)}, true, nil
}

// reduceRound accumulates one matching AllReduceSum call from every
// rank, keyed by each rank's own call count so calls are matched across
// ranks by relative order rather than wall-clock arrival, exactly as a
// real collective requires.
type reduceRound struct {
	mu          sync.Mutex
	contributed map[int]bool
	sum         [2]uint64
	done        bool
}

func (h *hub) reduceRoundFor(index int) *reduceRound {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.reduceRounds[index]
	if !ok {
		r = &reduceRound{contributed: make(map[int]bool)}
		h.reduceRounds[index] = r
	}
	return r
}

type reduceHandle struct {
	round        *reduceRound
	pendingPolls int32
}

func (r *reduceHandle) Test() ([2]uint64, bool, error) {
	if atomic.AddInt32(&r.pendingPolls, -1) >= 0 {
		return [2]uint64{}, false, nil
	}
	r.round.mu.Lock()
	defer r.round.mu.Unlock()
	return r.round.sum, r.round.done, nil
}

// AllReduceSum implements transport.Group.
func (p *Peer) AllReduceSum(local [2]uint64) (transport.ReduceHandle, error) {
	index := int(atomic.AddInt32(&p.reduceCalls, 1))
	round := p.hub.reduceRoundFor(index)

	round.mu.Lock()
	if !round.contributed[p.rank] {
		round.contributed[p.rank] = true
		round.sum[0] += local[0]
		round.sum[1] += local[1]
		if len(round.contributed) == p.hub.size {
			round.done = true
		}
	}
	round.mu.Unlock()

	return &reduceHandle{round: round, pendingPolls: p.hub.pendingPolls}, nil
}

// allToAllRound collects every rank's outgoing buffers for one
// synchronous-mode round, matched the same way AllReduceSum rounds are:
// by each rank's own call count. Unlike AllReduceSum, the result each
// rank needs (its slice of everyone else's contribution) only exists
// once every rank has arrived, so AllToAllV blocks cooperatively on
// cond until the round fills.
type allToAllRound struct {
	mu       sync.Mutex
	cond     *sync.Cond
	sendBufs [][][]byte // sendBufs[from][to]
	arrived  int
}

func (h *hub) allToAllRoundFor(index int) *allToAllRound {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.allToAll[index]
	if !ok {
		r = &allToAllRound{sendBufs: make([][][]byte, h.size)}
		r.cond = sync.NewCond(&r.mu)
		h.allToAll[index] = r
	}
	return r
}

// AllToAllV implements transport.Group. It blocks until every rank in
// the group has posted its round, since the returned buffers depend on
// every rank's contribution. Callers in a single-threaded-cooperative
// engine must therefore run each rank's synchronous-mode round on its
// own goroutine to simulate a multi-process collective in one process.
func (p *Peer) AllToAllV(sendBufs [][]byte) ([][]byte, error) {
	if len(sendBufs) != p.hub.size {
		return nil, &bkerr.TransportFailure{Op: "all to all v", Err: &bkerr.CodecMisuse{Reason: "sendBufs length does not match group size"}}
	}
	index := int(atomic.AddInt32(&p.allToAllCalls, 1))
	round := p.hub.allToAllRoundFor(index)

	round.mu.Lock()
	round.sendBufs[p.rank] = append([][]byte(nil), sendBufs...)
	round.arrived++
	if round.arrived == p.hub.size {
		round.cond.Broadcast()
	} else {
		for round.arrived < p.hub.size {
			round.cond.Wait()
		}
	}
	recv := make([][]byte, p.hub.size)
	for from := 0; from < p.hub.size; from++ {
		recv[from] = append([]byte(nil), round.sendBufs[from][p.rank]...)
	}
	round.mu.Unlock()

	return recv, nil
}
