package queue

import (
	"github.com/rocketbitz/briefkasten/bkerr"
	"github.com/rocketbitz/briefkasten/envelope"
	"github.com/rocketbitz/briefkasten/rawqueue"
	"github.com/rocketbitz/briefkasten/transport"
)

// syncTransport implements the queue's synchronous mode: FlushAll is
// replaced by a single collective all-to-all-variable round instead of
// per-peer nonblocking sends, and termination becomes a simple
// "did this round produce any new globally posted work" reduction
// rather than the nonblocking counter-reconciliation protocol in
// termination.go.
type syncTransport[E any] struct {
	group   transport.Group
	codec   rawqueue.ElementCodec[E]
	size    int
	pending map[envelope.PeerId][]byte
}

func newSyncTransport[E any](group transport.Group, codec rawqueue.ElementCodec[E]) *syncTransport[E] {
	return &syncTransport[E]{
		group:   group,
		codec:   codec,
		size:    group.Size(),
		pending: make(map[envelope.PeerId][]byte),
	}
}

func (s *syncTransport[E]) enqueue(peer envelope.PeerId, buf []E) error {
	s.pending[peer] = append(s.pending[peer], s.codec.Encode(buf)...)
	return nil
}

// exchangeSync runs one collective all-to-all-v round: every rank's
// pending per-peer contributions (zero-length for ranks with nothing
// queued) are exchanged, and each nonempty incoming buffer is split by
// origin and fed through the buffered queue's Splitter/OnMessage path
// exactly as a nonblocking receive completion would be.
func (q *Queue[M, E]) exchangeSync() error {
	s := q.sync
	sendBufs := make([][]byte, s.size)
	for peer, data := range s.pending {
		sendBufs[peer] = data
	}
	s.pending = make(map[envelope.PeerId][]byte)

	recv, err := s.group.AllToAllV(sendBufs)
	if err != nil {
		wrapped := &bkerr.TransportFailure{Op: "all to all v", Err: err}
		q.reportTransportError(wrapped)
		return wrapped
	}
	for origin, data := range recv {
		if len(data) == 0 {
			continue
		}
		decoded := s.codec.Decode(data)
		if _, err := q.handleBuffer(decoded, envelope.PeerId(origin)); err != nil {
			return err
		}
	}
	return nil
}

// terminateSync repeats one exchange round until no rank in the group
// posted any new envelope during that round, which for synchronous mode
// is sufficient for quiescence: there is no asynchronous transport
// state that could still be in flight between rounds. Bounded by
// maxTerminationRounds for the same reason terminateAsync is.
func (q *Queue[M, E]) terminateSync() (bool, error) {
	for round := 0; round < maxTerminationRounds; round++ {
		if q.cfg.Metrics != nil {
			q.cfg.Metrics.TerminationRoundStarted(q.metricAttrs())
		}
		q.logEvent("terminate-round-sync")

		before := q.sentEnvelopes
		if err := q.FlushAll(); err != nil {
			return false, err
		}
		delta := q.sentEnvelopes - before

		handle, err := q.sync.group.AllReduceSum([2]uint64{delta, 0})
		if err != nil {
			wrapped := &bkerr.TransportFailure{Op: "terminate all reduce", Err: err}
			q.reportTransportError(wrapped)
			return false, wrapped
		}
		for {
			sums, done, err := handle.Test()
			if err != nil {
				wrapped := &bkerr.TransportFailure{Op: "terminate all reduce test", Err: err}
				q.reportTransportError(wrapped)
				return false, wrapped
			}
			if done {
				if sums[0] == 0 {
					if q.cfg.Metrics != nil {
						q.cfg.Metrics.TerminationQuiesced(q.metricAttrs())
					}
					q.logEvent("terminate-quiesced-sync")
					return true, nil
				}
				break
			}
		}
	}
	return false, &bkerr.TerminationPreconditionViolated{
		Reason: "global quiescence not reached within the bounded number of termination rounds",
	}
}
