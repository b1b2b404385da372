// Package queue implements the buffered message queue: per-peer
// outbound aggregation over the raw queue, with threshold/overflow flow
// control and the Splitter-driven on-message callback, plus
// Logger/StructuredLogger/Tracer/MetricHook observability hooks fired at
// every buffered-queue lifecycle event.
package queue

import (
	"github.com/rocketbitz/briefkasten/bkerr"
	"github.com/rocketbitz/briefkasten/envelope"
	"github.com/rocketbitz/briefkasten/pool"
	"github.com/rocketbitz/briefkasten/rawqueue"
	"github.com/rocketbitz/briefkasten/transport"
)

// OverflowPolicy names which peer(s) to flush when the aggregate
// outbound buffer size exceeds GlobalThreshold.
type OverflowPolicy int

const (
	// OverflowLargestFirst repeatedly flushes the single largest
	// nonempty OutBuffer until the aggregate no longer exceeds
	// GlobalThreshold.
	OverflowLargestFirst OverflowPolicy = iota
	// OverflowRoundRobin flushes nonempty OutBuffers one at a time in
	// rank order, resuming from a rotating cursor over peer ranks, until
	// the aggregate no longer exceeds GlobalThreshold.
	OverflowRoundRobin
)

const defaultPoolCapacity = 8

// Config is the buffered queue's configuration record: every builder
// option lands here, and Build validates it before constructing a Queue.
type Config[M, E any] struct {
	Group    transport.Group
	Merger   envelope.Merger[M, E]
	Splitter envelope.Splitter[M, E]
	Codec    rawqueue.ElementCodec[E]

	Threshold       int
	GlobalThreshold int
	OverflowPolicy  OverflowPolicy
	BufferCleaner   envelope.BufferCleaner[E]
	PoolCapacity    int
	Synchronous     bool

	OnMessage func(envelope.MessageEnvelope[M]) error

	Logger           Logger
	StructuredLogger StructuredLogger
	Tracer           Tracer
	Metrics          MetricHook
}

// Queue is the buffered message queue. One instance owns its transport
// group duplicate, request pool, and per-peer OutBuffers exclusively;
// instances sharing a process each need a distinct communicator
// duplicate, which is why Builder.Build requires an explicit group
// handle rather than reaching for ambient global state.
type Queue[M, E any] struct {
	cfg  Config[M, E]
	self envelope.PeerId

	pool *pool.Pool
	raw  *rawqueue.Queue[E]
	sync *syncTransport[E]

	outBuffers  map[envelope.PeerId][]E
	outEnvCount map[envelope.PeerId]int
	rrCursor    int

	sentEnvelopes uint64
	activitySeq   uint64
}

// SentEnvelopes returns the total number of envelopes ever appended to
// an OutBuffer by Post/PostBlocking, regardless of whether they have
// been transmitted yet.
func (q *Queue[M, E]) SentEnvelopes() uint64 { return q.sentEnvelopes }

// Self returns this queue's own rank.
func (q *Queue[M, E]) Self() envelope.PeerId { return q.self }

func (q *Queue[M, E]) bump() { q.activitySeq++ }

// Post appends env to the OutBuffer for env.Receiver, flushing first if
// the Merger's estimate would exceed Threshold, and applying the
// overflow policy if the aggregate then exceeds GlobalThreshold. It
// never blocks beyond the cooperative progress rounds any engine call
// is allowed to run while the request pool is full.
func (q *Queue[M, E]) Post(env envelope.MessageEnvelope[M]) error {
	return q.PostTo(env.Receiver, env)
}

// PostTo is Post, but appends to the OutBuffer for dest rather than for
// env.Receiver. The Merger still sees env unchanged, so a codec that
// writes env.Receiver into its header (EnvelopeMerger) keeps recording
// the envelope's true logical destination even when dest names an
// intermediate hop. Package indirect is the only caller that needs
// dest != env.Receiver; ordinary callers should use Post.
func (q *Queue[M, E]) PostTo(dest envelope.PeerId, env envelope.MessageEnvelope[M]) error {
	buf := q.outBuffers[dest]
	if q.cfg.Threshold > 0 {
		if em, ok := q.cfg.Merger.(envelope.EstimatingMerger[M, E]); ok {
			if em.Estimate(buf, dest, q.self, env) > q.cfg.Threshold {
				if err := q.Flush(dest); err != nil {
					return err
				}
				buf = q.outBuffers[dest]
			}
		}
	}
	newBuf, err := q.cfg.Merger.Append(buf, dest, q.self, env)
	if err != nil {
		return &bkerr.TransportFailure{Op: "merger append", Err: err}
	}
	q.outBuffers[dest] = newBuf
	q.outEnvCount[dest]++
	q.sentEnvelopes++
	q.bump()

	if q.cfg.Metrics != nil {
		q.cfg.Metrics.EnvelopePosted(q.metricAttrs(logKV("dest", int(dest)), logKV("receiver", int(env.Receiver))))
	}
	q.logEvent("post", logKV("dest", int(dest)), logKV("receiver", int(env.Receiver)), logKV("elements", len(env.Payload)))

	if q.cfg.GlobalThreshold > 0 && q.aggregateSize() > q.cfg.GlobalThreshold {
		if err := q.applyOverflowPolicy(); err != nil {
			return err
		}
	}
	return nil
}

// PostBlocking is Post, but resolves *bkerr.Backpressure internally:
// Post's own eager per-peer threshold flush always runs before any
// payload is appended, so retrying the whole call on Backpressure is
// safe - nothing has been recorded yet for the envelope that triggered
// it. Each retry drives one Progress round first to free pool capacity.
func (q *Queue[M, E]) PostBlocking(env envelope.MessageEnvelope[M]) error {
	for {
		err := q.Post(env)
		if err == nil {
			return q.Progress()
		}
		if !isBackpressure(err) {
			return err
		}
		if err := q.Progress(); err != nil {
			return err
		}
	}
}

// isBackpressure reports whether err is the transient "pool full" signal
// rather than a hard transport failure, so retry loops can tell the two
// apart without repeating the type assertion at every call site.
func isBackpressure(err error) bool {
	_, busy := err.(*bkerr.Backpressure)
	return busy
}

func (q *Queue[M, E]) aggregateSize() int {
	total := 0
	for _, buf := range q.outBuffers {
		total += len(buf)
	}
	return total
}

func (q *Queue[M, E]) applyOverflowPolicy() error {
	switch q.cfg.OverflowPolicy {
	case OverflowRoundRobin:
		return q.overflowRoundRobin()
	default:
		return q.overflowLargestFirst()
	}
}

// overflowLargestFirst runs after Post has already appended the
// envelope that tripped GlobalThreshold, so eviction here is
// opportunistic and deferrable: a *bkerr.Backpressure from Flush just
// means the busy peer's eviction waits for a later Post/FlushAll/
// Terminate call, not that this call failed. Surfacing it here would
// make PostBlocking's retry-the-whole-Post loop double-append.
func (q *Queue[M, E]) overflowLargestFirst() error {
	for q.cfg.GlobalThreshold > 0 && q.aggregateSize() > q.cfg.GlobalThreshold {
		largest := envelope.PeerId(-1)
		largestLen := -1
		for peer, buf := range q.outBuffers {
			if len(buf) > largestLen {
				largest, largestLen = peer, len(buf)
			}
		}
		if largestLen <= 0 {
			return nil
		}
		if q.cfg.Metrics != nil {
			q.cfg.Metrics.Overflowed(q.metricAttrs(logKV("policy", "largest_first"), logKV("peer", int(largest))))
		}
		if err := q.Flush(largest); err != nil {
			if isBackpressure(err) {
				return nil
			}
			return err
		}
	}
	return nil
}

// overflowRoundRobin has the same post-append deferral rule as
// overflowLargestFirst: a Backpressure from Flush defers that peer's
// eviction to a later call instead of failing this one.
func (q *Queue[M, E]) overflowRoundRobin() error {
	size := q.cfg.Group.Size()
	if size <= 0 {
		return nil
	}
	for q.cfg.GlobalThreshold > 0 && q.aggregateSize() > q.cfg.GlobalThreshold {
		advanced := false
		for i := 0; i < size; i++ {
			peer := envelope.PeerId(q.rrCursor % size)
			q.rrCursor++
			if len(q.outBuffers[peer]) > 0 {
				if q.cfg.Metrics != nil {
					q.cfg.Metrics.Overflowed(q.metricAttrs(logKV("policy", "round_robin"), logKV("peer", int(peer))))
				}
				if err := q.Flush(peer); err != nil {
					if isBackpressure(err) {
						return nil
					}
					return err
				}
				advanced = true
				break
			}
		}
		if !advanced {
			return nil
		}
	}
	return nil
}

// Flush hands the OutBuffer for peer to the raw queue, if nonempty,
// running the configured BufferCleaner first. The slot is only reset to
// empty once the handoff actually succeeds: a *bkerr.Backpressure from
// the raw queue means nothing left this process, so the buffered data
// stays put for a later Flush/FlushAll/Terminate call to retry. The
// synchronous path never blocks on pool capacity and keeps the old
// clear-then-enqueue order.
func (q *Queue[M, E]) Flush(peer envelope.PeerId) error {
	buf := q.outBuffers[peer]
	if len(buf) == 0 {
		return nil
	}
	if q.cfg.BufferCleaner != nil {
		buf = q.cfg.BufferCleaner.Clean(buf, peer)
	}
	count := q.outEnvCount[peer]

	if q.cfg.Synchronous {
		q.outBuffers[peer] = nil
		q.outEnvCount[peer] = 0
		if q.cfg.Metrics != nil {
			q.cfg.Metrics.BufferFlushed(q.metricAttrs(logKV("peer", int(peer)), logKV("elements", len(buf))))
		}
		q.logEvent("flush", logKV("peer", int(peer)), logKV("elements", len(buf)))
		if err := q.sync.enqueue(peer, buf); err != nil {
			q.reportTransportError(err, logKV("op", "enqueue"), logKV("peer", int(peer)))
			return err
		}
		return nil
	}

	if err := q.raw.PostRaw(buf, peer, count); err != nil {
		if isBackpressure(err) {
			return err
		}
		q.reportTransportError(err, logKV("op", "post_raw"), logKV("peer", int(peer)))
		return err
	}
	q.outBuffers[peer] = nil
	q.outEnvCount[peer] = 0
	if q.cfg.Metrics != nil {
		q.cfg.Metrics.BufferFlushed(q.metricAttrs(logKV("peer", int(peer)), logKV("elements", len(buf))))
	}
	q.logEvent("flush", logKV("peer", int(peer)), logKV("elements", len(buf)))
	return nil
}

// FlushAll attempts every peer with a nonempty OutBuffer, even after an
// earlier one reports *bkerr.Backpressure: one busy peer must not starve
// flushes to unrelated peers in the same round. Any Backpressure is
// returned only after every peer has been attempted; a hard transport
// error still aborts immediately. In synchronous mode this also drives
// the single collective round every peer's contribution takes part in.
func (q *Queue[M, E]) FlushAll() error {
	var pending error
	for peer, buf := range q.outBuffers {
		if len(buf) == 0 {
			continue
		}
		if err := q.Flush(peer); err != nil {
			if !isBackpressure(err) {
				return err
			}
			pending = err
		}
	}
	if q.cfg.Synchronous {
		if err := q.exchangeSync(); err != nil {
			return err
		}
		return pending
	}
	return pending
}

// Progress runs one round of request pool polling, probe-driven receive
// initiation, and completion dispatch through the Splitter and the
// configured OnMessage callback.
func (q *Queue[M, E]) Progress() error {
	if q.cfg.Synchronous {
		return nil
	}
	if err := q.raw.Progress(); err != nil {
		q.reportTransportError(err, logKV("op", "progress"))
		return err
	}
	return nil
}

func (q *Queue[M, E]) reportTransportError(err error, extra ...TraceAttribute) {
	if q.cfg.Metrics != nil {
		q.cfg.Metrics.TransportError(err, q.metricAttrs(extra...))
	}
}

func (q *Queue[M, E]) handleBuffer(buf []E, origin envelope.PeerId) (int, error) {
	q.bump()
	seq, err := q.cfg.Splitter.Split(buf, origin, q.self)
	if err != nil {
		return 0, &bkerr.TransportFailure{Op: "splitter split", Err: err}
	}
	count := 0
	var firstErr error
	for env := range seq {
		count++
		if q.cfg.Metrics != nil {
			q.cfg.Metrics.EnvelopeDelivered(q.metricAttrs(logKV("sender", int(env.Sender))))
		}
		q.logEvent("deliver", logKV("sender", int(env.Sender)))
		if q.cfg.OnMessage == nil {
			continue
		}
		if err := q.cfg.OnMessage(env); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return count, firstErr
}

// poolEmpty reports whether this queue's request pool has no
// outstanding sends or receives.
func (q *Queue[M, E]) poolEmpty() bool { return q.pool.Size() == 0 }

// buffersEmpty reports whether every OutBuffer is currently empty.
func (q *Queue[M, E]) buffersEmpty() bool {
	for _, buf := range q.outBuffers {
		if len(buf) > 0 {
			return false
		}
	}
	return true
}
