// Package indirect implements the indirection adapter: a Buffered queue
// wrapper that routes a post through at most one intermediate hop per an
// IndirectionScheme, recovering the final receiver from the
// EnvelopeSerialization header on each delivery.
package indirect

import (
	"github.com/rocketbitz/briefkasten/bkerr"
	"github.com/rocketbitz/briefkasten/envelope"
	"github.com/rocketbitz/briefkasten/queue"
	"github.com/rocketbitz/briefkasten/rawqueue"
	"github.com/rocketbitz/briefkasten/transport"
)

// Config configures an Adapter. It mirrors queue.Config's options
// rather than embedding one, because the Merger/Splitter are fixed to
// envelope.EnvelopeMerger/EnvelopeSplitter here: indirection cannot
// recover a forwarded envelope's final receiver through any other
// codec.
type Config[M, E any] struct {
	Group        transport.Group
	Scheme       IndirectionScheme
	HeaderSpec   envelope.HeaderSpec
	FieldCodec   envelope.FieldCodec[M, E]
	Ints         envelope.IntConvertible[E]
	ElementCodec rawqueue.ElementCodec[E]

	Threshold       int
	GlobalThreshold int
	OverflowPolicy  queue.OverflowPolicy
	BufferCleaner   envelope.BufferCleaner[E]
	PoolCapacity    int

	OnMessage func(envelope.MessageEnvelope[M]) error

	Logger           queue.Logger
	StructuredLogger queue.StructuredLogger
	Tracer           queue.Tracer
	Metrics          queue.MetricHook
}

// Adapter wraps a Buffered queue so that posts and deliveries are
// routed through Scheme rather than directly peer to peer.
type Adapter[M, E any] struct {
	q         *queue.Queue[M, E]
	self      envelope.PeerId
	scheme    IndirectionScheme
	onMessage func(envelope.MessageEnvelope[M]) error
}

// New validates cfg and constructs the underlying Buffered queue with
// its Merger/Splitter fixed to the EnvelopeSerialization codec built
// from cfg.HeaderSpec/FieldCodec/Ints.
func New[M, E any](cfg Config[M, E]) (*Adapter[M, E], error) {
	if cfg.Scheme == nil {
		return nil, &bkerr.CodecMisuse{Reason: "indirection adapter requires a Scheme"}
	}
	if !cfg.HeaderSpec.Contains(envelope.HeaderReceiver) {
		return nil, &bkerr.CodecMisuse{Reason: "indirection requires a header spec carrying HeaderReceiver to recover the final destination after a forwarding hop"}
	}

	a := &Adapter[M, E]{
		self:      envelope.PeerId(cfg.Group.Rank()),
		scheme:    cfg.Scheme,
		onMessage: cfg.OnMessage,
	}

	merger := envelope.NewEnvelopeMerger[M, E](cfg.HeaderSpec, cfg.FieldCodec, cfg.Ints)
	splitter := envelope.NewEnvelopeSplitter[M, E](cfg.HeaderSpec, cfg.FieldCodec, cfg.Ints)

	q, err := queue.NewBuilder[M, E]().
		WithGroup(cfg.Group).
		WithMerger(merger).
		WithSplitter(splitter).
		WithElementCodec(cfg.ElementCodec).
		WithThreshold(cfg.Threshold).
		WithGlobalThreshold(cfg.GlobalThreshold).
		WithOverflowPolicy(cfg.OverflowPolicy).
		WithBufferCleaner(cfg.BufferCleaner).
		WithPoolCapacity(cfg.PoolCapacity).
		WithOnMessage(a.dispatch).
		WithLogger(cfg.Logger).
		WithStructuredLogger(cfg.StructuredLogger).
		WithTracer(cfg.Tracer).
		WithMetrics(cfg.Metrics).
		Build()
	if err != nil {
		return nil, err
	}
	a.q = q
	return a, nil
}

// dispatch is installed as the underlying queue's on-message callback.
// An envelope whose decoded header receiver is this rank is delivered
// to the caller's OnMessage; any other envelope is re-posted toward its
// next hop, counted by the underlying queue as both a receive (here)
// and a send (onward), which is what keeps termination detection
// correct across forwarded traffic. The relay computes its next hop
// treating itself as the sender for this leg, the same way Post does
// for the first leg; for GridScheme that always collapses to a direct
// send since the relay already shares the receiver's column.
func (a *Adapter[M, E]) dispatch(env envelope.MessageEnvelope[M]) error {
	if env.Receiver == a.self {
		if a.onMessage == nil {
			return nil
		}
		return a.onMessage(env)
	}
	nextHop := a.scheme.NextHop(a.self, env.Receiver)
	return a.q.PostTo(nextHop, env)
}

// Post appends env to the OutBuffer for its first hop: either
// env.Receiver directly, or the intermediate Scheme names, with
// env.Receiver itself preserved in the EnvelopeSerialization header so
// the intermediate (or the final receiver) can recover it.
func (a *Adapter[M, E]) Post(env envelope.MessageEnvelope[M]) error {
	dest := env.Receiver
	if a.scheme.ShouldRedirect(a.self, env.Receiver) {
		dest = a.scheme.NextHop(a.self, env.Receiver)
	}
	return a.q.PostTo(dest, env)
}

// PostBlocking is Post followed by one extra Progress round.
func (a *Adapter[M, E]) PostBlocking(env envelope.MessageEnvelope[M]) error {
	if err := a.Post(env); err != nil {
		return err
	}
	return a.q.Progress()
}

// Flush flushes the OutBuffer for the given immediate peer (which may
// be an intermediate hop, not necessarily a final receiver).
func (a *Adapter[M, E]) Flush(peer envelope.PeerId) error { return a.q.Flush(peer) }

// FlushAll flushes every nonempty OutBuffer.
func (a *Adapter[M, E]) FlushAll() error { return a.q.FlushAll() }

// Progress runs one round of the underlying queue's progress loop,
// which may itself trigger further forwarding through dispatch.
func (a *Adapter[M, E]) Progress() error { return a.q.Progress() }

// Terminate drives the underlying queue to quiescence. Because every
// forwarding hop is booked as a matching receive and send, this
// converges exactly as it would for direct, unforwarded traffic.
func (a *Adapter[M, E]) Terminate() (bool, error) { return a.q.Terminate() }

// Self returns this adapter's own rank.
func (a *Adapter[M, E]) Self() envelope.PeerId { return a.self }

// SentEnvelopes returns the underlying queue's count, which includes
// forwarded hops as well as envelopes originated at this rank.
func (a *Adapter[M, E]) SentEnvelopes() uint64 { return a.q.SentEnvelopes() }
