package queue

import (
	"github.com/rocketbitz/briefkasten/bkerr"
	"github.com/rocketbitz/briefkasten/envelope"
	"github.com/rocketbitz/briefkasten/pool"
	"github.com/rocketbitz/briefkasten/rawqueue"
	"github.com/rocketbitz/briefkasten/transport"
)

// Builder is the fluent configuration record for a Queue, mirroring
// briefkasten::BufferedMessageQueueBuilder from the original source and
// an option-setter construction style.
type Builder[M, E any] struct {
	cfg Config[M, E]
}

// NewBuilder constructs a Builder with the library defaults: no
// threshold (flush only on explicit Flush/FlushAll/Terminate calls), a
// largest-first overflow policy, and the default request pool capacity.
func NewBuilder[M, E any]() *Builder[M, E] {
	return &Builder[M, E]{cfg: Config[M, E]{
		PoolCapacity:   defaultPoolCapacity,
		OverflowPolicy: OverflowLargestFirst,
	}}
}

// WithGroup sets the communication group this queue owns exclusively.
// Required.
func (b *Builder[M, E]) WithGroup(g transport.Group) *Builder[M, E] {
	b.cfg.Group = g
	return b
}

// WithMerger sets the Merger codec. Required.
func (b *Builder[M, E]) WithMerger(m envelope.Merger[M, E]) *Builder[M, E] {
	b.cfg.Merger = m
	return b
}

// WithSplitter sets the Splitter codec. Required.
func (b *Builder[M, E]) WithSplitter(s envelope.Splitter[M, E]) *Builder[M, E] {
	b.cfg.Splitter = s
	return b
}

// WithElementCodec sets the wire codec for the buffer element type E.
// Required.
func (b *Builder[M, E]) WithElementCodec(c rawqueue.ElementCodec[E]) *Builder[M, E] {
	b.cfg.Codec = c
	return b
}

// WithThreshold sets the per-peer OutBuffer element-count threshold
// that triggers an eager flush of that peer on the post that exceeds
// it. Zero (the default) disables this check.
func (b *Builder[M, E]) WithThreshold(n int) *Builder[M, E] {
	b.cfg.Threshold = n
	return b
}

// WithGlobalThreshold sets the aggregate element-count threshold across
// all OutBuffers that triggers the overflow policy. Zero (the default)
// disables this check.
func (b *Builder[M, E]) WithGlobalThreshold(n int) *Builder[M, E] {
	b.cfg.GlobalThreshold = n
	return b
}

// WithOverflowPolicy sets which peer(s) to flush when GlobalThreshold
// is exceeded.
func (b *Builder[M, E]) WithOverflowPolicy(p OverflowPolicy) *Builder[M, E] {
	b.cfg.OverflowPolicy = p
	return b
}

// WithBufferCleaner sets the hook run on an OutBuffer immediately
// before handoff to the raw queue or the synchronous exchange.
func (b *Builder[M, E]) WithBufferCleaner(c envelope.BufferCleaner[E]) *Builder[M, E] {
	b.cfg.BufferCleaner = c
	return b
}

// WithPoolCapacity sets the request pool's fixed capacity C. Ignored in
// synchronous mode, which does not use a request pool.
func (b *Builder[M, E]) WithPoolCapacity(c int) *Builder[M, E] {
	b.cfg.PoolCapacity = c
	return b
}

// WithSynchronousMode enables or disables the collective all-to-all-v
// transport path in place of nonblocking send/recv.
func (b *Builder[M, E]) WithSynchronousMode(enable bool) *Builder[M, E] {
	b.cfg.Synchronous = enable
	return b
}

// WithOnMessage installs the callback invoked once per envelope the
// Splitter reconstructs from a completed receive. This is the single
// installation point for that callback: Progress and Terminate use
// whichever one was installed here rather than accepting one of their
// own, and Flush/FlushAll take no callback parameter at all, so a
// queue has exactly one on-receive continuation for its whole lifetime.
func (b *Builder[M, E]) WithOnMessage(fn func(envelope.MessageEnvelope[M]) error) *Builder[M, E] {
	b.cfg.OnMessage = fn
	return b
}

// WithLogger sets the unstructured debug logger.
func (b *Builder[M, E]) WithLogger(l Logger) *Builder[M, E] {
	b.cfg.Logger = l
	return b
}

// WithStructuredLogger sets the structured debug logger, preferred over
// Logger when both are set.
func (b *Builder[M, E]) WithStructuredLogger(l StructuredLogger) *Builder[M, E] {
	b.cfg.StructuredLogger = l
	return b
}

// WithTracer sets the tracer used to wrap each Terminate call in a span.
// Flushes are not traced.
func (b *Builder[M, E]) WithTracer(t Tracer) *Builder[M, E] {
	b.cfg.Tracer = t
	return b
}

// WithMetrics sets the metrics hook.
func (b *Builder[M, E]) WithMetrics(m MetricHook) *Builder[M, E] {
	b.cfg.Metrics = m
	return b
}

// Build validates the configuration and constructs a Queue. Indirection
// (package indirect) wraps the result rather than being configured
// here; EnvelopeMerger/EnvelopeSplitter compatibility is checked by
// that package, not here, since CodecMisuse for indirection is specific
// to that adapter.
func (b *Builder[M, E]) Build() (*Queue[M, E], error) {
	cfg := b.cfg
	if cfg.Group == nil {
		return nil, &bkerr.CodecMisuse{Reason: "queue builder requires WithGroup"}
	}
	if cfg.Merger == nil || cfg.Splitter == nil {
		return nil, &bkerr.CodecMisuse{Reason: "queue builder requires WithMerger and WithSplitter"}
	}
	if cfg.Codec == nil {
		return nil, &bkerr.CodecMisuse{Reason: "queue builder requires WithElementCodec"}
	}
	if cfg.PoolCapacity <= 0 {
		cfg.PoolCapacity = defaultPoolCapacity
	}

	q := &Queue[M, E]{
		cfg:         cfg,
		self:        envelope.PeerId(cfg.Group.Rank()),
		outBuffers:  make(map[envelope.PeerId][]E),
		outEnvCount: make(map[envelope.PeerId]int),
	}
	q.pool = pool.New(cfg.PoolCapacity)
	q.raw = rawqueue.New[E](cfg.Group, q.pool, cfg.Codec, envelope.TagData, q.handleBuffer)
	if cfg.Synchronous {
		q.sync = newSyncTransport[E](cfg.Group, cfg.Codec)
	}
	return q, nil
}
