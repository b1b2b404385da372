package queue

import "github.com/rocketbitz/briefkasten/bkerr"

// maxTerminationRounds bounds how many flush/drain/all-reduce rounds a
// single Terminate call runs before giving up and returning false. This
// keeps the do { drain_local(); } while (!queue.Terminate(...)) idiom
// workable: a caller whose on-message callback keeps re-injecting work
// (the work-loop pattern) gets control back with
// bkerr.TerminationPreconditionViolated instead of Terminate blocking
// forever, and is expected to call Terminate again after draining
// whatever its own loop produced.
var maxTerminationRounds = 1024

// Terminate drives the queue to a global quiescent state and returns
// true once every process agrees no envelope is in flight. It dispatches
// to the synchronous-mode protocol when the queue was built with
// WithSynchronousMode(true); otherwise it runs the nonblocking
// counter-reconciliation protocol below.
func (q *Queue[M, E]) Terminate() (bool, error) {
	span := q.startTerminationSpan()
	var quiesced bool
	var err error
	if q.cfg.Synchronous {
		quiesced, err = q.terminateSync()
	} else {
		quiesced, err = q.terminateAsync()
	}
	q.finishTerminationSpan(span, quiesced, err)
	return quiesced, err
}

func (q *Queue[M, E]) startTerminationSpan() Span {
	if q.cfg.Tracer == nil {
		return nil
	}
	return q.cfg.Tracer.StartSpan("briefkasten-terminate", TraceAttribute{Key: "rank", Value: int(q.self)})
}

func (q *Queue[M, E]) finishTerminationSpan(span Span, quiesced bool, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
	} else {
		span.AddEvent("quiesced", TraceAttribute{Key: "quiesced", Value: quiesced})
	}
	span.End(err)
}

// terminateAsync flushes, drains to a local fixed point, snapshots the
// process-local counters, runs a nonblocking all-reduce over them while
// continuing to progress the queue, and declares quiescence only if the
// reduced sums agree and no local activity happened while the reduction
// was in flight.
func (q *Queue[M, E]) terminateAsync() (bool, error) {
	for round := 0; round < maxTerminationRounds; round++ {
		if q.cfg.Metrics != nil {
			q.cfg.Metrics.TerminationRoundStarted(q.metricAttrs())
		}
		q.logEvent("terminate-round")

		if err := q.FlushAll(); err != nil && !isBackpressure(err) {
			return false, err
		}

		for !q.poolEmpty() || !q.buffersEmpty() {
			if err := q.Progress(); err != nil {
				return false, err
			}
			// Backpressure here just means a peer's send slot is still
			// busy; the surrounding drain loop is itself the retry that
			// resolves it on a later iteration.
			if err := q.FlushAll(); err != nil && !isBackpressure(err) {
				return false, err
			}
		}

		counters := q.raw.Counters()
		snapshotSeq := q.activitySeq

		handle, err := q.cfg.Group.AllReduceSum([2]uint64{counters.Sent, counters.Received})
		if err != nil {
			wrapped := &bkerr.TransportFailure{Op: "terminate all reduce", Err: err}
			q.reportTransportError(wrapped)
			return false, wrapped
		}

		var sums [2]uint64
		var done bool
		for !done {
			if err := q.Progress(); err != nil {
				return false, err
			}
			sums, done, err = handle.Test()
			if err != nil {
				wrapped := &bkerr.TransportFailure{Op: "terminate all reduce test", Err: err}
				q.reportTransportError(wrapped)
				return false, wrapped
			}
		}

		invalidated := q.activitySeq != snapshotSeq
		if !invalidated && sums[0] == sums[1] {
			if q.cfg.Metrics != nil {
				q.cfg.Metrics.TerminationQuiesced(q.metricAttrs())
			}
			q.logEvent("terminate-quiesced")
			return true, nil
		}
		// Either new activity happened after the snapshot, or the
		// global sums disagree because something is still in flight
		// elsewhere in the group; restart the whole protocol.
	}
	return false, &bkerr.TerminationPreconditionViolated{
		Reason: "global quiescence not reached within the bounded number of termination rounds",
	}
}
