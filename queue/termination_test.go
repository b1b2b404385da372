package queue

import (
	"errors"
	"testing"

	"github.com/rocketbitz/briefkasten/bkerr"
	"github.com/rocketbitz/briefkasten/envelope"
	"github.com/rocketbitz/briefkasten/rawqueue"
	"github.com/rocketbitz/briefkasten/transport"
	"github.com/rocketbitz/briefkasten/transport/inproc"
)

// neverAgreeingGroup wraps a transport.Group and answers every
// AllReduceSum with an immediately-done handle carrying mismatched sums,
// so the reduction step of terminateAsync can never observe agreement.
type neverAgreeingGroup struct {
	transport.Group
}

type neverAgreeingHandle struct{}

func (neverAgreeingHandle) Test() ([2]uint64, bool, error) {
	return [2]uint64{1, 0}, true, nil
}

func (neverAgreeingGroup) AllReduceSum([2]uint64) (transport.ReduceHandle, error) {
	return neverAgreeingHandle{}, nil
}

// TestTerminateAsyncReturnsPreconditionViolatedAfterBoundedRounds drives
// a queue whose transport can never report global agreement, and checks
// Terminate gives up after maxTerminationRounds rather than blocking
// forever, surfacing bkerr.TerminationPreconditionViolated the way the
// do { drain_local(); } while (!queue.Terminate(...)) idiom expects.
func TestTerminateAsyncReturnsPreconditionViolatedAfterBoundedRounds(t *testing.T) {
	saved := maxTerminationRounds
	maxTerminationRounds = 5
	defer func() { maxTerminationRounds = saved }()

	groups := inproc.NewGroup(1)
	q, err := NewBuilder[int64, int64]().
		WithGroup(neverAgreeingGroup{groups[0]}).
		WithMerger(envelope.AppendMerger[int64]{}).
		WithSplitter(envelope.NoSplitSplitter[int64]{}).
		WithElementCodec(rawqueue.Int64Codec{}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	quiesced, err := q.Terminate()
	if quiesced {
		t.Fatalf("expected Terminate to report non-quiescence")
	}
	var violated *bkerr.TerminationPreconditionViolated
	if !errors.As(err, &violated) {
		t.Fatalf("expected a TerminationPreconditionViolated error, got %v", err)
	}
	if violated.Reason == "" {
		t.Fatalf("expected a non-empty reason")
	}
}
