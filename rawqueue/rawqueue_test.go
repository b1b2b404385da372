package rawqueue

import (
	"errors"
	"testing"

	"github.com/rocketbitz/briefkasten/bkerr"
	"github.com/rocketbitz/briefkasten/envelope"
	"github.com/rocketbitz/briefkasten/pool"
	"github.com/rocketbitz/briefkasten/transport/inproc"
)

func TestPostRawDeliversThroughProgress(t *testing.T) {
	groups := inproc.NewGroup(2)

	var received [][]int64
	var origins []envelope.PeerId
	recvQueue := New[int64](groups[1], pool.New(4), Int64Codec{}, envelope.TagData, func(buf []int64, origin envelope.PeerId) (int, error) {
		received = append(received, append([]int64(nil), buf...))
		origins = append(origins, origin)
		return len(buf), nil
	})
	sendQueue := New[int64](groups[0], pool.New(4), Int64Codec{}, envelope.TagData, func([]int64, envelope.PeerId) (int, error) {
		t.Fatalf("sender should not receive anything in this test")
		return 0, nil
	})

	if err := sendQueue.PostRaw([]int64{10, 20, 30}, 1, 3); err != nil {
		t.Fatalf("PostRaw: %v", err)
	}

	for len(received) == 0 {
		if err := recvQueue.Progress(); err != nil {
			t.Fatalf("Progress: %v", err)
		}
	}

	if len(received) != 1 || len(received[0]) != 3 {
		t.Fatalf("unexpected received buffers: %v", received)
	}
	if received[0][0] != 10 || received[0][1] != 20 || received[0][2] != 30 {
		t.Fatalf("payload mismatch: %v", received[0])
	}
	if origins[0] != 0 {
		t.Fatalf("expected origin 0, got %d", origins[0])
	}

	if got := sendQueue.Counters().Sent; got != 3 {
		t.Fatalf("sent counter = %d, want 3", got)
	}
	if got := recvQueue.Counters().Received; got != 3 {
		t.Fatalf("received counter = %d, want 3", got)
	}
}

func TestPostRawSurfacesBackpressureImmediately(t *testing.T) {
	groups := inproc.NewGroup(2)
	p := pool.New(1)

	onBuffer := func([]int64, envelope.PeerId) (int, error) { return 0, nil }
	sendQueue := New[int64](groups[0], p, Int64Codec{}, envelope.TagData, onBuffer)

	// Occupy the single slot directly so the pool is full.
	if _, err := p.TryInitiateSend(groups[0], 1, envelope.TagControl, []byte{0}); err != nil {
		t.Fatalf("seed send: %v", err)
	}

	err := sendQueue.PostRaw([]int64{1}, 1, 1)
	if err == nil {
		t.Fatalf("expected Backpressure, got nil")
	}
	var bp *bkerr.Backpressure
	if !errors.As(err, &bp) {
		t.Fatalf("expected *bkerr.Backpressure, got %v", err)
	}
	if sendQueue.Counters().Sent != 0 {
		t.Fatalf("expected sent counter to stay 0 when the send never initiated, got %d", sendQueue.Counters().Sent)
	}
}

func TestPostRawRetryAfterProgressFreesSlot(t *testing.T) {
	groups := inproc.NewGroup(2)
	p := pool.New(1)

	onBuffer := func([]int64, envelope.PeerId) (int, error) { return 0, nil }
	sendQueue := New[int64](groups[0], p, Int64Codec{}, envelope.TagData, onBuffer)

	if _, err := p.TryInitiateSend(groups[0], 1, envelope.TagControl, []byte{0}); err != nil {
		t.Fatalf("seed send: %v", err)
	}

	if err := sendQueue.PostRaw([]int64{1}, 1, 1); err == nil {
		t.Fatalf("expected Backpressure while the pool is full")
	}

	// Progress reaps the seeded send (inproc.NewGroup completes
	// requests on their first Test call) so the pool has room, the
	// way a caller retrying on Backpressure is expected to drive it.
	if err := sendQueue.Progress(); err != nil {
		t.Fatalf("Progress: %v", err)
	}

	if err := sendQueue.PostRaw([]int64{1}, 1, 1); err != nil {
		t.Fatalf("PostRaw after freeing a slot: %v", err)
	}
	if sendQueue.Counters().Sent != 1 {
		t.Fatalf("expected sent counter to reach 1, got %d", sendQueue.Counters().Sent)
	}
}
