package indirect

import (
	"sync"
	"testing"

	"github.com/rocketbitz/briefkasten/envelope"
	"github.com/rocketbitz/briefkasten/rawqueue"
	"github.com/rocketbitz/briefkasten/transport/inproc"
)

func TestGridSchemeSameRowCollapsesToDirect(t *testing.T) {
	g := NewGridScheme(4)
	if got := g.NextHop(0, 1); got != 1 {
		t.Fatalf("NextHop(0, 1) = %d, want 1", got)
	}
	if g.ShouldRedirect(0, 1) {
		t.Fatalf("same-row send should not redirect")
	}
}

func TestGridSchemeSenderEqualsReceiver(t *testing.T) {
	g := NewGridScheme(4)
	if got := g.NextHop(2, 2); got != 2 {
		t.Fatalf("NextHop(2, 2) = %d, want 2", got)
	}
	if g.ShouldRedirect(2, 2) {
		t.Fatalf("a message to self should not redirect")
	}
}

func TestGridSchemeTwoHopOnPerfectSquare(t *testing.T) {
	g := NewGridScheme(4)
	if got := g.NextHop(0, 3); got != 1 {
		t.Fatalf("NextHop(0, 3) = %d, want 1", got)
	}
	if !g.ShouldRedirect(0, 3) {
		t.Fatalf("expected cross row/column send to redirect")
	}
}

func TestGridSchemeShortLastRowFallsBackThroughRowZero(t *testing.T) {
	g := NewGridScheme(5)
	if got := g.NextHop(4, 2); got != 2 {
		t.Fatalf("NextHop(4, 2) = %d, want 2 (direct, via row-0 fallback collapsing onto the receiver)", got)
	}
}

func TestGridSchemeTwoHopWithShortLastRowSender(t *testing.T) {
	g := NewGridScheme(7)
	if got := g.NextHop(6, 4); got != 1 {
		t.Fatalf("NextHop(6, 4) = %d, want 1", got)
	}
	if !g.ShouldRedirect(6, 4) {
		t.Fatalf("expected a short-last-row sender to redirect through row 0")
	}
}

func TestNewRejectsMissingScheme(t *testing.T) {
	groups := inproc.NewGroup(2)
	_, err := New[int64, int64](Config[int64, int64]{
		Group:        groups[0],
		HeaderSpec:   envelope.NewHeaderSpec(envelope.HeaderReceiver),
		FieldCodec:   envelope.ScalarCodec[int64]{},
		Ints:         envelope.Int64Ints{},
		ElementCodec: rawqueue.Int64Codec{},
	})
	if err == nil {
		t.Fatalf("expected an error when Scheme is nil")
	}
}

func TestNewRejectsHeaderSpecWithoutReceiver(t *testing.T) {
	groups := inproc.NewGroup(2)
	_, err := New[int64, int64](Config[int64, int64]{
		Group:        groups[0],
		Scheme:       NewGridScheme(2),
		HeaderSpec:   envelope.NewHeaderSpec(envelope.HeaderSender),
		FieldCodec:   envelope.ScalarCodec[int64]{},
		Ints:         envelope.Int64Ints{},
		ElementCodec: rawqueue.Int64Codec{},
	})
	if err == nil {
		t.Fatalf("expected an error when HeaderSpec omits HeaderReceiver")
	}
}

// TestTwoHopForwardAcrossFourRanks lays four ranks on a 2x2 grid and sends
// rank 0 -> rank 3, which NextHop places through the intermediate rank 1.
// It exercises both halves of dispatch: rank 1 forwarding a non-final
// envelope, and rank 3 delivering one whose header receiver matches self.
func TestTwoHopForwardAcrossFourRanks(t *testing.T) {
	const size = 4
	groups := inproc.NewGroup(size)
	scheme := NewGridScheme(size)

	adapters := make([]*Adapter[int64, int64], size)
	var mu sync.Mutex
	var deliveries []envelope.MessageEnvelope[int64]

	for r := 0; r < size; r++ {
		r := r
		cfg := Config[int64, int64]{
			Group:        groups[r],
			Scheme:       scheme,
			HeaderSpec:   envelope.NewHeaderSpec(envelope.HeaderReceiver),
			FieldCodec:   envelope.ScalarCodec[int64]{},
			Ints:         envelope.Int64Ints{},
			ElementCodec: rawqueue.Int64Codec{},
		}
		if r == 3 {
			cfg.OnMessage = func(env envelope.MessageEnvelope[int64]) error {
				mu.Lock()
				deliveries = append(deliveries, env)
				mu.Unlock()
				return nil
			}
		}
		a, err := New[int64, int64](cfg)
		if err != nil {
			t.Fatalf("build adapter %d: %v", r, err)
		}
		adapters[r] = a
	}

	if !scheme.ShouldRedirect(adapters[0].Self(), 3) {
		t.Fatalf("test setup expects rank 0 -> rank 3 to require a relay")
	}

	if err := adapters[0].Post(envelope.MessageEnvelope[int64]{Payload: []int64{99}, Receiver: 3}); err != nil {
		t.Fatalf("Post: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]bool, size)
	errs := make([]error, size)
	for r := 0; r < size; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[r], errs[r] = adapters[r].Terminate()
		}()
	}
	wg.Wait()

	for r := 0; r < size; r++ {
		if errs[r] != nil {
			t.Fatalf("rank %d Terminate: %v", r, errs[r])
		}
		if !results[r] {
			t.Fatalf("rank %d did not reach quiescence", r)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(deliveries) != 1 {
		t.Fatalf("expected exactly one delivery at the final receiver, got %d", len(deliveries))
	}
	if got := deliveries[0].Payload; len(got) != 1 || got[0] != 99 {
		t.Fatalf("payload mismatch: %v", got)
	}
	if deliveries[0].Receiver != 3 {
		t.Fatalf("expected final receiver 3 recovered from the header, got %d", deliveries[0].Receiver)
	}
}
