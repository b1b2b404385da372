package indirect

import "github.com/rocketbitz/briefkasten/envelope"

// IndirectionScheme decides how a Buffered queue's envelopes are routed
// when the sender has no direct hop to the final receiver. Grounded on
// the literal next_hop/should_redirect method shapes named in
// original_source's TopologyAwareIndirectionScheme stub.
type IndirectionScheme interface {
	// NextHop returns the peer a message from sender to finalReceiver
	// should be sent to next. It returns finalReceiver itself when no
	// redirection is required.
	NextHop(sender, finalReceiver envelope.PeerId) envelope.PeerId
	// ShouldRedirect reports whether NextHop names an intermediate
	// rather than finalReceiver.
	ShouldRedirect(sender, finalReceiver envelope.PeerId) bool
}

// GridScheme arranges the group's peers on a ⌈√size⌉ × ⌈√size⌉ grid and
// routes any cross-peer message in at most two hops: first to the grid
// peer sharing the sender's row and the receiver's column, then on to
// the receiver. The final row may be short when size is not a perfect
// square; a column missing from that short row is instead reached
// through row 0, which is always full.
type GridScheme struct {
	size int
	dim  int
}

// NewGridScheme builds the default indirection scheme for a group of the
// given size.
func NewGridScheme(size int) GridScheme {
	dim := 1
	for dim*dim < size {
		dim++
	}
	return GridScheme{size: size, dim: dim}
}

// Dim returns ⌈√size⌉, the grid's row and column count.
func (g GridScheme) Dim() int { return g.dim }

func (g GridScheme) row(p envelope.PeerId) int { return int(p) / g.dim }
func (g GridScheme) col(p envelope.PeerId) int { return int(p) % g.dim }

// NextHop implements IndirectionScheme.
func (g GridScheme) NextHop(sender, finalReceiver envelope.PeerId) envelope.PeerId {
	if sender == finalReceiver {
		return finalReceiver
	}
	intermediate := g.row(sender)*g.dim + g.col(finalReceiver)
	if intermediate >= g.size {
		// finalReceiver sits in the short last row at a column that
		// sender's row does not reach; row 0 always has every column.
		intermediate = g.col(finalReceiver)
	}
	if intermediate == int(sender) {
		return finalReceiver
	}
	return envelope.PeerId(intermediate)
}

// ShouldRedirect implements IndirectionScheme.
func (g GridScheme) ShouldRedirect(sender, finalReceiver envelope.PeerId) bool {
	return g.NextHop(sender, finalReceiver) != finalReceiver
}
