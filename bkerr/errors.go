// Package bkerr collects the error taxonomy shared by every BriefKAsten
// layer: concrete types that carry structured fields and support
// errors.Is/errors.As, rather than bare string errors.
package bkerr

import "fmt"

// TransportFailure wraps a hard error surfaced by the underlying
// transport substrate. It is always fatal and is never retried.
type TransportFailure struct {
	Op  string
	Err error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("briefkasten: transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportFailure) Unwrap() error { return e.Err }

// CodecMisuse indicates a Merger/Splitter contract violation, such as
// requesting indirection without the EnvelopeSerialization codec, or a
// sentinel value that collides with the payload alphabet.
type CodecMisuse struct {
	Reason string
}

func (e *CodecMisuse) Error() string {
	return fmt.Sprintf("briefkasten: codec misuse: %s", e.Reason)
}

// Backpressure is transient: the request pool is full. Post signals this
// to the caller; PostBlocking resolves it internally by driving progress.
type Backpressure struct {
	Peer int
}

func (e *Backpressure) Error() string {
	return fmt.Sprintf("briefkasten: backpressure posting to peer %d", e.Peer)
}

// TerminationPreconditionViolated is returned by Terminate, never
// wrapped as a panic, when the caller's do/while termination loop has
// not yet converged. It is a normal part of the do { } while
// (!queue.Terminate(...)) idiom, not a failure.
type TerminationPreconditionViolated struct {
	Reason string
}

func (e *TerminationPreconditionViolated) Error() string {
	return fmt.Sprintf("briefkasten: termination precondition violated: %s", e.Reason)
}
