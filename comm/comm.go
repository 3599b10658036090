// Package comm provides the message-passing substrate for the index exchange
// layer: a small MPI-like Communicator interface plus two implementations, an
// in-process transport wiring ranks through channels (Group) and a TCP mesh
// transport (Network).
//
// Every process (or goroutine standing in for one) holds a rank in
// 0 <= rank < size. Point-to-point messages carry an integer tag; collective
// operations must be reached by all ranks in the same order.
package comm

import "errors"

var (
	// ErrTagMismatch is returned by Recv when the next message from the
	// source carries a different tag than expected.
	ErrTagMismatch = errors.New("comm: message tag mismatch")

	// ErrShortBuffer is returned by Recv when the receive buffer is smaller
	// than the incoming message.
	ErrShortBuffer = errors.New("comm: receive buffer too small")

	// ErrClosed is returned for operations on a closed communicator.
	ErrClosed = errors.New("comm: communicator closed")

	// ErrInvalidRank is returned when a peer rank is out of range.
	ErrInvalidRank = errors.New("comm: invalid rank")
)

// Communicator is the transport contract the exchange layer builds on.
//
// Send has synchronous-send semantics: it returns once the message has been
// handed to the destination (in-process) or written to the wire (TCP). Recv
// blocks until the next message from src arrives and fails if its tag does
// not match. All collective operations block until every rank participates.
type Communicator interface {
	// Rank returns the rank of the local process, 0 <= rank < Size.
	Rank() int

	// Size returns the number of ranks in the communicator.
	Size() int

	// Send transmits p to dst under the given tag.
	Send(dst, tag int, p []byte) error

	// Recv receives the next message from src into buf and returns its
	// length. The message must carry the given tag and fit into buf.
	Recv(src, tag int, buf []byte) (int, error)

	// Sendrecv performs a combined send to dst and receive from src.
	// Unlike a Send followed by a Recv it cannot deadlock against a peer
	// doing the mirror operation, and it permits self-exchange.
	Sendrecv(dst, stag int, p []byte, src, rtag int, buf []byte) (int, error)

	// AllreduceMaxInt returns the maximum of v over all ranks.
	AllreduceMaxInt(v int) (int, error)

	// Barrier blocks until all ranks have entered it.
	Barrier() error
}
