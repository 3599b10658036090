// Package remote implements the distributed index exchange layer.
//
// Given a source and a target parallel index set on every process, the
// Indices registry discovers which global ids are replicated on which peer
// ranks and what attribute each peer assigns to them. Discovery runs a ring
// exchange over a comm.Communicator; the result is a per-peer pair of
// send/receive lists of remote index records, each holding the peer-side
// attribute and a back reference into the local index set.
//
// Users who already know the sharing pattern can populate the registry by
// hand through a Modifier instead of running discovery. A CollectiveIterator
// walks all per-peer lists in lockstep by ascending global id.
package remote

import (
	"errors"
	"iter"

	"github.com/hpcgo/parix/indexset"
)

// ExchangeTag is the fixed communicator tag used for all discovery ring
// hops, isolating them from unrelated traffic.
const ExchangeTag = 333

var (
	// ErrInvalidPosition is returned when a modifier operation violates the
	// ascending-global-id discipline.
	ErrInvalidPosition = errors.New("remote: invalid position, modifications must occur with ascending global index")

	// ErrDuplicateIndex is returned when inserting a global id that is
	// already present in the list.
	ErrDuplicateIndex = errors.New("remote: duplicate remote index")

	// ErrWrongMode is returned when a modifier operation is not available
	// in the modifier's mode.
	ErrWrongMode = errors.New("remote: operation not available in this modifier mode")
)

// Index is one peer's view of a locally held index: the attribute the peer
// assigns to it plus a non-owning back reference to the local record. The
// back reference must be repaired after the owning index set resizes.
type Index struct {
	attr  indexset.Attribute
	local *indexset.IndexPair
}

// NewIndex creates a remote index record.
func NewIndex(attr indexset.Attribute, local *indexset.IndexPair) Index {
	return Index{attr: attr, local: local}
}

// Attribute returns the attribute of the index on the remote process.
func (r *Index) Attribute() indexset.Attribute { return r.attr }

// LocalPair returns the corresponding local index record.
func (r *Index) LocalPair() *indexset.IndexPair { return r.local }

// List is the ordered per-peer sequence of remote index records, sorted
// strictly ascending by the global id of the referenced local record.
type List struct {
	entries []Index
}

// NewList creates an empty list.
func NewList() *List { return &List{} }

// Len returns the number of records.
func (l *List) Len() int { return len(l.entries) }

// Empty reports whether the list has no records.
func (l *List) Empty() bool { return len(l.entries) == 0 }

// At returns the address of the i-th record.
func (l *List) At(i int) *Index { return &l.entries[i] }

// All iterates over the records in ascending global order.
func (l *List) All() iter.Seq[*Index] {
	return func(yield func(*Index) bool) {
		for i := range l.entries {
			if !yield(&l.entries[i]) {
				return
			}
		}
	}
}

func (l *List) push(r Index) { l.entries = append(l.entries, r) }

func (l *List) insertAt(i int, r Index) {
	l.entries = append(l.entries, Index{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = r
}

func (l *List) removeAt(i int) {
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
}

// Lists is the per-peer pair of send and receive lists. When the source and
// target index sets of the registry are the same object both directions
// share one list; the tag makes the aliasing explicit so teardown and
// traversal treat the storage exactly once.
type Lists struct {
	send   *List
	recv   *List
	shared bool
}

func sharedLists(l *List) Lists { return Lists{send: l, recv: l, shared: true} }

func splitLists(send, recv *List) Lists { return Lists{send: send, recv: recv} }

// Send returns the list of indices the peer receives from us.
func (p Lists) Send() *List { return p.send }

// Recv returns the list of indices we receive from the peer.
func (p Lists) Recv() *List { return p.recv }

// Shared reports whether both directions alias the same storage.
func (p Lists) Shared() bool { return p.shared }
