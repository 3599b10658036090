// Package indexset implements the per-process parallel index set: an ordered
// sequence of (global, local) index records with attached attributes.
//
// The set is strictly sorted by global id. Records have stable addresses while
// the set is in the Ground state; a resize transaction (BeginResize .. EndResize)
// rebuilds the backing storage and invalidates previously handed out record
// pointers. Every structural change bumps a monotonic sequence number, which
// downstream caches use for invalidation.
package indexset

import (
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// Global is the process-agnostic identifier of an index. Ordering is the only
// comparison primitive the exchange layer relies on.
type Global uint64

// Attribute tags the role an index plays on one process.
type Attribute uint8

// Canonical attribute values for owner/overlap decompositions. Users may
// define their own values; the exchange layer only transports them.
const (
	Owner Attribute = iota + 1
	Overlap
	Copy
)

func (a Attribute) String() string {
	switch a {
	case Owner:
		return "owner"
	case Overlap:
		return "overlap"
	case Copy:
		return "copy"
	default:
		return fmt.Sprintf("attribute(%d)", uint8(a))
	}
}

// State describes the lifecycle phase of a ParallelIndexSet.
type State uint8

const (
	// Ground is the quiescent state. Record addresses are stable.
	Ground State = iota
	// Resizing is active between BeginResize and EndResize.
	Resizing
)

func (s State) String() string {
	if s == Ground {
		return "ground"
	}
	return "resizing"
}

var (
	// ErrInvalidState is returned when an operation requires a different
	// lifecycle state than the set is currently in.
	ErrInvalidState = errors.New("indexset: invalid index set state")

	// ErrDuplicateGlobal is returned by EndResize when two records share a
	// global id.
	ErrDuplicateGlobal = errors.New("indexset: duplicate global index")

	// ErrNotFound is returned when a global id has no record in the set.
	ErrNotFound = errors.New("indexset: no such global index")
)

// LocalIndex is the dense process-local side of an index record.
type LocalIndex struct {
	local  int
	attr   Attribute
	public bool
}

// NewLocalIndex creates a local index with the given dense id, attribute and
// public flag. Only public indices participate in cross-process discovery.
func NewLocalIndex(local int, attr Attribute, public bool) LocalIndex {
	return LocalIndex{local: local, attr: attr, public: public}
}

// Local returns the dense process-local id.
func (l LocalIndex) Local() int { return l.local }

// Attribute returns the attribute attached to the index.
func (l LocalIndex) Attribute() Attribute { return l.attr }

// IsPublic reports whether the index is visible to other processes.
func (l LocalIndex) IsPublic() bool { return l.public }

// IndexPair is one record of the set: a global id together with its local
// counterpart. Pointers to pairs remain valid while the owning set stays in
// the Ground state.
type IndexPair struct {
	global Global
	local  LocalIndex
}

// NewIndexPair builds a record outside of a set, e.g. for tests.
func NewIndexPair(g Global, l LocalIndex) IndexPair {
	return IndexPair{global: g, local: l}
}

// Global returns the global id of the record.
func (p *IndexPair) Global() Global { return p.global }

// Local returns the local side of the record.
func (p *IndexPair) Local() LocalIndex { return p.local }

// ParallelIndexSet maps global ids to local indices on one process.
//
// Mutation happens in resize transactions: BeginResize, any number of Add and
// Remove calls, then EndResize which merges the staged changes, re-sorts, and
// bumps the sequence number. The zero value is not usable; call New.
type ParallelIndexSet struct {
	pairs []IndexPair

	added   []IndexPair
	removed map[Global]struct{}

	// publicIDs tracks the dense local ids of public records.
	publicIDs *roaring.Bitmap

	seqNo int
	state State
}

// New creates an empty index set in the Ground state with sequence number 0.
func New() *ParallelIndexSet {
	return &ParallelIndexSet{
		publicIDs: roaring.New(),
		removed:   make(map[Global]struct{}),
	}
}

// Size returns the number of records.
func (s *ParallelIndexSet) Size() int { return len(s.pairs) }

// SeqNo returns the sequence number, bumped by every EndResize.
func (s *ParallelIndexSet) SeqNo() int { return s.seqNo }

// State returns the lifecycle state of the set.
func (s *ParallelIndexSet) State() State { return s.state }

// NumPublic returns the number of records whose public flag is set.
func (s *ParallelIndexSet) NumPublic() int {
	return int(s.publicIDs.GetCardinality())
}

// At returns the address of the i-th record in ascending global order.
// The address is stable until the next EndResize.
func (s *ParallelIndexSet) At(i int) *IndexPair { return &s.pairs[i] }

// Pair looks up the record for the given global id via binary search.
func (s *ParallelIndexSet) Pair(g Global) (*IndexPair, error) {
	i := sort.Search(len(s.pairs), func(i int) bool { return s.pairs[i].global >= g })
	if i == len(s.pairs) || s.pairs[i].global != g {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, g)
	}
	return &s.pairs[i], nil
}

// Pairs iterates over all records in ascending global order. The yielded
// addresses are stable until the next EndResize.
func (s *ParallelIndexSet) Pairs() iter.Seq[*IndexPair] {
	return func(yield func(*IndexPair) bool) {
		for i := range s.pairs {
			if !yield(&s.pairs[i]) {
				return
			}
		}
	}
}

// BeginResize starts a resize transaction.
func (s *ParallelIndexSet) BeginResize() error {
	if s.state != Ground {
		return fmt.Errorf("%w: BeginResize requires %s, set is %s", ErrInvalidState, Ground, s.state)
	}
	s.state = Resizing
	return nil
}

// Add stages a new record. Only valid while resizing.
func (s *ParallelIndexSet) Add(g Global, l LocalIndex) error {
	if s.state != Resizing {
		return fmt.Errorf("%w: Add requires %s, set is %s", ErrInvalidState, Resizing, s.state)
	}
	s.added = append(s.added, IndexPair{global: g, local: l})
	return nil
}

// Remove stages the deletion of the record with the given global id. Only
// valid while resizing.
func (s *ParallelIndexSet) Remove(g Global) error {
	if s.state != Resizing {
		return fmt.Errorf("%w: Remove requires %s, set is %s", ErrInvalidState, Resizing, s.state)
	}
	s.removed[g] = struct{}{}
	return nil
}

// EndResize merges the staged additions and removals into a freshly built
// record array, restores the Ground state and bumps the sequence number.
// All previously obtained record addresses become stale.
func (s *ParallelIndexSet) EndResize() error {
	if s.state != Resizing {
		return fmt.Errorf("%w: EndResize requires %s, set is %s", ErrInvalidState, Resizing, s.state)
	}

	sort.Slice(s.added, func(i, j int) bool { return s.added[i].global < s.added[j].global })

	merged := make([]IndexPair, 0, len(s.pairs)+len(s.added))
	i, j := 0, 0
	for i < len(s.pairs) || j < len(s.added) {
		var next IndexPair
		switch {
		case i == len(s.pairs):
			next = s.added[j]
			j++
		case j == len(s.added):
			next = s.pairs[i]
			i++
		case s.pairs[i].global <= s.added[j].global:
			next = s.pairs[i]
			i++
		default:
			next = s.added[j]
			j++
		}
		if _, gone := s.removed[next.global]; gone {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].global == next.global {
			return fmt.Errorf("%w: %d", ErrDuplicateGlobal, next.global)
		}
		merged = append(merged, next)
	}

	s.pairs = merged
	s.added = nil
	s.removed = make(map[Global]struct{})

	s.publicIDs.Clear()
	for i := range s.pairs {
		if s.pairs[i].local.public {
			s.publicIDs.Add(uint32(s.pairs[i].local.local))
		}
	}

	s.seqNo++
	s.state = Ground
	return nil
}
