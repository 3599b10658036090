package remote

import (
	"iter"
	"log/slog"
	"sort"

	"github.com/hpcgo/parix/comm"
	"github.com/hpcgo/parix/indexset"
)

// Option configures an Indices registry.
type Option func(*Indices)

// WithLogger sets the logger used for discovery diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(ri *Indices) {
		if l != nil {
			ri.logger = l
		}
	}
}

// Indices is the registry of remote index lists: a mapping from peer rank to
// the pair of send/receive lists for that peer.
//
// The registry is populated either by Rebuild, which runs the ring discovery
// protocol, or by hand through modifiers. It caches the sequence numbers of
// both index sets at the last successful build; Synced reports whether the
// cache is still valid.
//
// An Indices must not be used concurrently. Collective calls (Rebuild) must
// be reached by all ranks of the communicator in the same epoch.
type Indices struct {
	source *indexset.ParallelIndexSet
	target *indexset.ParallelIndexSet
	comm   comm.Communicator

	logger *slog.Logger

	sourceSeq int
	destSeq   int

	publicIgnored bool
	firstBuild    bool

	peers map[int]Lists
}

// New records the index sets and communicator. No exchange happens until the
// first Rebuild.
func New(source, target *indexset.ParallelIndexSet, c comm.Communicator, opts ...Option) *Indices {
	ri := &Indices{
		source:     source,
		target:     target,
		comm:       c,
		logger:     slog.New(slog.DiscardHandler),
		sourceSeq:  -1,
		destSeq:    -1,
		firstBuild: true,
		peers:      make(map[int]Lists),
	}
	for _, opt := range opts {
		opt(ri)
	}
	return ri
}

// SetIndexSets frees all lists and records new index sets and communicator.
// The next Rebuild runs discovery from scratch.
func (ri *Indices) SetIndexSets(source, target *indexset.ParallelIndexSet, c comm.Communicator) {
	ri.Free()
	ri.source = source
	ri.target = target
	ri.comm = c
}

// Communicator returns the communicator the registry exchanges over.
func (ri *Indices) Communicator() comm.Communicator { return ri.comm }

// Free drops all lists. The next Rebuild is treated as a first build.
func (ri *Indices) Free() {
	ri.peers = make(map[int]Lists)
	ri.sourceSeq = -1
	ri.destSeq = -1
	ri.firstBuild = true
}

// Synced reports whether the cached sequence numbers still match both index
// sets. A false result means the registry needs a Rebuild.
func (ri *Indices) Synced() bool {
	return ri.sourceSeq == ri.source.SeqNo() && ri.destSeq == ri.target.SeqNo()
}

// Neighbours returns the number of peers any indices are shared with.
func (ri *Indices) Neighbours() int { return len(ri.peers) }

// Rebuild populates the registry by running the discovery protocol.
//
// The call is idempotent: if the previous build used the same ignorePublic
// setting and the registry is still synced, no traffic occurs. On failure
// the registry reverts to the empty state, leaving Synced false and
// Neighbours zero.
//
// If ignorePublic is true all indices are exchanged regardless of their
// public flag.
func (ri *Indices) Rebuild(ignorePublic bool) error {
	if !ri.firstBuild && ignorePublic == ri.publicIgnored && ri.Synced() {
		return nil
	}

	ri.Free()
	if err := ri.buildRemote(ignorePublic); err != nil {
		ri.Free()
		return err
	}

	ri.sourceSeq = ri.source.SeqNo()
	ri.destSeq = ri.target.SeqNo()
	ri.firstBuild = false
	ri.publicIgnored = ignorePublic
	return nil
}

// Lists returns the list pair for a peer rank.
func (ri *Indices) Lists(peer int) (Lists, bool) {
	p, ok := ri.peers[peer]
	return p, ok
}

// Peers returns the peer ranks in ascending order.
func (ri *Indices) Peers() []int {
	ranks := make([]int, 0, len(ri.peers))
	for rank := range ri.peers {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	return ranks
}

// All iterates over the registry in ascending peer rank order.
func (ri *Indices) All() iter.Seq2[int, Lists] {
	return func(yield func(int, Lists) bool) {
		for _, rank := range ri.Peers() {
			if !yield(rank, ri.peers[rank]) {
				return
			}
		}
	}
}

// SendModifier returns a modifier over the send list of the given peer,
// creating an empty entry if none exists. If editsIndexSet is true the
// modifier maintains a shadow of global ids so back pointers can be repaired
// after the index set resizes.
//
// Taking a modifier certifies that the caller leaves the registry consistent:
// the registry marks itself synced with the current index sets.
func (ri *Indices) SendModifier(peer int, editsIndexSet bool) *Modifier {
	return newModifier(ri.source, ri.ensure(peer).Send(), editsIndexSet)
}

// RecvModifier is SendModifier for the receive list of the given peer.
func (ri *Indices) RecvModifier(peer int, editsIndexSet bool) *Modifier {
	return newModifier(ri.target, ri.ensure(peer).Recv(), editsIndexSet)
}

// ensure returns the list pair for peer, creating it if absent, and marks
// the registry as freshly synchronized on behalf of the modifying caller.
func (ri *Indices) ensure(peer int) Lists {
	ri.sourceSeq = ri.source.SeqNo()
	ri.destSeq = ri.target.SeqNo()
	ri.firstBuild = false

	p, ok := ri.peers[peer]
	if !ok {
		if ri.source == ri.target {
			p = sharedLists(NewList())
		} else {
			p = splitLists(NewList(), NewList())
		}
		ri.peers[peer] = p
	}
	return p
}

// SendIterator returns a collective iterator over all peers' send lists.
func (ri *Indices) SendIterator() *CollectiveIterator {
	return newCollectiveIterator(ri, true)
}

// RecvIterator returns a collective iterator over all peers' receive lists.
func (ri *Indices) RecvIterator() *CollectiveIterator {
	return newCollectiveIterator(ri, false)
}
