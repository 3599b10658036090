package remote

import (
	"iter"

	"github.com/hpcgo/parix/indexset"
)

// CollectiveIterator walks all per-peer lists of a registry in lockstep by
// ascending global id. Advance moves every cursor to a target id; Items then
// yields the peers that hold a record for exactly that id. Peers whose list
// is exhausted are dropped, so Empty eventually reports true.
type CollectiveIterator struct {
	cursors []peerCursor
	target  indexset.Global
}

type peerCursor struct {
	rank int
	list *List
	pos  int
}

func newCollectiveIterator(ri *Indices, send bool) *CollectiveIterator {
	ci := &CollectiveIterator{}
	for _, rank := range ri.Peers() {
		lists := ri.peers[rank]
		list := lists.Recv()
		if send {
			list = lists.Send()
		}
		if list.Empty() {
			continue
		}
		ci.cursors = append(ci.cursors, peerCursor{rank: rank, list: list})
	}
	return ci
}

// Advance moves all cursors forward to the first record with a global id of
// at least g. Targets must be given in ascending order across calls.
func (ci *CollectiveIterator) Advance(g indexset.Global) {
	ci.target = g
	live := ci.cursors[:0]
	for _, c := range ci.cursors {
		for c.pos < c.list.Len() && c.list.At(c.pos).LocalPair().Global() < g {
			c.pos++
		}
		if c.pos < c.list.Len() {
			live = append(live, c)
		}
	}
	ci.cursors = live
}

// Empty reports whether every peer's list is exhausted.
func (ci *CollectiveIterator) Empty() bool { return len(ci.cursors) == 0 }

// Items yields, per peer rank, the record whose global id equals the last
// Advance target. Peers positioned past the target are skipped.
func (ci *CollectiveIterator) Items() iter.Seq2[int, *Index] {
	return func(yield func(int, *Index) bool) {
		for _, c := range ci.cursors {
			r := c.list.At(c.pos)
			if r.LocalPair().Global() != ci.target {
				continue
			}
			if !yield(c.rank, r) {
				return
			}
		}
	}
}
