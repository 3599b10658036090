package remote

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcgo/parix/comm"
	"github.com/hpcgo/parix/indexset"
)

type rec struct {
	g      indexset.Global
	attr   indexset.Attribute
	public bool
}

// makeSet builds a Ground index set with sequential local ids.
func makeSet(t *testing.T, recs ...rec) *indexset.ParallelIndexSet {
	t.Helper()

	s := indexset.New()
	require.NoError(t, s.BeginResize())
	for i, r := range recs {
		require.NoError(t, s.Add(r.g, indexset.NewLocalIndex(i, r.attr, r.public)))
	}
	require.NoError(t, s.EndResize())
	return s
}

func owned(globals ...indexset.Global) []rec {
	recs := make([]rec, len(globals))
	for i, g := range globals {
		recs[i] = rec{g: g, attr: indexset.Owner, public: true}
	}
	return recs
}

// listGlobals extracts the global ids a list references, in order.
func listGlobals(l *List) []indexset.Global {
	var gs []indexset.Global
	for r := range l.All() {
		gs = append(gs, r.LocalPair().Global())
	}
	return gs
}

func TestRebuildTwoRanksSharedIndex(t *testing.T) {
	err := comm.Launch(2, func(c comm.Communicator) error {
		var recs []rec
		if c.Rank() == 0 {
			recs = owned(1, 2, 3)
		} else {
			recs = owned(3, 4, 5)
		}
		set := makeSet(t, recs...)
		ri := New(set, set, c)
		if err := ri.Rebuild(false); err != nil {
			return err
		}

		assert.True(t, ri.Synced())
		assert.Equal(t, 1, ri.Neighbours())

		peer := 1 - c.Rank()
		lists, ok := ri.Lists(peer)
		require.True(t, ok)
		assert.True(t, lists.Shared())
		assert.Equal(t, []indexset.Global{3}, listGlobals(lists.Send()))

		r := lists.Send().At(0)
		assert.Equal(t, indexset.Owner, r.Attribute())
		want, err := set.Pair(3)
		require.NoError(t, err)
		assert.Same(t, want, r.LocalPair())
		return nil
	})
	require.NoError(t, err)
}

func TestRebuildRingOfThree(t *testing.T) {
	const size = 3
	err := comm.Launch(size, func(c comm.Communicator) error {
		// Rank r holds globals r and (r+1)%3, so every pair of ranks
		// shares exactly one global id.
		a := indexset.Global(c.Rank())
		b := indexset.Global((c.Rank() + 1) % size)
		lo, hi := a, b
		if hi < lo {
			lo, hi = hi, lo
		}
		set := makeSet(t, owned(lo, hi)...)
		ri := New(set, set, c)
		if err := ri.Rebuild(false); err != nil {
			return err
		}

		assert.Equal(t, 2, ri.Neighbours())
		assert.Equal(t, ranksExcept(size, c.Rank()), ri.Peers())

		for peer, lists := range ri.All() {
			gs := listGlobals(lists.Send())
			require.Len(t, gs, 1, "peer %d", peer)
			assert.Equal(t, listGlobals(lists.Recv()), gs)
		}
		return nil
	})
	require.NoError(t, err)
}

func ranksExcept(size, rank int) []int {
	out := make([]int, 0, size-1)
	for r := 0; r < size; r++ {
		if r != rank {
			out = append(out, r)
		}
	}
	return out
}

func TestRebuildNoSharedIndices(t *testing.T) {
	err := comm.Launch(2, func(c comm.Communicator) error {
		set := makeSet(t, owned(indexset.Global(10*c.Rank()), indexset.Global(10*c.Rank()+1))...)
		ri := New(set, set, c)
		if err := ri.Rebuild(false); err != nil {
			return err
		}
		assert.Equal(t, 0, ri.Neighbours())
		assert.True(t, ri.Synced())
		return nil
	})
	require.NoError(t, err)
}

func TestRebuildRespectsPublicFlag(t *testing.T) {
	err := comm.Launch(2, func(c comm.Communicator) error {
		// Global 5 is replicated on both ranks but private everywhere.
		set := makeSet(t,
			rec{g: indexset.Global(c.Rank()), attr: indexset.Owner, public: true},
			rec{g: 5, attr: indexset.Overlap, public: false},
		)
		ri := New(set, set, c)
		if err := ri.Rebuild(false); err != nil {
			return err
		}
		assert.Equal(t, 0, ri.Neighbours())

		// ignorePublic widens the exchange to every index.
		if err := ri.Rebuild(true); err != nil {
			return err
		}
		require.Equal(t, 1, ri.Neighbours())
		lists, ok := ri.Lists(1 - c.Rank())
		require.True(t, ok)
		assert.Equal(t, []indexset.Global{5}, listGlobals(lists.Send()))
		assert.Equal(t, indexset.Overlap, lists.Send().At(0).Attribute())
		return nil
	})
	require.NoError(t, err)
}

func TestRebuildIdempotent(t *testing.T) {
	err := comm.Launch(2, func(c comm.Communicator) error {
		set := makeSet(t, owned(1, 2)...)
		ri := New(set, set, c)
		if err := ri.Rebuild(false); err != nil {
			return err
		}
		before, _ := ri.Lists(1 - c.Rank())

		// Still synced with the same flag, so no traffic and no rebuild.
		if err := ri.Rebuild(false); err != nil {
			return err
		}
		after, ok := ri.Lists(1 - c.Rank())
		require.True(t, ok)
		assert.Same(t, before.Send(), after.Send())
		return nil
	})
	require.NoError(t, err)
}

func TestRebuildAfterResize(t *testing.T) {
	err := comm.Launch(2, func(c comm.Communicator) error {
		set := makeSet(t, owned(1, 2)...)
		ri := New(set, set, c)
		if err := ri.Rebuild(false); err != nil {
			return err
		}
		assert.Equal(t, 1, ri.Neighbours())

		// Rank 1 drops the shared globals; both ranks resize so the
		// collective rebuild is reached by everyone.
		require.NoError(t, set.BeginResize())
		if c.Rank() == 1 {
			require.NoError(t, set.Remove(1))
			require.NoError(t, set.Remove(2))
			require.NoError(t, set.Add(9, indexset.NewLocalIndex(7, indexset.Owner, true)))
		} else {
			require.NoError(t, set.Add(8, indexset.NewLocalIndex(7, indexset.Owner, true)))
		}
		require.NoError(t, set.EndResize())
		assert.False(t, ri.Synced())

		if err := ri.Rebuild(false); err != nil {
			return err
		}
		assert.True(t, ri.Synced())
		assert.Equal(t, 0, ri.Neighbours())
		return nil
	})
	require.NoError(t, err)
}

func TestRebuildTwoIndexSets(t *testing.T) {
	err := comm.Launch(2, func(c comm.Communicator) error {
		var source, target *indexset.ParallelIndexSet
		if c.Rank() == 0 {
			source = makeSet(t, owned(1, 2)...)
			target = makeSet(t, owned(2, 3)...)
		} else {
			source = makeSet(t, owned(3, 4)...)
			target = makeSet(t, owned(1, 4)...)
		}
		ri := New(source, target, c)
		if err := ri.Rebuild(false); err != nil {
			return err
		}

		// With distinct sets the local rank shows up as its own peer
		// wherever source and target overlap.
		self, ok := ri.Lists(c.Rank())
		require.True(t, ok)
		assert.False(t, self.Shared())
		peer, ok := ri.Lists(1 - c.Rank())
		require.True(t, ok)

		if c.Rank() == 0 {
			// We send what the peer's target wants from our source, and
			// receive what the peer's source offers to our target.
			assert.Equal(t, []indexset.Global{1}, listGlobals(peer.Send()))
			assert.Equal(t, []indexset.Global{3}, listGlobals(peer.Recv()))
			assert.Equal(t, []indexset.Global{2}, listGlobals(self.Send()))
			assert.Equal(t, []indexset.Global{2}, listGlobals(self.Recv()))
		} else {
			assert.Equal(t, []indexset.Global{3}, listGlobals(peer.Send()))
			assert.Equal(t, []indexset.Global{1}, listGlobals(peer.Recv()))
			assert.Equal(t, []indexset.Global{4}, listGlobals(self.Send()))
			assert.Equal(t, []indexset.Global{4}, listGlobals(self.Recv()))
		}

		// Send back references resolve in the source set, receive back
		// references in the target set.
		sg := listGlobals(peer.Send())[0]
		want, err := source.Pair(sg)
		require.NoError(t, err)
		assert.Same(t, want, peer.Send().At(0).LocalPair())

		rg := listGlobals(peer.Recv())[0]
		want, err = target.Pair(rg)
		require.NoError(t, err)
		assert.Same(t, want, peer.Recv().At(0).LocalPair())
		return nil
	})
	require.NoError(t, err)
}

func TestRebuildSingleRankEmpty(t *testing.T) {
	err := comm.Launch(1, func(c comm.Communicator) error {
		set := makeSet(t, owned(1, 2, 3)...)
		ri := New(set, set, c)
		if err := ri.Rebuild(false); err != nil {
			return err
		}
		assert.Equal(t, 0, ri.Neighbours())
		assert.True(t, ri.Synced())
		return nil
	})
	require.NoError(t, err)
}

// failingComm errors on the size exchange, before any ring traffic.
type failingComm struct{ comm.Communicator }

var errBroken = errors.New("broken")

func (f failingComm) AllreduceMaxInt(int) (int, error) { return 0, errBroken }

func TestRebuildFailureRevertsToEmpty(t *testing.T) {
	err := comm.Launch(1, func(c comm.Communicator) error {
		set := makeSet(t, owned(1)...)
		ri := New(set, set, failingComm{c})
		err := ri.Rebuild(false)
		assert.ErrorIs(t, err, errBroken)
		assert.False(t, ri.Synced())
		assert.Equal(t, 0, ri.Neighbours())
		return nil
	})
	require.NoError(t, err)
}

func TestSetIndexSetsFreesRegistry(t *testing.T) {
	err := comm.Launch(2, func(c comm.Communicator) error {
		set := makeSet(t, owned(1)...)
		ri := New(set, set, c)
		if err := ri.Rebuild(false); err != nil {
			return err
		}
		require.Equal(t, 1, ri.Neighbours())

		other := makeSet(t, owned(indexset.Global(100+c.Rank()))...)
		ri.SetIndexSets(other, other, c)
		assert.Equal(t, 0, ri.Neighbours())
		assert.False(t, ri.Synced())

		if err := ri.Rebuild(false); err != nil {
			return err
		}
		assert.Equal(t, 0, ri.Neighbours())
		return nil
	})
	require.NoError(t, err)
}

func TestRebuildOverTCP(t *testing.T) {
	if testing.Short() {
		t.Skip("tcp mesh")
	}
	err := launchTCP(t, 2, func(c comm.Communicator) error {
		var recs []rec
		if c.Rank() == 0 {
			recs = owned(1, 2, 3)
		} else {
			recs = owned(3, 4, 5)
		}
		set := makeSet(t, recs...)
		ri := New(set, set, c)
		if err := ri.Rebuild(false); err != nil {
			return err
		}
		require.Equal(t, 1, ri.Neighbours())
		lists, ok := ri.Lists(1 - c.Rank())
		require.True(t, ok)
		assert.Equal(t, []indexset.Global{3}, listGlobals(lists.Send()))
		return nil
	})
	require.NoError(t, err)
}
