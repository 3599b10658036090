package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcgo/parix/comm"
	"github.com/hpcgo/parix/indexset"
)

// itemRanks collects the peer ranks yielded for the current target.
func itemRanks(ci *CollectiveIterator) []int {
	var ranks []int
	for rank := range ci.Items() {
		ranks = append(ranks, rank)
	}
	return ranks
}

func TestCollectiveIteratorLockstep(t *testing.T) {
	set := makeSet(t, owned(1, 3, 5, 7)...)
	ri := soloIndices(t, set)

	mod := ri.SendModifier(1, false)
	for _, g := range []indexset.Global{1, 3, 7} {
		require.NoError(t, mod.Insert(indexFor(t, set, g, indexset.Owner)))
	}
	mod = ri.SendModifier(2, false)
	for _, g := range []indexset.Global{3, 5, 7} {
		require.NoError(t, mod.Insert(indexFor(t, set, g, indexset.Overlap)))
	}

	ci := ri.SendIterator()
	require.False(t, ci.Empty())

	ci.Advance(1)
	assert.Equal(t, []int{1}, itemRanks(ci))

	ci.Advance(3)
	assert.Equal(t, []int{1, 2}, itemRanks(ci))

	ci.Advance(5)
	assert.Equal(t, []int{2}, itemRanks(ci))

	ci.Advance(7)
	assert.Equal(t, []int{1, 2}, itemRanks(ci))

	ci.Advance(8)
	assert.True(t, ci.Empty())
	assert.Empty(t, itemRanks(ci))
}

func TestCollectiveIteratorSkipsGaps(t *testing.T) {
	set := makeSet(t, owned(2, 4, 6)...)
	ri := soloIndices(t, set)

	mod := ri.SendModifier(3, false)
	for _, g := range []indexset.Global{2, 6} {
		require.NoError(t, mod.Insert(indexFor(t, set, g, indexset.Owner)))
	}

	ci := ri.SendIterator()
	ci.Advance(4)
	assert.Empty(t, itemRanks(ci), "no peer holds the target id")
	assert.False(t, ci.Empty(), "peer still has records past the target")

	ci.Advance(6)
	assert.Equal(t, []int{3}, itemRanks(ci))
}

func TestCollectiveIteratorAttributes(t *testing.T) {
	set := makeSet(t, owned(5)...)
	ri := soloIndices(t, set)

	mod := ri.SendModifier(1, false)
	require.NoError(t, mod.Insert(indexFor(t, set, 5, indexset.Copy)))

	ci := ri.SendIterator()
	ci.Advance(5)
	for rank, r := range ci.Items() {
		assert.Equal(t, 1, rank)
		assert.Equal(t, indexset.Copy, r.Attribute())
		assert.Equal(t, indexset.Global(5), r.LocalPair().Global())
	}
}

func TestCollectiveIteratorEmptyRegistry(t *testing.T) {
	set := makeSet(t, owned(1)...)
	ri := soloIndices(t, set)

	ci := ri.RecvIterator()
	assert.True(t, ci.Empty())
}

func TestCollectiveIteratorOverDiscovery(t *testing.T) {
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
		ci := ri.SendIterator()
		ci.Advance(3)
		assert.Equal(t, []int{1 - c.Rank()}, itemRanks(ci))
		return nil
	})
	require.NoError(t, err)
}
