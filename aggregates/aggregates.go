// Package aggregates publishes aggregation maps across process boundaries.
//
// An aggregation assigns every fine-level vertex the local id of its
// aggregate. Aggregate ids only mean something on the rank that formed them;
// to ship an aggregation to neighbour ranks the ids are translated to the
// global ids of a coarse index set, sent along the remote index lists, and
// translated back on arrival.
package aggregates

import (
	"errors"
	"fmt"

	"github.com/hpcgo/parix/indexset"
)

var (
	// ErrUnknownAggregate is returned when a vertex maps to an aggregate id
	// the coarse index set has no record for.
	ErrUnknownAggregate = errors.New("aggregates: unknown aggregate id")

	// ErrNotSynced is returned by Publish when the registry does not match
	// its index sets.
	ErrNotSynced = errors.New("aggregates: remote indices out of sync")
)

// GlobalAggregatesMap couples a per-vertex aggregate assignment with the
// coarse index set naming the aggregates globally.
type GlobalAggregatesMap struct {
	aggregates []int
	coarse     *indexset.ParallelIndexSet

	// byLocal resolves coarse local ids to their records.
	byLocal []*indexset.IndexPair
}

// New wraps the aggregate assignment and its coarse index set. The
// aggregates slice is referenced and mutated in place by Put and Publish.
func New(aggregates []int, coarse *indexset.ParallelIndexSet) *GlobalAggregatesMap {
	maxLocal := -1
	for p := range coarse.Pairs() {
		if l := p.Local().Local(); l > maxLocal {
			maxLocal = l
		}
	}
	byLocal := make([]*indexset.IndexPair, maxLocal+1)
	for p := range coarse.Pairs() {
		byLocal[p.Local().Local()] = p
	}
	return &GlobalAggregatesMap{aggregates: aggregates, coarse: coarse, byLocal: byLocal}
}

// Get returns the global id of the aggregate the vertex belongs to.
func (m *GlobalAggregatesMap) Get(vertex int) (indexset.Global, error) {
	agg := m.aggregates[vertex]
	if agg < 0 || agg >= len(m.byLocal) || m.byLocal[agg] == nil {
		return 0, fmt.Errorf("%w: vertex %d, aggregate %d", ErrUnknownAggregate, vertex, agg)
	}
	return m.byLocal[agg].Global(), nil
}

// Put assigns the vertex to the aggregate with the given global id,
// translated to its local id through the coarse index set.
func (m *GlobalAggregatesMap) Put(global indexset.Global, vertex int) error {
	p, err := m.coarse.Pair(global)
	if err != nil {
		return fmt.Errorf("aggregates: put vertex %d: %w", vertex, err)
	}
	m.aggregates[vertex] = p.Local().Local()
	return nil
}

// Size returns the per-vertex payload element count, which is always one.
func (m *GlobalAggregatesMap) Size(vertex int) int { return 1 }

// Aggregates returns the wrapped assignment slice.
func (m *GlobalAggregatesMap) Aggregates() []int { return m.aggregates }
