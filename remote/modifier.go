package remote

import (
	"fmt"

	"github.com/hpcgo/parix/indexset"
)

// Modifier is a forward-only cursor editor over one per-peer list. All
// operations must be issued with ascending global ids; the cursor never moves
// backwards. At most one modifier per list may be active at a time.
//
// A modifier obtained with editsIndexSet true runs in the mutable mode: it
// maintains a shadow sequence of global ids alongside the list, so entries can
// be inserted while the owning index set is mid-resize and the back pointers
// can be repaired afterwards with RepairLocalIndexPointers. The stable mode
// resolves back pointers immediately and requires the index set to stay
// untouched for the modifier's lifetime.
type Modifier struct {
	set  *indexset.ParallelIndexSet
	list *List

	// glist shadows the global id of every list entry in the mutable mode.
	glist []indexset.Global

	mutable bool

	pos   int
	first bool
	last  indexset.Global
}

func newModifier(set *indexset.ParallelIndexSet, list *List, editsIndexSet bool) *Modifier {
	m := &Modifier{
		set:     set,
		list:    list,
		mutable: editsIndexSet,
		first:   true,
	}
	if editsIndexSet {
		m.glist = make([]indexset.Global, list.Len())
		for i := 0; i < list.Len(); i++ {
			m.glist[i] = list.At(i).LocalPair().Global()
		}
	}
	return m
}

// advance moves the cursor forward until the entry at the cursor has a global
// id of at least g. It reports an ErrInvalidPosition if g lies behind the
// cursor.
func (m *Modifier) advance(g indexset.Global) error {
	if !m.first && g < m.last {
		return fmt.Errorf("%w: global %d after %d", ErrInvalidPosition, g, m.last)
	}
	for m.pos < m.list.Len() && m.entryGlobal(m.pos) < g {
		m.pos++
	}
	return nil
}

// entryGlobal returns the global id of the list entry at i, from the shadow
// in the mutable mode and through the back pointer otherwise.
func (m *Modifier) entryGlobal(i int) indexset.Global {
	if m.mutable {
		return m.glist[i]
	}
	return m.list.At(i).LocalPair().Global()
}

// Insert adds a record at the cursor. Only available in the stable mode,
// where the record's back pointer identifies its global id.
func (m *Modifier) Insert(idx Index) error {
	if m.mutable {
		return fmt.Errorf("%w: Insert requires a stable index set, use InsertAt", ErrWrongMode)
	}
	g := idx.LocalPair().Global()
	if err := m.advance(g); err != nil {
		return err
	}
	if (m.pos < m.list.Len() && m.entryGlobal(m.pos) == g) || (m.pos > 0 && m.entryGlobal(m.pos-1) == g) {
		return fmt.Errorf("%w: global %d", ErrDuplicateIndex, g)
	}
	m.list.insertAt(m.pos, idx)
	m.pos++
	m.last = g
	m.first = false
	return nil
}

// InsertAt adds a record under an explicitly named global id. Only available
// in the mutable mode, where the back pointer may be stale or nil until the
// next RepairLocalIndexPointers.
func (m *Modifier) InsertAt(idx Index, g indexset.Global) error {
	if !m.mutable {
		return fmt.Errorf("%w: InsertAt requires editsIndexSet, use Insert", ErrWrongMode)
	}
	if err := m.advance(g); err != nil {
		return err
	}
	if (m.pos < m.list.Len() && m.entryGlobal(m.pos) == g) || (m.pos > 0 && m.entryGlobal(m.pos-1) == g) {
		return fmt.Errorf("%w: global %d", ErrDuplicateIndex, g)
	}
	m.list.insertAt(m.pos, idx)
	m.glist = append(m.glist, 0)
	copy(m.glist[m.pos+1:], m.glist[m.pos:])
	m.glist[m.pos] = g
	m.pos++
	m.last = g
	m.first = false
	return nil
}

// Remove deletes the record with the given global id, reporting whether one
// was present. Removal follows the same ascending discipline as insertion.
func (m *Modifier) Remove(g indexset.Global) (bool, error) {
	if err := m.advance(g); err != nil {
		return false, err
	}
	m.last = g
	m.first = false
	if m.pos == m.list.Len() || m.entryGlobal(m.pos) != g {
		return false, nil
	}
	m.list.removeAt(m.pos)
	if m.mutable {
		m.glist = append(m.glist[:m.pos], m.glist[m.pos+1:]...)
	}
	return true, nil
}

// RepairLocalIndexPointers re-resolves every entry's back pointer against the
// index set using the shadow global ids. The set must be back in the Ground
// state; every shadowed global id must still have a record.
func (m *Modifier) RepairLocalIndexPointers() error {
	if !m.mutable {
		return fmt.Errorf("%w: repair requires editsIndexSet", ErrWrongMode)
	}
	if m.set.State() != indexset.Ground {
		return fmt.Errorf("%w: repair requires %s, set is %s",
			indexset.ErrInvalidState, indexset.Ground, m.set.State())
	}
	for i, g := range m.glist {
		p, err := m.set.Pair(g)
		if err != nil {
			return fmt.Errorf("remote: repair: %w", err)
		}
		m.list.At(i).local = p
	}
	return nil
}
