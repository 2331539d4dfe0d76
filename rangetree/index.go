package rangetree

import (
	"sort"

	"github.com/dmndtyps/dt/causalgraph"
)

// sideIndexEntry is one record in the LV -> leaf side index.
type sideIndexEntry struct {
	Range causalgraph.LVRange
	Leaf  *node
}

// sideIndex is the "separate augmented tree" side index mapping an LV to
// the leaf currently holding it (spec.md §4.3). Implemented here as a
// sorted slice with binary-search lookup and linear-scan insert/remove: a
// faithful but shallower stand-in for a second balanced tree, since the
// side index only ever needs point lookups and whole-item moves, not its
// own range queries. See DESIGN.md.
type sideIndex struct {
	entries []sideIndexEntry
}

func (si *sideIndex) searchStart(start causalgraph.LV) int {
	return sort.Search(len(si.entries), func(i int) bool { return si.entries[i].Range.Start >= start })
}

// Put registers (or re-registers) the leaf holding the LV range r. Any
// existing entry with the same Start is replaced in place.
func (si *sideIndex) Put(r causalgraph.LVRange, leaf *node) {
	i := si.searchStart(r.Start)
	if i < len(si.entries) && si.entries[i].Range.Start == r.Start {
		si.entries[i] = sideIndexEntry{Range: r, Leaf: leaf}
		return
	}
	si.entries = append(si.entries, sideIndexEntry{})
	copy(si.entries[i+1:], si.entries[i:])
	si.entries[i] = sideIndexEntry{Range: r, Leaf: leaf}
}

// Remove deletes the entry whose range starts at start, if any.
func (si *sideIndex) Remove(start causalgraph.LV) {
	i := si.searchStart(start)
	if i < len(si.entries) && si.entries[i].Range.Start == start {
		si.entries = append(si.entries[:i], si.entries[i+1:]...)
	}
}

// Lookup finds the leaf holding lv, if any entry's range covers it.
func (si *sideIndex) Lookup(lv causalgraph.LV) (*node, bool) {
	i := sort.Search(len(si.entries), func(i int) bool { return si.entries[i].Range.End > lv })
	if i < len(si.entries) && si.entries[i].Range.Start <= lv {
		return si.entries[i].Leaf, true
	}
	return nil, false
}
