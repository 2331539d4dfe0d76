package rangetree

import (
	"github.com/pkg/errors"

	"github.com/dmndtyps/dt/causalgraph"
)

// Tree is the range/content tree: an order-statistic tree over CRDT items,
// augmented with "cur" and "end" length metrics, a sibling-linked leaf
// list, and an LV -> leaf side index (spec.md §4.3).
type Tree struct {
	root  *node
	first *node // leftmost leaf, head of the sibling list
	index sideIndex
}

// New creates an empty range tree.
func New() *Tree {
	root := newLeaf()
	return &Tree{root: root, first: root}
}

// CurLen reports the tree's live rope length.
func (t *Tree) CurLen() int { return t.root.curLen() }

// EndLen reports the tree's total ever-inserted item count.
func (t *Tree) EndLen() int { return t.root.endLen() }

// CursorAtContentPos descends the tree using the selected metric (cur if
// useCur, else end) to find the item at document position pos.
func (t *Tree) CursorAtContentPos(pos int, useCur bool) (Cursor, error) {
	n := t.root
	for !n.leaf {
		found := false
		for i, c := range n.children {
			metric := n.childEnd[i]
			if useCur {
				metric = n.childCur[i]
			}
			if pos < metric || i == len(n.children)-1 {
				n = c
				found = true
				break
			}
			pos -= metric
		}
		if !found {
			return Cursor{}, errors.New("rangetree: CursorAtContentPos: empty internal node")
		}
	}
	offset := 0
	for i, it := range n.items {
		metric := it.EndLen()
		if useCur {
			metric = it.CurLen()
		}
		if pos < metric {
			return Cursor{leaf: n, itemIdx: i, itemOffset: pos}, nil
		}
		pos -= metric
		offset = i + 1
	}
	return Cursor{leaf: n, itemIdx: offset, itemOffset: 0}, nil
}

// CursorBeforeLV locates lv via the side index in O(log n).
func (t *Tree) CursorBeforeLV(lv causalgraph.LV) (Cursor, error) {
	leaf, ok := t.index.Lookup(lv)
	if !ok {
		return Cursor{}, errors.Errorf("rangetree: CursorBeforeLV: LV %d not indexed", lv)
	}
	for i, it := range leaf.items {
		if it.ID.Start <= lv && lv < it.ID.End {
			return Cursor{leaf: leaf, itemIdx: i, itemOffset: int(lv - it.ID.Start)}, nil
		}
	}
	return Cursor{}, errors.Errorf("rangetree: CursorBeforeLV: LV %d missing from indexed leaf", lv)
}

// Start returns the cursor at the very beginning of the document.
func (t *Tree) Start() Cursor { return Cursor{leaf: t.first} }

// CursorAfterLV returns the cursor immediately following the item holding
// lv (used to anchor the left edge of a concurrent-insert scan).
func (t *Tree) CursorAfterLV(lv causalgraph.LV) (Cursor, error) {
	c, err := t.CursorBeforeLV(lv)
	if err != nil {
		return Cursor{}, err
	}
	return t.advancePastItem(c.leaf, c.itemIdx), nil
}

// advancePastItem returns the cursor immediately after the item at
// (leaf, itemIdx): the next item in the same leaf, or the first item of
// the next sibling leaf, or the end of the document.
func (t *Tree) advancePastItem(leaf *node, itemIdx int) Cursor {
	if itemIdx+1 < len(leaf.items) {
		return Cursor{leaf: leaf, itemIdx: itemIdx + 1}
	}
	if leaf.next != nil {
		return Cursor{leaf: leaf.next, itemIdx: 0}
	}
	return Cursor{leaf: leaf, itemIdx: len(leaf.items)}
}

// ItemAfter peeks the item starting exactly at cursor, returning ok=false
// at the end of the document.
func (t *Tree) ItemAfter(cursor Cursor) (Item, bool) {
	leaf := cursor.leaf
	idx := cursor.itemIdx
	for leaf != nil && idx >= len(leaf.items) {
		leaf = leaf.next
		idx = 0
	}
	if leaf == nil {
		return Item{}, false
	}
	return leaf.items[idx], true
}

// AdvancePastItem returns the cursor right after the item starting exactly
// at cursor; at the end of the document (where ItemAfter reports false) it
// returns cursor unchanged.
func (t *Tree) AdvancePastItem(cursor Cursor) Cursor {
	leaf := cursor.leaf
	idx := cursor.itemIdx
	for leaf != nil && idx >= len(leaf.items) {
		leaf = leaf.next
		idx = 0
	}
	if leaf == nil {
		return cursor
	}
	return t.advancePastItem(leaf, idx)
}

// StructuralPosition returns cursor's raw ordinal among every item ever
// placed in the tree, regardless of current state — the order the merge
// engine's concurrent-insert tiebreak scan compares positions in (spec.md
// §4.3).
func (t *Tree) StructuralPosition(cursor Cursor) int {
	pos := 0
	leaf := cursor.leaf
	for i := 0; i < cursor.itemIdx && i < len(leaf.items); i++ {
		pos += leaf.items[i].Len()
	}
	pos += cursor.itemOffset

	n := leaf
	for n.parent != nil {
		parent := n.parent
		for i := 0; i < n.parentIdx; i++ {
			pos += parent.children[i].structuralLen()
		}
		n = parent
	}
	return pos
}

// PositionOf returns cursor's document offset under the selected metric
// (cur for the live rope position, end for the total-ever-inserted
// position) — the counterpart to StructuralPosition used when the merge
// engine needs a concrete rope offset rather than a structural ordinal.
func (t *Tree) PositionOf(cursor Cursor, useCur bool) int {
	pos := 0
	leaf := cursor.leaf
	for i := 0; i < cursor.itemIdx && i < len(leaf.items); i++ {
		if useCur {
			pos += leaf.items[i].CurLen()
		} else {
			pos += leaf.items[i].EndLen()
		}
	}
	if cursor.itemOffset > 0 && cursor.itemIdx < len(leaf.items) {
		it := leaf.items[cursor.itemIdx]
		if useCur && it.State == Inserted {
			pos += cursor.itemOffset
		} else if !useCur && it.State != NotInsertedYet {
			pos += cursor.itemOffset
		}
	}

	n := leaf
	for n.parent != nil {
		parent := n.parent
		for i := 0; i < n.parentIdx; i++ {
			if useCur {
				pos += parent.childCur[i]
			} else {
				pos += parent.childEnd[i]
			}
		}
		n = parent
	}
	return pos
}

// NeighborLVs returns the LV immediately before and after cursor
// (NoOrigin if the cursor sits at the start/end of the document), used to
// derive a new item's origin_left/origin_right before it is placed.
func (t *Tree) NeighborLVs(cursor Cursor) (left, right causalgraph.LV) {
	left, right = NoOrigin, NoOrigin
	leaf := cursor.leaf
	idx := cursor.itemIdx

	if cursor.itemOffset > 0 && idx < len(leaf.items) {
		it := leaf.items[idx]
		return it.ID.Start + causalgraph.LV(cursor.itemOffset) - 1, it.ID.Start + causalgraph.LV(cursor.itemOffset)
	}
	if idx > 0 {
		left = leaf.items[idx-1].ID.End - 1
	} else if leaf.prev != nil && len(leaf.prev.items) > 0 {
		left = leaf.prev.items[len(leaf.prev.items)-1].ID.End - 1
	}
	if idx < len(leaf.items) {
		right = leaf.items[idx].ID.Start
	} else if leaf.next != nil && len(leaf.next.items) > 0 {
		right = leaf.next.items[0].ID.Start
	}
	return left, right
}

// Insert splices item at cursor, splitting the target item if the cursor
// lands mid-item, and splitting the leaf (propagating up the parent chain)
// on overflow. notify is invoked for every item whose leaf changes,
// including migrated items during a split (spec.md §4.3).
func (t *Tree) Insert(item Item, cursor Cursor, notify func(Item)) (Cursor, error) {
	leaf := cursor.leaf
	idx := cursor.itemIdx

	if cursor.itemOffset > 0 && idx < len(leaf.items) {
		left, right := leaf.items[idx].split(cursor.itemOffset)
		leaf.items[idx] = left
		leaf.items = append(leaf.items, Item{})
		copy(leaf.items[idx+2:], leaf.items[idx+1:])
		leaf.items[idx+1] = right
		t.index.Put(left.ID, leaf)
		t.index.Put(right.ID, leaf)
		idx++
	}

	leaf.items = append(leaf.items, Item{})
	copy(leaf.items[idx+1:], leaf.items[idx:])
	leaf.items[idx] = item
	t.index.Put(item.ID, leaf)
	if notify != nil {
		notify(item)
	}

	t.refreshAncestors(leaf)

	if len(leaf.items) > maxLeafItems {
		t.splitLeaf(leaf, notify)
	}

	return Cursor{leaf: leaf, itemIdx: idx}, nil
}

// MutateEntry applies f to each item covering length content units
// starting at cursor, splitting items at the boundary as needed, and
// refreshes cached metrics afterward.
func (t *Tree) MutateEntry(cursor Cursor, length int, f func(*Item)) error {
	leaf := cursor.leaf
	idx := cursor.itemIdx
	offset := cursor.itemOffset
	remaining := length

	for remaining > 0 {
		if idx >= len(leaf.items) {
			if leaf.next == nil {
				return errors.New("rangetree: MutateEntry: ran past the end of the tree")
			}
			leaf = leaf.next
			idx = 0
			offset = 0
			continue
		}
		it := leaf.items[idx]
		avail := it.Len() - offset
		if avail <= 0 {
			idx++
			offset = 0
			continue
		}
		take := avail
		if take > remaining {
			take = remaining
		}
		if offset > 0 || take < avail {
			// Split so the mutated sub-range [offset, offset+take) is
			// isolated as its own item, leaving untouched items on either
			// side.
			var left, mid, right Item
			haveLeft, haveRight := offset > 0, take < avail
			rest := it
			if haveLeft {
				left, rest = rest.split(offset)
			}
			if haveRight {
				mid, right = rest.split(take)
			} else {
				mid = rest
			}

			origIdx := idx
			rebuilt := make([]Item, 0, len(leaf.items)+2)
			rebuilt = append(rebuilt, leaf.items[:origIdx]...)
			if haveLeft {
				rebuilt = append(rebuilt, left)
				idx++
			}
			rebuilt = append(rebuilt, mid)
			if haveRight {
				rebuilt = append(rebuilt, right)
			}
			rebuilt = append(rebuilt, leaf.items[origIdx+1:]...)
			leaf.items = rebuilt
			for _, part := range leaf.items {
				t.index.Put(part.ID, leaf)
			}
		}
		f(&leaf.items[idx])
		t.index.Put(leaf.items[idx].ID, leaf)
		remaining -= take
		idx++
		offset = 0
	}
	t.refreshAncestors(leaf)
	return nil
}

// refreshAncestors recomputes cached metrics from leaf up to the root,
// stopping early once a level's totals stop changing (spec.md §4.3, "one
// flush at end of operation").
func (t *Tree) refreshAncestors(leaf *node) {
	n := leaf
	for n.parent != nil {
		parent := n.parent
		oldCur, oldEnd := parent.childCur[n.parentIdx], parent.childEnd[n.parentIdx]
		parent.refreshChild(n.parentIdx)
		if parent.childCur[n.parentIdx] == oldCur && parent.childEnd[n.parentIdx] == oldEnd {
			return
		}
		n = parent
	}
}

// splitLeaf splits an overflowing leaf at its midpoint, links the new leaf
// into the sibling list, fires notify for every migrated item, and grows
// the tree's height if the root itself needed to split.
func (t *Tree) splitLeaf(leaf *node, notify func(Item)) {
	mid := len(leaf.items) / 2
	right := newLeaf()
	right.items = append([]Item(nil), leaf.items[mid:]...)
	leaf.items = leaf.items[:mid]

	right.next = leaf.next
	if right.next != nil {
		right.next.prev = right
	}
	right.prev = leaf
	leaf.next = right

	for _, it := range right.items {
		t.index.Put(it.ID, right)
		if notify != nil {
			notify(it)
		}
	}

	t.insertSibling(leaf, right)
}

// insertSibling inserts newNode immediately after existing in the parent
// chain, splitting internal nodes up to the root as needed.
func (t *Tree) insertSibling(existing, newNode *node) {
	parent := existing.parent
	if parent == nil {
		newRoot := &node{}
		newRoot.appendChild(existing)
		newRoot.appendChild(newNode)
		t.root = newRoot
		return
	}
	parent.insertChildAt(existing.parentIdx+1, newNode)
	parent.refreshChild(existing.parentIdx)
	t.refreshAncestors(existing)

	if len(parent.children) > maxInternalChildren {
		t.splitInternal(parent)
	}
}

// splitInternal splits an overflowing internal node at its midpoint.
func (t *Tree) splitInternal(n *node) {
	mid := len(n.children) / 2
	right := &node{}
	for _, c := range n.children[mid:] {
		right.appendChild(c)
	}
	n.children = n.children[:mid]
	n.childCur = n.childCur[:mid]
	n.childEnd = n.childEnd[:mid]

	t.insertSibling(n, right)
}
