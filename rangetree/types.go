// Package rangetree implements the range/content tree: an augmented
// order-statistic tree mapping document position to CRDT item, carrying two
// independent length metrics ("cur", the live rope length, and "end", the
// total count of items ever inserted). See spec.md §3 and §4.3.
package rangetree

import "github.com/dmndtyps/dt/causalgraph"

// ItemState is the lifecycle state of a CRDT item.
type ItemState int

const (
	NotInsertedYet ItemState = iota
	Inserted
	Deleted
)

// NoOrigin marks an absent origin_left/origin_right (start/end of document).
const NoOrigin causalgraph.LV = -1

// Item is one CRDT range-tree element: a contiguous run of LVs sharing an
// insertion context (spec.md §3, "CRDT item").
type Item struct {
	ID           causalgraph.LVRange
	OriginLeft   causalgraph.LV // NoOrigin if this item starts the document
	OriginRight  causalgraph.LV // NoOrigin if this item runs to the document's end
	State        ItemState
	DeletedTimes int // number of concurrent deletions observed (Deleted×N)
	EverDeleted  bool
}

// Len reports how many LVs this item covers.
func (it Item) Len() int { return it.ID.Len() }

// CurLen is this item's contribution to the tree's "current" (live rope)
// length metric.
func (it Item) CurLen() int {
	if it.State == Inserted {
		return it.Len()
	}
	return 0
}

// EndLen is this item's contribution to the tree's "end" (total ever
// inserted) length metric.
func (it Item) EndLen() int {
	if it.State != NotInsertedYet {
		return it.Len()
	}
	return 0
}

// split divides it into two items at offset, both sharing State/EverDeleted/
// DeletedTimes; the left half keeps OriginLeft, the right half keeps
// OriginRight, and they become each other's adjacent origin.
func (it Item) split(offset int) (left, right Item) {
	mid := it.ID.Start + causalgraph.LV(offset)
	left = it
	left.ID.End = mid
	left.OriginRight = it.ID.Start + causalgraph.LV(offset)

	right = it
	right.ID.Start = mid
	right.OriginLeft = mid - 1
	return left, right
}

// Cursor names a position inside the tree: the leaf holding it, the index
// of the item within that leaf, and an offset within that item.
type Cursor struct {
	leaf      *node
	itemIdx   int
	itemOffset int
}
