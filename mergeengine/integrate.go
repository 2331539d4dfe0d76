package mergeengine

import (
	"github.com/pkg/errors"

	"github.com/dmndtyps/dt/causalgraph"
	"github.com/dmndtyps/dt/oplog"
	"github.com/dmndtyps/dt/rangetree"
)

// TransformedOp is one operation as it applies to the current document
// state: a concrete position in the live rope, ready to hand to a rope
// implementation.
type TransformedOp struct {
	LV               causalgraph.LV
	Kind             oplog.OpKind
	Pos              int
	Content          []byte
	AlreadyHappened  bool // delete target was already deleted (spec.md §4.4, DeleteAlreadyHappened)
}

// ApplyInsert integrates a single-LV insert from ol at lv into the tree,
// returning its transformed (live) position. It locates origin_left /
// origin_right from the document view restricted to lv's own causal
// parents, then runs the Fugue/YjsMod concurrent-insert tiebreak scan
// (spec.md §4.3's numbered list) to place the item among any concurrent
// siblings already integrated at the same spot.
func (tr *Tracker) ApplyInsert(cg *causalgraph.CausalGraph, ol *oplog.OpLog, lv causalgraph.LV) (TransformedOp, error) {
	op, content, ok := ol.OpAt(lv)
	if !ok {
		return TransformedOp{}, errors.Errorf("mergeengine: ApplyInsert: LV %d not found", lv)
	}
	parents, err := causalgraph.ParentsOf(cg, lv)
	if err != nil {
		return TransformedOp{}, errors.Wrap(err, "mergeengine: ApplyInsert")
	}

	retreatedInserts, retreatedDeletes, err := tr.retreatNonAncestors(cg, parents)
	if err != nil {
		return TransformedOp{}, err
	}
	defer func() { _ = tr.restore(retreatedInserts, retreatedDeletes) }()

	// origin_left is the visible unit just before the insert position in the
	// author's view; origin_right is the first item after it that the author
	// had already seen (any state but NotInsertedYet).
	originLeft, originRight := rangetree.NoOrigin, rangetree.NoOrigin
	if op.Span.Start > 0 {
		leftAt, err := tr.Tree.CursorAtContentPos(op.Span.Start-1, true)
		if err != nil {
			return TransformedOp{}, errors.Wrap(err, "mergeengine: ApplyInsert: locating origin_left")
		}
		_, originLeft = tr.Tree.NeighborLVs(leftAt)
	}
	rightAt, _ := tr.cursorForOriginLeft(originLeft) // a lookup failure resurfaces in scanForInsertionPoint
	for next, ok := tr.Tree.ItemAfter(rightAt); ok && originRight == rangetree.NoOrigin; next, ok = tr.Tree.ItemAfter(rightAt) {
		if next.State != rangetree.NotInsertedYet {
			originRight = next.ID.Start
		}
		rightAt = tr.Tree.AdvancePastItem(rightAt)
	}

	raw, _ := causalgraph.LVToRaw(cg, lv)
	item := rangetree.Item{
		ID:          causalgraph.LVRange{Start: lv, End: lv + 1},
		OriginLeft:  originLeft,
		OriginRight: originRight,
		State:       rangetree.Inserted,
	}

	placeAt, err := tr.scanForInsertionPoint(cg, item, raw)
	if err != nil {
		return TransformedOp{}, err
	}
	if _, err := tr.Tree.Insert(item, placeAt, nil); err != nil {
		return TransformedOp{}, errors.Wrap(err, "mergeengine: ApplyInsert: inserting item")
	}
	tr.active = append(tr.active, item.ID)

	// The reported position is in the live document: restore the retreated
	// effects (the deferred restore then has nothing left to do) before
	// measuring the new item's offset under the cur metric.
	restoreErr := tr.restore(retreatedInserts, retreatedDeletes)
	retreatedInserts, retreatedDeletes = nil, nil
	if restoreErr != nil {
		return TransformedOp{}, errors.Wrap(restoreErr, "mergeengine: ApplyInsert: restoring")
	}
	placed, err := tr.Tree.CursorBeforeLV(lv)
	if err != nil {
		return TransformedOp{}, errors.Wrap(err, "mergeengine: ApplyInsert: locating inserted item")
	}
	livePos := tr.Tree.PositionOf(placed, true)

	return TransformedOp{LV: lv, Kind: oplog.OpInsert, Pos: livePos, Content: content}, nil
}

// scanForInsertionPoint runs the Fugue/YjsMod concurrent-insert scan
// described in spec.md §4.3, returning the cursor item should be inserted
// at.
func (tr *Tracker) scanForInsertionPoint(cg *causalgraph.CausalGraph, item rangetree.Item, raw causalgraph.RawVersion) (rangetree.Cursor, error) {
	leftCursor, err := tr.cursorForOriginLeft(item.OriginLeft)
	if err != nil {
		return rangetree.Cursor{}, err
	}
	leftPos := tr.Tree.StructuralPosition(leftCursor)

	cursor := leftCursor
	scanCursor := leftCursor
	scanning := false

	for {
		next, ok := tr.Tree.ItemAfter(cursor)
		if !ok || next.ID.Start == item.OriginRight {
			break
		}

		otherLeftCursor, err := tr.cursorForOriginLeft(next.OriginLeft)
		if err != nil {
			return rangetree.Cursor{}, err
		}
		otherLeftPos := tr.Tree.StructuralPosition(otherLeftCursor)

		switch {
		case otherLeftPos < leftPos:
			goto done
		case otherLeftPos > leftPos:
			// Bottom row: keep scanning past this concurrent sibling.
		default:
			if item.OriginRight == next.OriginRight {
				otherRaw, _ := causalgraph.LVToRaw(cg, next.ID.Start)
				insHere := raw.Agent < otherRaw.Agent || (raw.Agent == otherRaw.Agent && raw.Seq < otherRaw.Seq)
				if insHere {
					goto done
				}
				scanning = false
			} else {
				myRightPos := tr.positionOfOriginRight(item.OriginRight)
				otherRightPos := tr.positionOfOriginRight(next.OriginRight)
				if otherRightPos < myRightPos {
					if !scanning {
						scanning = true
						scanCursor = cursor
					}
				} else {
					scanning = false
				}
			}
		}
		cursor = tr.Tree.AdvancePastItem(cursor)
	}
done:

	if scanning {
		return scanCursor, nil
	}
	return cursor, nil
}

func (tr *Tracker) cursorForOriginLeft(lv causalgraph.LV) (rangetree.Cursor, error) {
	if lv == rangetree.NoOrigin {
		return tr.Tree.Start(), nil
	}
	return tr.Tree.CursorAfterLV(lv)
}

// rightSentinel stands in for "end of document" when comparing an
// origin_right of NoOrigin against a concrete position: it must sort
// after every real structural position.
const rightSentinel = 1 << 30

func (tr *Tracker) positionOfOriginRight(lv causalgraph.LV) int {
	if lv == rangetree.NoOrigin {
		return rightSentinel
	}
	cur, err := tr.Tree.CursorBeforeLV(lv)
	if err != nil {
		return rightSentinel
	}
	return tr.Tree.StructuralPosition(cur)
}

// ApplyDelete integrates a single-LV delete from ol at lv, resolving its
// target by reconstructing the author's document view (the same
// retreat/restore technique ApplyInsert uses) and locating the position
// via the cur metric rather than a persisted target LV (see DESIGN.md for
// why this package resolves delete targets by position instead of by
// LV → leaf side-index lookup).
func (tr *Tracker) ApplyDelete(cg *causalgraph.CausalGraph, ol *oplog.OpLog, lv causalgraph.LV) (TransformedOp, error) {
	op, _, ok := ol.OpAt(lv)
	if !ok {
		return TransformedOp{}, errors.Errorf("mergeengine: ApplyDelete: LV %d not found", lv)
	}
	parents, err := causalgraph.ParentsOf(cg, lv)
	if err != nil {
		return TransformedOp{}, errors.Wrap(err, "mergeengine: ApplyDelete")
	}

	retreatedInserts, retreatedDeletes, err := tr.retreatNonAncestors(cg, parents)
	if err != nil {
		return TransformedOp{}, err
	}
	defer func() { _ = tr.restore(retreatedInserts, retreatedDeletes) }()

	cursor, err := tr.Tree.CursorAtContentPos(op.Span.Start, true)
	if err != nil {
		return TransformedOp{}, errors.Wrap(err, "mergeengine: ApplyDelete: locating cursor")
	}
	livePos := tr.Tree.PositionOf(cursor, true)

	var target causalgraph.LVRange
	alreadyHappened := false
	mutErr := tr.Tree.MutateEntry(cursor, 1, func(it *rangetree.Item) {
		target = it.ID
		if it.EverDeleted {
			alreadyHappened = true
			return
		}
		it.DeletedTimes++
		it.EverDeleted = true
		it.State = rangetree.Deleted
	})
	if mutErr != nil {
		return TransformedOp{}, errors.Wrap(mutErr, "mergeengine: ApplyDelete: marking deleted")
	}
	if !alreadyHappened {
		tr.deletes = append(tr.deletes, deleteEffect{LV: lv, Target: target})
	}

	return TransformedOp{LV: lv, Kind: oplog.OpDelete, Pos: livePos, AlreadyHappened: alreadyHappened}, nil
}
