package mergeengine

import (
	"github.com/pkg/errors"

	"github.com/dmndtyps/dt/causalgraph"
	"github.com/dmndtyps/dt/rangetree"
)

// deleteEffect remembers which item a delete op at LV marked Deleted, so a
// later retreat can tell whether that deletion is a causal ancestor of the
// op being integrated and, if not, temporarily undo it.
type deleteEffect struct {
	LV     causalgraph.LV
	Target causalgraph.LVRange
}

// Tracker is the M1 tracker: it owns the range tree being built and, via
// retreatNonAncestors and restore, temporarily undoes and re-applies
// effects to expose exactly the document view a given op's author would
// have seen (spec.md §4.4, §9 "Underwater item").
type Tracker struct {
	Tree *rangetree.Tree
	// active names the insert items currently visible (Inserted or
	// Deleted, as opposed to retreated back to NotInsertedYet), keyed by
	// the LV that authored the insert.
	active []causalgraph.LVRange
	// deletes names every delete effect currently applied, keyed by the LV
	// that authored the delete.
	deletes []deleteEffect
}

// NewTracker creates a tracker over a fresh, empty range tree.
func NewTracker() *Tracker {
	return &Tracker{Tree: rangetree.New()}
}

// Advance marks every item in lvRange Deleted, bumping DeletedTimes for
// concurrent observations of the same deletion.
func (tr *Tracker) Advance(lvRange causalgraph.LVRange) error {
	cur, err := tr.Tree.CursorBeforeLV(lvRange.Start)
	if err != nil {
		return errors.Wrap(err, "mergeengine: Advance")
	}
	return tr.Tree.MutateEntry(cur, lvRange.Len(), func(it *rangetree.Item) {
		it.DeletedTimes++
		it.EverDeleted = true
		it.State = rangetree.Deleted
	})
}

// Retreat undoes a previous Advance over lvRange.
func (tr *Tracker) Retreat(lvRange causalgraph.LVRange) error {
	cur, err := tr.Tree.CursorBeforeLV(lvRange.Start)
	if err != nil {
		return errors.Wrap(err, "mergeengine: Retreat")
	}
	return tr.Tree.MutateEntry(cur, lvRange.Len(), func(it *rangetree.Item) {
		it.DeletedTimes--
		if it.DeletedTimes <= 0 {
			it.DeletedTimes = 0
			it.State = rangetree.Inserted
		}
	})
}

// retreatNonAncestors temporarily undoes every currently-active effect
// (an insert or a delete) that is not a causal ancestor of parents,
// returning what it undid so the caller can restore it afterward. This
// reconstructs the exact document view the author of an op parented on
// `parents` would have seen — inserts they hadn't received yet go back to
// NotInsertedYet, and deletes they hadn't received yet are undeleted.
func (tr *Tracker) retreatNonAncestors(cg *causalgraph.CausalGraph, parents causalgraph.Frontier) (retreatedInserts []causalgraph.LVRange, retreatedDeletes []deleteEffect, err error) {
	var stillActive []causalgraph.LVRange
	for _, r := range tr.active {
		ok, ferr := causalgraph.FrontierContains(cg, parents, r.Start)
		if ferr != nil {
			return nil, nil, errors.Wrap(ferr, "mergeengine: retreatNonAncestors: inserts")
		}
		if ok {
			stillActive = append(stillActive, r)
			continue
		}
		cur, cerr := tr.Tree.CursorBeforeLV(r.Start)
		if cerr != nil {
			return nil, nil, errors.Wrap(cerr, "mergeengine: retreatNonAncestors: locating insert")
		}
		if merr := tr.Tree.MutateEntry(cur, r.Len(), func(it *rangetree.Item) {
			it.State = rangetree.NotInsertedYet
		}); merr != nil {
			return nil, nil, merr
		}
		retreatedInserts = append(retreatedInserts, r)
	}
	tr.active = stillActive

	var stillDeleted []deleteEffect
	for _, d := range tr.deletes {
		ok, ferr := causalgraph.FrontierContains(cg, parents, d.LV)
		if ferr != nil {
			return nil, nil, errors.Wrap(ferr, "mergeengine: retreatNonAncestors: deletes")
		}
		if ok {
			stillDeleted = append(stillDeleted, d)
			continue
		}
		cur, cerr := tr.Tree.CursorBeforeLV(d.Target.Start)
		if cerr != nil {
			return nil, nil, errors.Wrap(cerr, "mergeengine: retreatNonAncestors: locating delete target")
		}
		if merr := tr.Tree.MutateEntry(cur, d.Target.Len(), func(it *rangetree.Item) {
			it.DeletedTimes--
			if it.DeletedTimes <= 0 {
				it.DeletedTimes = 0
				it.State = rangetree.Inserted
			}
		}); merr != nil {
			return nil, nil, merr
		}
		retreatedDeletes = append(retreatedDeletes, d)
	}
	tr.deletes = stillDeleted

	return retreatedInserts, retreatedDeletes, nil
}

// restore reverses retreatNonAncestors, re-applying every undone effect.
func (tr *Tracker) restore(retreatedInserts []causalgraph.LVRange, retreatedDeletes []deleteEffect) error {
	for _, r := range retreatedInserts {
		cur, err := tr.Tree.CursorBeforeLV(r.Start)
		if err != nil {
			return errors.Wrap(err, "mergeengine: restore: inserts")
		}
		if err := tr.Tree.MutateEntry(cur, r.Len(), func(it *rangetree.Item) {
			it.State = rangetree.Inserted
		}); err != nil {
			return err
		}
		tr.active = append(tr.active, r)
	}
	for _, d := range retreatedDeletes {
		cur, err := tr.Tree.CursorBeforeLV(d.Target.Start)
		if err != nil {
			return errors.Wrap(err, "mergeengine: restore: deletes")
		}
		if err := tr.Tree.MutateEntry(cur, d.Target.Len(), func(it *rangetree.Item) {
			it.DeletedTimes++
			it.EverDeleted = true
			it.State = rangetree.Deleted
		}); err != nil {
			return err
		}
		tr.deletes = append(tr.deletes, d)
	}
	return nil
}
