package oplog

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/dmndtyps/dt/causalgraph"
)

// PushInsert assigns a fresh LV range to an insert of content at pos,
// authored by agent with the given parent frontier, appends it to the log
// (coalescing into the previous run where possible), and records the
// content. Returns the assigned LV range.
func (o *OpLog) PushInsert(agent causalgraph.AgentID, parents causalgraph.Frontier, pos int, content []byte) (causalgraph.LVRange, error) {
	if len(content) == 0 {
		return causalgraph.LVRange{}, errors.New("oplog: PushInsert: empty content")
	}
	lvRange, err := causalgraph.AssignLocalOp(o.CG, parents, agent, len(content))
	if err != nil {
		return causalgraph.LVRange{}, errors.Wrap(err, "oplog: PushInsert")
	}
	entry := Entry{
		LV:    lvRange.Start,
		Agent: agent,
		Op: Operation{
			Kind: OpInsert,
			Span: DTRange{Start: pos, End: pos + len(content)},
			Fwd:  true,
		},
	}
	o.pushEntry(entry)
	o.InsContent.Append(lvRange, content)
	return lvRange, nil
}

// PushDelete assigns a fresh LV range to the deletion of length chars
// starting at pos, authored by agent; content may be nil if the deleted
// text is not being retained. A multi-unit delete removes the contiguous
// range [pos, pos+length) and is stored as a run whose every unit reports
// pos (each unit removes the next char once the previous one is gone), so
// fwd is kept only for a single-unit delete, where it selects how later
// single deletes coalesce with it: continuing forward from pos, or
// repeating at pos as a backspace run.
func (o *OpLog) PushDelete(agent causalgraph.AgentID, parents causalgraph.Frontier, pos, length int, fwd bool, content []byte) (causalgraph.LVRange, error) {
	if length <= 0 {
		return causalgraph.LVRange{}, errors.New("oplog: PushDelete: non-positive length")
	}
	lvRange, err := causalgraph.AssignLocalOp(o.CG, parents, agent, length)
	if err != nil {
		return causalgraph.LVRange{}, errors.Wrap(err, "oplog: PushDelete")
	}
	entry := Entry{
		LV:    lvRange.Start,
		Agent: agent,
		Op: Operation{
			Kind: OpDelete,
			Span: DTRange{Start: pos, End: pos + length},
			Fwd:  fwd && length == 1,
		},
	}
	o.pushEntry(entry)
	if content != nil {
		o.DelContent.Append(lvRange, content)
	} else {
		o.DelContent.AppendUnknown(lvRange)
	}
	return lvRange, nil
}

// pushEntry appends entry, coalescing it into the last stored Entry when
// CanAppend reports a contiguous run.
func (o *OpLog) pushEntry(entry Entry) {
	if n := len(o.Entries); n > 0 && o.Entries[n-1].CanAppend(entry) {
		o.Entries[n-1] = o.Entries[n-1].Append(entry)
		return
	}
	o.Entries = append(o.Entries, entry)
}

// entryContaining returns the Entry run holding lv, and lv's offset within
// that run's operation span.
func (o *OpLog) entryContaining(lv causalgraph.LV) (Entry, int, bool) {
	idx := sort.Search(len(o.Entries), func(i int) bool {
		return o.Entries[i].LV+causalgraph.LV(o.Entries[i].Len()) > lv
	})
	if idx >= len(o.Entries) || o.Entries[idx].LV > lv {
		return Entry{}, 0, false
	}
	return o.Entries[idx], int(lv - o.Entries[idx].LV), true
}

// OpAt returns the single-LV operation at lv, trimmed from its containing
// run, along with its content if retained.
func (o *OpLog) OpAt(lv causalgraph.LV) (Operation, []byte, bool) {
	entry, offset, found := o.entryContaining(lv)
	if !found {
		return Operation{}, nil, false
	}
	op := entry.Op
	switch op.Kind {
	case OpInsert:
		op.Span = DTRange{Start: op.Span.Start + offset, End: op.Span.Start + offset + 1}
	case OpDelete:
		if op.Fwd {
			op.Span = DTRange{Start: op.Span.Start + offset, End: op.Span.Start + offset + 1}
		} else {
			// Every unit of a backspace run reports the same anchor position.
			op.Span = DTRange{Start: op.Span.Start, End: op.Span.Start + 1}
		}
	}

	store := &o.InsContent
	if op.Kind == OpDelete {
		store = &o.DelContent
	}
	content, ok := store.Slice(causalgraph.LVRange{Start: lv, End: lv + 1})
	if !ok {
		content = nil
	}
	return op, content, true
}

// IterRange calls fn once per LV within r, in ascending order, stopping
// early if fn returns false.
func (o *OpLog) IterRange(r causalgraph.LVRange, fn func(lv causalgraph.LV, op Operation, content []byte) bool) error {
	if r.Start < 0 || r.End > o.CG.NextLV || r.Start > r.End {
		return errors.Errorf("oplog: IterRange: range %v out of bounds", r)
	}
	for lv := r.Start; lv < r.End; lv++ {
		op, content, ok := o.OpAt(lv)
		if !ok {
			return errors.Errorf("oplog: IterRange: LV %d not found", lv)
		}
		if !fn(lv, op, content) {
			break
		}
	}
	return nil
}

// Len reports the number of LVs recorded in the log.
func (o *OpLog) Len() int { return int(o.CG.NextLV) }
