// Package oplog implements the append-only operation log: text edits keyed
// by local version, RLE-coalesced per agent, with append-only content
// buffers. See spec.md §3 and §4.2.
package oplog

import (
	"github.com/dmndtyps/dt/causalgraph"
	"github.com/dmndtyps/dt/internal/rle"
)

// OpKind distinguishes an insert from a delete.
type OpKind int

const (
	OpInsert OpKind = iota
	OpDelete
)

func (k OpKind) String() string {
	if k == OpInsert {
		return "Ins"
	}
	return "Del"
}

// DTRange is a half-open range over document positions or byte offsets.
type DTRange struct {
	Start int
	End   int
}

// Len reports the size of the range.
func (r DTRange) Len() int { return r.End - r.Start }

// Operation is one text operation, positions naming the document state at
// the moment it was authored (spec.md §3). Document positions in this
// module are byte-addressed (a deliberate simplification over full
// grapheme/rune addressing; see DESIGN.md).
type Operation struct {
	Kind OpKind
	Span DTRange // document position range
	Fwd  bool    // forward run direction; false marks a backspace-style run
}

// Entry is one OpLog run: KV(LV-start, Operation), covering the LV range
// [LV, LV+Span.Len()) for the named Agent.
type Entry struct {
	LV    causalgraph.LV
	Agent causalgraph.AgentID
	Op    Operation
}

// Len reports the number of LVs this entry's run covers.
func (e Entry) Len() int { return e.Op.Span.Len() }

// CanAppend reports whether other continues this run: same agent, same
// operation kind, adjacent LV, and a position relationship that keeps the
// run a single forward scan or a single backspace chain (spec.md §4.2).
func (e Entry) CanAppend(other Entry) bool {
	if e.Agent != other.Agent || e.Op.Kind != other.Op.Kind {
		return false
	}
	if e.LV+causalgraph.LV(e.Len()) != other.LV {
		return false
	}
	switch e.Op.Kind {
	case OpInsert:
		return e.Op.Fwd && other.Op.Fwd && e.Op.Span.End == other.Op.Span.Start
	case OpDelete:
		if e.Op.Fwd && other.Op.Fwd {
			// A growing forward delete run: each subsequent delete continues
			// immediately after the last.
			return e.Op.Span.End == other.Op.Span.Start
		}
		if !e.Op.Fwd {
			// An established backspace run: every subsequent single-char
			// delete reports the same position (spec.md §4.2).
			return other.Op.Span.Start == e.Op.Span.Start && other.Len() == 1
		}
		// A lone forward delete transitioning into a backspace run: the next
		// delete reports the SAME start position rather than continuing
		// forward (spec.md §4.2's "backspace" case).
		return e.Len() == 1 && other.Len() == 1 && other.Op.Span.Start == e.Op.Span.Start
	}
	return false
}

// Append merges a continuation run onto e.
func (e Entry) Append(other Entry) Entry {
	switch e.Op.Kind {
	case OpInsert:
		e.Op.Span.End = other.Op.Span.End
	case OpDelete:
		if e.Op.Fwd && other.Op.Fwd {
			e.Op.Span.End = other.Op.Span.End
		} else {
			// Entering or continuing a backspace run: the anchor position
			// never moves, only the accumulated length grows.
			e.Op.Fwd = false
			e.Op.Span.End += other.Len()
		}
	}
	return e
}

// Truncate returns the first n LVs of e.
func (e Entry) Truncate(n int) Entry {
	switch e.Op.Kind {
	case OpInsert:
		e.Op.Span.End = e.Op.Span.Start + n
	case OpDelete:
		if e.Op.Fwd {
			e.Op.Span.End = e.Op.Span.Start + n
		} else {
			e.Op.Span.End = e.Op.Span.Start + n
		}
	}
	return e
}

var _ rle.Run[Entry] = Entry{}

// OpLog is the append-only sequence of text operations, tied to a causal
// graph. See spec.md §4.2.
type OpLog struct {
	CG         *causalgraph.CausalGraph
	Entries    []Entry // RLE-coalesced, sorted by LV, appended only at the end.
	InsContent ContentStore
	DelContent ContentStore
}

// New creates an empty OpLog with its own fresh causal graph.
func New() *OpLog {
	return &OpLog{CG: causalgraph.New()}
}
