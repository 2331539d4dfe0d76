// Package rle holds the generic run-length-encoding capability shared by
// every RLE table in the module (causal graph entries, agent-assignment
// runs, operation-log entries, content-buffer runs).
package rle

// Run is the capability set a value must implement to live inside a
// generic RLE table: it must know its own length and be able to decide
// whether it can be coalesced with a following run of the same type,
// append that run, or be truncated to a shorter length.
type Run[T any] interface {
	// Len reports how many underlying units (LVs, bytes, seqs) this run covers.
	Len() int
	// CanAppend reports whether other can be merged onto the end of this run.
	CanAppend(other T) bool
	// Append merges other onto the end of this run, returning the merged run.
	Append(other T) T
	// Truncate returns the prefix of this run covering the first n units.
	Truncate(n int) T
}

// List is a generic append-biased RLE run list: pushing a new run attempts
// to coalesce it with the last stored run before appending a fresh entry.
type List[T Run[T]] struct {
	Runs []T
}

// Push appends run to the list, merging with the last run if possible.
func (l *List[T]) Push(run T) {
	if run.Len() == 0 {
		return
	}
	if n := len(l.Runs); n > 0 && l.Runs[n-1].CanAppend(run) {
		l.Runs[n-1] = l.Runs[n-1].Append(run)
		return
	}
	l.Runs = append(l.Runs, run)
}

// Last returns the last run in the list and true, or the zero value and
// false if the list is empty.
func (l *List[T]) Last() (T, bool) {
	var zero T
	if len(l.Runs) == 0 {
		return zero, false
	}
	return l.Runs[len(l.Runs)-1], true
}

// Len returns the total number of units covered by all runs.
func (l *List[T]) Len() int {
	total := 0
	for _, r := range l.Runs {
		total += r.Len()
	}
	return total
}
