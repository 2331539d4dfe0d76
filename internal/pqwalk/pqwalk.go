// Package pqwalk implements the one shared "backward-walking priority queue"
// pattern used throughout the causal graph: a max-heap walk over a DAG of
// densely-numbered nodes (local versions), merging tags whenever two paths
// reach the same node, used by ancestry checks, dominator search, version
// summaries and diff. See spec.md Design Notes, "Backward-walking priority queues".
package pqwalk

import "container/heap"

// Tag is an opaque bitmask the caller uses to mark why a node was visited
// (e.g. "reachable from A", "reachable from B", their union "Shared").
type Tag uint8

// ParentsFunc returns the DAG parents of v. Per the causal graph invariant,
// every element of the returned slice must be strictly less than v.
type ParentsFunc[V ~int] func(v V) []V

// VisitFunc is called exactly once per distinct node, in descending order,
// with the union of every tag that reached it. It returns the tag to
// propagate to v's parents (zero to stop propagating past v) and whether the
// whole walk should terminate immediately.
type VisitFunc[V ~int] func(v V, tag Tag) (propagate Tag, stop bool)

type maxHeap[V ~int] []V

func (h maxHeap[V]) Len() int            { return len(h) }
func (h maxHeap[V]) Less(i, j int) bool  { return h[i] > h[j] }
func (h maxHeap[V]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap[V]) Push(x interface{}) { *h = append(*h, x.(V)) }
func (h *maxHeap[V]) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Walk runs the shared backward walk starting from seeds (node -> initial
// tag). Nodes are visited in strictly descending order; visiting a node is
// deferred until every push that could still target it (from a still-unpopped
// larger node) has landed, so the tag passed to visit is always complete.
func Walk[V ~int](seeds map[V]Tag, parentsOf ParentsFunc[V], visit VisitFunc[V]) {
	pending := make(map[V]Tag, len(seeds))
	h := &maxHeap[V]{}
	heap.Init(h)

	push := func(v V, tag Tag) {
		if _, ok := pending[v]; !ok {
			heap.Push(h, v)
		}
		pending[v] |= tag
	}

	for v, tag := range seeds {
		push(v, tag)
	}

	for h.Len() > 0 {
		v := heap.Pop(h).(V)
		tag := pending[v]
		delete(pending, v)

		propagate, stop := visit(v, tag)
		if stop {
			return
		}
		if propagate == 0 {
			continue
		}
		for _, p := range parentsOf(v) {
			push(p, propagate)
		}
	}
}
