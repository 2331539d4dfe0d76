package causalgraph

import (
	"sort"

	"github.com/pkg/errors"
)

// spanFilter answers "is v covered by one of these sorted, non-overlapping
// LVRanges" in O(log n).
type spanFilter []LVRange

func (f spanFilter) includes(v LV) bool {
	idx := sort.Search(len(f), func(i int) bool { return f[i].End > v })
	return idx < len(f) && f[idx].Start <= v
}

// nearestIncludedAncestors walks up from v until it finds LVs covered by
// filter, returning their dominator-reduced set. Memoized since the same
// excluded ancestor is commonly reached from many descendants.
func nearestIncludedAncestors(cg *CausalGraph, filter spanFilter, v LV, memo map[LV][]LV) ([]LV, error) {
	if v < 0 {
		return nil, nil
	}
	if cached, ok := memo[v]; ok {
		return cached, nil
	}
	if filter.includes(v) {
		memo[v] = []LV{v}
		return memo[v], nil
	}
	parents, err := ParentsOf(cg, v)
	if err != nil {
		return nil, err
	}
	var acc []LV
	for _, p := range parents {
		sub, err := nearestIncludedAncestors(cg, filter, p, memo)
		if err != nil {
			return nil, err
		}
		acc = append(acc, sub...)
	}
	acc = sortLVsAndDedup(acc)
	memo[v] = acc
	return acc, nil
}

// buildSubgraphMapping constructs the reduced graph and the old->new LV
// mapping shared by Subgraph and ProjectOntoSubgraph.
func buildSubgraphMapping(cg *CausalGraph, filterSpans []LVRange) (*CausalGraph, map[LV]LV, error) {
	sorted := append([]LVRange(nil), filterSpans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	filter := spanFilter(sorted)

	reduced := New()
	oldToNew := make(map[LV]LV)
	memo := make(map[LV][]LV)

	for _, span := range sorted {
		v := span.Start
		for v < span.End {
			entry, offset, found := findEntryContaining(cg, v)
			if !found {
				return nil, nil, errors.Errorf("causalgraph: Subgraph: LV %d not found", v)
			}
			// This contiguous sub-run ends at either span.End or the entry's end.
			runEnd := entry.VEnd
			if span.End < runEnd {
				runEnd = span.End
			}

			var oldParents []LV
			if offset == 0 {
				oldParents = entry.Parents
			} else {
				oldParents = []LV{v - 1}
			}
			var newParents []LV
			for _, p := range oldParents {
				anc, err := nearestIncludedAncestors(cg, filter, p, memo)
				if err != nil {
					return nil, nil, err
				}
				for _, a := range anc {
					if nv, ok := oldToNew[a]; ok {
						newParents = append(newParents, nv)
					}
				}
			}
			newParents = sortLVsAndDedup(newParents)

			length := int(runEnd - v)
			raw := RawVersion{Agent: entry.Agent, Seq: entry.Seq + int(v-entry.Version)}
			rawParents, err := rawParentsIn(reduced, newParents)
			if err != nil {
				return nil, nil, err
			}
			newEntry, err := AddRaw(reduced, raw, length, rawParents)
			if err != nil {
				return nil, nil, errors.Wrap(err, "causalgraph: Subgraph: building reduced entry")
			}
			for i := 0; i < length; i++ {
				oldToNew[v+LV(i)] = newEntry.Version + LV(i)
			}
			v = runEnd
		}
	}
	return reduced, oldToNew, nil
}

func rawParentsIn(cg *CausalGraph, lvs []LV) ([]RawVersion, error) {
	if lvs == nil {
		return []RawVersion{}, nil
	}
	return LVToRawList(cg, lvs)
}

// Subgraph builds a reduced causal graph containing only the LVs inside
// filterSpans, with parent edges shortcut across removed regions (spec.md
// §4.1, subgraph), and projects frontier onto the reduced graph's LV space.
func Subgraph(cg *CausalGraph, filterSpans []LVRange, frontier Frontier) (*CausalGraph, Frontier, error) {
	reduced, oldToNew, err := buildSubgraphMapping(cg, filterSpans)
	if err != nil {
		return nil, nil, err
	}
	projected := make([]LV, 0, len(frontier))
	for _, v := range frontier {
		if nv, ok := oldToNew[v]; ok {
			projected = append(projected, nv)
		}
	}
	dom, err := FindDominators(reduced, projected)
	if err != nil {
		return nil, nil, errors.Wrap(err, "causalgraph: Subgraph: projecting frontier")
	}
	return reduced, dom, nil
}

// ProjectOntoSubgraph maps frontier (named in the full graph) onto the
// equivalent frontier in the filter-defined subgraph (spec.md §4.1,
// project_onto_subgraph).
func ProjectOntoSubgraph(cg *CausalGraph, filterSpans []LVRange, frontier Frontier) (Frontier, error) {
	_, projected, err := Subgraph(cg, filterSpans, frontier)
	return projected, err
}
