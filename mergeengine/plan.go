// Package mergeengine implements the M1 merge engine: plan generation,
// the item tracker, and the Fugue/YjsMod concurrent-insert integration
// step that walks operation-log entries against a range tree to produce a
// deterministic, convergent document. See spec.md §4.4.
package mergeengine

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/dmndtyps/dt/causalgraph"
)

// ActionKind names one step of a merge Plan.
type ActionKind int

const (
	ActionBeginOutput ActionKind = iota
	ActionFF
	ActionApply
	ActionClear
)

func (k ActionKind) String() string {
	switch k {
	case ActionBeginOutput:
		return "BeginOutput"
	case ActionFF:
		return "FF"
	case ActionApply:
		return "Apply"
	case ActionClear:
		return "Clear"
	default:
		return "Unknown"
	}
}

// Action is one step of a merge Plan.
type Action struct {
	Kind ActionKind
	Span causalgraph.LVRange
}

// Plan is the ordered sequence of actions the merge engine executes to
// walk from one frontier to another.
type Plan []Action

// GeneratePlan computes the LV ranges needed to advance from to the
// target frontier, classifying the whole diff as a fast-forward (FF) when
// it forms a single linear run parented exactly on from, or as a sequence
// of per-range Apply actions otherwise (spec.md §4.4).
func GeneratePlan(cg *causalgraph.CausalGraph, from, to causalgraph.Frontier) (Plan, error) {
	summary, err := causalgraph.SummarizeVersion(cg, from)
	if err != nil {
		return nil, errors.Wrap(err, "mergeengine: GeneratePlan: summarizing from")
	}
	diff, err := causalgraph.Diff(cg, to, summary)
	if err != nil {
		return nil, errors.Wrap(err, "mergeengine: GeneratePlan: diffing to from")
	}
	sort.Slice(diff, func(i, j int) bool { return diff[i].Start < diff[j].Start })

	plan := Plan{{Kind: ActionBeginOutput}}
	if len(diff) == 1 && onCriticalPath(cg, from, diff[0]) {
		plan = append(plan, Action{Kind: ActionFF, Span: diff[0]})
	} else {
		for _, r := range diff {
			plan = append(plan, Action{Kind: ActionApply, Span: r})
		}
	}
	plan = append(plan, Action{Kind: ActionClear})
	return plan, nil
}

// onCriticalPath reports whether r's first LV is parented exactly on
// from's dominator-reduced frontier and every later LV in r exactly on its
// predecessor, i.e. the whole diff is a single linear continuation with no
// concurrency to resolve.
func onCriticalPath(cg *causalgraph.CausalGraph, from causalgraph.Frontier, r causalgraph.LVRange) bool {
	parents, err := causalgraph.ParentsOf(cg, r.Start)
	if err != nil {
		return false
	}
	for v := r.Start + 1; v < r.End; v++ {
		p, err := causalgraph.ParentsOf(cg, v)
		if err != nil || len(p) != 1 || p[0] != v-1 {
			return false
		}
	}
	dominFrom, err := causalgraph.FindDominators(cg, from)
	if err != nil {
		return false
	}
	if len(parents) != len(dominFrom) {
		return false
	}
	seen := make(map[causalgraph.LV]bool, len(parents))
	for _, p := range parents {
		seen[p] = true
	}
	for _, p := range dominFrom {
		if !seen[p] {
			return false
		}
	}
	return true
}
