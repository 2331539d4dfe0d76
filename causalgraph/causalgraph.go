package causalgraph

import (
	"fmt"
	"sort"

	"github.com/dmndtyps/dt/internal/pqwalk"
	"github.com/dmndtyps/dt/internal/rle"
	"github.com/pkg/errors"
)

// tag bits used with internal/pqwalk for the diff/dominator family of walks.
const (
	tagA pqwalk.Tag = 1 << iota
	tagB
)

const tagShared = tagA | tagB

// New creates and returns a new, empty CausalGraph.
func New() *CausalGraph {
	return &CausalGraph{
		AgentToVersion: make(map[AgentID][]ClientEntry),
	}
}

// sortLVsAndDedup sorts a slice of LVs and removes duplicates in place.
func sortLVsAndDedup(lvs []LV) []LV {
	if len(lvs) <= 1 {
		return lvs
	}
	sort.Slice(lvs, func(i, j int) bool { return lvs[i] < lvs[j] })
	j := 1
	for i := 1; i < len(lvs); i++ {
		if lvs[i] != lvs[i-1] {
			lvs[j] = lvs[i]
			j++
		}
	}
	return lvs[:j]
}

// findEntryContainingRaw finds the CGEntry containing (agent, seq) via a
// binary search over that agent's sparse ClientEntry runs.
func findEntryContainingRaw(cg *CausalGraph, agent AgentID, seq int) (*CGEntry, int, bool) {
	clientEntries, ok := cg.AgentToVersion[agent]
	if !ok {
		return nil, -1, false
	}
	idx := sort.Search(len(clientEntries), func(i int) bool {
		return clientEntries[i].SeqEnd > seq
	})
	if idx >= len(clientEntries) || clientEntries[idx].Seq > seq {
		return nil, -1, false
	}
	target := clientEntries[idx].Version + LV(seq-clientEntries[idx].Seq)
	return findEntryContaining(cg, target)
}

// findEntryContaining finds the CGEntry containing v via binary search over
// the sorted, RLE-coalesced Entries slice.
func findEntryContaining(cg *CausalGraph, v LV) (*CGEntry, int, bool) {
	if v < 0 || v >= cg.NextLV {
		return nil, -1, false
	}
	idx := sort.Search(len(cg.Entries), func(i int) bool {
		return cg.Entries[i].VEnd > v
	})
	if idx >= len(cg.Entries) || cg.Entries[idx].Version > v {
		return nil, -1, false
	}
	entry := &cg.Entries[idx]
	return entry, int(v - entry.Version), true
}

// ParentsOf returns the parents of lv: the entry's stored parents if lv is
// at the start of its entry, otherwise the single predecessor LV (spec.md
// §4.1, parents_of).
func ParentsOf(cg *CausalGraph, lv LV) (Frontier, error) {
	entry, offset, found := findEntryContaining(cg, lv)
	if !found {
		return nil, errors.Errorf("causalgraph: LV %d not found", lv)
	}
	if offset == 0 {
		return entry.Parents, nil
	}
	return Frontier{lv - 1}, nil
}

// LVToRaw converts an LV to its RawVersion.
func LVToRaw(cg *CausalGraph, v LV) (RawVersion, bool) {
	entry, offset, found := findEntryContaining(cg, v)
	if !found {
		return RawVersion{}, false
	}
	return RawVersion{Agent: entry.Agent, Seq: entry.Seq + offset}, true
}

// LVToAgentVersion is the spec-named alias of LVToRaw.
func LVToAgentVersion(cg *CausalGraph, v LV) (RawVersion, bool) { return LVToRaw(cg, v) }

// RawToLV converts a RawVersion to its LV, failing with InvalidRemoteID
// semantics (a plain error here; callers surface codec.InvalidRemoteID where
// that taxonomy applies) if unknown.
func RawToLV(cg *CausalGraph, agent AgentID, seq int) (LV, error) {
	entry, offset, found := findEntryContainingRaw(cg, agent, seq)
	if !found || entry == nil {
		return -1, errors.Errorf("causalgraph: raw version %s:%d not found", agent, seq)
	}
	return entry.Version + LV(offset), nil
}

// AgentVersionToLV is the spec-named alias of RawToLV.
func AgentVersionToLV(cg *CausalGraph, agent AgentID, seq int) (LV, error) {
	return RawToLV(cg, agent, seq)
}

// LVToRawList converts a list of LVs to RawVersions, failing if any is unknown.
func LVToRawList(cg *CausalGraph, lvs []LV) ([]RawVersion, error) {
	if len(lvs) == 0 {
		return nil, nil
	}
	raws := make([]RawVersion, len(lvs))
	for i, lv := range lvs {
		rv, found := LVToRaw(cg, lv)
		if !found {
			return nil, errors.Errorf("causalgraph: LV %d not found", lv)
		}
		raws[i] = rv
	}
	return raws, nil
}

// AddRaw adds a new version span [id.Seq, id.Seq+length) for id.Agent to the
// graph, parented on rawParents (or the current heads if rawParents is nil).
// Returns (nil, nil) if the span is already present (idempotent merge).
func AddRaw(cg *CausalGraph, id RawVersion, length int, rawParents []RawVersion) (*CGEntry, error) {
	if length <= 0 {
		return nil, errors.New("causalgraph: length must be positive")
	}
	if _, err := RawToLV(cg, id.Agent, id.Seq); err == nil {
		return nil, nil
	}

	var parentLVs []LV
	if rawParents == nil {
		parentLVs = append(parentLVs, cg.Heads...)
	} else {
		parentLVs = make([]LV, 0, len(rawParents))
		for _, rp := range rawParents {
			lv, err := RawToLV(cg, rp.Agent, rp.Seq)
			if err != nil {
				return nil, errors.Wrapf(err, "causalgraph: parent %s:%d not found", rp.Agent, rp.Seq)
			}
			parentLVs = append(parentLVs, lv)
		}
	}
	parentLVs = sortLVsAndDedup(parentLVs)

	startLV := cg.NextLV
	endLV := startLV + LV(length)

	newEntry := CGEntry{Agent: id.Agent, Seq: id.Seq, Version: startLV, VEnd: endLV, Parents: Frontier(parentLVs)}

	var runs rle.List[CGEntry]
	runs.Runs = cg.Entries
	runs.Push(newEntry)
	cg.Entries = runs.Runs

	cg.NextLV = endLV
	cg.Agents.IDFor(id.Agent)

	var clientRuns rle.List[ClientEntry]
	clientRuns.Runs = cg.AgentToVersion[id.Agent]
	clientRuns.Push(ClientEntry{Seq: id.Seq, SeqEnd: id.Seq + length, Version: startLV})
	cg.AgentToVersion[id.Agent] = clientRuns.Runs

	newHeads := make([]LV, 0, len(cg.Heads)+length)
	for _, h := range cg.Heads {
		isParent := false
		for _, p := range parentLVs {
			if h == p {
				isParent = true
				break
			}
		}
		if !isParent {
			newHeads = append(newHeads, h)
		}
	}
	// Within the run each LV is parented on the one before it, so only the
	// run's last LV is a head.
	newHeads = append(newHeads, endLV-1)
	cg.Heads = Frontier(sortLVsAndDedup(newHeads))

	entry, _, found := findEntryContaining(cg, startLV)
	if !found || entry.Agent != id.Agent {
		return nil, fmt.Errorf("causalgraph: internal error: added entry not found after insert (LV %d)", startLV)
	}
	return entry, nil
}

// AssignLocalOp is the spec-named entry point (spec.md §4.1): allocate len
// new LVs parented on parents (or the current heads if parents is nil),
// advancing agent's seq counter. Precondition: every parent LV already
// exists; this is the caller's duty to uphold (violating it is a programmer
// error and this call aborts without mutating state).
func AssignLocalOp(cg *CausalGraph, parents Frontier, agent AgentID, length int) (LVRange, error) {
	seq := NextSeqForAgent(cg, agent)
	var rawParents []RawVersion
	if parents != nil {
		var err error
		rawParents, err = LVToRawList(cg, parents)
		if err != nil {
			return LVRange{}, errors.Wrap(err, "causalgraph: AssignLocalOp")
		}
	}
	entry, err := AddRaw(cg, RawVersion{Agent: agent, Seq: seq}, length, rawParents)
	if err != nil {
		return LVRange{}, err
	}
	if entry == nil {
		return LVRange{}, errors.New("causalgraph: AssignLocalOp: duplicate op")
	}
	return LVRange{Start: entry.Version, End: entry.VEnd}, nil
}

// NextSeqForAgent returns the next sequence number for agent (0 if unseen).
func NextSeqForAgent(cg *CausalGraph, agent AgentID) int {
	entries, ok := cg.AgentToVersion[agent]
	if ok && len(entries) > 0 {
		return entries[len(entries)-1].SeqEnd
	}
	return 0
}

func parentsOfOrPanic(cg *CausalGraph, v LV) []LV {
	p, err := ParentsOf(cg, v)
	if err != nil {
		// Every LV reachable during a walk over stored entries is valid by
		// construction; a failure here means the graph itself is corrupt.
		panic(err)
	}
	return p
}

// FrontierContains reports whether targetLV is an ancestor of (or equal to)
// any element of frontier (spec.md §4.1, frontier_contains).
func FrontierContains(cg *CausalGraph, frontier []LV, targetLV LV) (bool, error) {
	if targetLV < 0 || targetLV >= cg.NextLV {
		return false, errors.Errorf("causalgraph: target LV %d out of bounds", targetLV)
	}
	for _, fv := range frontier {
		if fv == targetLV {
			return true, nil
		}
	}
	if len(frontier) == 0 {
		return false, nil
	}

	found := false
	seeds := make(map[LV]pqwalk.Tag, len(frontier))
	for _, fv := range frontier {
		if fv < 0 || fv >= cg.NextLV {
			return false, errors.Errorf("causalgraph: frontier LV %d out of bounds", fv)
		}
		seeds[fv] = 1
	}
	pqwalk.Walk(seeds, func(v LV) []LV { return parentsOfOrPanic(cg, v) },
		func(v LV, _ pqwalk.Tag) (pqwalk.Tag, bool) {
			if v == targetLV {
				found = true
				return 0, true
			}
			return 1, false
		})
	return found, nil
}

// VersionContainsLV is the teacher-named alias of FrontierContains, kept for
// call sites ported directly from the teacher's egwalker package.
func VersionContainsLV(cg *CausalGraph, frontier []LV, targetLV LV) (bool, error) {
	return FrontierContains(cg, frontier, targetLV)
}

// FindDominators removes every element of versions that is an ancestor of
// another element, returning the survivors in dominator form (spec.md
// §4.1, find_dominators).
func FindDominators(cg *CausalGraph, versions []LV) (Frontier, error) {
	uniq := sortLVsAndDedup(append([]LV(nil), versions...))
	if len(uniq) <= 1 {
		for _, v := range uniq {
			if v < 0 || v >= cg.NextLV {
				return nil, errors.Errorf("causalgraph: version %d not found", v)
			}
		}
		return Frontier(uniq), nil
	}

	if len(uniq) > unsafeTagBits {
		return findDominatorsSlow(cg, uniq)
	}

	reachedBy := make(map[LV]pqwalk.Tag, len(uniq)*2)
	seeds := make(map[LV]pqwalk.Tag, len(uniq))
	for i, v := range uniq {
		if v < 0 || v >= cg.NextLV {
			return nil, errors.Errorf("causalgraph: version %d not found", v)
		}
		seeds[v] = 1 << uint(i)
	}
	pqwalk.Walk(seeds, func(v LV) []LV { return parentsOfOrPanic(cg, v) },
		func(v LV, tag pqwalk.Tag) (pqwalk.Tag, bool) {
			reachedBy[v] |= tag
			return tag, false
		})

	dominators := make([]LV, 0, len(uniq))
	for i, v := range uniq {
		bit := pqwalk.Tag(1 << uint(i))
		if reachedBy[v]&^bit == 0 {
			// No other seed's ancestry reaches v except possibly v's own seed bit.
			dominators = append(dominators, v)
		}
	}
	return Frontier(sortLVsAndDedup(dominators)), nil
}

const unsafeTagBits = 8 // pqwalk.Tag is a uint8 bitmask.

// findDominatorsSlow handles the (rare) case of more concurrent seeds than
// fit in the bitmask walk, falling back to pairwise ancestry checks.
func findDominatorsSlow(cg *CausalGraph, uniq []LV) (Frontier, error) {
	dominators := make([]LV, 0, len(uniq))
	for _, v := range uniq {
		if v < 0 || v >= cg.NextLV {
			return nil, errors.Errorf("causalgraph: version %d not found", v)
		}
	}
	for _, ca := range uniq {
		isAncestor := false
		for _, other := range uniq {
			if ca == other {
				continue
			}
			ok, err := FrontierContains(cg, []LV{other}, ca)
			if err != nil {
				return nil, err
			}
			if ok {
				isAncestor = true
				break
			}
		}
		if !isAncestor {
			dominators = append(dominators, ca)
		}
	}
	return Frontier(sortLVsAndDedup(dominators)), nil
}

// SummarizeVersion builds a VersionSummary covering the full history of frontier.
func SummarizeVersion(cg *CausalGraph, frontier []LV) (VersionSummary, error) {
	summary := make(VersionSummary)
	if len(frontier) == 0 {
		return summary, nil
	}
	seeds := make(map[LV]pqwalk.Tag, len(frontier))
	for _, fv := range frontier {
		if fv < 0 || fv >= cg.NextLV {
			return nil, errors.Errorf("causalgraph: frontier LV %d out of bounds", fv)
		}
		seeds[fv] = 1
	}
	agentSeqs := make(map[AgentID][]int)
	pqwalk.Walk(seeds, func(v LV) []LV { return parentsOfOrPanic(cg, v) },
		func(v LV, _ pqwalk.Tag) (pqwalk.Tag, bool) {
			raw, _ := LVToRaw(cg, v)
			agentSeqs[raw.Agent] = append(agentSeqs[raw.Agent], raw.Seq)
			return 1, false
		})
	for agent, seqs := range agentSeqs {
		sort.Ints(seqs)
		ranges := make([][2]int, 0, len(seqs))
		for _, s := range seqs {
			ranges = append(ranges, [2]int{s, s + 1})
		}
		summary[agent] = ranges
	}
	return summary, nil
}

func seqCoveredBy(to VersionSummary, agent AgentID, seq int) bool {
	ranges, ok := to[agent]
	if !ok {
		return false
	}
	for _, r := range ranges {
		if seq >= r[0] && seq < r[1] {
			return true
		}
	}
	return false
}

// Diff returns the RLE-compacted LV spans reachable from `from` but not
// covered by the summary `to` (spec.md §4.1, diff — the one-sided variant
// used when the caller already has a VersionSummary for one side; see
// FindConflicting for the two-frontier form).
func Diff(cg *CausalGraph, from []LV, to VersionSummary) ([]LVRange, error) {
	result := []LVRange{}
	seeds := make(map[LV]pqwalk.Tag, len(from))
	for _, v := range from {
		seeds[v] = 1
	}

	var walkErr error
	processedEntries := make(map[LV]struct{})
	pqwalk.Walk(seeds, func(v LV) []LV { return parentsOfOrPanic(cg, v) },
		func(v LV, _ pqwalk.Tag) (pqwalk.Tag, bool) {
			entry, _, found := findEntryContaining(cg, v)
			if !found {
				walkErr = errors.Errorf("causalgraph: LV %d not found during Diff", v)
				return 0, true
			}
			// Two seeds landing in the same entry (e.g. its first and an
			// interior LV) must not re-walk it: skip and don't re-propagate,
			// the first visit already pushed this entry's parents.
			if _, seen := processedEntries[entry.Version]; seen {
				return 0, false
			}
			processedEntries[entry.Version] = struct{}{}

			runStart := LV(-1)
			for lv := entry.Version; lv < entry.VEnd; lv++ {
				seq := entry.Seq + int(lv-entry.Version)
				if seqCoveredBy(to, entry.Agent, seq) {
					if runStart != -1 {
						result = append(result, LVRange{Start: runStart, End: lv})
						runStart = -1
					}
				} else if runStart == -1 {
					runStart = lv
				}
			}
			if runStart != -1 {
				result = append(result, LVRange{Start: runStart, End: entry.VEnd})
			}
			return 1, false
		})
	if walkErr != nil {
		return nil, walkErr
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Start < result[j].Start })
	return mergeLVRanges(result), nil
}

func mergeLVRanges(ranges []LVRange) []LVRange {
	if len(ranges) == 0 {
		return ranges
	}
	merged := []LVRange{ranges[0]}
	for i := 1; i < len(ranges); i++ {
		last := &merged[len(merged)-1]
		cur := ranges[i]
		if cur.Start <= last.End {
			if cur.End > last.End {
				last.End = cur.End
			}
		} else {
			merged = append(merged, cur)
		}
	}
	return merged
}

// FindConflicting returns the LV spans in versions that are not covered by
// the history of commonAncestors (spec.md §4.1, find_conflicting).
func FindConflicting(cg *CausalGraph, versions []LV, commonAncestors []LV) ([]LVRange, error) {
	summary, err := SummarizeVersion(cg, commonAncestors)
	if err != nil {
		return nil, errors.Wrap(err, "causalgraph: FindConflicting")
	}
	return Diff(cg, versions, summary)
}

// Relation describes how two versions relate in the DAG.
type Relation string

const (
	RelationEqual      Relation = "eq"
	RelationAncestor   Relation = "ancestor"
	RelationDescendant Relation = "descendant"
	RelationConcurrent Relation = "concurrent"
)

// CompareVersions determines the relationship between a and b.
func CompareVersions(cg *CausalGraph, a, b LV) (Relation, error) {
	if a == b {
		return RelationEqual, nil
	}
	aIsAncestor, err := FrontierContains(cg, []LV{b}, a)
	if err != nil {
		return "", err
	}
	if aIsAncestor {
		return RelationAncestor, nil
	}
	bIsAncestor, err := FrontierContains(cg, []LV{a}, b)
	if err != nil {
		return "", err
	}
	if bIsAncestor {
		return RelationDescendant, nil
	}
	return RelationConcurrent, nil
}

// IterVersionsBetween walks LVs in (from, to], innermost-parent-first, deepest
// first, calling fn once per LV with whether it's the immediate predecessor
// of the previously-visited node and whether its entry is a merge point.
func IterVersionsBetween(cg *CausalGraph, from []LV, to LV,
	fn func(v LV, isParentOfPrev bool, isMerge bool) (stop bool, err error)) error {
	for _, fv := range from {
		if fv == to {
			return nil
		}
		isToAncestor, err := FrontierContains(cg, []LV{fv}, to)
		if err != nil {
			return err
		}
		if isToAncestor {
			return nil
		}
	}

	type queued struct {
		v              LV
		isParentOfPrev bool
	}
	visited := make(map[LV]struct{}, len(from)+1)
	for _, fv := range from {
		visited[fv] = struct{}{}
	}
	stack := []queued{{v: to, isParentOfPrev: false}}

	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[item.v]; ok {
			continue
		}
		entry, offset, found := findEntryContaining(cg, item.v)
		if !found {
			return errors.Errorf("causalgraph: IterVersionsBetween: LV %d not found", item.v)
		}
		isMerge := offset == 0 && len(entry.Parents) > 1
		stop, err := fn(item.v, item.isParentOfPrev, isMerge)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
		visited[item.v] = struct{}{}

		var parents []LV
		if offset == 0 {
			parents = entry.Parents
		} else {
			parents = []LV{item.v - 1}
		}
		for i := len(parents) - 1; i >= 0; i-- {
			p := parents[i]
			if _, seen := visited[p]; !seen && p >= 0 {
				stack = append(stack, queued{v: p, isParentOfPrev: i == 0})
			}
		}
	}
	return nil
}
