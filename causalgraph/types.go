// Package causalgraph implements the causal graph (CG): the DAG of local
// versions (LVs), the mapping between LVs and durable (agent, seq) pairs,
// and the dominator/diff/subgraph algorithms that let the merge engine
// reason about concurrency. See spec.md §3 and §4.1.
package causalgraph

import (
	"github.com/google/uuid"

	"github.com/dmndtyps/dt/internal/rle"
)

// AgentID is a durable peer identity. The CG never interprets its
// contents, only compares and stores it; NewAgent mints the 128-bit UUID
// form callers are expected to use.
type AgentID string

// NewAgent mints a fresh, globally-unique AgentID.
func NewAgent() AgentID {
	return AgentID(uuid.NewString())
}

// RawVersion is the externally-exchanged pair (agent, seq).
type RawVersion struct {
	Agent AgentID
	Seq   int
}

// LV (Local Version) is a process-local, densely-assigned, never-reused
// integer naming one event in receipt order.
type LV int

// LVRange is a half-open range of local versions [Start, End).
type LVRange struct {
	Start LV
	End   LV
}

// Len reports how many LVs this range covers.
func (r LVRange) Len() int { return int(r.End - r.Start) }

// CanAppend reports whether other continues immediately where r ends.
func (r LVRange) CanAppend(other LVRange) bool { return r.End == other.Start }

// Append merges a contiguous following range onto r.
func (r LVRange) Append(other LVRange) LVRange { return LVRange{r.Start, other.End} }

// Truncate returns the first n LVs of r.
func (r LVRange) Truncate(n int) LVRange { return LVRange{r.Start, r.Start + LV(n)} }

// Frontier is a minimal antichain of LVs naming a point in the DAG: no
// element may be an ancestor of another. Functions in this package that
// return a Frontier always return it in dominator form; functions that
// accept one assume the caller has upheld the invariant (use FindDominators
// to normalize an arbitrary LV set first).
type Frontier []LV

// CGEntry stores metadata for a contiguous run of LVs authored by one agent
// sharing one parent frontier (the parents of the run's first LV).
type CGEntry struct {
	Version LV      // Starting LV of this entry.
	VEnd    LV      // Ending LV (exclusive).
	Agent   AgentID // Agent for this run.
	Seq     int     // Starting sequence number.
	Parents Frontier
}

// Len reports how many LVs this entry covers.
func (e CGEntry) Len() int { return int(e.VEnd - e.Version) }

// CanAppend reports whether other is a trivial linear continuation of e:
// same agent, contiguous seq and LV, and parented solely on e's last LV (no
// extra concurrent parents, i.e. not a merge point).
func (e CGEntry) CanAppend(other CGEntry) bool {
	return e.Agent == other.Agent &&
		e.VEnd == other.Version &&
		e.Seq+e.Len() == other.Seq &&
		len(other.Parents) == 1 && other.Parents[0] == e.VEnd-1
}

// Append merges a contiguous continuation run onto e.
func (e CGEntry) Append(other CGEntry) CGEntry {
	e.VEnd = other.VEnd
	return e
}

// Truncate returns the first n LVs of e.
func (e CGEntry) Truncate(n int) CGEntry {
	e.VEnd = e.Version + LV(n)
	return e
}

// ClientEntry stores metadata for a contiguous run of sequence numbers from
// one agent, and the LV the run starts at.
type ClientEntry struct {
	Seq     int // Starting sequence number.
	SeqEnd  int // Ending sequence number (exclusive).
	Version LV  // LV of the first item in this run.
}

// Len reports how many sequence numbers this run covers.
func (c ClientEntry) Len() int { return c.SeqEnd - c.Seq }

// CanAppend reports whether other continues c contiguously in both seq and LV space.
func (c ClientEntry) CanAppend(other ClientEntry) bool {
	return c.SeqEnd == other.Seq && c.Version+LV(c.Len()) == other.Version
}

// Append merges a contiguous continuation run onto c.
func (c ClientEntry) Append(other ClientEntry) ClientEntry {
	c.SeqEnd = other.SeqEnd
	return c
}

// Truncate returns the first n sequence numbers of c.
func (c ClientEntry) Truncate(n int) ClientEntry {
	c.SeqEnd = c.Seq + n
	return c
}

var (
	_ rle.Run[CGEntry]     = CGEntry{}
	_ rle.Run[ClientEntry] = ClientEntry{}
)

// CausalGraph holds the entire causal graph structure.
type CausalGraph struct {
	// Heads is the current global version frontier, always in dominator form.
	Heads Frontier
	// Entries holds the CG's entries, RLE-coalesced and sorted by LV. Grown
	// only by appending at the end of the LV space.
	Entries []CGEntry
	// AgentToVersion maps an agent to its ClientEntry runs, sorted by seq.
	AgentToVersion map[AgentID][]ClientEntry
	// Agents is the dense agent_id table used only for in-process
	// bookkeeping (spec.md §3, "agent_ids are local to the process").
	Agents AgentTable
	// NextLV is the next LV that will be assigned.
	NextLV LV
}

// VersionSummary maps an agent ID to a list of [start_seq, end_seq) ranges.
type VersionSummary map[AgentID][][2]int
