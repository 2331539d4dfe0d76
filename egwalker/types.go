// Package egwalker is the orchestration layer tying the causal graph,
// operation log, merge engine, and binary codec together into a single
// editable document: the library's front door. See spec.md §6.
package egwalker

import (
	"github.com/dmndtyps/dt/causalgraph"
	"github.com/dmndtyps/dt/oplog"
)

// AgentID is a durable peer identity (spec.md §3).
type AgentID = causalgraph.AgentID

// LV is a process-local, densely-assigned local version.
type LV = causalgraph.LV

// Frontier is a minimal antichain of LVs naming a point in the graph.
type Frontier = causalgraph.Frontier

// DTRange is a half-open document position range.
type DTRange = oplog.DTRange

// OpLog wraps the append-only, RLE-coalesced operation log plus its causal
// graph. It is the unit of exchange between peers: Encode/Decode carry an
// OpLog's entire history across the wire or to disk, and MergeInto replays
// whatever a rope doesn't yet have onto that rope.
type OpLog struct {
	inner *oplog.OpLog
}

// NewOpLog creates an empty OpLog with its own fresh causal graph.
func NewOpLog() *OpLog {
	return &OpLog{inner: oplog.New()}
}

// Heads returns the OpLog's current version frontier.
func (o *OpLog) Heads() Frontier { return o.inner.CG.Heads }
