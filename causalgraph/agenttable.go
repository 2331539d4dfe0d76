package causalgraph

// AgentTable assigns a dense, process-local integer id to each AgentID seen
// by this graph (spec.md §3: "the CG maps each agent to a dense integer
// agent_id for in-memory use only; agent_ids are local to the process").
// It exists purely so the codec's AgentNames chunk can iterate agents in a
// stable, compact order; agent_ids are never compared across processes and
// never substitute for AgentID in the public API.
type AgentTable struct {
	byName []AgentID
	ids    map[AgentID]int
}

// IDFor returns the dense id for agent, minting a new one if this is the
// first time agent has been seen.
func (t *AgentTable) IDFor(agent AgentID) int {
	if t.ids == nil {
		t.ids = make(map[AgentID]int)
	}
	if id, ok := t.ids[agent]; ok {
		return id
	}
	id := len(t.byName)
	t.byName = append(t.byName, agent)
	t.ids[agent] = id
	return id
}

// NameFor returns the AgentID for a previously-minted dense id.
func (t *AgentTable) NameFor(id int) (AgentID, bool) {
	if id < 0 || id >= len(t.byName) {
		return "", false
	}
	return t.byName[id], true
}

// Names returns every known agent, in dense-id order (id 0 first).
func (t *AgentTable) Names() []AgentID {
	out := make([]AgentID, len(t.byName))
	copy(out, t.byName)
	return out
}

// Len reports how many distinct agents this table has minted ids for.
func (t *AgentTable) Len() int { return len(t.byName) }
