package mergeengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmndtyps/dt/causalgraph"
	"github.com/dmndtyps/dt/codec"
	"github.com/dmndtyps/dt/oplog"
	"github.com/dmndtyps/dt/rope"
)

func buildDoc(t *testing.T, ops []TransformedOp) string {
	t.Helper()
	doc := []byte{}
	for _, op := range ops {
		switch op.Kind {
		case oplog.OpInsert:
			out := make([]byte, 0, len(doc)+len(op.Content))
			out = append(out, doc[:op.Pos]...)
			out = append(out, op.Content...)
			out = append(out, doc[op.Pos:]...)
			doc = out
		case oplog.OpDelete:
			if !op.AlreadyHappened {
				require.LessOrEqual(t, op.Pos, len(doc))
				doc = append(doc[:op.Pos], doc[op.Pos+1:]...)
			}
		}
	}
	return string(doc)
}

func TestGeneratePlan_LinearHistoryIsFastForward(t *testing.T) {
	ol := oplog.New()
	agent := causalgraph.AgentID("a")
	lv1, err := ol.PushInsert(agent, nil, 0, []byte("ab"))
	require.NoError(t, err)
	_, err = ol.PushInsert(agent, causalgraph.Frontier{lv1.End - 1}, 2, []byte("cd"))
	require.NoError(t, err)

	plan, err := GeneratePlan(ol.CG, nil, ol.CG.Heads)
	require.NoError(t, err)
	require.Len(t, plan, 3)
	assert.Equal(t, ActionBeginOutput, plan[0].Kind)
	assert.Equal(t, ActionFF, plan[1].Kind)
	assert.Equal(t, ActionClear, plan[2].Kind)
}

func TestGeneratePlan_ConcurrentHistoryIsApply(t *testing.T) {
	a := oplog.New()
	_, err := a.PushInsert(causalgraph.AgentID("a"), nil, 0, []byte("aaa"))
	require.NoError(t, err)
	b := oplog.New()
	_, err = b.PushInsert(causalgraph.AgentID("b"), nil, 0, []byte("bbb"))
	require.NoError(t, err)
	require.NoError(t, a.MergeFrom(b))

	plan, err := GeneratePlan(a.CG, nil, a.CG.Heads)
	require.NoError(t, err)
	for _, action := range plan {
		assert.NotEqual(t, ActionFF, action.Kind)
	}
}

func TestMerge_ConcurrentInsertsConverge(t *testing.T) {
	a := oplog.New()
	_, err := a.PushInsert(causalgraph.AgentID("a"), nil, 0, []byte("aaa"))
	require.NoError(t, err)
	b := oplog.New()
	_, err = b.PushInsert(causalgraph.AgentID("b"), nil, 0, []byte("bbb"))
	require.NoError(t, err)

	// Receive order: a-then-b.
	ab := oplog.New()
	require.NoError(t, ab.MergeFrom(a))
	require.NoError(t, ab.MergeFrom(b))
	trAB := NewTracker()
	opsAB, err := trAB.Merge(ab.CG, ab, nil, ab.CG.Heads)
	require.NoError(t, err)

	// Receive order: b-then-a.
	ba := oplog.New()
	require.NoError(t, ba.MergeFrom(b))
	require.NoError(t, ba.MergeFrom(a))
	trBA := NewTracker()
	opsBA, err := trBA.Merge(ba.CG, ba, nil, ba.CG.Heads)
	require.NoError(t, err)

	docAB := buildDoc(t, opsAB)
	docBA := buildDoc(t, opsBA)
	assert.Equal(t, docAB, docBA, "convergence: receive order must not change the outcome")
	assert.Equal(t, "aaabbb", docAB, "agent \"a\" sorts before \"b\" at a tied insertion point")
}

func TestMerge_ConcurrentDeleteAndInsertOverlap(t *testing.T) {
	base := oplog.New()
	agentBase := causalgraph.AgentID("base")
	lv, err := base.PushInsert(agentBase, nil, 0, []byte("hello"))
	require.NoError(t, err)
	baseHeads := causalgraph.Frontier{lv.End - 1}

	a := oplog.New()
	require.NoError(t, a.MergeFrom(base))
	_, err = a.PushDelete(causalgraph.AgentID("a"), baseHeads, 0, 1, true, []byte("h"))
	require.NoError(t, err)

	b := oplog.New()
	require.NoError(t, b.MergeFrom(base))
	_, err = b.PushInsert(causalgraph.AgentID("b"), baseHeads, 5, []byte("!"))
	require.NoError(t, err)

	merged := oplog.New()
	require.NoError(t, merged.MergeFrom(a))
	require.NoError(t, merged.MergeFrom(b))

	tr := NewTracker()
	ops, err := tr.Merge(merged.CG, merged, nil, merged.CG.Heads)
	require.NoError(t, err)
	assert.Equal(t, "ello!", buildDoc(t, ops))
}

func TestTracker_RetreatNonAncestorsRestoresOnCompletion(t *testing.T) {
	ol := oplog.New()
	agent := causalgraph.AgentID("a")
	_, err := ol.PushInsert(agent, nil, 0, []byte("xy"))
	require.NoError(t, err)

	tr := NewTracker()
	ops, err := tr.Merge(ol.CG, ol, nil, ol.CG.Heads)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Len(t, tr.active, 2, "each integrated LV is tracked as its own active range")
}

// TestReplay_RefusesInsertWithMissingContent exercises the resolved Open
// Question around replaying an insert whose content was never retained: a
// save file encoded with StoreInsertedContent false round-trips an OpLog
// whose InsContent has no runs at all for the inserted range, so the
// transformed insert op carries nil content and Replay must refuse rather
// than silently shortening the document.
func TestReplay_RefusesInsertWithMissingContent(t *testing.T) {
	ol := oplog.New()
	agent := causalgraph.AgentID("a")
	_, err := ol.PushInsert(agent, nil, 0, []byte("hello"))
	require.NoError(t, err)

	data, err := codec.Encode(ol, codec.EncodeOptions{StoreInsertedContent: false})
	require.NoError(t, err)
	stripped, err := codec.Decode(data, codec.DecodeOptions{})
	require.NoError(t, err)

	tr := NewTracker()
	ops, err := tr.Merge(stripped.CG, stripped, nil, stripped.CG.Heads)
	require.NoError(t, err)

	err = Replay(rope.New(), ops)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContentMissing)
}
