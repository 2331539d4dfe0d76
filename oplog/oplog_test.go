package oplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmndtyps/dt/causalgraph"
)

func TestPushInsert_SingleRun(t *testing.T) {
	o := New()
	agent := causalgraph.AgentID("a")

	lvs, err := o.PushInsert(agent, nil, 0, []byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, causalgraph.LV(0), lvs.Start)
	assert.Equal(t, causalgraph.LV(2), lvs.End)
	require.Len(t, o.Entries, 1)

	content, ok := o.InsContent.Slice(lvs)
	require.True(t, ok)
	assert.Equal(t, "ab", string(content))
}

func TestPushInsert_CoalescesForwardRun(t *testing.T) {
	o := New()
	agent := causalgraph.AgentID("a")

	lv1, err := o.PushInsert(agent, nil, 0, []byte("a"))
	require.NoError(t, err)
	_, err = o.PushInsert(agent, causalgraph.Frontier{causalgraph.LV(lv1.Start)}, 1, []byte("b"))
	require.NoError(t, err)

	require.Len(t, o.Entries, 1, "two adjacent forward inserts from the same agent coalesce")
	assert.Equal(t, 2, o.Entries[0].Len())
}

func TestPushDelete_BackspaceRunCoalesces(t *testing.T) {
	o := New()
	agent := causalgraph.AgentID("a")
	_, err := o.PushInsert(agent, nil, 0, []byte("abc"))
	require.NoError(t, err)

	parents := causalgraph.Frontier{o.CG.Heads[0]}
	_, err = o.PushDelete(agent, parents, 2, 1, false, []byte("c"))
	require.NoError(t, err)
	parents = causalgraph.Frontier{o.CG.Heads[0]}
	_, err = o.PushDelete(agent, parents, 2, 1, false, []byte("b"))
	require.NoError(t, err)

	// The insert run plus the two-unit backspace run: two Entries total.
	require.Len(t, o.Entries, 2)
	del := o.Entries[1]
	assert.False(t, del.Op.Fwd)
	assert.Equal(t, 2, del.Len())
}

func TestIterRange(t *testing.T) {
	o := New()
	agent := causalgraph.AgentID("a")
	lvs, err := o.PushInsert(agent, nil, 0, []byte("xyz"))
	require.NoError(t, err)

	var seen []byte
	err = o.IterRange(lvs, func(lv causalgraph.LV, op Operation, content []byte) bool {
		seen = append(seen, content...)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(seen))
}

func TestMergeFrom(t *testing.T) {
	a := causalgraph.AgentID("a")
	b := causalgraph.AgentID("b")

	src := New()
	_, err := src.PushInsert(a, nil, 0, []byte("hi"))
	require.NoError(t, err)

	dst := New()
	_, err = dst.PushInsert(b, nil, 0, []byte("yo"))
	require.NoError(t, err)

	require.NoError(t, dst.MergeFrom(src))

	// dst now knows both agents' operations.
	assert.Equal(t, 2, dst.CG.Agents.Len())
	assert.Equal(t, 4, dst.Len())

	// Re-merging the same source is a no-op.
	require.NoError(t, dst.MergeFrom(src))
	assert.Equal(t, 4, dst.Len())

	var collected string
	err = dst.IterRange(causalgraph.LVRange{Start: 0, End: causalgraph.LV(dst.Len())}, func(lv causalgraph.LV, op Operation, content []byte) bool {
		collected += string(content)
		return true
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []byte("yohi"), []byte(collected))
}
