package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmndtyps/dt/causalgraph"
	"github.com/dmndtyps/dt/mergeengine"
	"github.com/dmndtyps/dt/oplog"
	"github.com/dmndtyps/dt/rope"
)

func renderDoc(t *testing.T, ol *oplog.OpLog) string {
	t.Helper()
	tr := mergeengine.NewTracker()
	ops, err := tr.Merge(ol.CG, ol, nil, ol.CG.Heads)
	require.NoError(t, err)
	r := rope.New()
	require.NoError(t, mergeengine.Replay(r, ops))
	return r.String()
}

func fullOptions() EncodeOptions {
	return EncodeOptions{StoreDeletedContent: true, StoreInsertedContent: true}
}

func TestEncodeDecode_InsertOnlyRoundTrip(t *testing.T) {
	ol := oplog.New()
	agent := causalgraph.AgentID("a")
	_, err := ol.PushInsert(agent, nil, 0, []byte("hello"))
	require.NoError(t, err)
	_, err = ol.PushInsert(agent, ol.CG.Heads, 5, []byte(" world"))
	require.NoError(t, err)

	data, err := Encode(ol, fullOptions())
	require.NoError(t, err)

	decoded, err := Decode(data, DecodeOptions{VerifyCRCOnLoad: true})
	require.NoError(t, err)

	assert.Equal(t, renderDoc(t, ol), renderDoc(t, decoded))
	assert.Equal(t, "hello world", renderDoc(t, decoded))
}

func TestEncodeDecode_InsertAndDeleteRoundTrip(t *testing.T) {
	ol := oplog.New()
	agent := causalgraph.AgentID("a")
	lv, err := ol.PushInsert(agent, nil, 0, []byte("hello"))
	require.NoError(t, err)
	_, err = ol.PushDelete(agent, causalgraph.Frontier{lv.End - 1}, 0, 1, true, []byte("h"))
	require.NoError(t, err)

	data, err := Encode(ol, fullOptions())
	require.NoError(t, err)

	decoded, err := Decode(data, DecodeOptions{})
	require.NoError(t, err)

	assert.Equal(t, "ello", renderDoc(t, decoded))
	assert.Len(t, decoded.Entries, len(ol.Entries))
}

func TestEncodeDecode_MultiAgentMergedHistory(t *testing.T) {
	a := oplog.New()
	_, err := a.PushInsert(causalgraph.AgentID("a"), nil, 0, []byte("aaa"))
	require.NoError(t, err)
	b := oplog.New()
	_, err = b.PushInsert(causalgraph.AgentID("b"), nil, 0, []byte("bbb"))
	require.NoError(t, err)

	merged := oplog.New()
	require.NoError(t, merged.MergeFrom(a))
	require.NoError(t, merged.MergeFrom(b))

	data, err := Encode(merged, fullOptions())
	require.NoError(t, err)
	decoded, err := Decode(data, DecodeOptions{VerifyCRCOnLoad: true})
	require.NoError(t, err)

	assert.Equal(t, renderDoc(t, merged), renderDoc(t, decoded))
	assert.ElementsMatch(t, []causalgraph.AgentID{"a", "b"}, decoded.CG.Agents.Names())
}

func TestEncodeDecode_WithoutContentOmitsBytes(t *testing.T) {
	ol := oplog.New()
	agent := causalgraph.AgentID("a")
	_, err := ol.PushInsert(agent, nil, 0, []byte("secret"))
	require.NoError(t, err)

	data, err := Encode(ol, EncodeOptions{})
	require.NoError(t, err)

	decoded, err := Decode(data, DecodeOptions{})
	require.NoError(t, err)
	_, ok := decoded.InsContent.Slice(causalgraph.LVRange{Start: 0, End: 6})
	assert.False(t, ok, "content was not requested at encode time and should not round-trip")
}

func TestEncodeDecode_CompressedRoundTrip(t *testing.T) {
	ol := oplog.New()
	agent := causalgraph.AgentID("a")
	content := make([]byte, 0, 200)
	for i := 0; i < 20; i++ {
		content = append(content, []byte("repeatme.")...)
	}
	_, err := ol.PushInsert(agent, nil, 0, content)
	require.NoError(t, err)

	opts := fullOptions()
	opts.CompressContent = true
	data, err := Encode(ol, opts)
	require.NoError(t, err)

	decoded, err := Decode(data, DecodeOptions{VerifyCRCOnLoad: true})
	require.NoError(t, err)
	assert.Equal(t, renderDoc(t, ol), renderDoc(t, decoded))
}

func TestDecode_CorruptedCRCFails(t *testing.T) {
	ol := oplog.New()
	_, err := ol.PushInsert(causalgraph.AgentID("a"), nil, 0, []byte("hi"))
	require.NoError(t, err)

	data, err := Encode(ol, fullOptions())
	require.NoError(t, err)

	corrupted := make([]byte, len(data))
	copy(corrupted, data)
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err = Decode(corrupted, DecodeOptions{VerifyCRCOnLoad: true})
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, ChecksumFailed, decodeErr.Kind)
}

func TestDecode_BadMagicFails(t *testing.T) {
	_, err := Decode([]byte("not a real dt save file at all"), DecodeOptions{})
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, InvalidMagic, decodeErr.Kind)
}
