package egwalker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmndtyps/dt/codec"
	"github.com/dmndtyps/dt/rope"
)

func openWalker(t *testing.T, agent AgentID) *Walker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.dtj")
	w, err := Open(path, Options{Agent: agent})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestOpen_MintsUUIDAgentWhenNoneGiven(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.dtj")
	w, err := Open(path, Options{})
	require.NoError(t, err)
	defer w.Close()

	require.NotEmpty(t, w.agent)
	_, err = w.LocalInsert("", 0, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", w.String())
}

// S1 — basic insert/delete.
func TestWalker_BasicInsertDelete(t *testing.T) {
	w := openWalker(t, "seph")

	_, err := w.LocalInsert("seph", 0, "hi there")
	require.NoError(t, err)
	assert.Equal(t, "hi there", w.String())

	_, err = w.LocalDelete("seph", DTRange{Start: 2, End: 5}, true)
	require.NoError(t, err)
	assert.Equal(t, "hiere", w.String())
}

// S2 — concurrent inserts converge deterministically on agent ordering.
func TestWalker_ConcurrentInsertsConverge(t *testing.T) {
	a := openWalker(t, "a")
	_, err := a.LocalInsert("a", 0, "aaa")
	require.NoError(t, err)

	b := openWalker(t, "b")
	_, err = b.LocalInsert("b", 0, "bbb")
	require.NoError(t, err)

	require.NoError(t, a.MergeFrom(b.OpLog()))
	require.NoError(t, b.MergeFrom(a.OpLog()))

	assert.Equal(t, "aaabbb", a.String())
	assert.Equal(t, a.String(), b.String())
}

// S3 — concurrent delete + insert overlap resolves to the same final state
// on every replica, even though one branch sees a delete of an
// already-deleted byte.
func TestWalker_ConcurrentDeleteOverlapConverges(t *testing.T) {
	a := openWalker(t, "a")
	_, err := a.LocalInsert("a", 0, "aaa")
	require.NoError(t, err)

	b := openWalker(t, "b")
	require.NoError(t, b.MergeFrom(a.OpLog()))
	assert.Equal(t, "aaa", b.String())

	_, err = a.LocalDelete("a", DTRange{Start: 1, End: 2}, true)
	require.NoError(t, err)
	_, err = b.LocalDelete("b", DTRange{Start: 0, End: 3}, true)
	require.NoError(t, err)

	require.NoError(t, a.MergeFrom(b.OpLog()))
	require.NoError(t, b.MergeFrom(a.OpLog()))

	assert.Equal(t, "", a.String())
	assert.Equal(t, a.String(), b.String())
}

func TestWalker_LocalInsert_RejectsOutOfBoundsWithoutMutating(t *testing.T) {
	w := openWalker(t, "a")
	_, err := w.LocalInsert("a", 0, "hello")
	require.NoError(t, err)

	heads := w.Heads()
	_, err = w.LocalInsert("a", 100, "nope")
	require.Error(t, err)
	assert.Equal(t, "hello", w.String())
	assert.Equal(t, heads, w.Heads())
}

func TestWalker_LocalDelete_RejectsOutOfBoundsWithoutMutating(t *testing.T) {
	w := openWalker(t, "a")
	_, err := w.LocalInsert("a", 0, "hi")
	require.NoError(t, err)

	heads := w.Heads()
	_, err = w.LocalDelete("a", DTRange{Start: 0, End: 10}, true)
	require.Error(t, err)
	assert.Equal(t, "hi", w.String())
	assert.Equal(t, heads, w.Heads())
}

func TestWalker_Checkout_DoesNotDisturbLiveDocument(t *testing.T) {
	w := openWalker(t, "a")
	_, err := w.LocalInsert("a", 0, "hello")
	require.NoError(t, err)
	mid := w.Heads()

	_, err = w.LocalInsert("a", 5, " world")
	require.NoError(t, err)

	snapshot, err := w.Checkout(mid)
	require.NoError(t, err)
	assert.Equal(t, "hello", snapshot)
	assert.Equal(t, "hello world", w.String())
}

func TestOpen_ReopensPersistedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.dtj")

	w, err := Open(path, Options{Agent: "a"})
	require.NoError(t, err)
	_, err = w.LocalInsert("a", 0, "hello")
	require.NoError(t, err)
	_, err = w.LocalInsert("a", 5, " world")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	reopened, err := Open(path, Options{Agent: "a"})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, "hello world", reopened.String())
}

// S5 — a replica that is behind (still at an older version) catches up by
// merging in a peer's full encoded history; the MergeFrom bridge already
// skips spans it has by (agent, seq), so feeding it the whole upstream log
// rather than a narrower byte-range delta still converges to the same
// state as a peer that received every op directly.
func TestWalker_CatchesUpFromEncodedHistoryAtOlderVersion(t *testing.T) {
	a := openWalker(t, "a")
	_, err := a.LocalInsert("a", 0, "hello")
	require.NoError(t, err)

	c := openWalker(t, "c")
	require.NoError(t, c.MergeFrom(a.OpLog()))
	require.Equal(t, "hello", c.String())

	_, err = a.LocalInsert("a", 5, " world")
	require.NoError(t, err)

	data, err := a.OpLog().Encode(codec.EncodeOptions{StoreInsertedContent: true})
	require.NoError(t, err)
	patch, err := Decode(data, codec.DecodeOptions{VerifyCRCOnLoad: true})
	require.NoError(t, err)

	require.NoError(t, c.MergeFrom(patch))
	assert.Equal(t, "hello world", c.String())
	assert.Equal(t, a.String(), c.String())
}

func TestOpLog_EncodeDecodeRoundTripsThroughWalker(t *testing.T) {
	w := openWalker(t, "a")
	_, err := w.LocalInsert("a", 0, "hello")
	require.NoError(t, err)

	data, err := w.OpLog().Encode(codec.EncodeOptions{StoreInsertedContent: true})
	require.NoError(t, err)

	decoded, err := Decode(data, codec.DecodeOptions{VerifyCRCOnLoad: true})
	require.NoError(t, err)

	r := rope.New()
	_, err = decoded.MergeInto(r, nil, decoded.Heads())
	require.NoError(t, err)
	assert.Equal(t, "hello", r.String())
}
