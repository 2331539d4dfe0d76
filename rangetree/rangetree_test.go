package rangetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmndtyps/dt/causalgraph"
)

func TestInsertAndMetrics(t *testing.T) {
	tr := New()
	cur, err := tr.CursorAtContentPos(0, true)
	require.NoError(t, err)

	item := Item{ID: causalgraph.LVRange{Start: 0, End: 3}, OriginLeft: NoOrigin, OriginRight: NoOrigin, State: Inserted}
	_, err = tr.Insert(item, cur, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, tr.CurLen())
	assert.Equal(t, 3, tr.EndLen())
}

func TestCursorBeforeLVAfterInsert(t *testing.T) {
	tr := New()
	notified := map[causalgraph.LV]bool{}
	notify := func(it Item) { notified[it.ID.Start] = true }

	cur, err := tr.CursorAtContentPos(0, true)
	require.NoError(t, err)
	item := Item{ID: causalgraph.LVRange{Start: 0, End: 1}, OriginLeft: NoOrigin, OriginRight: NoOrigin, State: Inserted}
	_, err = tr.Insert(item, cur, notify)
	require.NoError(t, err)
	require.True(t, notified[0])

	cur2, err := tr.CursorBeforeLV(0)
	require.NoError(t, err)
	assert.Equal(t, 0, cur2.itemIdx)
}

func TestMutateEntryMarksDeleted(t *testing.T) {
	tr := New()
	cur, err := tr.CursorAtContentPos(0, true)
	require.NoError(t, err)
	item := Item{ID: causalgraph.LVRange{Start: 0, End: 5}, OriginLeft: NoOrigin, OriginRight: NoOrigin, State: Inserted}
	_, err = tr.Insert(item, cur, nil)
	require.NoError(t, err)

	delCur, err := tr.CursorAtContentPos(1, true)
	require.NoError(t, err)
	err = tr.MutateEntry(delCur, 2, func(it *Item) {
		it.State = Deleted
		it.EverDeleted = true
	})
	require.NoError(t, err)

	// The live length shrinks by 2; the end length (ever-inserted count)
	// stays at 5.
	assert.Equal(t, 3, tr.CurLen())
	assert.Equal(t, 5, tr.EndLen())
}

func TestManyInsertsSplitLeaves(t *testing.T) {
	tr := New()
	for i := 0; i < maxLeafItems*3; i++ {
		pos := tr.CurLen()
		cur, err := tr.CursorAtContentPos(pos, true)
		require.NoError(t, err)
		item := Item{
			ID:          causalgraph.LVRange{Start: causalgraph.LV(i), End: causalgraph.LV(i + 1)},
			OriginLeft:  NoOrigin,
			OriginRight: NoOrigin,
			State:       Inserted,
		}
		_, err = tr.Insert(item, cur, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, maxLeafItems*3, tr.CurLen())

	for i := 0; i < maxLeafItems*3; i++ {
		_, err := tr.CursorBeforeLV(causalgraph.LV(i))
		require.NoError(t, err, "LV %d must remain locatable after splits", i)
	}
}
