package rope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndDelete(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(0, []byte("hello")))
	assert.Equal(t, "hello", r.String())

	require.NoError(t, r.Insert(5, []byte(" world")))
	assert.Equal(t, "hello world", r.String())

	require.NoError(t, r.Delete(0, 6))
	assert.Equal(t, "world", r.String())
}

func TestInsertOutOfBounds(t *testing.T) {
	r := New()
	assert.Error(t, r.Insert(1, []byte("x")))
}

func TestDeleteOutOfBounds(t *testing.T) {
	r := NewFromBytes([]byte("abc"))
	assert.Error(t, r.Delete(2, 5))
}
