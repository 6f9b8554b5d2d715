package stress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker(t *testing.T) {
	tr := NewTracker()

	require.NoError(t, tr.Acquire(3))
	require.NoError(t, tr.Acquire(1))
	assert.Equal(t, uint64(2), tr.Outstanding())
	assert.Equal(t, []uint32{1, 3}, tr.Held())

	assert.ErrorIs(t, tr.Acquire(3), ErrDuplicateFrame)

	require.NoError(t, tr.Release(3))
	assert.ErrorIs(t, tr.Release(3), ErrUnknownFrame)
	assert.Equal(t, uint64(1), tr.Outstanding())

	require.NoError(t, tr.Acquire(3))
	assert.Equal(t, uint64(2), tr.Max())
}
