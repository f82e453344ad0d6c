package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageIDUnique(t *testing.T) {
	require.NoError(t, Init(3))
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewMessageID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestInitRejectsBadNode(t *testing.T) {
	assert.Error(t, Init(-1))
	assert.Error(t, Init(1<<20))
}

func TestNewConnID(t *testing.T) {
	a, b := NewConnID(), NewConnID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}
