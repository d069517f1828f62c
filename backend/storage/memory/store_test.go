package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore()

	ok, err := ms.IsMember(ctx, "G1", "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	ms.AddMember("G1", "alice")
	ms.AddMember("G1", "alice")
	ok, err = ms.IsMember(ctx, "G1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ms.IsMember(ctx, "G2", "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	ms.RemoveMember("G1", "alice")
	ms.RemoveMember("G1", "alice")
	ok, err = ms.IsMember(ctx, "G1", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, ms.db)
}

func TestMemStore_CanceledContext(t *testing.T) {
	ms := NewMemStore()
	ms.AddMember("G1", "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := ms.IsMember(ctx, "G1", "alice")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}
