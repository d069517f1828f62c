package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "groups.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestCreateGroup_AddsCreator(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.CreateGroup(ctx, Group{
		ID:        "G1",
		Name:      "Linear Algebra",
		Category:  "Mathematics",
		CreatorID: "alice",
	}))

	ok, err := store.IsMember(ctx, "G1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IsMember(ctx, "G1", "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateGroup_Validation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	err := store.CreateGroup(ctx, Group{ID: "G1", Name: "x", Category: "Cooking", CreatorID: "alice"})
	assert.ErrorIs(t, err, ErrBadCategory)

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}
	err = store.CreateGroup(ctx, Group{ID: "G2", Name: string(long), Category: "Other", CreatorID: "alice"})
	assert.Error(t, err)

	// failed insert must not leave the creator behind
	ok, err := store.IsMember(ctx, "G2", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddMember(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	assert.ErrorIs(t, store.AddMember(ctx, "missing", "bob"), ErrGroupNotFound)

	require.NoError(t, store.CreateGroup(ctx, Group{ID: "G1", Name: "Go", Category: "Programming", CreatorID: "alice"}))
	require.NoError(t, store.AddMember(ctx, "G1", "bob"))
	require.NoError(t, store.AddMember(ctx, "G1", "bob"))

	ok, err := store.IsMember(ctx, "G1", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.RemoveMember(ctx, "G1", "bob"))
	require.NoError(t, store.RemoveMember(ctx, "G1", "bob"))
	ok, err = store.IsMember(ctx, "G1", "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeedMember(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.SeedMember(ctx, "G1", "alice"))
	require.NoError(t, store.SeedMember(ctx, "G1", "bob"))

	for _, user := range []string{"alice", "bob"} {
		ok, err := store.IsMember(ctx, "G1", user)
		require.NoError(t, err)
		assert.True(t, ok, user)
	}

	var creator, category string
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT creator_id, category FROM groups WHERE id = ?`, "G1",
	).Scan(&creator, &category))
	assert.Equal(t, "alice", creator)
	assert.Equal(t, "Other", category)
}

func TestSeedMember_ExistingGroup(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.CreateGroup(ctx, Group{ID: "G1", Name: "Go", Category: "Programming", CreatorID: "alice"}))

	require.NoError(t, store.SeedMember(ctx, "G1", "bob"))

	var creator, category string
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT creator_id, category FROM groups WHERE id = ?`, "G1",
	).Scan(&creator, &category))
	assert.Equal(t, "alice", creator)
	assert.Equal(t, "Programming", category)
}

func TestReopenKeepsMembers(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "groups.db")

	store, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.SeedMember(ctx, "G1", "alice"))
	require.NoError(t, store.Close())

	store, err = Open(ctx, path)
	require.NoError(t, err)
	defer func() {
		_ = store.Close()
	}()
	ok, err := store.IsMember(ctx, "G1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}
