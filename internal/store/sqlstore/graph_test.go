package sqlstore

import (
	"context"
	"testing"

	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFriendEntriesAreIdempotent(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	alice := createUser(t, "alice")
	bob := createUser(t, "bob")

	ok, err := testStore.AddFriendEntry(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = testStore.AddFriendEntry(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	friends, err := testStore.ListFriends(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.SubUser{{ID: bob.ID, DisplayName: "bob"}}, friends)

	// unknown users are never copied into a list
	ok, err = testStore.AddFriendEntry(ctx, alice.ID, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	isFriend, err := testStore.IsFriend(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, isFriend)

	ok, err = testStore.RemoveFriendEntry(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = testStore.RemoveFriendEntry(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncFriendEntries(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	alice := createUser(t, "alice")
	bob := createUser(t, "bob")
	_, err := testStore.AddFriendEntry(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	g := &models.Group{Title: "g1", Owner: bob.ID}
	require.NoError(t, testStore.CreateGroup(ctx, g))
	_, err = testStore.AddMemberEntry(ctx, g.ID, alice.ID)
	require.NoError(t, err)

	require.NoError(t, testStore.UpdateUsername(ctx, alice.ID, "alicia"))
	n, err := testStore.SyncFriendEntries(ctx, alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	friends, err := testStore.ListFriends(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "alicia", friends[0].DisplayName)
	members, err := testStore.ListMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "alicia", members[0].DisplayName)
}

func TestGroupLifecycle(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	owner := createUser(t, "owner")
	member := createUser(t, "member")

	g := &models.Group{Title: "Climbers", Owner: owner.ID}
	require.NoError(t, testStore.CreateGroup(ctx, g))
	_, err := testStore.AddMemberEntry(ctx, g.ID, owner.ID)
	require.NoError(t, err)
	_, err = testStore.AddMemberEntry(ctx, g.ID, member.ID)
	require.NoError(t, err)
	_, err = testStore.AddUserGroupEntry(ctx, member.ID, g.ID)
	require.NoError(t, err)

	got, err := testStore.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, got.Members, 2)

	isMember, err := testStore.IsMember(ctx, g.ID, member.ID)
	require.NoError(t, err)
	assert.True(t, isMember)

	// update is guarded by the current owner
	update := &models.Group{ID: g.ID, Title: "Boulderers", Owner: owner.ID, IsPublic: true}
	assert.ErrorIs(t, testStore.UpdateGroup(ctx, update, member.ID), store.ErrNotFound)
	require.NoError(t, testStore.UpdateGroup(ctx, update, owner.ID))

	n, err := testStore.SyncUserGroupEntries(ctx, g.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	groups, err := testStore.ListUserGroups(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.SubGroup{{ID: g.ID, Title: "Boulderers", Owner: owner.ID, IsPublic: true}}, groups)

	found, err := testStore.SearchGroups(ctx, "boulder", true, 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)
	owned, err := testStore.ListOwnedGroups(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 1)

	ok, err := testStore.DeleteGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	removed, err := testStore.RemoveGroupFromUsers(ctx, g.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	_, err = testStore.GetGroup(ctx, g.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	members, err := testStore.ListMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, members)

	// syncing a deleted group leaves entries alone
	n, err = testStore.SyncUserGroupEntries(ctx, g.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEntriesForDeletedGroupAreNotWritten(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	owner := createUser(t, "owner")
	late := createUser(t, "late")
	g := &models.Group{Title: "Climbers", Owner: owner.ID}
	require.NoError(t, testStore.CreateGroup(ctx, g))
	ok, err := testStore.DeleteGroup(ctx, g.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = testStore.AddMemberEntry(ctx, g.ID, late.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = testStore.AddUserGroupEntry(ctx, late.ID, g.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := testStore.ListMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
	groups, err := testStore.ListUserGroups(ctx, late.ID)
	require.NoError(t, err)
	assert.Empty(t, groups)
}
