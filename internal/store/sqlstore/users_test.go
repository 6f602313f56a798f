package sqlstore

import (
	"context"
	"testing"

	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	u := createUser(t, "testuser")
	assert.NotEmpty(t, u.ID)

	// Test duplicate user
	err := testStore.CreateUser(ctx, &models.User{Username: "testuser", Password: "x"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestGetUserByUsername(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	createUser(t, "testuser")

	user, err := testStore.GetUserByUsername(ctx, "testuser")
	require.NoError(t, err)
	assert.Equal(t, "testuser", user.Username)
	assert.False(t, user.Online)

	_, err = testStore.GetUserByUsername(ctx, "nonexistent")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetUserByIDLoadsLists(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	alice := createUser(t, "alice")
	bob := createUser(t, "bob")
	g := &models.Group{Title: "Climbers", Owner: bob.ID}
	require.NoError(t, testStore.CreateGroup(ctx, g))
	_, err := testStore.AddFriendEntry(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = testStore.AddUserGroupEntry(ctx, alice.ID, g.ID)
	require.NoError(t, err)

	got, err := testStore.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.SubUser{{ID: bob.ID, DisplayName: "bob"}}, got.Friends)
	assert.Equal(t, []models.SubGroup{{ID: g.ID, Title: "Climbers", Owner: bob.ID}}, got.Groups)

	_, err = testStore.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSearchUsers(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	createUser(t, "alice")
	createUser(t, "bob")
	createUser(t, "Alex")

	users, err := testStore.SearchUsers(ctx, "al", 10)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestUpdateUsername(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	alice := createUser(t, "alice")
	createUser(t, "bob")

	require.NoError(t, testStore.UpdateUsername(ctx, alice.ID, "alicia"))
	assert.ErrorIs(t, testStore.UpdateUsername(ctx, alice.ID, "bob"), store.ErrDuplicate)
	assert.ErrorIs(t, testStore.UpdateUsername(ctx, "missing", "carol"), store.ErrNotFound)
}

func TestSetPassword(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	u := createUser(t, "alice")
	require.NoError(t, testStore.SetPassword(ctx, u.ID, "new-hash"))
	got, err := testStore.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.Password)

	assert.ErrorIs(t, testStore.SetPassword(ctx, "ghost", "x"), store.ErrNotFound)
}

func TestPresenceFollowsConnectionRows(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	u := createUser(t, "alice")

	// no connection rows: cannot go online
	ok, err := testStore.SetOnlineIfConnected(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	c1 := &models.Connection{UserID: u.ID}
	c2 := &models.Connection{UserID: u.ID}
	require.NoError(t, testStore.CreateConnection(ctx, c1))
	require.NoError(t, testStore.CreateConnection(ctx, c2))

	ok, err = testStore.SetOnlineIfConnected(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = testStore.SetOnlineIfConnected(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second flip is a no-op")

	_, err = testStore.DeleteConnection(ctx, c1.ID)
	require.NoError(t, err)
	ok, err = testStore.SetOfflineIfDisconnected(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, ok, "one connection left")

	_, err = testStore.DeleteConnection(ctx, c2.ID)
	require.NoError(t, err)
	ok, err = testStore.SetOfflineIfDisconnected(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	online, err := testStore.IsOnline(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, online)
}
