package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertRequestRefreshesExisting(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	old := time.Now().Add(-time.Hour).UTC()
	first := &models.Request{Type: models.RequestFriend, From: "a", To: "b", UpdatedAt: old}
	created, err := testStore.UpsertRequest(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, old.UnixNano(), first.UpdatedAt.UnixNano())

	second := &models.Request{Type: models.RequestFriend, From: "a", To: "b"}
	created, err = testStore.UpsertRequest(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.UpdatedAt.After(old))
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	reqs, err := testStore.ListRequests(ctx, models.RequestFilter{From: "a"})
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}

func TestRequestFilters(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	for _, r := range []*models.Request{
		{Type: models.RequestFriend, From: "a", To: "b"},
		{Type: models.RequestGroupJoin, From: "a", To: "o", GroupID: "g1"},
		{Type: models.RequestGroupInvite, From: "o", To: "c", GroupID: "g1"},
	} {
		_, err := testStore.UpsertRequest(ctx, r)
		require.NoError(t, err)
	}

	fromA, err := testStore.ListRequests(ctx, models.RequestFilter{From: "a"})
	require.NoError(t, err)
	assert.Len(t, fromA, 2)

	joins, err := testStore.ListRequests(ctx, models.RequestFilter{From: "a", Type: models.RequestGroupJoin})
	require.NoError(t, err)
	require.Len(t, joins, 1)
	assert.Equal(t, "g1", joins[0].GroupID)

	n, err := testStore.DeleteRequests(ctx, models.RequestFilter{GroupID: "g1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	ok, err := testStore.DeleteRequest(ctx, fromA[0].ID)
	require.NoError(t, err)
	assert.Equal(t, fromA[0].Type == models.RequestFriend, ok)

	_, err = testStore.GetRequest(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
