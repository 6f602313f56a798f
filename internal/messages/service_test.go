package messages

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pliu/huddle/internal/apperr"
	"github.com/pliu/huddle/internal/fanout"
	"github.com/pliu/huddle/internal/fanout/fanouttest"
	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/social"
	"github.com/pliu/huddle/internal/store/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *sqlstore.SQLStore
	rec   *fanouttest.Recorder
	graph *social.Service
	svc   *Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	emitter, rec := fanouttest.New()
	graph := social.NewService(st, emitter, nil)
	return &fixture{store: st, rec: rec, graph: graph, svc: NewService(st, graph, emitter, nil)}
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Password: "hash"}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) seed(t *testing.T, from string, target models.Target, n int) []time.Time {
	t.Helper()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var stamps []time.Time
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		stamps = append(stamps, ts)
		msg := &models.Message{From: from, Target: target, Body: fmt.Sprintf("T%d", i+1), CreatedAt: ts}
		require.NoError(t, f.store.CreateMessage(context.Background(), msg))
	}
	return stamps
}

func bodies(msgs []models.Message) []string {
	out := []string{}
	for _, m := range msgs {
		out = append(out, m.Body)
	}
	return out
}

func TestPagination(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	g, err := f.graph.CreateGroup(ctx, owner.ID, "Climbers", false)
	require.NoError(t, err)
	ts := f.seed(t, owner.ID, models.GroupTarget(g.ID), 5)

	tests := []struct {
		name string
		page models.Page
		want []string
	}{
		{"before is exclusive and keeps the newest", models.Page{Limit: 2, Before: ts[3]}, []string{"T2", "T3"}},
		{"after is exclusive and keeps the oldest", models.Page{Limit: 2, After: ts[1]}, []string{"T3", "T4"}},
		{"no cursor returns the latest", models.Page{Limit: 2}, []string{"T4", "T5"}},
		{"after the last message", models.Page{After: ts[4]}, []string{}},
		{"default limit", models.Page{}, []string{"T1", "T2", "T3", "T4", "T5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := f.svc.Group(ctx, owner.ID, g.ID, tt.page)
			require.NoError(t, err)
			assert.Equal(t, tt.want, bodies(msgs))
		})
	}

	_, err = f.svc.Group(ctx, owner.ID, g.ID, models.Page{Before: ts[3], After: ts[1]})
	assert.True(t, apperr.Is(err, apperr.BadRequest))
}

func TestDefaultLimitIsThirty(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")
	f.seed(t, a.ID, models.DirectTarget(b.ID), 35)

	msgs, err := f.svc.Direct(ctx, b.ID, a.ID, models.Page{})
	require.NoError(t, err)
	require.Len(t, msgs, DefaultLimit)
	assert.Equal(t, "T6", msgs[0].Body)
	assert.Equal(t, "T35", msgs[len(msgs)-1].Body)

	f.svc.SetLimits(10, 20)
	msgs, err = f.svc.Direct(ctx, a.ID, b.ID, models.Page{Limit: 500})
	require.NoError(t, err)
	assert.Len(t, msgs, 20)
}

func TestSendDirectRequiresFriendship(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")

	_, err := f.svc.SendDirect(ctx, "conn-a", a.ID, b.ID, "hi", nil)
	assert.True(t, apperr.Is(err, apperr.Forbidden))

	_, err = f.svc.SendDirect(ctx, "conn-a", a.ID, a.ID, "note to self", nil)
	require.NoError(t, err)

	require.NoError(t, f.graph.AddFriend(ctx, a.ID, b.ID))
	f.rec.Reset()
	msg, err := f.svc.SendDirect(ctx, "conn-a", a.ID, b.ID, "hi", []string{"att-1"})
	require.NoError(t, err)
	assert.Equal(t, models.DirectTarget(b.ID), msg.Target)

	events := f.rec.Events(EventDirect)
	require.Len(t, events, 2)
	assert.Equal(t, fanout.UserRoom(a.ID), events[0].Room)
	assert.Equal(t, "conn-a", events[0].Except)
	assert.Equal(t, fanout.UserRoom(b.ID), events[1].Room)

	_, err = f.svc.SendDirect(ctx, "conn-a", a.ID, b.ID, "  ", nil)
	assert.True(t, apperr.Is(err, apperr.BadRequest))
}

func TestSendGroupAndTyping(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner, outsider := f.user(t, "owner"), f.user(t, "outsider")
	g, err := f.graph.CreateGroup(ctx, owner.ID, "Climbers", true)
	require.NoError(t, err)

	_, err = f.svc.SendGroup(ctx, "c1", outsider.ID, g.ID, "hi", nil)
	assert.True(t, apperr.Is(err, apperr.Forbidden))
	assert.True(t, apperr.Is(f.svc.GroupTyping(ctx, "c1", outsider.ID, g.ID), apperr.Forbidden))

	_, err = f.svc.SendGroup(ctx, "c1", owner.ID, g.ID, "hi", nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.GroupTyping(ctx, "c1", owner.ID, g.ID))

	sent := f.rec.Events(EventGroup)
	require.Len(t, sent, 1)
	assert.Equal(t, fanout.GroupRoom(g.ID), sent[0].Room)
	assert.Equal(t, "c1", sent[0].Except)
	assert.Equal(t, 1, f.rec.Count(EventGroupTyping))

	// public history is readable by anyone
	msgs, err := f.svc.Group(ctx, outsider.ID, g.ID, models.Page{})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = f.svc.SendGroup(ctx, "c1", owner.ID, "ghost", "hi", nil)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestPrivateGroupHistoryIsMembersOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner, outsider := f.user(t, "owner"), f.user(t, "outsider")
	g, err := f.graph.CreateGroup(ctx, owner.ID, "Secret", false)
	require.NoError(t, err)

	_, err = f.svc.Group(ctx, outsider.ID, g.ID, models.Page{})
	assert.True(t, apperr.Is(err, apperr.Forbidden))
}

func TestDirectTyping(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")
	assert.True(t, apperr.Is(f.svc.DirectTyping(ctx, "c1", a.ID, b.ID), apperr.Forbidden))

	require.NoError(t, f.graph.AddFriend(ctx, a.ID, b.ID))
	require.NoError(t, f.svc.DirectTyping(ctx, "c1", a.ID, b.ID))
	typing := f.rec.Events(EventDirectTyping)
	require.Len(t, typing, 1)
	payload, err := fanouttest.Decode[Typing](typing[0])
	require.NoError(t, err)
	assert.Equal(t, Typing{From: a.ID}, payload)
}

func TestDeleteEmitsEviction(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")
	require.NoError(t, f.graph.AddFriend(ctx, a.ID, b.ID))
	msg, err := f.svc.SendDirect(ctx, "", a.ID, b.ID, "oops", nil)
	require.NoError(t, err)

	assert.True(t, apperr.Is(f.svc.Delete(ctx, b.ID, msg.ID), apperr.Forbidden))
	require.NoError(t, f.svc.Delete(ctx, a.ID, msg.ID))
	assert.ElementsMatch(t,
		[]string{fanout.UserRoom(a.ID), fanout.UserRoom(b.ID)},
		f.rec.Rooms(EventDirectDelete))
	assert.True(t, apperr.Is(f.svc.Delete(ctx, a.ID, msg.ID), apperr.NotFound))
}

func TestBulkDeletes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")
	require.NoError(t, f.graph.AddFriend(ctx, a.ID, b.ID))
	for i := 0; i < 3; i++ {
		_, err := f.svc.SendDirect(ctx, "", a.ID, b.ID, "from a", nil)
		require.NoError(t, err)
	}
	_, err := f.svc.SendDirect(ctx, "", b.ID, a.ID, "from b", nil)
	require.NoError(t, err)

	n, err := f.svc.DeleteDirectThread(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	left, err := f.svc.Direct(ctx, a.ID, b.ID, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"from b"}, bodies(left))
	assert.Equal(t, 2, f.rec.Count(EventDirectDeleteAll))

	g, err := f.graph.CreateGroup(ctx, a.ID, "Climbers", false)
	require.NoError(t, err)
	require.NoError(t, f.graph.AddMember(ctx, g.ID, b.ID))
	_, err = f.svc.SendGroup(ctx, "", b.ID, g.ID, "hello", nil)
	require.NoError(t, err)

	_, err = f.svc.DeleteGroupMessages(ctx, b.ID, g.ID)
	assert.True(t, apperr.Is(err, apperr.Forbidden))
	n, err = f.svc.DeleteGroupMessages(ctx, a.ID, g.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []string{fanout.GroupRoom(g.ID)}, f.rec.Rooms(EventGroupDeleteAll))
}

func TestGroupOwnerCanDeleteAnyMessage(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner, member := f.user(t, "owner"), f.user(t, "member")
	g, err := f.graph.CreateGroup(ctx, owner.ID, "Climbers", false)
	require.NoError(t, err)
	require.NoError(t, f.graph.AddMember(ctx, g.ID, member.ID))
	msg, err := f.svc.SendGroup(ctx, "", member.ID, g.ID, "spam", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, owner.ID, msg.ID))
	assert.Equal(t, []string{fanout.GroupRoom(g.ID)}, f.rec.Rooms(EventGroupDelete))
}
