package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pliu/huddle/internal/apperr"
	"github.com/pliu/huddle/internal/fanout"
	"github.com/pliu/huddle/internal/fanout/fanouttest"
	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/social"
	"github.com/pliu/huddle/internal/store"
	"github.com/pliu/huddle/internal/store/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roomTable struct {
	mu    sync.Mutex
	rooms map[string]map[string]bool
}

func (r *roomTable) Join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms == nil {
		r.rooms = map[string]map[string]bool{}
	}
	if r.rooms[connID] == nil {
		r.rooms[connID] = map[string]bool{}
	}
	r.rooms[connID][room] = true
}

func (r *roomTable) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms[connID], room)
}

// Apply carries out join and leave envelopes the way the socket hub does.
func (r *roomTable) Apply(env fanout.Envelope) {
	if env.Op != fanout.OpJoin && env.Op != fanout.OpLeave {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rooms := range r.rooms {
		if !rooms[env.Room] {
			continue
		}
		if env.Op == fanout.OpJoin {
			rooms[env.Target] = true
		} else {
			delete(rooms, env.Target)
		}
	}
}

func (r *roomTable) of(connID string) map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[connID]
}

type rotator struct {
	calls []string
	err   error
}

func (r *rotator) RotateSession(_ context.Context, userID string) error {
	r.calls = append(r.calls, userID)
	return r.err
}

type fixture struct {
	store *sqlstore.SQLStore
	rec   *fanouttest.Recorder
	rooms *roomTable
	rot   *rotator
	graph *social.Service
	mgr   *Manager
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	bp := fanout.NewLocal()
	f := &fixture{store: st, rec: &fanouttest.Recorder{}, rooms: &roomTable{}, rot: &rotator{}}
	require.NoError(t, bp.Subscribe(f.rec))
	require.NoError(t, bp.Subscribe(f.rooms))
	emitter := fanout.NewEmitter(bp, nil)
	f.graph = social.NewService(st, emitter, nil)
	f.mgr = NewManager(st, emitter, f.rooms, f.rot, nil)
	return f
}

// connectHook runs a callback once, right after the connection row is written.
type connectHook struct {
	store.Store
	after func()
}

func (h *connectHook) CreateConnection(ctx context.Context, conn *models.Connection) error {
	if err := h.Store.CreateConnection(ctx, conn); err != nil {
		return err
	}
	if fn := h.after; fn != nil {
		h.after = nil
		fn()
	}
	return nil
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Password: "hash"}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) online(t *testing.T, userID string) bool {
	t.Helper()
	online, err := f.mgr.IsOnline(context.Background(), userID)
	require.NoError(t, err)
	return online
}

func TestTwoSessions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u := f.user(t, "alice")

	require.NoError(t, f.mgr.OnConnect(ctx, "c1", u.ID))
	require.NoError(t, f.mgr.OnConnect(ctx, "c2", u.ID))
	assert.True(t, f.online(t, u.ID))
	assert.Equal(t, 1, f.rec.Count(EventPresence), "only the first connection flips presence")

	require.NoError(t, f.mgr.OnDisconnect(ctx, "c1", u.ID))
	assert.True(t, f.online(t, u.ID))

	require.NoError(t, f.mgr.OnDisconnect(ctx, "c2", u.ID))
	assert.False(t, f.online(t, u.ID))
	assert.Equal(t, 2, f.rec.Count(EventPresence))

	// a duplicate disconnect changes nothing
	require.NoError(t, f.mgr.OnDisconnect(ctx, "c2", u.ID))
	assert.Equal(t, 2, f.rec.Count(EventPresence))
}

func TestConnectJoinsUserAndGroupRooms(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u := f.user(t, "alice")
	g, err := f.graph.CreateGroup(ctx, u.ID, "Climbers", false)
	require.NoError(t, err)

	require.NoError(t, f.mgr.OnConnect(ctx, "c1", u.ID))
	assert.Equal(t, map[string]bool{
		fanout.UserRoom(u.ID):  true,
		fanout.GroupRoom(g.ID): true,
	}, f.rooms.of("c1"))

	err = f.mgr.OnConnect(ctx, "c2", "ghost")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
}

func TestMembershipChangeDuringConnectReachesTheConnection(t *testing.T) {
	tests := []struct {
		name    string
		member  bool
		change  func(f *fixture, ownerID, groupID, userID string) error
		inGroup bool
	}{
		{
			name:   "kicked while connecting",
			member: true,
			change: func(f *fixture, ownerID, groupID, userID string) error {
				return f.graph.KickMember(context.Background(), ownerID, groupID, userID)
			},
			inGroup: false,
		},
		{
			name:   "added while connecting",
			change: func(f *fixture, ownerID, groupID, userID string) error {
				return f.graph.AddMember(context.Background(), groupID, userID)
			},
			inGroup: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			owner, u := f.user(t, "owner"), f.user(t, "alice")
			g, err := f.graph.CreateGroup(ctx, owner.ID, "Private", false)
			require.NoError(t, err)
			if tt.member {
				require.NoError(t, f.graph.AddMember(ctx, g.ID, u.ID))
			}

			hook := &connectHook{Store: f.store}
			hook.after = func() { assert.NoError(t, tt.change(f, owner.ID, g.ID, u.ID)) }
			mgr := NewManager(hook, fanout.NewEmitter(fanout.NewLocal(), nil), f.rooms, f.rot, nil)
			require.NoError(t, mgr.OnConnect(ctx, "c1", u.ID))

			want := map[string]bool{fanout.UserRoom(u.ID): true}
			if tt.inGroup {
				want[fanout.GroupRoom(g.ID)] = true
			}
			assert.Equal(t, want, f.rooms.of("c1"))
		})
	}
}

func TestPresenceReachesFriends(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	require.NoError(t, f.graph.AddFriend(ctx, alice.ID, bob.ID))
	f.rec.Reset()

	require.NoError(t, f.mgr.OnConnect(ctx, "c1", alice.ID))
	assert.ElementsMatch(t,
		[]string{fanout.UserRoom(alice.ID), fanout.UserRoom(bob.ID)},
		f.rec.Rooms(EventPresence))

	update, err := fanouttest.Decode[Update](f.rec.Events(EventPresence)[0])
	require.NoError(t, err)
	assert.Equal(t, Update{UserID: alice.ID, Online: true}, update)
}

func TestConcurrentConnectDisconnectNeverLeavesGhosts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u := f.user(t, "alice")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, f.mgr.OnConnect(ctx, id, u.ID))
			assert.NoError(t, f.mgr.OnDisconnect(ctx, id, u.ID))
		}(fmt.Sprintf("c%d", i))
	}
	wg.Wait()

	n, err := f.store.CountConnections(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, f.online(t, u.ID))
}

func TestForceDisconnectAll(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u := f.user(t, "alice")
	require.NoError(t, f.mgr.OnConnect(ctx, "c1", u.ID))
	require.NoError(t, f.mgr.OnConnect(ctx, "c2", u.ID))

	require.NoError(t, f.mgr.ForceDisconnectAll(ctx, u.ID))

	assert.Equal(t, []string{u.ID}, f.rot.calls)
	assert.False(t, f.online(t, u.ID))
	n, err := f.store.CountConnections(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	disconnects := f.rec.Ops(fanout.OpDisconnect)
	require.Len(t, disconnects, 1)
	assert.Equal(t, fanout.UserRoom(u.ID), disconnects[0].Room)

	// the sockets closing afterwards are harmless
	require.NoError(t, f.mgr.OnDisconnect(ctx, "c1", u.ID))
	assert.Equal(t, 2, f.rec.Count(EventPresence))
}

func TestForceDisconnectStopsWhenRotationFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u := f.user(t, "alice")
	require.NoError(t, f.mgr.OnConnect(ctx, "c1", u.ID))
	f.rot.err = errors.New("store down")

	assert.Error(t, f.mgr.ForceDisconnectAll(ctx, u.ID))
	assert.True(t, f.online(t, u.ID))
	assert.Empty(t, f.rec.Ops(fanout.OpDisconnect))
}

func TestReset(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u := f.user(t, "alice")
	require.NoError(t, f.mgr.OnConnect(ctx, "c1", u.ID))

	require.NoError(t, f.mgr.Reset(ctx))
	assert.False(t, f.online(t, u.ID))
	conns, err := f.store.ListConnections(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, conns)
}
