// Package presence tracks live connections and derives each user's online
// flag from the count of their connection rows.
package presence

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pliu/huddle/internal/apperr"
	"github.com/pliu/huddle/internal/fanout"
	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/store"
)

const EventPresence = "presence:update"

// Rooms is the in-process room table of the connections this process holds.
type Rooms interface {
	Join(connID, room string)
	Leave(connID, room string)
}

// SessionRotator invalidates every credential issued to a user.
type SessionRotator interface {
	RotateSession(ctx context.Context, userID string) error
}

type Update struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

type Manager struct {
	store    store.Store
	emitter  *fanout.Emitter
	rooms    Rooms
	sessions SessionRotator
	log      *slog.Logger
}

func NewManager(st store.Store, emitter *fanout.Emitter, rooms Rooms, sessions SessionRotator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    st,
		emitter:  emitter,
		rooms:    rooms,
		sessions: sessions,
		log:      logger.With("component", "presence"),
	}
}

// OnConnect records an authenticated connection, puts it in the user's room
// and the room of every group the user belongs to, and flips the user online
// if this is their first live connection.
//
// The user room is joined before the group list is read, so a membership
// change that lands while connecting either shows up in the list or reaches
// the connection through the user room.
func (m *Manager) OnConnect(ctx context.Context, connID, userID string) error {
	user, err := m.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Unauthorizedf("unknown user")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "load user")
	}

	userRoom := fanout.UserRoom(userID)
	m.rooms.Join(connID, userRoom)
	if err := m.store.CreateConnection(ctx, &models.Connection{ID: connID, UserID: userID}); err != nil {
		m.rooms.Leave(connID, userRoom)
		return apperr.Wrap(err, apperr.Internal, "create connection")
	}

	groups, err := m.store.ListUserGroups(ctx, userID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "list groups")
	}
	for _, g := range groups {
		m.rooms.Join(connID, fanout.GroupRoom(g.ID))
	}

	changed, err := m.store.SetOnlineIfConnected(ctx, userID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "set online")
	}
	if changed {
		m.broadcast(ctx, user, true)
	}
	m.log.Debug("connected", "conn", connID, "user", userID, "groups", len(groups))
	return nil
}

// OnDisconnect removes the connection and flips the user offline when it was
// the last one. Removing a row that is already gone is fine.
func (m *Manager) OnDisconnect(ctx context.Context, connID, userID string) error {
	if _, err := m.store.DeleteConnection(ctx, connID); err != nil {
		return apperr.Wrap(err, apperr.Internal, "delete connection")
	}
	return m.settleOffline(ctx, userID)
}

// ForceDisconnectAll invalidates the user's session and tears down every
// live connection on every process.
func (m *Manager) ForceDisconnectAll(ctx context.Context, userID string) error {
	if m.sessions != nil {
		if err := m.sessions.RotateSession(ctx, userID); err != nil {
			return err
		}
	}
	n, err := m.store.DeleteUserConnections(ctx, userID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "delete connections")
	}
	if err := m.settleOffline(ctx, userID); err != nil {
		return err
	}
	m.emitter.DisconnectUser(ctx, userID)
	m.log.Info("forced disconnect", "user", userID, "connections", n)
	return nil
}

// Reset forgets every connection. Sockets cannot outlive the process, so this
// runs on startup and on shutdown.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.store.ResetPresence(ctx); err != nil {
		return apperr.Wrap(err, apperr.Internal, "reset presence")
	}
	m.log.Info("presence reset")
	return nil
}

func (m *Manager) IsOnline(ctx context.Context, userID string) (bool, error) {
	online, err := m.store.IsOnline(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, apperr.NotFoundf("user %s not found", userID)
	}
	return online, apperr.Wrap(err, apperr.Internal, "load presence")
}

func (m *Manager) settleOffline(ctx context.Context, userID string) error {
	changed, err := m.store.SetOfflineIfDisconnected(ctx, userID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "set offline")
	}
	if !changed {
		return nil
	}
	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		m.log.Warn("presence broadcast skipped", "user", userID, "error", err)
		return nil
	}
	m.broadcast(ctx, user, false)
	return nil
}

// broadcast tells the user's own devices and every friend.
func (m *Manager) broadcast(ctx context.Context, user *models.User, online bool) {
	update := Update{UserID: user.ID, Online: online}
	m.emitter.EmitToUser(ctx, user.ID, EventPresence, update)
	for _, f := range user.Friends {
		m.emitter.EmitToUser(ctx, f.ID, EventPresence, update)
	}
}
