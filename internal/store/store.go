package store

import (
	"context"
	"errors"

	"github.com/pliu/huddle/internal/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
)

// Store is the durable relationship store. Every write that can race with
// another device or user is a single guarded statement; methods returning a
// bool report whether the write actually changed a row.
type Store interface {
	UserStore
	FriendStore
	GroupStore
	ConnectionStore
	RequestStore
	MessageStore

	ResetPresence(ctx context.Context) error
	Close() error
}

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	// GetUserByID loads the user together with its friend and group lists.
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]models.PublicUser, error)
	UpdateUsername(ctx context.Context, id, username string) error
	SetSessionToken(ctx context.Context, id, token string) error
	SetPassword(ctx context.Context, id, hashed string) error

	// SetOnlineIfConnected flips online to true only if the user is offline
	// and has at least one connection row.
	SetOnlineIfConnected(ctx context.Context, userID string) (bool, error)
	// SetOfflineIfDisconnected flips online to false only if the user is
	// online and has no connection rows left.
	SetOfflineIfDisconnected(ctx context.Context, userID string) (bool, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
}

type FriendStore interface {
	// AddFriendEntry writes one half of a friendship, copying the friend's
	// current username. It does nothing when the entry exists or the friend
	// does not.
	AddFriendEntry(ctx context.Context, userID, friendID string) (bool, error)
	RemoveFriendEntry(ctx context.Context, userID, friendID string) (bool, error)
	ListFriends(ctx context.Context, userID string) ([]models.SubUser, error)
	IsFriend(ctx context.Context, userID, otherID string) (bool, error)
	// SyncFriendEntries copies the user's canonical username into every
	// friend list and member list entry that refers to it.
	SyncFriendEntries(ctx context.Context, userID string) (int64, error)
}

type GroupStore interface {
	CreateGroup(ctx context.Context, group *models.Group) error
	// GetGroup loads the group together with its member list.
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	// UpdateGroup writes title, visibility and owner only while the group is
	// still owned by expectedOwner. ErrNotFound otherwise.
	UpdateGroup(ctx context.Context, group *models.Group, expectedOwner string) error
	DeleteGroup(ctx context.Context, id string) (bool, error)
	SearchGroups(ctx context.Context, query string, publicOnly bool, limit int) ([]models.SubGroup, error)
	ListOwnedGroups(ctx context.Context, ownerID string) ([]models.SubGroup, error)

	// AddMemberEntry copies the user's current username into the member
	// list. It does nothing when the entry exists or the group does not.
	AddMemberEntry(ctx context.Context, groupID, userID string) (bool, error)
	RemoveMemberEntry(ctx context.Context, groupID, userID string) (bool, error)
	ListMembers(ctx context.Context, groupID string) ([]models.SubUser, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)

	// AddUserGroupEntry copies the group's current fields into the user's
	// group list. It does nothing when the group row is gone.
	AddUserGroupEntry(ctx context.Context, userID, groupID string) (bool, error)
	RemoveUserGroupEntry(ctx context.Context, userID, groupID string) (bool, error)
	ListUserGroups(ctx context.Context, userID string) ([]models.SubGroup, error)
	// SyncUserGroupEntries copies the group's canonical fields into every
	// user's group list entry in one statement.
	SyncUserGroupEntries(ctx context.Context, groupID string) (int64, error)
	RemoveGroupFromUsers(ctx context.Context, groupID string) (int64, error)
}

type ConnectionStore interface {
	CreateConnection(ctx context.Context, conn *models.Connection) error
	DeleteConnection(ctx context.Context, id string) (bool, error)
	DeleteUserConnections(ctx context.Context, userID string) (int64, error)
	ListConnections(ctx context.Context, userID string) ([]models.Connection, error)
	CountConnections(ctx context.Context, userID string) (int, error)
}

type RequestStore interface {
	// UpsertRequest inserts the request or, when one with the same type,
	// from, to and group exists, refreshes its updated_at. The stored row is
	// copied back into req. created reports whether a new row was inserted.
	UpsertRequest(ctx context.Context, req *models.Request) (created bool, err error)
	GetRequest(ctx context.Context, id string) (*models.Request, error)
	ListRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
	DeleteRequest(ctx context.Context, id string) (bool, error)
	DeleteRequests(ctx context.Context, filter models.RequestFilter) (int64, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// ListMessages returns a page of the stream addressed by target. For a
	// direct target the stream is the thread between viewer and target.ID.
	// Results are in ascending creation order.
	ListMessages(ctx context.Context, target models.Target, viewer string, page models.Page) ([]models.Message, error)
	DeleteMessage(ctx context.Context, id string) (bool, error)
	// DeleteMessages removes messages sent to target, only those sent by from
	// when from is not empty.
	DeleteMessages(ctx context.Context, target models.Target, from string) (int64, error)
}
