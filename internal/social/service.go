// Package social keeps the denormalized friend and membership lists in step.
//
// Every relationship lives in two places: a user's friend list and the
// friend's list, or a group's member list and the member's group list. Each
// half is written by its own guarded statement so re-applying an operation is
// a no-op, and only a half that actually changed emits an event.
package social

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/pliu/huddle/internal/apperr"
	"github.com/pliu/huddle/internal/fanout"
	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/store"
)

const (
	EventFriendAdd        = "friend:add"
	EventFriendRemove     = "friend:remove"
	EventGroupSubscribe   = "group:subscribe"
	EventGroupUnsubscribe = "group:unsubscribe"
	EventGroupUpdate      = "group:update"
	EventGroupDelete      = "group:delete"
)

const searchLimit = 20

type Service struct {
	store   store.Store
	emitter *fanout.Emitter
	log     *slog.Logger
}

func NewService(st store.Store, emitter *fanout.Emitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, emitter: emitter, log: logger.With("component", "social")}
}

// User loads a user or fails with NotFound.
func (s *Service) User(ctx context.Context, id string) (*models.User, error) {
	u, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFoundf("user %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "load user")
	}
	return u, nil
}

// Group loads a group or fails with NotFound.
func (s *Service) Group(ctx context.Context, id string) (*models.Group, error) {
	g, err := s.store.GetGroup(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFoundf("group %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "load group")
	}
	return g, nil
}

// AddFriend makes a and b friends. Calling it again is a no-op.
func (s *Service) AddFriend(ctx context.Context, aID, bID string) error {
	if aID == bID {
		return apperr.BadRequestf("cannot befriend yourself")
	}
	a, err := s.User(ctx, aID)
	if err != nil {
		return err
	}
	b, err := s.User(ctx, bID)
	if err != nil {
		return err
	}
	if err := s.addFriendEntry(ctx, a, b); err != nil {
		return err
	}
	return s.addFriendEntry(ctx, b, a)
}

func (s *Service) addFriendEntry(ctx context.Context, owner, friend *models.User) error {
	changed, err := s.store.AddFriendEntry(ctx, owner.ID, friend.ID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "add friend")
	}
	if changed {
		s.emitter.EmitToUser(ctx, owner.ID, EventFriendAdd, friend.Public())
	}
	return nil
}

// RemoveFriend drops the friendship from both lists. Calling it again is a
// no-op.
func (s *Service) RemoveFriend(ctx context.Context, aID, bID string) error {
	a, err := s.User(ctx, aID)
	if err != nil {
		return err
	}
	b, err := s.User(ctx, bID)
	if err != nil {
		return err
	}
	if err := s.removeFriendEntry(ctx, a, b); err != nil {
		return err
	}
	return s.removeFriendEntry(ctx, b, a)
}

func (s *Service) removeFriendEntry(ctx context.Context, owner, friend *models.User) error {
	changed, err := s.store.RemoveFriendEntry(ctx, owner.ID, friend.ID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "remove friend")
	}
	if changed {
		s.emitter.EmitToUser(ctx, owner.ID, EventFriendRemove, friend.Public())
	}
	return nil
}

// Unfriend is RemoveFriend for a caller that must currently be a friend.
func (s *Service) Unfriend(ctx context.Context, me, other string) error {
	ok, err := s.store.IsFriend(ctx, me, other)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "check friendship")
	}
	if !ok {
		return apperr.NotFoundf("%s is not your friend", other)
	}
	return s.RemoveFriend(ctx, me, other)
}

// AddMember joins user to group: the member list first, then the user's own
// group list. Live connections of the user join the group's room as soon as
// the user side changes.
func (s *Service) AddMember(ctx context.Context, groupID, userID string) error {
	g, err := s.Group(ctx, groupID)
	if err != nil {
		return err
	}
	u, err := s.User(ctx, userID)
	if err != nil {
		return err
	}

	changed, err := s.store.AddMemberEntry(ctx, g.ID, u.ID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "add member")
	}
	if changed {
		s.emitter.EmitToGroup(ctx, g.ID, EventGroupSubscribe, u.Public())
	}

	changed, err = s.store.AddUserGroupEntry(ctx, u.ID, g.ID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "add user group")
	}
	if changed {
		s.emitter.JoinUserToGroup(ctx, u.ID, g.ID)
		s.emitter.EmitToUser(ctx, u.ID, EventGroupSubscribe, g.Sub())
	}
	return nil
}

// RemoveMember is the reverse of AddMember.
func (s *Service) RemoveMember(ctx context.Context, groupID, userID string) error {
	g, err := s.Group(ctx, groupID)
	if err != nil {
		return err
	}
	u, err := s.User(ctx, userID)
	if err != nil {
		return err
	}

	changed, err := s.store.RemoveMemberEntry(ctx, g.ID, u.ID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "remove member")
	}
	if changed {
		s.emitter.EmitToGroup(ctx, g.ID, EventGroupUnsubscribe, u.Public())
	}

	changed, err = s.store.RemoveUserGroupEntry(ctx, u.ID, g.ID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "remove user group")
	}
	if changed {
		s.emitter.LeaveUserFromGroup(ctx, u.ID, g.ID)
		s.emitter.EmitToUser(ctx, u.ID, EventGroupUnsubscribe, g.Sub())
	}
	return nil
}

// SyncGroupInfo copies the group's canonical title, owner and visibility
// into every member's group list and tells the group room.
func (s *Service) SyncGroupInfo(ctx context.Context, groupID string) error {
	if _, err := s.store.SyncUserGroupEntries(ctx, groupID); err != nil {
		return apperr.Wrap(err, apperr.Internal, "sync group")
	}
	g, err := s.Group(ctx, groupID)
	if err != nil {
		return err
	}
	s.emitter.EmitToGroup(ctx, g.ID, EventGroupUpdate, g.Sub())
	return nil
}

// SyncFriendInfo copies the user's canonical username into every friend
// list and member list that mentions the user.
func (s *Service) SyncFriendInfo(ctx context.Context, userID string) error {
	if _, err := s.User(ctx, userID); err != nil {
		return err
	}
	if _, err := s.store.SyncFriendEntries(ctx, userID); err != nil {
		return apperr.Wrap(err, apperr.Internal, "sync friend")
	}
	return nil
}

// ResyncFriend refreshes the caller's copy of one friend.
func (s *Service) ResyncFriend(ctx context.Context, me, friendID string) error {
	ok, err := s.store.IsFriend(ctx, me, friendID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "check friendship")
	}
	if !ok {
		return apperr.NotFoundf("%s is not your friend", friendID)
	}
	return s.SyncFriendInfo(ctx, friendID)
}

// ResyncGroup refreshes the caller's copy of one group.
func (s *Service) ResyncGroup(ctx context.Context, me, groupID string) error {
	if err := s.requireMember(ctx, groupID, me); err != nil {
		return err
	}
	return s.SyncGroupInfo(ctx, groupID)
}

func (s *Service) CreateGroup(ctx context.Context, ownerID, title string, isPublic bool) (*models.Group, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperr.BadRequestf("title is required")
	}
	if _, err := s.User(ctx, ownerID); err != nil {
		return nil, err
	}
	g := &models.Group{Title: title, Owner: ownerID, IsPublic: isPublic}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "create group")
	}
	if err := s.AddMember(ctx, g.ID, ownerID); err != nil {
		return nil, err
	}
	return s.Group(ctx, g.ID)
}

// GroupUpdate holds the fields an owner may change. Nil fields are kept.
type GroupUpdate struct {
	Title    *string `json:"title,omitempty"`
	IsPublic *bool   `json:"is_public,omitempty"`
	Owner    *string `json:"owner,omitempty"`
}

// UpdateGroup changes group metadata and propagates it to every member.
func (s *Service) UpdateGroup(ctx context.Context, actor, groupID string, upd GroupUpdate) (*models.Group, error) {
	g, err := s.ownedGroup(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return nil, apperr.BadRequestf("title is required")
		}
		g.Title = title
	}
	if upd.IsPublic != nil {
		g.IsPublic = *upd.IsPublic
	}
	if upd.Owner != nil && *upd.Owner != g.Owner {
		if err := s.requireMember(ctx, g.ID, *upd.Owner); err != nil {
			return nil, apperr.BadRequestf("new owner must be a member")
		}
		g.Owner = *upd.Owner
	}

	err = s.store.UpdateGroup(ctx, g, actor)
	if errors.Is(err, store.ErrNotFound) {
		// ownership moved or the group vanished since we looked
		if _, err := s.Group(ctx, groupID); err != nil {
			return nil, err
		}
		return nil, apperr.Forbiddenf("only the owner can edit the group")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "update group")
	}

	if err := s.SyncGroupInfo(ctx, g.ID); err != nil {
		return nil, err
	}
	return s.Group(ctx, g.ID)
}

// DeleteGroup removes the group and everything hanging off it: messages,
// pending requests, every member's copy, and the live room.
func (s *Service) DeleteGroup(ctx context.Context, actor, groupID string) error {
	g, err := s.ownedGroup(ctx, actor, groupID)
	if err != nil {
		return err
	}

	// The group row goes first: once it is gone no concurrent AddMember can
	// copy the group into a member list, so the sweeps below are final.
	if _, err := s.store.DeleteGroup(ctx, g.ID); err != nil {
		return apperr.Wrap(err, apperr.Internal, "delete group")
	}
	if _, err := s.store.RemoveGroupFromUsers(ctx, g.ID); err != nil {
		return apperr.Wrap(err, apperr.Internal, "remove group from users")
	}
	if _, err := s.store.DeleteMessages(ctx, models.GroupTarget(g.ID), ""); err != nil {
		return apperr.Wrap(err, apperr.Internal, "delete group messages")
	}
	if _, err := s.store.DeleteRequests(ctx, models.RequestFilter{GroupID: g.ID}); err != nil {
		return apperr.Wrap(err, apperr.Internal, "delete group requests")
	}

	s.emitter.EmitToGroup(ctx, g.ID, EventGroupDelete, g.Sub())
	s.emitter.EvictGroup(ctx, g.ID)
	s.log.Info("group deleted", "group", g.ID, "members", len(g.Members))
	return nil
}

// KickMember lets the owner remove someone else from the group.
func (s *Service) KickMember(ctx context.Context, actor, groupID, userID string) error {
	g, err := s.ownedGroup(ctx, actor, groupID)
	if err != nil {
		return err
	}
	if userID == g.Owner {
		return apperr.BadRequestf("the owner cannot be kicked")
	}
	if err := s.requireMember(ctx, g.ID, userID); err != nil {
		return err
	}
	return s.RemoveMember(ctx, g.ID, userID)
}

// JoinPublicGroup adds the caller straight to a public group.
func (s *Service) JoinPublicGroup(ctx context.Context, userID, groupID string) error {
	g, err := s.Group(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.IsPublic {
		return apperr.Forbiddenf("group is private, send a join request")
	}
	member, err := s.store.IsMember(ctx, g.ID, userID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "check membership")
	}
	if member {
		return apperr.Conflictf("already a member")
	}
	return s.AddMember(ctx, g.ID, userID)
}

// LeaveGroup removes the caller. The owner has to delete the group or hand
// it over first.
func (s *Service) LeaveGroup(ctx context.Context, userID, groupID string) error {
	g, err := s.Group(ctx, groupID)
	if err != nil {
		return err
	}
	if g.Owner == userID {
		return apperr.BadRequestf("the owner cannot leave the group")
	}
	if err := s.requireMember(ctx, g.ID, userID); err != nil {
		return err
	}
	return s.RemoveMember(ctx, g.ID, userID)
}

// RenameUser changes the username and refreshes every copy of it.
func (s *Service) RenameUser(ctx context.Context, userID, username string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperr.BadRequestf("username is required")
	}
	err := s.store.UpdateUsername(ctx, userID, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.NotFoundf("user %s not found", userID)
	case errors.Is(err, store.ErrDuplicate):
		return nil, apperr.Conflictf("username %q is taken", username)
	case err != nil:
		return nil, apperr.Wrap(err, apperr.Internal, "rename user")
	}
	if err := s.SyncFriendInfo(ctx, userID); err != nil {
		return nil, err
	}
	return s.User(ctx, userID)
}

func (s *Service) Friends(ctx context.Context, userID string) ([]models.SubUser, error) {
	friends, err := s.store.ListFriends(ctx, userID)
	return friends, apperr.Wrap(err, apperr.Internal, "list friends")
}

func (s *Service) Groups(ctx context.Context, userID string) ([]models.SubGroup, error) {
	groups, err := s.store.ListUserGroups(ctx, userID)
	return groups, apperr.Wrap(err, apperr.Internal, "list groups")
}

func (s *Service) OwnedGroups(ctx context.Context, userID string) ([]models.SubGroup, error) {
	groups, err := s.store.ListOwnedGroups(ctx, userID)
	return groups, apperr.Wrap(err, apperr.Internal, "list owned groups")
}

// Members lists a group's members. Private groups only show them to members.
func (s *Service) Members(ctx context.Context, viewer, groupID string) ([]models.SubUser, error) {
	g, err := s.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsPublic {
		if err := s.requireMember(ctx, g.ID, viewer); err != nil {
			return nil, apperr.Forbiddenf("group is private")
		}
	}
	return g.Members, nil
}

func (s *Service) SearchGroups(ctx context.Context, query string, publicOnly bool) ([]models.SubGroup, error) {
	groups, err := s.store.SearchGroups(ctx, query, publicOnly, searchLimit)
	return groups, apperr.Wrap(err, apperr.Internal, "search groups")
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]models.PublicUser, error) {
	users, err := s.store.SearchUsers(ctx, query, searchLimit)
	return users, apperr.Wrap(err, apperr.Internal, "search users")
}

func (s *Service) ownedGroup(ctx context.Context, actor, groupID string) (*models.Group, error) {
	g, err := s.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.Owner != actor {
		return nil, apperr.Forbiddenf("only the owner can do that")
	}
	return g, nil
}

func (s *Service) requireMember(ctx context.Context, groupID, userID string) error {
	ok, err := s.store.IsMember(ctx, groupID, userID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "check membership")
	}
	if !ok {
		return apperr.NotFoundf("%s is not a member", userID)
	}
	return nil
}
