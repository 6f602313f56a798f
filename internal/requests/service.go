// Package requests runs the friend request, group join request and group
// invitation lifecycle. A request is pending while its row exists; accepting,
// declining or withdrawing it deletes the row, and rows whose updated_at is
// older than the TTL are treated as gone and purged when a read sees them.
package requests

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pliu/huddle/internal/apperr"
	"github.com/pliu/huddle/internal/fanout"
	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/social"
	"github.com/pliu/huddle/internal/store"
)

const (
	EventFriendRequest   = "friend:request"
	EventGroupRequest    = "group:request"
	EventGroupInvitation = "group:invitation"
	EventDecline         = "request:decline"
	EventWithdraw        = "request:withdraw"
)

// Notifier tells an offline user about a new request, by email for instance.
type Notifier interface {
	NotifyRequest(ctx context.Context, to, from *models.User, req *models.Request) error
}

type Service struct {
	store    store.Store
	graph    *social.Service
	emitter  *fanout.Emitter
	ttl      time.Duration
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

// NewService builds the state machine. A ttl of zero keeps requests forever.
func NewService(st store.Store, graph *social.Service, emitter *fanout.Emitter, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		graph:   graph,
		emitter: emitter,
		ttl:     ttl,
		log:     logger.With("component", "requests"),
		now:     time.Now,
	}
}

func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Service) CreateFriendRequest(ctx context.Context, from, to string) (*models.Request, error) {
	if from == to {
		return nil, apperr.BadRequestf("cannot send a friend request to yourself")
	}
	sender, err := s.graph.User(ctx, from)
	if err != nil {
		return nil, err
	}
	target, err := s.graph.User(ctx, to)
	if err != nil {
		return nil, err
	}
	friends, err := s.store.IsFriend(ctx, from, to)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "check friendship")
	}
	if friends {
		return nil, apperr.Conflictf("already friends")
	}

	req := &models.Request{Type: models.RequestFriend, From: from, To: to}
	if err := s.upsert(ctx, req); err != nil {
		return nil, err
	}
	s.notifyBoth(ctx, req, EventFriendRequest)
	s.notifyOffline(ctx, target, sender, req)
	return req, nil
}

// CreateGroupJoinRequest asks the owner of a private group to let from in.
func (s *Service) CreateGroupJoinRequest(ctx context.Context, from, groupID string) (*models.Request, error) {
	sender, err := s.graph.User(ctx, from)
	if err != nil {
		return nil, err
	}
	g, err := s.graph.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.IsPublic {
		return nil, apperr.BadRequestf("public groups are joined directly")
	}
	if err := s.rejectMember(ctx, g.ID, from); err != nil {
		return nil, err
	}
	owner, err := s.graph.User(ctx, g.Owner)
	if err != nil {
		return nil, err
	}

	req := &models.Request{Type: models.RequestGroupJoin, From: from, To: g.Owner, GroupID: g.ID}
	if err := s.upsert(ctx, req); err != nil {
		return nil, err
	}
	s.notifyBoth(ctx, req, EventGroupRequest)
	s.notifyOffline(ctx, owner, sender, req)
	return req, nil
}

func (s *Service) CreateGroupInvitation(ctx context.Context, owner, target, groupID string) (*models.Request, error) {
	if owner == target {
		return nil, apperr.BadRequestf("cannot invite yourself")
	}
	g, err := s.graph.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.Owner != owner {
		return nil, apperr.Forbiddenf("only the owner can invite")
	}
	sender, err := s.graph.User(ctx, owner)
	if err != nil {
		return nil, err
	}
	invitee, err := s.graph.User(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := s.rejectMember(ctx, g.ID, target); err != nil {
		return nil, err
	}

	req := &models.Request{Type: models.RequestGroupInvite, From: owner, To: target, GroupID: g.ID}
	if err := s.upsert(ctx, req); err != nil {
		return nil, err
	}
	s.notifyBoth(ctx, req, EventGroupInvitation)
	s.notifyOffline(ctx, invitee, sender, req)
	return req, nil
}

// Accept accepts a request by id. Only the target may accept.
func (s *Service) Accept(ctx context.Context, actor, requestID string) (*models.Request, error) {
	req, err := s.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.To != actor {
		return nil, apperr.Forbiddenf("only the recipient can accept a request")
	}
	switch req.Type {
	case models.RequestFriend:
		return s.AcceptFriendRequest(ctx, actor, req.From)
	case models.RequestGroupJoin:
		return s.AcceptGroupJoinRequest(ctx, actor, req.From, req.GroupID)
	case models.RequestGroupInvite:
		return s.AcceptGroupInvitation(ctx, actor, req.GroupID)
	}
	return nil, apperr.BadRequestf("unknown request type %q", req.Type)
}

func (s *Service) AcceptFriendRequest(ctx context.Context, actor, from string) (*models.Request, error) {
	filter := models.RequestFilter{Type: models.RequestFriend, From: from, To: actor}
	return s.accept(ctx, filter, func(req *models.Request) error {
		return s.graph.AddFriend(ctx, req.From, req.To)
	})
}

// AcceptGroupJoinRequest lets the owner admit from into the group.
func (s *Service) AcceptGroupJoinRequest(ctx context.Context, owner, from, groupID string) (*models.Request, error) {
	g, err := s.graph.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.Owner != owner {
		return nil, apperr.Forbiddenf("only the owner can accept join requests")
	}
	filter := models.RequestFilter{Type: models.RequestGroupJoin, From: from, To: owner, GroupID: groupID}
	return s.accept(ctx, filter, func(req *models.Request) error {
		return s.graph.AddMember(ctx, req.GroupID, req.From)
	})
}

// AcceptGroupInvitation joins actor to the group it was invited to. Only an
// invitation from the current owner counts; any left over from a former
// owner is dropped on the way.
func (s *Service) AcceptGroupInvitation(ctx context.Context, actor, groupID string) (*models.Request, error) {
	g, err := s.graph.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	filter := models.RequestFilter{Type: models.RequestGroupInvite, To: actor, GroupID: groupID}
	invites, err := s.list(ctx, filter)
	if err != nil {
		return nil, err
	}
	valid := false
	for _, inv := range invites {
		if inv.From == g.Owner {
			valid = true
			continue
		}
		if _, err := s.store.DeleteRequest(ctx, inv.ID); err != nil {
			return nil, apperr.Wrap(err, apperr.Internal, "delete stale invitation")
		}
	}
	if !valid && len(invites) > 0 {
		return nil, apperr.NotFoundf("invitation is no longer valid")
	}

	filter.From = g.Owner
	return s.accept(ctx, filter, func(req *models.Request) error {
		return s.graph.AddMember(ctx, req.GroupID, req.To)
	})
}

// accept validates a fresh request matching filter, claims it by deleting
// its row and then applies the relationship. Losing the claim to a
// concurrent accept yields NotFound, so the relationship is applied once.
func (s *Service) accept(ctx context.Context, filter models.RequestFilter, apply func(*models.Request) error) (*models.Request, error) {
	req, err := s.findFresh(ctx, filter)
	if err != nil {
		return nil, err
	}
	if err := s.claim(ctx, req); err != nil {
		return nil, err
	}
	if err := apply(req); err != nil {
		return nil, err
	}
	s.log.Info("request accepted", "request", req.ID, "type", req.Type, "from", req.From, "to", req.To)
	return req, nil
}

// Decline drops a request addressed to actor.
func (s *Service) Decline(ctx context.Context, actor, requestID string) error {
	req, err := s.get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.To != actor {
		return apperr.Forbiddenf("only the recipient can decline a request")
	}
	if err := s.claim(ctx, req); err != nil {
		return err
	}
	s.emitter.EmitToUser(ctx, req.From, EventDecline, req)
	return nil
}

// Withdraw drops a request actor created.
func (s *Service) Withdraw(ctx context.Context, actor, requestID string) error {
	req, err := s.get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.From != actor {
		return apperr.Forbiddenf("only the sender can withdraw a request")
	}
	if err := s.claim(ctx, req); err != nil {
		return err
	}
	s.emitter.EmitToUser(ctx, req.To, EventWithdraw, req)
	return nil
}

// WithdrawAll drops every request actor created.
func (s *Service) WithdrawAll(ctx context.Context, actor string) (int64, error) {
	n, err := s.store.DeleteRequests(ctx, models.RequestFilter{From: actor})
	if err != nil {
		return 0, apperr.Wrap(err, apperr.Internal, "withdraw requests")
	}
	return n, nil
}

// RequestsFrom lists pending requests sent by userID, optionally of one type.
func (s *Service) RequestsFrom(ctx context.Context, userID string, typ models.RequestType) ([]models.Request, error) {
	return s.list(ctx, models.RequestFilter{Type: typ, From: userID})
}

// RequestsTo lists pending requests addressed to userID.
func (s *Service) RequestsTo(ctx context.Context, userID string, typ models.RequestType) ([]models.Request, error) {
	return s.list(ctx, models.RequestFilter{Type: typ, To: userID})
}

func (s *Service) list(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, apperr.BadRequestf("unknown request type %q", filter.Type)
	}
	all, err := s.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "list requests")
	}
	fresh := make([]models.Request, 0, len(all))
	for i := range all {
		if s.purgeIfExpired(ctx, &all[i]) {
			continue
		}
		fresh = append(fresh, all[i])
	}
	return fresh, nil
}

func (s *Service) findFresh(ctx context.Context, filter models.RequestFilter) (*models.Request, error) {
	reqs, err := s.list(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, apperr.NotFoundf("request not found")
	}
	return &reqs[0], nil
}

func (s *Service) get(ctx context.Context, id string) (*models.Request, error) {
	req, err := s.store.GetRequest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFoundf("request not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "load request")
	}
	if s.purgeIfExpired(ctx, req) {
		return nil, apperr.NotFoundf("request expired")
	}
	return req, nil
}

func (s *Service) claim(ctx context.Context, req *models.Request) error {
	ok, err := s.store.DeleteRequest(ctx, req.ID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "delete request")
	}
	if !ok {
		return apperr.NotFoundf("request not found")
	}
	return nil
}

func (s *Service) expired(req *models.Request) bool {
	return s.ttl > 0 && s.now().Sub(req.UpdatedAt) > s.ttl
}

func (s *Service) purgeIfExpired(ctx context.Context, req *models.Request) bool {
	if !s.expired(req) {
		return false
	}
	if _, err := s.store.DeleteRequest(ctx, req.ID); err != nil {
		s.log.Warn("purge expired request", "request", req.ID, "error", err)
	}
	return true
}

// upsert stores the request; re-issuing an identical one refreshes its
// timestamp and so restarts the TTL.
func (s *Service) upsert(ctx context.Context, req *models.Request) error {
	req.UpdatedAt = s.now().UTC()
	created, err := s.store.UpsertRequest(ctx, req)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "save request")
	}
	s.log.Debug("request saved", "request", req.ID, "type", req.Type, "created", created)
	return nil
}

func (s *Service) notifyBoth(ctx context.Context, req *models.Request, event string) {
	s.emitter.EmitToUser(ctx, req.From, event, req)
	s.emitter.EmitToUser(ctx, req.To, event, req)
}

func (s *Service) notifyOffline(ctx context.Context, to, from *models.User, req *models.Request) {
	if s.notifier == nil || to.Online || to.Email == "" {
		return
	}
	if err := s.notifier.NotifyRequest(ctx, to, from, req); err != nil {
		s.log.Warn("request notice failed", "request", req.ID, "to", to.ID, "error", err)
	}
}

func (s *Service) rejectMember(ctx context.Context, groupID, userID string) error {
	member, err := s.store.IsMember(ctx, groupID, userID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "check membership")
	}
	if member {
		return apperr.Conflictf("already a member")
	}
	return nil
}
