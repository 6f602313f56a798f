// Package messages sends, pages and deletes direct and group messages.
package messages

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/pliu/huddle/internal/apperr"
	"github.com/pliu/huddle/internal/fanout"
	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/social"
	"github.com/pliu/huddle/internal/store"
)

const (
	EventDirect          = "message:direct"
	EventDirectTyping    = "message:direct_typing"
	EventDirectDelete    = "message:direct_delete"
	EventDirectDeleteAll = "message:direct_delete_all"
	EventGroup           = "message:group"
	EventGroupTyping     = "message:group_typing"
	EventGroupDelete     = "message:group_delete"
	EventGroupDeleteAll  = "messages:group_delete"
)

const (
	DefaultLimit = 30
	MaxLimit     = 100
)

// Typing is the payload of typing indicators.
type Typing struct {
	From    string `json:"from"`
	GroupID string `json:"group_id,omitempty"`
}

// Deleted is the payload of deletion events.
type Deleted struct {
	ID     string        `json:"id,omitempty"`
	From   string        `json:"from"`
	Target models.Target `json:"target"`
	Count  int64         `json:"count,omitempty"`
}

type Service struct {
	store        store.Store
	graph        *social.Service
	emitter      *fanout.Emitter
	defaultLimit int
	maxLimit     int
	log          *slog.Logger
}

func NewService(st store.Store, graph *social.Service, emitter *fanout.Emitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        st,
		graph:        graph,
		emitter:      emitter,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
		log:          logger.With("component", "messages"),
	}
}

// SetLimits overrides the page size used when none is asked for and the
// largest page served.
func (s *Service) SetLimits(defaultLimit, maxLimit int) {
	if defaultLimit > 0 {
		s.defaultLimit = defaultLimit
	}
	if maxLimit > 0 {
		s.maxLimit = maxLimit
	}
}

// SendDirect stores a message from one user to another and pushes it to the
// recipient and to the sender's other devices. Only friends may write to
// each other, though anyone may write to themselves.
func (s *Service) SendDirect(ctx context.Context, originConn, from, to, body string, attachments []string) (*models.Message, error) {
	if err := validateContent(body, attachments); err != nil {
		return nil, err
	}
	if err := s.requireFriends(ctx, from, to); err != nil {
		return nil, err
	}
	msg := &models.Message{From: from, Target: models.DirectTarget(to), Body: body, Attachments: attachments}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "save message")
	}
	s.emitter.EmitToUserExcept(ctx, originConn, from, EventDirect, msg)
	if to != from {
		s.emitter.EmitToUser(ctx, to, EventDirect, msg)
	}
	return msg, nil
}

// SendGroup stores a group message and pushes it to the group room, except
// the connection it came from.
func (s *Service) SendGroup(ctx context.Context, originConn, from, groupID, body string, attachments []string) (*models.Message, error) {
	if err := validateContent(body, attachments); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, groupID, from); err != nil {
		return nil, err
	}
	msg := &models.Message{From: from, Target: models.GroupTarget(groupID), Body: body, Attachments: attachments}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "save message")
	}
	s.emitter.EmitToGroupExcept(ctx, originConn, groupID, EventGroup, msg)
	return msg, nil
}

func (s *Service) DirectTyping(ctx context.Context, originConn, from, to string) error {
	if err := s.requireFriends(ctx, from, to); err != nil {
		return err
	}
	s.emitter.EmitToUserExcept(ctx, originConn, to, EventDirectTyping, Typing{From: from})
	return nil
}

func (s *Service) GroupTyping(ctx context.Context, originConn, from, groupID string) error {
	if err := s.requireMember(ctx, groupID, from); err != nil {
		return err
	}
	s.emitter.EmitToGroupExcept(ctx, originConn, groupID, EventGroupTyping, Typing{From: from, GroupID: groupID})
	return nil
}

// Direct pages the thread between me and other in ascending order.
func (s *Service) Direct(ctx context.Context, me, other string, page models.Page) ([]models.Message, error) {
	if _, err := s.graph.User(ctx, other); err != nil {
		return nil, err
	}
	return s.list(ctx, models.DirectTarget(other), me, page)
}

// Group pages a group's stream. Private groups are readable by members only.
func (s *Service) Group(ctx context.Context, viewer, groupID string, page models.Page) ([]models.Message, error) {
	g, err := s.graph.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsPublic {
		if err := s.requireMember(ctx, groupID, viewer); err != nil {
			return nil, err
		}
	}
	return s.list(ctx, models.GroupTarget(groupID), viewer, page)
}

func (s *Service) list(ctx context.Context, target models.Target, viewer string, page models.Page) ([]models.Message, error) {
	if !page.Before.IsZero() && !page.After.IsZero() {
		return nil, apperr.BadRequestf("use either before or after, not both")
	}
	if page.Limit < 0 {
		return nil, apperr.BadRequestf("limit must be positive")
	}
	if page.Limit == 0 {
		page.Limit = s.defaultLimit
	}
	if page.Limit > s.maxLimit {
		page.Limit = s.maxLimit
	}
	msgs, err := s.store.ListMessages(ctx, target, viewer, page)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "list messages")
	}
	return msgs, nil
}

// Delete removes one message. Authors may delete their own messages and
// group owners any message in their group.
func (s *Service) Delete(ctx context.Context, actor, messageID string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFoundf("message not found")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "load message")
	}
	if msg.From != actor {
		if !msg.Target.IsGroup() {
			return apperr.Forbiddenf("only the author can delete this message")
		}
		g, err := s.graph.Group(ctx, msg.Target.ID)
		if err != nil {
			return err
		}
		if g.Owner != actor {
			return apperr.Forbiddenf("only the author or the group owner can delete this message")
		}
	}

	ok, err := s.store.DeleteMessage(ctx, msg.ID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "delete message")
	}
	if !ok {
		return apperr.NotFoundf("message not found")
	}

	payload := Deleted{ID: msg.ID, From: msg.From, Target: msg.Target}
	if msg.Target.IsGroup() {
		s.emitter.EmitToGroup(ctx, msg.Target.ID, EventGroupDelete, payload)
		return nil
	}
	s.emitter.EmitToUser(ctx, msg.From, EventDirectDelete, payload)
	if msg.Target.ID != msg.From {
		s.emitter.EmitToUser(ctx, msg.Target.ID, EventDirectDelete, payload)
	}
	return nil
}

// DeleteDirectThread removes every message actor sent to other and reports
// how many went.
func (s *Service) DeleteDirectThread(ctx context.Context, actor, other string) (int64, error) {
	if _, err := s.graph.User(ctx, other); err != nil {
		return 0, err
	}
	target := models.DirectTarget(other)
	n, err := s.store.DeleteMessages(ctx, target, actor)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.Internal, "delete messages")
	}
	payload := Deleted{From: actor, Target: target, Count: n}
	s.emitter.EmitToUser(ctx, actor, EventDirectDeleteAll, payload)
	if other != actor {
		s.emitter.EmitToUser(ctx, other, EventDirectDeleteAll, payload)
	}
	return n, nil
}

// DeleteGroupMessages clears a group's history. Owner only.
func (s *Service) DeleteGroupMessages(ctx context.Context, actor, groupID string) (int64, error) {
	g, err := s.graph.Group(ctx, groupID)
	if err != nil {
		return 0, err
	}
	if g.Owner != actor {
		return 0, apperr.Forbiddenf("only the owner can clear the group")
	}
	target := models.GroupTarget(groupID)
	n, err := s.store.DeleteMessages(ctx, target, "")
	if err != nil {
		return 0, apperr.Wrap(err, apperr.Internal, "delete messages")
	}
	s.emitter.EmitToGroup(ctx, groupID, EventGroupDeleteAll, Deleted{From: actor, Target: target, Count: n})
	return n, nil
}

func (s *Service) requireFriends(ctx context.Context, from, to string) error {
	if _, err := s.graph.User(ctx, to); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	ok, err := s.store.IsFriend(ctx, from, to)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "check friendship")
	}
	if !ok {
		return apperr.Forbiddenf("you can only message friends")
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, groupID, userID string) error {
	if _, err := s.graph.Group(ctx, groupID); err != nil {
		return err
	}
	ok, err := s.store.IsMember(ctx, groupID, userID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "check membership")
	}
	if !ok {
		return apperr.Forbiddenf("not a member of this group")
	}
	return nil
}

func validateContent(body string, attachments []string) error {
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return apperr.BadRequestf("message is empty")
	}
	return nil
}
