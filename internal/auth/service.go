// Package auth is the identity collaborator: passwords, access tokens and
// session rotation.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/pliu/huddle/internal/apperr"
	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type Service struct {
	store  store.Store
	secret []byte
	ttl    time.Duration
	log    *slog.Logger
	now    func() time.Time
}

func NewService(st store.Store, secret string, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		store:  st,
		secret: []byte(secret),
		ttl:    ttl,
		log:    logger.With("component", "auth"),
		now:    time.Now,
	}
}

// Register creates an account and returns it with a fresh access token.
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < 6 {
		return nil, "", apperr.BadRequestf("username and a password of at least 6 characters are required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", apperr.Wrap(err, apperr.Internal, "hash password")
	}
	session, err := newSessionToken()
	if err != nil {
		return nil, "", apperr.Wrap(err, apperr.Internal, "session token")
	}

	user := &models.User{
		Username:     username,
		Email:        strings.TrimSpace(strings.ToLower(email)),
		Password:     string(hashed),
		SessionToken: session,
	}
	err = s.store.CreateUser(ctx, user)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, "", apperr.Conflictf("username %q is taken", username)
	}
	if err != nil {
		return nil, "", apperr.Wrap(err, apperr.Internal, "create user")
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, "", err
	}
	s.log.Info("user registered", "user", user.ID)
	return user, token, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", apperr.Unauthorizedf("invalid credentials")
	}
	if err != nil {
		return nil, "", apperr.Wrap(err, apperr.Internal, "load user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, "", apperr.Unauthorizedf("invalid credentials")
	}
	token, err := s.IssueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *Service) IssueToken(user *models.User) (string, error) {
	token, err := signToken(s.secret, user.ID, user.SessionToken, s.ttl, s.now())
	if err != nil {
		return "", apperr.Wrap(err, apperr.Internal, "sign token")
	}
	return token, nil
}

// Authenticate resolves an access token to its user. Tokens issued before
// the user's last session rotation are rejected.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apperr.Unauthorizedf("missing token")
	}
	userID, err := subjectOf(token)
	if err != nil {
		return nil, apperr.Unauthorizedf("invalid token")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthorizedf("invalid token")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "load user")
	}
	if err := verifyToken(token, s.secret, user.SessionToken, user.ID); err != nil {
		return nil, apperr.Unauthorizedf("invalid token")
	}
	return user, nil
}

// ChangePassword replaces the user's password after checking the current
// one. Callers still have to end the user's sessions.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if len(next) < 6 {
		return apperr.BadRequestf("the new password needs at least 6 characters")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFoundf("user %s not found", userID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "load user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(current)); err != nil {
		return apperr.BadRequestf("current password is incorrect")
	}
	if current == next {
		return apperr.BadRequestf("the new password must differ from the current one")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "hash password")
	}
	err = s.store.SetPassword(ctx, userID, string(hashed))
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFoundf("user %s not found", userID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "set password")
	}
	s.log.Info("password changed", "user", userID)
	return nil
}

// RotateSession gives the user a new session token.
func (s *Service) RotateSession(ctx context.Context, userID string) error {
	session, err := newSessionToken()
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "session token")
	}
	err = s.store.SetSessionToken(ctx, userID, session)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFoundf("user %s not found", userID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "rotate session")
	}
	s.log.Info("session rotated", "user", userID)
	return nil
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
