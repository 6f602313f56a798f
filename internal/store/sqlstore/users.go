package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/store"
)

type userRow struct {
	ID           string `db:"id"`
	Username     string `db:"username"`
	Email        string `db:"email"`
	Password     string `db:"password"`
	SessionToken string `db:"session_token"`
	Online       bool   `db:"online"`
	CreatedAt    int64  `db:"created_at"`
}

func (r userRow) model() *models.User {
	return &models.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		Password:     r.Password,
		SessionToken: r.SessionToken,
		Online:       r.Online,
		CreatedAt:    fromNanos(r.CreatedAt),
		Friends:      []models.SubUser{},
		Groups:       []models.SubGroup{},
	}
}

const userColumns = "id, username, email, password, session_token, online, created_at"

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.Username, user.Email, user.Password, user.SessionToken, false, nanos(user.CreatedAt))
	return err
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT "+userColumns+" FROM users WHERE id = ?"), id)
	if err != nil {
		return nil, translate(err)
	}
	user := row.model()
	if user.Friends, err = s.ListFriends(ctx, id); err != nil {
		return nil, err
	}
	if user.Groups, err = s.ListUserGroups(ctx, id); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT "+userColumns+" FROM users WHERE username = ?"), username)
	if err != nil {
		return nil, translate(err)
	}
	return row.model(), nil
}

func (s *SQLStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.PublicUser, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []userRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind("SELECT "+userColumns+" FROM users WHERE LOWER(username) LIKE ? ORDER BY username LIMIT ?"),
		"%"+strings.ToLower(query)+"%", limit)
	if err != nil {
		return nil, err
	}
	users := make([]models.PublicUser, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.model().Public())
	}
	return users, nil
}

func (s *SQLStore) UpdateUsername(ctx context.Context, id, username string) error {
	ok, err := s.changed(ctx, "UPDATE users SET username = ? WHERE id = ?", username, id)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) SetSessionToken(ctx context.Context, id, token string) error {
	ok, err := s.changed(ctx, "UPDATE users SET session_token = ? WHERE id = ?", token, id)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) SetPassword(ctx context.Context, id, hashed string) error {
	ok, err := s.changed(ctx, "UPDATE users SET password = ? WHERE id = ?", hashed, id)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) SetOnlineIfConnected(ctx context.Context, userID string) (bool, error) {
	return s.changed(ctx, `
		UPDATE users SET online = ?
		WHERE id = ? AND online = ?
		AND EXISTS (SELECT 1 FROM connections WHERE user_id = ?)`,
		true, userID, false, userID)
}

func (s *SQLStore) SetOfflineIfDisconnected(ctx context.Context, userID string) (bool, error) {
	return s.changed(ctx, `
		UPDATE users SET online = ?
		WHERE id = ? AND online = ?
		AND NOT EXISTS (SELECT 1 FROM connections WHERE user_id = ?)`,
		false, userID, true, userID)
}

func (s *SQLStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	var online bool
	err := s.db.GetContext(ctx, &online, s.db.Rebind("SELECT online FROM users WHERE id = ?"), userID)
	return online, translate(err)
}
