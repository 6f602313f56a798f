package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/huddle/internal/models"
)

type connectionRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	CreatedAt int64  `db:"created_at"`
}

func (s *SQLStore) CreateConnection(ctx context.Context, conn *models.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, "INSERT INTO connections (id, user_id, created_at) VALUES (?, ?, ?)",
		conn.ID, conn.UserID, nanos(conn.CreatedAt))
	return err
}

func (s *SQLStore) DeleteConnection(ctx context.Context, id string) (bool, error) {
	return s.changed(ctx, "DELETE FROM connections WHERE id = ?", id)
}

func (s *SQLStore) DeleteUserConnections(ctx context.Context, userID string) (int64, error) {
	return s.exec(ctx, "DELETE FROM connections WHERE user_id = ?", userID)
}

func (s *SQLStore) ListConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	var rows []connectionRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind("SELECT id, user_id, created_at FROM connections WHERE user_id = ? ORDER BY created_at"), userID)
	if err != nil {
		return nil, err
	}
	conns := make([]models.Connection, 0, len(rows))
	for _, r := range rows {
		conns = append(conns, models.Connection{ID: r.ID, UserID: r.UserID, CreatedAt: fromNanos(r.CreatedAt)})
	}
	return conns, nil
}

func (s *SQLStore) CountConnections(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM connections WHERE user_id = ?"), userID)
	return n, err
}
