package sqlstore

import (
	"context"

	"github.com/pliu/huddle/internal/models"
)

type subUserRow struct {
	ID          string `db:"id"`
	DisplayName string `db:"display_name"`
}

func subUsers(rows []subUserRow) []models.SubUser {
	out := make([]models.SubUser, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.SubUser{ID: r.ID, DisplayName: r.DisplayName})
	}
	return out
}

func (s *SQLStore) AddFriendEntry(ctx context.Context, userID, friendID string) (bool, error) {
	return s.changed(ctx, `
		INSERT INTO user_friends (user_id, friend_id, display_name)
		SELECT CAST(? AS TEXT), id, username FROM users WHERE id = ?
		ON CONFLICT DO NOTHING`,
		userID, friendID)
}

func (s *SQLStore) RemoveFriendEntry(ctx context.Context, userID, friendID string) (bool, error) {
	return s.changed(ctx, "DELETE FROM user_friends WHERE user_id = ? AND friend_id = ?", userID, friendID)
}

func (s *SQLStore) ListFriends(ctx context.Context, userID string) ([]models.SubUser, error) {
	var rows []subUserRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT friend_id AS id, display_name FROM user_friends WHERE user_id = ? ORDER BY display_name, friend_id"), userID)
	if err != nil {
		return nil, err
	}
	return subUsers(rows), nil
}

func (s *SQLStore) IsFriend(ctx context.Context, userID, otherID string) (bool, error) {
	return s.exists(ctx, "SELECT 1 FROM user_friends WHERE user_id = ? AND friend_id = ?", userID, otherID)
}

func (s *SQLStore) SyncFriendEntries(ctx context.Context, userID string) (int64, error) {
	friends, err := s.exec(ctx, `
		UPDATE user_friends SET display_name = (SELECT username FROM users WHERE id = ?)
		WHERE friend_id = ? AND EXISTS (SELECT 1 FROM users WHERE id = ?)`,
		userID, userID, userID)
	if err != nil {
		return 0, err
	}
	members, err := s.exec(ctx, `
		UPDATE group_members SET display_name = (SELECT username FROM users WHERE id = ?)
		WHERE user_id = ? AND EXISTS (SELECT 1 FROM users WHERE id = ?)`,
		userID, userID, userID)
	if err != nil {
		return friends, err
	}
	return friends + members, nil
}
