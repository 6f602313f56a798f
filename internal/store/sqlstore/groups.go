package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/huddle/internal/models"
	"github.com/pliu/huddle/internal/store"
)

type groupRow struct {
	ID        string `db:"id"`
	Title     string `db:"title"`
	OwnerID   string `db:"owner_id"`
	IsPublic  bool   `db:"is_public"`
	CreatedAt int64  `db:"created_at"`
}

type subGroupRow struct {
	ID       string `db:"id"`
	Title    string `db:"title"`
	OwnerID  string `db:"owner_id"`
	IsPublic bool   `db:"is_public"`
}

func subGroups(rows []subGroupRow) []models.SubGroup {
	out := make([]models.SubGroup, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.SubGroup{ID: r.ID, Title: r.Title, Owner: r.OwnerID, IsPublic: r.IsPublic})
	}
	return out
}

func (s *SQLStore) CreateGroup(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		"INSERT INTO chat_groups (id, title, owner_id, is_public, created_at) VALUES (?, ?, ?, ?, ?)",
		group.ID, group.Title, group.Owner, group.IsPublic, nanos(group.CreatedAt))
	return err
}

func (s *SQLStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var row groupRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind("SELECT id, title, owner_id, is_public, created_at FROM chat_groups WHERE id = ?"), id)
	if err != nil {
		return nil, translate(err)
	}
	members, err := s.ListMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.Group{
		ID:        row.ID,
		Title:     row.Title,
		Owner:     row.OwnerID,
		IsPublic:  row.IsPublic,
		Members:   members,
		CreatedAt: fromNanos(row.CreatedAt),
	}, nil
}

func (s *SQLStore) UpdateGroup(ctx context.Context, group *models.Group, expectedOwner string) error {
	ok, err := s.changed(ctx,
		"UPDATE chat_groups SET title = ?, is_public = ?, owner_id = ? WHERE id = ? AND owner_id = ?",
		group.Title, group.IsPublic, group.Owner, group.ID, expectedOwner)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

// DeleteGroup removes the group row and its member list.
func (s *SQLStore) DeleteGroup(ctx context.Context, id string) (bool, error) {
	ok, err := s.changed(ctx, "DELETE FROM chat_groups WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	if _, err := s.exec(ctx, "DELETE FROM group_members WHERE group_id = ?", id); err != nil {
		return ok, err
	}
	return ok, nil
}

func (s *SQLStore) SearchGroups(ctx context.Context, query string, publicOnly bool, limit int) ([]models.SubGroup, error) {
	if limit <= 0 {
		limit = 10
	}
	q := "SELECT id, title, owner_id, is_public FROM chat_groups WHERE LOWER(title) LIKE ?"
	args := []any{"%" + strings.ToLower(query) + "%"}
	if publicOnly {
		q += " AND is_public = ?"
		args = append(args, true)
	}
	q += " ORDER BY title LIMIT ?"
	args = append(args, limit)

	var rows []subGroupRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return subGroups(rows), nil
}

func (s *SQLStore) ListOwnedGroups(ctx context.Context, ownerID string) ([]models.SubGroup, error) {
	var rows []subGroupRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind("SELECT id, title, owner_id, is_public FROM chat_groups WHERE owner_id = ? ORDER BY title"), ownerID)
	if err != nil {
		return nil, err
	}
	return subGroups(rows), nil
}

// AddMemberEntry copies the user into the group's member list. It does nothing
// once the group row is gone.
func (s *SQLStore) AddMemberEntry(ctx context.Context, groupID, userID string) (bool, error) {
	return s.changed(ctx, `
		INSERT INTO group_members (group_id, user_id, display_name)
		SELECT CAST(? AS TEXT), id, username FROM users
		WHERE id = ? AND EXISTS (SELECT 1 FROM chat_groups WHERE id = ?)
		ON CONFLICT DO NOTHING`,
		groupID, userID, groupID)
}

func (s *SQLStore) RemoveMemberEntry(ctx context.Context, groupID, userID string) (bool, error) {
	return s.changed(ctx, "DELETE FROM group_members WHERE group_id = ? AND user_id = ?", groupID, userID)
}

func (s *SQLStore) ListMembers(ctx context.Context, groupID string) ([]models.SubUser, error) {
	var rows []subUserRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT user_id AS id, display_name FROM group_members WHERE group_id = ? ORDER BY display_name, user_id"), groupID)
	if err != nil {
		return nil, err
	}
	return subUsers(rows), nil
}

func (s *SQLStore) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	return s.exists(ctx, "SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?", groupID, userID)
}

func (s *SQLStore) AddUserGroupEntry(ctx context.Context, userID, groupID string) (bool, error) {
	return s.changed(ctx, `
		INSERT INTO user_groups (user_id, group_id, title, owner_id, is_public)
		SELECT CAST(? AS TEXT), id, title, owner_id, is_public FROM chat_groups WHERE id = ?
		ON CONFLICT DO NOTHING`,
		userID, groupID)
}

func (s *SQLStore) RemoveUserGroupEntry(ctx context.Context, userID, groupID string) (bool, error) {
	return s.changed(ctx, "DELETE FROM user_groups WHERE user_id = ? AND group_id = ?", userID, groupID)
}

func (s *SQLStore) ListUserGroups(ctx context.Context, userID string) ([]models.SubGroup, error) {
	var rows []subGroupRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT group_id AS id, title, owner_id, is_public FROM user_groups WHERE user_id = ? ORDER BY title, group_id"), userID)
	if err != nil {
		return nil, err
	}
	return subGroups(rows), nil
}

func (s *SQLStore) SyncUserGroupEntries(ctx context.Context, groupID string) (int64, error) {
	return s.exec(ctx, `
		UPDATE user_groups SET
			title = (SELECT title FROM chat_groups WHERE id = ?),
			owner_id = (SELECT owner_id FROM chat_groups WHERE id = ?),
			is_public = (SELECT is_public FROM chat_groups WHERE id = ?)
		WHERE group_id = ? AND EXISTS (SELECT 1 FROM chat_groups WHERE id = ?)`,
		groupID, groupID, groupID, groupID, groupID)
}

func (s *SQLStore) RemoveGroupFromUsers(ctx context.Context, groupID string) (int64, error) {
	return s.exec(ctx, "DELETE FROM user_groups WHERE group_id = ?", groupID)
}
