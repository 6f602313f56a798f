package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/huddle/internal/models"
)

type requestRow struct {
	ID        string `db:"id"`
	Type      string `db:"type"`
	FromID    string `db:"from_id"`
	ToID      string `db:"to_id"`
	GroupID   string `db:"group_id"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r requestRow) model() models.Request {
	return models.Request{
		ID:        r.ID,
		Type:      models.RequestType(r.Type),
		From:      r.FromID,
		To:        r.ToID,
		GroupID:   r.GroupID,
		CreatedAt: fromNanos(r.CreatedAt),
		UpdatedAt: fromNanos(r.UpdatedAt),
	}
}

const requestColumns = "id, type, from_id, to_id, group_id, created_at, updated_at"

func (s *SQLStore) UpsertRequest(ctx context.Context, req *models.Request) (bool, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	if !req.UpdatedAt.IsZero() {
		now = req.UpdatedAt
	}
	_, err := s.exec(ctx, `
		INSERT INTO requests (`+requestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (type, from_id, to_id, group_id) DO UPDATE SET updated_at = excluded.updated_at`,
		id, string(req.Type), req.From, req.To, req.GroupID, nanos(now), nanos(now))
	if err != nil {
		return false, err
	}

	var row requestRow
	err = s.db.GetContext(ctx, &row, s.db.Rebind(
		"SELECT "+requestColumns+" FROM requests WHERE type = ? AND from_id = ? AND to_id = ? AND group_id = ?"),
		string(req.Type), req.From, req.To, req.GroupID)
	if err != nil {
		return false, translate(err)
	}
	*req = row.model()
	return row.ID == id, nil
}

func (s *SQLStore) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	var row requestRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT "+requestColumns+" FROM requests WHERE id = ?"), id)
	if err != nil {
		return nil, translate(err)
	}
	req := row.model()
	return &req, nil
}

func (s *SQLStore) ListRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	where, args := requestWhere(filter)
	var rows []requestRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind("SELECT "+requestColumns+" FROM requests"+where+" ORDER BY updated_at DESC, id"), args...)
	if err != nil {
		return nil, err
	}
	reqs := make([]models.Request, 0, len(rows))
	for _, r := range rows {
		reqs = append(reqs, r.model())
	}
	return reqs, nil
}

func (s *SQLStore) DeleteRequest(ctx context.Context, id string) (bool, error) {
	return s.changed(ctx, "DELETE FROM requests WHERE id = ?", id)
}

func (s *SQLStore) DeleteRequests(ctx context.Context, filter models.RequestFilter) (int64, error) {
	where, args := requestWhere(filter)
	return s.exec(ctx, "DELETE FROM requests"+where, args...)
}

func requestWhere(filter models.RequestFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column, value string) {
		if value != "" {
			conds = append(conds, column+" = ?")
			args = append(args, value)
		}
	}
	add("type", string(filter.Type))
	add("from_id", filter.From)
	add("to_id", filter.To)
	add("group_id", filter.GroupID)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
