package sqlstore

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/huddle/internal/models"
)

type messageRow struct {
	ID          string `db:"id"`
	FromID      string `db:"from_id"`
	TargetKind  string `db:"target_kind"`
	TargetID    string `db:"target_id"`
	Body        string `db:"body"`
	Attachments string `db:"attachments"`
	CreatedAt   int64  `db:"created_at"`
}

func (r messageRow) model() (models.Message, error) {
	msg := models.Message{
		ID:        r.ID,
		From:      r.FromID,
		Target:    models.Target{Kind: models.TargetKind(r.TargetKind), ID: r.TargetID},
		Body:      r.Body,
		CreatedAt: fromNanos(r.CreatedAt),
	}
	if r.Attachments != "" {
		if err := json.Unmarshal([]byte(r.Attachments), &msg.Attachments); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

const messageColumns = "id, from_id, target_kind, target_id, body, attachments, created_at"

func (s *SQLStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var attachments string
	if len(msg.Attachments) > 0 {
		b, err := json.Marshal(msg.Attachments)
		if err != nil {
			return err
		}
		attachments = string(b)
	}
	_, err := s.exec(ctx, "INSERT INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		msg.ID, msg.From, string(msg.Target.Kind), msg.Target.ID, msg.Body, attachments, nanos(msg.CreatedAt))
	return err
}

func (s *SQLStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT "+messageColumns+" FROM messages WHERE id = ?"), id)
	if err != nil {
		return nil, translate(err)
	}
	msg, err := row.model()
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages fetches newest-first when paging backwards so the limit keeps
// the messages closest to the cursor, then flips the window to ascending.
// Both cursors are exclusive: passing the oldest message's timestamp as
// before yields the page preceding it without repeating that message.
func (s *SQLStore) ListMessages(ctx context.Context, target models.Target, viewer string, page models.Page) ([]models.Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE "
	var args []any
	if target.IsDirect() {
		query += "target_kind = ? AND ((from_id = ? AND target_id = ?) OR (from_id = ? AND target_id = ?))"
		args = append(args, string(models.TargetDirect), viewer, target.ID, target.ID, viewer)
	} else {
		query += "target_kind = ? AND target_id = ?"
		args = append(args, string(target.Kind), target.ID)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}

	ascending := false
	switch {
	case !page.After.IsZero():
		query += " AND created_at > ? ORDER BY created_at ASC, id ASC"
		args = append(args, nanos(page.After))
		ascending = true
	case !page.Before.IsZero():
		query += " AND created_at < ? ORDER BY created_at DESC, id DESC"
		args = append(args, nanos(page.Before))
	default:
		query += " ORDER BY created_at DESC, id DESC"
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		msg, err := r.model()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if !ascending {
		slices.Reverse(msgs)
	}
	return msgs, nil
}

func (s *SQLStore) DeleteMessage(ctx context.Context, id string) (bool, error) {
	return s.changed(ctx, "DELETE FROM messages WHERE id = ?", id)
}

func (s *SQLStore) DeleteMessages(ctx context.Context, target models.Target, from string) (int64, error) {
	if from == "" {
		return s.exec(ctx, "DELETE FROM messages WHERE target_kind = ? AND target_id = ?",
			string(target.Kind), target.ID)
	}
	return s.exec(ctx, "DELETE FROM messages WHERE target_kind = ? AND target_id = ? AND from_id = ?",
		string(target.Kind), target.ID, from)
}
