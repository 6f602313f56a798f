package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pliu/huddle/internal/store"
)

const defaultPageLimit = 30

type SQLStore struct {
	db         *sqlx.DB
	driverName string
}

var _ store.Store = (*SQLStore)(nil)

// New opens the database and creates the schema. driverName is "sqlite3" or
// "postgres".
func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sqlx.Connect(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driverName, err)
	}

	if driverName == "sqlite3" {
		// a single connection keeps ":memory:" databases shared and
		// serializes writers
		db.SetMaxOpenConns(1)
		if !strings.Contains(dataSourceName, ":memory:") {
			if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
				db.Close()
				return nil, fmt.Errorf("enable wal: %w", err)
			}
		}
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) createTables() error {
	// Timestamps are unix nanoseconds so both drivers compare them the same way.
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL,
		session_token TEXT NOT NULL DEFAULT '',
		online BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_friends (
		user_id TEXT NOT NULL,
		friend_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		PRIMARY KEY (user_id, friend_id)
	);

	CREATE TABLE IF NOT EXISTS chat_groups (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		is_public BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS user_groups (
		user_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		title TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		is_public BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (user_id, group_id)
	);
	CREATE INDEX IF NOT EXISTS idx_user_groups_group ON user_groups (group_id);

	CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_connections_user ON connections (user_id);

	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (type, from_id, to_id, group_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		from_id TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		body TEXT NOT NULL,
		attachments TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_target ON messages (target_kind, target_id, created_at);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// ResetPresence drops every connection row and marks everyone offline. It
// runs at process start and shutdown since live sockets do not survive a
// restart.
func (s *SQLStore) ResetPresence(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM connections"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE users SET online = ? WHERE online = ?"), false, true)
	return err
}

// exec runs a guarded write and reports whether it touched any row.
func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, translate(err)
	}
	return result.RowsAffected()
}

func (s *SQLStore) changed(ctx context.Context, query string, args ...any) (bool, error) {
	n, err := s.exec(ctx, query, args...)
	return n > 0, err
}

func (s *SQLStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, s.db.Rebind("SELECT EXISTS("+query+")"), args...)
	return ok, err
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
