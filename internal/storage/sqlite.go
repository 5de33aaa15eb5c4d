package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL,
	password_hash TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS identities (
	provider TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	label TEXT,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (provider, provider_id)
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	channel TEXT NOT NULL,
	scope TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_lookup ON sessions(user_id, channel, scope, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	model TEXT,
	tokens INTEGER,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
`

// SQLiteStore is the Store implementation backed by a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, role, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Role, nullable(user.PasswordHash), user.CreatedAt, user.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, role, password_hash, created_at, updated_at FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, role, password_hash, created_at, updated_at FROM users WHERE username = ?`, username))
}

func (s *SQLiteStore) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateIdentity(ctx context.Context, identity *Identity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (provider, provider_id, user_id, label, created_at) VALUES (?, ?, ?, ?, ?)`,
		identity.Provider, identity.ProviderID, identity.UserID, nullable(identity.Label), identity.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *SQLiteStore) GetIdentity(ctx context.Context, provider, providerID string) (*Identity, error) {
	var ident Identity
	var label sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, provider_id, user_id, label, created_at FROM identities WHERE provider = ? AND provider_id = ?`,
		provider, providerID).Scan(&ident.Provider, &ident.ProviderID, &ident.UserID, &label, &ident.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ident.Label = label.String
	return &ident, nil
}

func (s *SQLiteStore) DeleteIdentities(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE user_id = ?`, userID)
	return err
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, channel, scope, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.Channel, session.Scope, session.CreatedAt, session.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, channel, scope, created_at, updated_at FROM sessions WHERE id = ?`, id))
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session *Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, session.UpdatedAt, session.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) FindSession(ctx context.Context, userID, channel, scope string) (*Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, channel, scope, created_at, updated_at FROM sessions
		 WHERE user_id = ? AND channel = ? AND scope = ?
		 ORDER BY updated_at DESC LIMIT 1`, userID, channel, scope))
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*Session, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	var rows *sql.Rows
	var err error
	if userID == "" {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, user_id, channel, scope, created_at, updated_at FROM sessions
			 ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
	} else {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = ?`, userID).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, user_id, channel, scope, created_at, updated_at FROM sessions
			 WHERE user_id = ? ORDER BY updated_at DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Channel, &sess.Scope, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, &sess)
	}
	return sessions, total, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, message *Message) error {
	if _, err := s.GetSession(ctx, message.SessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, model, tokens, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.SessionID, message.Role, message.Content, nullable(message.Model), message.Tokens, message.CreatedAt)
	return err
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx,
		`SELECT id, session_id, role, content, model, tokens, created_at FROM messages WHERE id = ?`, id))
}

func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, model, tokens, created_at FROM (
			SELECT * FROM messages WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		 ) ORDER BY created_at ASC, id ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *SQLiteStore) ListMessages(ctx context.Context, limit, offset int) ([]*Message, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, model, tokens, created_at FROM messages
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	msgs, err := collectMessages(rows)
	return msgs, total, err
}

func (s *SQLiteStore) DeleteSessionMessages(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var hash sql.NullString
	err := row.Scan(&user.ID, &user.Username, &user.Role, &hash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash.String
	return &user, nil
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Channel, &sess.Scope, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var model sql.NullString
	var tokens sql.NullInt64
	err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &model, &tokens, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	msg.Model = model.String
	msg.Tokens = int(tokens.Int64)
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		var msg Message
		var model sql.NullString
		var tokens sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &model, &tokens, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Model = model.String
		msg.Tokens = int(tokens.Int64)
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
