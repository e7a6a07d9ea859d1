package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a local mirror of the collaborator's session schema. The
// chat loop records each completed exchange into it so sessions stay
// browsable when the backend is down. It implements Store plus AddMessage.
type SQLiteStore struct {
	db *sql.DB
}

// Schema mirrors the backend's tables: uuid session ids, soft-delete via
// is_active, integer message ids.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    model TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_active BOOLEAN DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id, timestamp);
`

// DBPath returns the location of the local sessions database.
func DBPath() (string, error) {
	dataDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "locallm", "sessions.db"), nil
}

// NewSQLiteStore opens (creating if needed) the local session database at
// path. An empty path uses DBPath.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		var err error
		path, err = DBPath()
		if err != nil {
			return nil, fmt.Errorf("get db path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, model, title string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		Title:     title,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sess.Title == "" {
		// Same default title shape the backend uses.
		sess.Title = "Chat - " + now.Local().Format("2006-01-02 15:04")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, model, created_at, updated_at, is_active)
		VALUES (?, ?, ?, ?, ?, TRUE)`,
		sess.ID, sess.Title, sess.Model, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, &PersistenceError{Op: "create", Err: err}
	}
	return sess, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.title, s.model, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages WHERE session_id = s.id)
		FROM sessions s WHERE s.id = ? AND s.is_active = TRUE`, id)

	var sess Session
	err := row.Scan(&sess.ID, &sess.Title, &sess.Model, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	return &sess, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.model, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages WHERE session_id = s.id)
		FROM sessions s
		WHERE s.is_active = TRUE
		ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Model, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount); err != nil {
			return nil, &PersistenceError{Op: "list", Err: err}
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return sessions, nil
}

func (s *SQLiteStore) Messages(ctx context.Context, id string) ([]Message, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp FROM messages
		WHERE session_id = ?
		ORDER BY timestamp ASC, id ASC`, id)
	if err != nil {
		return nil, &PersistenceError{Op: "messages", Err: err}
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, &PersistenceError{Op: "messages", Err: err}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "messages", Err: err}
	}
	return messages, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return &PersistenceError{Op: "delete", Err: err}
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMessage records one message and bumps the session's updated_at. The
// remote collaborator persists messages itself during generation; this is
// only needed for the local mirror.
func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID, role, content string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, timestamp)
		VALUES (?, ?, ?, ?)`, sessionID, role, content, now)
	if err != nil {
		return &PersistenceError{Op: "add message", Err: err}
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", now, sessionID); err != nil {
		return &PersistenceError{Op: "add message", Err: err}
	}
	return nil
}

// Record upserts a session's metadata into the mirror. Used when mirroring
// a session that was created by the remote collaborator.
func (s *SQLiteStore) Record(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, model, created_at, updated_at, is_active)
		VALUES (?, ?, ?, ?, ?, TRUE)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		sess.ID, sess.Title, sess.Model, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return &PersistenceError{Op: "record", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
