package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a session id does not exist, which is
// what --resume with a bad id runs into.
var ErrSessionNotFound = errors.New("session not found")

type Session struct {
	ID        string
	Title     string
	Mode      string
	CreatedAt time.Time
}

// StoredMessage is one persisted conversation entry.
type StoredMessage struct {
	ID           string
	SessionID    string
	SenderID     string
	Role         string // "user" | "assistant"
	Content      string
	Status       string
	InputTokens  int
	OutputTokens int
	DispatchSeq  int64
	Seq          int64
	CreatedAt    time.Time
}

func (db *DB) CreateSession(ctx context.Context, title, mode string) (*Session, error) {
	session := &Session{
		ID:        uuid.NewString(),
		Title:     title,
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO sessions (id, title, mode, created_at) VALUES (?, ?, ?, ?)",
		session.ID, session.Title, session.Mode, session.CreatedAt)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (db *DB) GetSession(ctx context.Context, id string) (*Session, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, title, mode, created_at FROM sessions WHERE id = ?", id)
	var s Session
	if err := row.Scan(&s.ID, &s.Title, &s.Mode, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (db *DB) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, title, mode, created_at FROM sessions ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Title, &s.Mode, &s.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (db *DB) SaveMessage(ctx context.Context, m StoredMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, sender_id, role, content, status, input_tokens, output_tokens, dispatch_seq, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			status = excluded.status,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens
	`, m.ID, m.SessionID, m.SenderID, m.Role, m.Content, m.Status, m.InputTokens, m.OutputTokens, m.DispatchSeq, m.Seq, m.CreatedAt)
	return err
}

func (db *DB) GetMessages(ctx context.Context, sessionID string) ([]StoredMessage, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, session_id, sender_id, role, content, status, input_tokens, output_tokens, dispatch_seq, seq, created_at
		FROM messages WHERE session_id = ? ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []StoredMessage
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.Role, &m.Content, &m.Status,
			&m.InputTokens, &m.OutputTokens, &m.DispatchSeq, &m.Seq, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
