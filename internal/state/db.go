package state

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn *sql.DB
}

// DefaultPath returns the session database location, creating its directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".config", "cebus")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions.db"), nil
}

func Connect(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &DB{conn: conn}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT,
		mode TEXT,
		created_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		sender_id TEXT,
		role TEXT,
		content TEXT,
		status TEXT,
		input_tokens INTEGER,
		output_tokens INTEGER,
		dispatch_seq INTEGER,
		seq INTEGER,
		created_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS session_participants (
		session_id TEXT,
		participant_id TEXT,
		nickname TEXT,
		display_name TEXT,
		provider TEXT,
		model TEXT,
		PRIMARY KEY (session_id, participant_id)
	);
	CREATE TABLE IF NOT EXISTS usage_totals (
		session_id TEXT,
		participant_id TEXT,
		input_tokens INTEGER,
		output_tokens INTEGER,
		messages INTEGER,
		PRIMARY KEY (session_id, participant_id)
	);
	CREATE TABLE IF NOT EXISTS session_input_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		content TEXT,
		created_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, seq);`
	_, err := db.Exec(schema)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}
