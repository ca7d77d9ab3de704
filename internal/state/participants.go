package state

import (
	"context"
	"strings"
)

// SessionParticipant pins a participant's model binding so --resume restores
// the same roster.
type SessionParticipant struct {
	SessionID     string
	ParticipantID string
	Nickname      string
	DisplayName   string
	Provider      string
	Model         string
}

func (db *DB) SaveParticipant(ctx context.Context, p SessionParticipant) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO session_participants (session_id, participant_id, nickname, display_name, provider, model)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, participant_id) DO UPDATE SET
			nickname = excluded.nickname,
			display_name = excluded.display_name,
			provider = excluded.provider,
			model = excluded.model
	`, p.SessionID, strings.TrimSpace(p.ParticipantID), p.Nickname, p.DisplayName, p.Provider, p.Model)
	return err
}

func (db *DB) GetParticipants(ctx context.Context, sessionID string) ([]SessionParticipant, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT session_id, participant_id, nickname, display_name, provider, model
		FROM session_participants
		WHERE session_id = ?
		ORDER BY participant_id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionParticipant
	for rows.Next() {
		var p SessionParticipant
		if err := rows.Scan(&p.SessionID, &p.ParticipantID, &p.Nickname, &p.DisplayName, &p.Provider, &p.Model); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
