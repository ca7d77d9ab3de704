package state

import "context"

// UsageTotals is the per-participant token rollup persisted at session end
// and shown by the stats command.
type UsageTotals struct {
	SessionID     string
	ParticipantID string
	InputTokens   int
	OutputTokens  int
	Messages      int
}

func (db *DB) SaveUsageTotals(ctx context.Context, u UsageTotals) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO usage_totals (session_id, participant_id, input_tokens, output_tokens, messages)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, participant_id) DO UPDATE SET
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			messages = excluded.messages
	`, u.SessionID, u.ParticipantID, u.InputTokens, u.OutputTokens, u.Messages)
	return err
}

func (db *DB) GetUsageTotals(ctx context.Context, sessionID string) ([]UsageTotals, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT session_id, participant_id, input_tokens, output_tokens, messages
		FROM usage_totals
		WHERE session_id = ?
		ORDER BY participant_id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageTotals
	for rows.Next() {
		var u UsageTotals
		if err := rows.Scan(&u.SessionID, &u.ParticipantID, &u.InputTokens, &u.OutputTokens, &u.Messages); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
