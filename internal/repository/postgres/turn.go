package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TurnRepository implements domain.TurnRepository
type TurnRepository struct {
	pool *pgxpool.Pool
}

// NewTurnRepository creates a new conversation turn repository
func NewTurnRepository(pool *pgxpool.Pool) *TurnRepository {
	return &TurnRepository{pool: pool}
}

// Append inserts a completed turn
func (r *TurnRepository) Append(ctx context.Context, turn *domain.ConversationTurn) error {
	query := `
		INSERT INTO conversation_turns (id, session_id, transcription, ai_response, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		turn.ID,
		turn.SessionID,
		turn.Transcription,
		turn.Response,
		turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// ListBySession returns the latest limit turns of a session, oldest first
func (r *TurnRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error) {
	query := `
		SELECT id, session_id, transcription, ai_response, created_at
		FROM conversation_turns
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.ConversationTurn
	for rows.Next() {
		var t domain.ConversationTurn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Transcription, &t.Response, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}

	// Reverse to chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
