package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/google/uuid"
)

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(d *DB) *SessionRepository {
	return &SessionRepository{db: d.db}
}

func (r *SessionRepository) Create(ctx context.Context, record *domain.SessionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO live_sessions (id, user_id, session_type, profile, language, tokens_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.UserID.String(),
		string(record.SessionType),
		record.Profile,
		record.Language,
		record.TokensUsed,
		toUnix(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.SessionRecord, error) {
	var (
		s           domain.SessionRecord
		userID      string
		sessionType string
		created     int64
		ended       sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, session_type, profile, language, tokens_used, created_at, ended_at
		FROM live_sessions WHERE id = ?`, id).Scan(
		&s.ID, &userID, &sessionType, &s.Profile, &s.Language, &s.TokensUsed, &created, &ended,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if s.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", userID, err)
	}
	s.SessionType = domain.SessionType(sessionType)
	s.CreatedAt = fromUnix(created)
	if ended.Valid {
		t := fromUnix(ended.Int64)
		s.EndedAt = &t
	}
	return &s, nil
}

func (r *SessionRepository) MarkEnded(ctx context.Context, id string, tokensUsed int64, endedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE live_sessions SET ended_at = ?, tokens_used = MAX(tokens_used, ?) WHERE id = ?`,
		toUnix(endedAt), tokensUsed, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark session ended: %w", err)
	}
	return nil
}

// TurnRepository implements domain.TurnRepository
type TurnRepository struct {
	db *sql.DB
}

func NewTurnRepository(d *DB) *TurnRepository {
	return &TurnRepository{db: d.db}
}

func (r *TurnRepository) Append(ctx context.Context, turn *domain.ConversationTurn) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (id, session_id, transcription, ai_response, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		turn.ID.String(), turn.SessionID, turn.Transcription, turn.Response, toUnix(turn.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

func (r *TurnRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, transcription, ai_response, created_at
		FROM (
			SELECT * FROM conversation_turns WHERE session_id = ?
			ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.ConversationTurn
	for rows.Next() {
		var (
			t  domain.ConversationTurn
			id string
			at int64
		)
		if err := rows.Scan(&id, &t.SessionID, &t.Transcription, &t.Response, &at); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid turn id %q: %w", id, err)
		}
		t.Timestamp = fromUnix(at)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}
	return turns, nil
}
