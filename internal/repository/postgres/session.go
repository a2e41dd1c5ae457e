package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, record *domain.SessionRecord) error {
	query := `
		INSERT INTO live_sessions (id, user_id, session_type, profile, language, tokens_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		record.ID,
		record.UserID,
		string(record.SessionType),
		record.Profile,
		record.Language,
		record.TokensUsed,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.SessionRecord, error) {
	query := `
		SELECT id, user_id, session_type, profile, language, tokens_used, created_at, ended_at
		FROM live_sessions
		WHERE id = $1
	`
	var s domain.SessionRecord
	var sessionType string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.UserID,
		&sessionType,
		&s.Profile,
		&s.Language,
		&s.TokensUsed,
		&s.CreatedAt,
		&s.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	s.SessionType = domain.SessionType(sessionType)
	return &s, nil
}

func (r *SessionRepository) MarkEnded(ctx context.Context, id string, tokensUsed int64, endedAt time.Time) error {
	query := `
		UPDATE live_sessions
		SET ended_at = $2, tokens_used = GREATEST(tokens_used, $3)
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, endedAt, tokensUsed)
	if err != nil {
		return fmt.Errorf("failed to mark session ended: %w", err)
	}
	return nil
}
