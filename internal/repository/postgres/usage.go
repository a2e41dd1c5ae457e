package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository implements domain.UsageRepository on the subscriptions and
// usage_counters tables. Increment and ResetMonthly are single conditional
// statements, so concurrent callers cannot overshoot a ceiling or reset twice.
type UsageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

func counterColumn(d domain.Dimension) (string, error) {
	switch d {
	case domain.DimensionInteraction:
		return "interaction_count", nil
	case domain.DimensionAudio:
		return "audio_ms", nil
	case domain.DimensionSearch:
		return "search_count", nil
	}
	return "", fmt.Errorf("dimension %q has no monthly counter", d)
}

func (r *UsageRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.UsageState, error) {
	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO subscriptions (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	batch.Queue(`INSERT INTO usage_counters (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	batch.Queue(`
		SELECT s.plan, c.interaction_count, c.audio_ms, c.search_count, c.last_reset
		FROM subscriptions s
		JOIN usage_counters c ON c.user_id = s.user_id
		WHERE s.user_id = $1
	`, userID)

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < 2; i++ {
		if _, err := br.Exec(); err != nil {
			return nil, fmt.Errorf("failed to ensure subscription: %w", err)
		}
	}

	state := domain.UsageState{UserID: userID}
	var plan string
	if err := br.QueryRow().Scan(
		&plan,
		&state.InteractionCount,
		&state.AudioMillis,
		&state.SearchCount,
		&state.LastReset,
	); err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	state.Plan = domain.Plan(plan)
	return &state, nil
}

func (r *UsageRepository) ResetMonthly(ctx context.Context, userID uuid.UUID, monthStart, now time.Time) (bool, error) {
	query := `
		UPDATE usage_counters
		SET interaction_count = 0, audio_ms = 0, search_count = 0, last_reset = $3
		WHERE user_id = $1 AND last_reset < $2
	`
	tag, err := r.pool.Exec(ctx, query, userID, monthStart, now)
	if err != nil {
		return false, fmt.Errorf("failed to reset monthly usage: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *UsageRepository) Increment(ctx context.Context, userID uuid.UUID, d domain.Dimension, amount, ceiling int64) (int64, bool, error) {
	col, err := counterColumn(d)
	if err != nil {
		return 0, false, err
	}

	query := fmt.Sprintf(`
		UPDATE usage_counters
		SET %[1]s = %[1]s + $2
		WHERE user_id = $1 AND %[1]s + $2 <= $3
		RETURNING %[1]s
	`, col)

	var after int64
	err = r.pool.QueryRow(ctx, query, userID, amount, ceiling).Scan(&after)
	if err == nil {
		return after, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to increment usage: %w", err)
	}

	var current int64
	if err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM usage_counters WHERE user_id = $1`, col), userID).Scan(&current); err != nil {
		return 0, false, fmt.Errorf("failed to read usage: %w", err)
	}
	return current, false, nil
}

func (r *UsageRepository) Decrement(ctx context.Context, userID uuid.UUID, d domain.Dimension, amount int64) error {
	col, err := counterColumn(d)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE usage_counters SET %[1]s = GREATEST(%[1]s - $2, 0) WHERE user_id = $1`, col)
	if _, err := r.pool.Exec(ctx, query, userID, amount); err != nil {
		return fmt.Errorf("failed to decrement usage: %w", err)
	}
	return nil
}

func (r *UsageRepository) AppendHistory(ctx context.Context, record *domain.UsageRecord) error {
	query := `
		INSERT INTO usage_history (id, user_id, dimension, amount, tokens, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		record.ID,
		record.UserID,
		string(record.Dimension),
		record.Amount,
		record.Tokens,
		record.SessionID,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append usage history: %w", err)
	}
	return nil
}

func (r *UsageRepository) SetPlan(ctx context.Context, userID uuid.UUID, plan domain.Plan) error {
	query := `
		INSERT INTO subscriptions (user_id, plan) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET plan = EXCLUDED.plan, updated_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, query, userID, string(plan)); err != nil {
		return fmt.Errorf("failed to set plan: %w", err)
	}
	return nil
}

// PruneHistory deletes usage history older than cutoff.
func (r *UsageRepository) PruneHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM usage_history WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage history: %w", err)
	}
	return tag.RowsAffected(), nil
}
