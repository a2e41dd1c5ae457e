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

// UsageRepository implements domain.UsageRepository
type UsageRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUsageRepository(d *DB) *UsageRepository {
	return &UsageRepository{db: d.db, now: time.Now}
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

func (r *UsageRepository) ensure(ctx context.Context, userID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO subscriptions (user_id, plan) VALUES (?, ?)`,
		userID.String(), string(domain.PlanFree)); err != nil {
		return fmt.Errorf("failed to ensure subscription: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO usage_counters (user_id, last_reset) VALUES (?, ?)`,
		userID.String(), toUnix(r.now())); err != nil {
		return fmt.Errorf("failed to ensure usage counters: %w", err)
	}
	return tx.Commit()
}

func (r *UsageRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.UsageState, error) {
	if err := r.ensure(ctx, userID); err != nil {
		return nil, err
	}

	state := domain.UsageState{UserID: userID}
	var plan string
	var lastReset int64
	err := r.db.QueryRowContext(ctx, `
		SELECT s.plan, c.interaction_count, c.audio_ms, c.search_count, c.last_reset
		FROM subscriptions s JOIN usage_counters c ON c.user_id = s.user_id
		WHERE s.user_id = ?`, userID.String()).Scan(
		&plan, &state.InteractionCount, &state.AudioMillis, &state.SearchCount, &lastReset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	state.Plan = domain.Plan(plan)
	state.LastReset = fromUnix(lastReset)
	return &state, nil
}

func (r *UsageRepository) ResetMonthly(ctx context.Context, userID uuid.UUID, monthStart, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE usage_counters
		SET interaction_count = 0, audio_ms = 0, search_count = 0, last_reset = ?
		WHERE user_id = ? AND last_reset < ?`,
		toUnix(now), userID.String(), toUnix(monthStart),
	)
	if err != nil {
		return false, fmt.Errorf("failed to reset monthly usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reset monthly usage: %w", err)
	}
	return n == 1, nil
}

func (r *UsageRepository) Increment(ctx context.Context, userID uuid.UUID, d domain.Dimension, amount, ceiling int64) (int64, bool, error) {
	col, err := counterColumn(d)
	if err != nil {
		return 0, false, err
	}

	var after int64
	err = r.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE usage_counters SET %[1]s = %[1]s + ?
		WHERE user_id = ? AND %[1]s + ? <= ?
		RETURNING %[1]s`, col),
		amount, userID.String(), amount, ceiling,
	).Scan(&after)
	if err == nil {
		return after, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to increment usage: %w", err)
	}

	var current int64
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM usage_counters WHERE user_id = ?`, col),
		userID.String()).Scan(&current); err != nil {
		return 0, false, fmt.Errorf("failed to read usage: %w", err)
	}
	return current, false, nil
}

func (r *UsageRepository) Decrement(ctx context.Context, userID uuid.UUID, d domain.Dimension, amount int64) error {
	col, err := counterColumn(d)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`UPDATE usage_counters SET %[1]s = MAX(%[1]s - ?, 0) WHERE user_id = ?`, col),
		amount, userID.String()); err != nil {
		return fmt.Errorf("failed to decrement usage: %w", err)
	}
	return nil
}

func (r *UsageRepository) AppendHistory(ctx context.Context, record *domain.UsageRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_history (id, user_id, dimension, amount, tokens, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID.String(), record.UserID.String(), string(record.Dimension),
		record.Amount, record.Tokens, record.SessionID, toUnix(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append usage history: %w", err)
	}
	return nil
}

func (r *UsageRepository) SetPlan(ctx context.Context, userID uuid.UUID, plan domain.Plan) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, plan) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET plan = excluded.plan`,
		userID.String(), string(plan),
	)
	if err != nil {
		return fmt.Errorf("failed to set plan: %w", err)
	}
	return nil
}

// PruneHistory deletes usage history older than cutoff.
func (r *UsageRepository) PruneHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM usage_history WHERE created_at < ?`, toUnix(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage history: %w", err)
	}
	return res.RowsAffected()
}
