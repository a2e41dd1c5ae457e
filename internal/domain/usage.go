package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Plan is a subscription tier
type Plan string

const (
	PlanFree  Plan = "FREE"
	PlanBasic Plan = "BASIC"
	PlanPro   Plan = "PRO"
)

// Dimension is a metered feature category
type Dimension string

const (
	// DimensionInteraction counts answer-producing inputs (text and screen captures).
	DimensionInteraction Dimension = "interaction"
	// DimensionAudio is metered in milliseconds; ceilings are configured in minutes.
	DimensionAudio  Dimension = "audio"
	DimensionSearch Dimension = "search"
	// DimensionSession is admitted through the per-minute window only.
	DimensionSession Dimension = "session"
)

// Monthly reports whether d has a monthly counter.
func (d Dimension) Monthly() bool {
	switch d {
	case DimensionInteraction, DimensionAudio, DimensionSearch:
		return true
	}
	return false
}

// UsageState is a user's monthly counters plus the plan that bounds them
type UsageState struct {
	UserID           uuid.UUID `json:"user_id"`
	Plan             Plan      `json:"plan"`
	InteractionCount int64     `json:"interaction_count"`
	AudioMillis      int64     `json:"audio_ms"`
	SearchCount      int64     `json:"search_count"`
	LastReset        time.Time `json:"last_reset"`
}

// Counter returns the monthly counter for d.
func (s *UsageState) Counter(d Dimension) int64 {
	switch d {
	case DimensionInteraction:
		return s.InteractionCount
	case DimensionAudio:
		return s.AudioMillis
	case DimensionSearch:
		return s.SearchCount
	}
	return 0
}

// UsageRecord is one entry in the usage history
type UsageRecord struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Dimension Dimension `json:"dimension"`
	Amount    int64     `json:"amount"`
	Tokens    int64     `json:"tokens"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageRepository defines the read-modify-write operations the quota ledger
// needs. Implementations must make Increment and ResetMonthly atomic.
type UsageRepository interface {
	// Get returns the user's state, creating a FREE subscription and zeroed
	// counters when none exist.
	Get(ctx context.Context, userID uuid.UUID) (*UsageState, error)
	// ResetMonthly zeroes every counter and stamps lastReset=now if the
	// stored lastReset is before monthStart. It reports whether it reset.
	ResetMonthly(ctx context.Context, userID uuid.UUID, monthStart, now time.Time) (bool, error)
	// Increment adds amount to the counter for d only when the result stays
	// within ceiling. It returns the counter after the call and whether the
	// increment was applied.
	Increment(ctx context.Context, userID uuid.UUID, d Dimension, amount, ceiling int64) (int64, bool, error)
	// Decrement subtracts amount, flooring at zero.
	Decrement(ctx context.Context, userID uuid.UUID, d Dimension, amount int64) error
	AppendHistory(ctx context.Context, record *UsageRecord) error
	SetPlan(ctx context.Context, userID uuid.UUID, plan Plan) error
}
