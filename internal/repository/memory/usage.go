package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/google/uuid"
)

// UsageRepository keeps usage counters in process memory
type UsageRepository struct {
	mu      sync.Mutex
	states  map[uuid.UUID]*domain.UsageState
	history []domain.UsageRecord
	now     func() time.Time
	resets  int
}

// NewUsageRepository creates a new in-memory usage repository
func NewUsageRepository() *UsageRepository {
	return &UsageRepository{
		states: make(map[uuid.UUID]*domain.UsageState),
		now:    time.Now,
	}
}

// Seed stores state as-is, replacing any existing entry.
func (r *UsageRepository) Seed(state domain.UsageState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := state
	r.states[state.UserID] = &s
}

// Resets returns how many monthly resets have been applied.
func (r *UsageRepository) Resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}

// History returns a copy of the usage history.
func (r *UsageRepository) History() []domain.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.UsageRecord(nil), r.history...)
}

func (r *UsageRepository) ensure(userID uuid.UUID) *domain.UsageState {
	s, ok := r.states[userID]
	if !ok {
		s = &domain.UsageState{UserID: userID, Plan: domain.PlanFree, LastReset: r.now()}
		r.states[userID] = s
	}
	return s
}

func (r *UsageRepository) Get(_ context.Context, userID uuid.UUID) (*domain.UsageState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := *r.ensure(userID)
	return &s, nil
}

func (r *UsageRepository) ResetMonthly(_ context.Context, userID uuid.UUID, monthStart, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.ensure(userID)
	if !s.LastReset.Before(monthStart) {
		return false, nil
	}
	s.InteractionCount = 0
	s.AudioMillis = 0
	s.SearchCount = 0
	s.LastReset = now
	r.resets++
	return true, nil
}

func (r *UsageRepository) Increment(_ context.Context, userID uuid.UUID, d domain.Dimension, amount, ceiling int64) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counter := counterOf(r.ensure(userID), d)
	if counter == nil {
		return 0, false, nil
	}
	if *counter > ceiling-amount {
		return *counter, false, nil
	}
	*counter += amount
	return *counter, true, nil
}

func (r *UsageRepository) Decrement(_ context.Context, userID uuid.UUID, d domain.Dimension, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	counter := counterOf(r.ensure(userID), d)
	if counter == nil {
		return nil
	}
	*counter = max(0, *counter-amount)
	return nil
}

func (r *UsageRepository) AppendHistory(_ context.Context, record *domain.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, *record)
	return nil
}

func (r *UsageRepository) SetPlan(_ context.Context, userID uuid.UUID, plan domain.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensure(userID).Plan = plan
	return nil
}

func counterOf(s *domain.UsageState, d domain.Dimension) *int64 {
	switch d {
	case domain.DimensionInteraction:
		return &s.InteractionCount
	case domain.DimensionAudio:
		return &s.AudioMillis
	case domain.DimensionSearch:
		return &s.SearchCount
	}
	return nil
}

// PruneHistory drops history entries created before cutoff.
func (r *UsageRepository) PruneHistory(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.history[:0]
	var n int64
	for _, rec := range r.history {
		if rec.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	r.history = kept
	return n, nil
}
