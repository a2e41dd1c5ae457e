package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
)

// SessionRepository keeps session records in process memory
type SessionRepository struct {
	mu      sync.RWMutex
	records map[string]domain.SessionRecord
}

// NewSessionRepository creates a new in-memory session repository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{records: make(map[string]domain.SessionRecord)}
}

func (r *SessionRepository) Create(_ context.Context, record *domain.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[record.ID]; !ok {
		r.records[record.ID] = *record
	}
	return nil
}

func (r *SessionRepository) Get(_ context.Context, id string) (*domain.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &rec, nil
}

func (r *SessionRepository) MarkEnded(_ context.Context, id string, tokensUsed int64, endedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	rec.TokensUsed = tokensUsed
	rec.EndedAt = &endedAt
	r.records[id] = rec
	return nil
}

// TurnRepository keeps conversation turns in process memory
type TurnRepository struct {
	mu    sync.RWMutex
	turns map[string][]domain.ConversationTurn
}

// NewTurnRepository creates a new in-memory turn repository
func NewTurnRepository() *TurnRepository {
	return &TurnRepository{turns: make(map[string][]domain.ConversationTurn)}
}

func (r *TurnRepository) Append(_ context.Context, turn *domain.ConversationTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns[turn.SessionID] = append(r.turns[turn.SessionID], *turn)
	return nil
}

func (r *TurnRepository) ListBySession(_ context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	turns := r.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]domain.ConversationTurn(nil), turns...), nil
}
