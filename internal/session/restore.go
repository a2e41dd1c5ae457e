package session

import (
	"context"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/rs/zerolog/log"
)

// Restore re-creates a session that is referenced by id but not held in
// memory, typically after a process restart. A fresh session is opened and
// re-keyed under sessionID; the new channel starts without the persisted
// history, which is only seeded into the in-memory view. It fails with
// ErrProfileInUse while another session serves the same user and profile,
// so a live session is never renamed.
func (m *Manager) Restore(ctx context.Context, sessionID string, p InitParams, obs Observer) error {
	if existing, ok := m.directory.Get(sessionID); ok && existing.State() != StateClosed {
		if existing.UserID() != p.UserID {
			return domain.ErrSessionMismatch
		}
		if obs != nil {
			existing.attach(obs)
		}
		return nil
	}

	s, err := m.initialize(ctx, p, nil, "restore", false)
	if err != nil {
		return err
	}

	tempID := s.ID()
	if !m.directory.Rekey(tempID, sessionID) {
		m.closeSession(s, CloseDiscarded)
		return domain.ErrInitSuppressed
	}

	if obs != nil {
		s.attach(obs)
	}

	if m.turns != nil {
		turns, err := m.turns.ListBySession(ctx, sessionID, historySeedLimit)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to load persisted history")
		} else {
			s.seedHistory(turns)
		}
	}

	log.Info().
		Str("session_id", sessionID).
		Str("temporary_id", tempID).
		Str("user_id", p.UserID.String()).
		Msg("Session restored")
	return nil
}

// StoredHistory returns persisted turns of a session that is not held in
// memory. It is empty without a turn repository.
func (m *Manager) StoredHistory(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	if m.turns == nil {
		return nil, nil
	}
	return m.turns.ListBySession(ctx, sessionID, historySeedLimit)
}
