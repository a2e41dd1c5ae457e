// Package repository holds store-agnostic helpers shared by the concrete
// repository packages.
package repository

import (
	"context"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/rs/zerolog/log"
)

const archiveTimeout = 5 * time.Second

// FanOutTurns writes every turn to a primary store and, best-effort, to
// archives. Reads are served by the primary.
type FanOutTurns struct {
	primary  domain.TurnRepository
	archives []domain.TurnRepository
}

var _ domain.TurnRepository = (*FanOutTurns)(nil)

func NewFanOutTurns(primary domain.TurnRepository, archives ...domain.TurnRepository) *FanOutTurns {
	return &FanOutTurns{primary: primary, archives: archives}
}

func (f *FanOutTurns) Append(ctx context.Context, turn *domain.ConversationTurn) error {
	if err := f.primary.Append(ctx, turn); err != nil {
		return err
	}
	for _, a := range f.archives {
		actx, cancel := context.WithTimeout(ctx, archiveTimeout)
		if err := a.Append(actx, turn); err != nil {
			log.Warn().Err(err).Str("session_id", turn.SessionID).Msg("Failed to archive conversation turn")
		}
		cancel()
	}
	return nil
}

func (f *FanOutTurns) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error) {
	return f.primary.ListBySession(ctx, sessionID, limit)
}
