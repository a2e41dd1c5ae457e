package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const recordTimeout = 5 * time.Second

// SessionService ties live sessions to their persisted records. Sends and
// attaches only reach sessions held in memory; a session that is missing
// but has an open record owned by the caller comes back through Restore.
type SessionService struct {
	manager *session.Manager
	records domain.SessionRepository
	now     func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(manager *session.Manager, records domain.SessionRepository) *SessionService {
	return &SessionService{manager: manager, records: records, now: time.Now}
}

// EndedHook returns a manager close hook that stamps the record as ended
// when the conversation is over for good. Records of evicted sessions stay
// open so they can be restored.
func EndedHook(records domain.SessionRepository) func(session.Info, session.CloseReason) {
	return func(info session.Info, reason session.CloseReason) {
		if !reason.Final() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := records.MarkEnded(ctx, info.ID, info.TokensUsed, time.Now()); err != nil {
			log.Warn().Err(err).Str("session_id", info.ID).Str("reason", reason.String()).Msg("Failed to mark session ended")
		}
	}
}

// Initialize opens or reuses the user's session for the profile and makes
// sure a record exists for it.
func (s *SessionService) Initialize(ctx context.Context, userID uuid.UUID, input domain.SessionCreate, obs session.Observer) (*session.Info, error) {
	p := session.InitParams{
		UserID:        userID,
		SessionType:   input.SessionType,
		Profile:       input.Profile,
		Language:      input.Language,
		CustomPrompt:  input.CustomPrompt,
		SearchEnabled: true,
	}
	if input.SearchEnabled != nil {
		p.SearchEnabled = *input.SearchEnabled
	}

	id, err := s.manager.Initialize(ctx, p, obs)
	if err != nil {
		return nil, err
	}
	info, ok := s.manager.Get(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	record := &domain.SessionRecord{
		ID:          info.ID,
		UserID:      info.UserID,
		SessionType: info.SessionType,
		Profile:     info.Profile,
		Language:    info.Language,
		CreatedAt:   info.CreatedAt,
	}
	if err := s.records.Create(ctx, record); err != nil {
		// A live session without a record cannot be restored later, but it
		// is still usable now.
		log.Error().Err(err).Str("session_id", info.ID).Msg("Failed to create session record")
	}
	return &info, nil
}

// live returns the user's session held in memory under id.
func (s *SessionService) live(userID uuid.UUID, id string) (*session.Info, error) {
	info, ok := s.manager.Get(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if info.UserID != userID {
		return nil, domain.ErrSessionMismatch
	}
	return &info, nil
}

// Resolve returns the user's session stored under id, restoring it from its
// record when it is not held in memory. Ended records are never restored,
// and a missing record reports as a mismatch so other users' ids stay hidden.
func (s *SessionService) Resolve(ctx context.Context, userID uuid.UUID, id string) (*session.Info, error) {
	if info, ok := s.manager.Get(id); ok {
		if info.UserID != userID {
			return nil, domain.ErrSessionMismatch
		}
		return &info, nil
	}

	record, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrSessionMismatch
		}
		return nil, fmt.Errorf("failed to find session record: %w", err)
	}
	if record.UserID != userID {
		return nil, domain.ErrSessionMismatch
	}
	if record.EndedAt != nil {
		return nil, domain.ErrSessionEnded
	}

	err = s.manager.Restore(ctx, id, session.InitParams{
		UserID:        record.UserID,
		SessionType:   record.SessionType,
		Profile:       record.Profile,
		Language:      record.Language,
		SearchEnabled: true,
	}, nil)
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("Failed to restore session")
		return nil, err
	}

	info, ok := s.manager.Get(id)
	if !ok {
		return nil, fmt.Errorf("failed to restore session %s", id)
	}
	return &info, nil
}

// Get returns the user's session. Missing sessions fall back to the record.
func (s *SessionService) Get(ctx context.Context, userID uuid.UUID, id string) (*session.Info, *domain.SessionRecord, error) {
	if info, ok := s.manager.Get(id); ok {
		if info.UserID != userID {
			return nil, nil, domain.ErrSessionMismatch
		}
		return &info, nil, nil
	}
	record, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if record.UserID != userID {
		return nil, nil, domain.ErrSessionMismatch
	}
	return nil, record, nil
}

// List returns the user's in-memory sessions.
func (s *SessionService) List(userID uuid.UUID) []session.Info {
	return s.manager.UserSessions(userID)
}

// History returns the turns of the user's session. Sessions that are not
// in memory are answered from the turn store without being restored.
func (s *SessionService) History(ctx context.Context, userID uuid.UUID, id string) ([]domain.ConversationTurn, error) {
	_, err := s.live(userID, id)
	switch {
	case err == nil:
		return s.manager.History(id)
	case !errors.Is(err, domain.ErrSessionNotFound):
		return nil, err
	}

	record, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.UserID != userID {
		return nil, domain.ErrSessionMismatch
	}
	turns, err := s.manager.StoredHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}
	return turns, nil
}

func (s *SessionService) SendText(ctx context.Context, userID uuid.UUID, id, text string) (bool, error) {
	if _, err := s.live(userID, id); err != nil {
		return false, err
	}
	return s.manager.SendText(ctx, id, text)
}

func (s *SessionService) SendAudio(ctx context.Context, userID uuid.UUID, id string, chunk session.AudioChunk) (bool, error) {
	if _, err := s.live(userID, id); err != nil {
		return false, err
	}
	return s.manager.SendAudio(ctx, id, chunk)
}

func (s *SessionService) SendImage(ctx context.Context, userID uuid.UUID, id string, chunk session.ImageChunk) (bool, error) {
	if _, err := s.live(userID, id); err != nil {
		return false, err
	}
	return s.manager.SendImage(ctx, id, chunk)
}

// Attach registers obs on the user's live session.
func (s *SessionService) Attach(_ context.Context, userID uuid.UUID, id string, obs session.Observer) (func(), error) {
	if _, err := s.live(userID, id); err != nil {
		return nil, err
	}
	return s.manager.Attach(id, obs)
}

// Close ends the user's session. Sessions that are not in memory only have
// their record stamped.
func (s *SessionService) Close(ctx context.Context, userID uuid.UUID, id string) error {
	if info, ok := s.manager.Get(id); ok {
		if info.UserID != userID {
			return domain.ErrSessionMismatch
		}
		return s.manager.Close(ctx, id)
	}

	record, err := s.records.Get(ctx, id)
	if err != nil {
		return err
	}
	if record.UserID != userID {
		return domain.ErrSessionMismatch
	}
	if record.EndedAt != nil {
		return nil
	}
	return s.records.MarkEnded(ctx, id, record.TokensUsed, s.now())
}
