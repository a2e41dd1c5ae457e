package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionType is the product surface a session was opened for
type SessionType string

const (
	SessionTypeLive     SessionType = "LIVE_CONVERSATION"
	SessionTypeScreenQA SessionType = "SCREEN_QA"
	SessionTypeWebQuery SessionType = "WEB_QUERY"
)

// SessionRecord is the persisted trace of a realtime session. It survives
// process restarts and is what the restore path consults.
type SessionRecord struct {
	ID          string      `json:"id"`
	UserID      uuid.UUID   `json:"user_id"`
	SessionType SessionType `json:"session_type"`
	Profile     string      `json:"profile"`
	Language    string      `json:"language"`
	TokensUsed  int64       `json:"tokens_used"`
	CreatedAt   time.Time   `json:"created_at"`
	EndedAt     *time.Time  `json:"ended_at,omitempty"`
}

// SessionCreate is the initialize request body
type SessionCreate struct {
	SessionType   SessionType `json:"session_type" validate:"omitempty,oneof=LIVE_CONVERSATION SCREEN_QA WEB_QUERY"`
	Profile       string      `json:"profile" validate:"omitempty,max=50"`
	Language      string      `json:"language" validate:"omitempty,max=10"`
	CustomPrompt  string      `json:"custom_prompt" validate:"max=10000"`
	SearchEnabled *bool       `json:"search_enabled,omitempty"`
}

// SessionRepository defines the interface for session record storage
type SessionRepository interface {
	Create(ctx context.Context, record *SessionRecord) error
	// Get returns ErrSessionNotFound when no record exists.
	Get(ctx context.Context, id string) (*SessionRecord, error)
	MarkEnded(ctx context.Context, id string, tokensUsed int64, endedAt time.Time) error
}

// ConversationTurn is one completed exchange. Never mutated after creation.
type ConversationTurn struct {
	ID            uuid.UUID `json:"id"`
	SessionID     string    `json:"session_id"`
	Transcription string    `json:"transcription"`
	Response      string    `json:"ai_response"`
	Timestamp     time.Time `json:"timestamp"`
}

// TurnRepository stores completed conversation turns
type TurnRepository interface {
	Append(ctx context.Context, turn *ConversationTurn) error
	// ListBySession returns turns oldest first.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]ConversationTurn, error)
}
