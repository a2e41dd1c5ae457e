package session

import (
	"strings"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/google/uuid"
)

// Assembler reduces streamed fragments into conversation turns. It is not
// safe for concurrent use; each session's pump owns one.
type Assembler struct {
	transcription strings.Builder
	response      strings.Builder
}

// Transcript appends a transcription fragment.
func (a *Assembler) Transcript(fragment string) {
	a.transcription.WriteString(fragment)
}

// Response appends a response fragment and returns the cumulative response.
func (a *Assembler) Response(fragment string) string {
	a.response.WriteString(fragment)
	return a.response.String()
}

// Boundary closes a generation. A turn is built only when both accumulators
// hold text; both are then reset. The response accumulator is reset on every
// boundary, turn or not.
func (a *Assembler) Boundary(sessionID string, at time.Time) (domain.ConversationTurn, bool) {
	defer a.response.Reset()

	if a.transcription.Len() == 0 || a.response.Len() == 0 {
		return domain.ConversationTurn{}, false
	}

	turn := domain.ConversationTurn{
		ID:            uuid.New(),
		SessionID:     sessionID,
		Transcription: strings.TrimSpace(a.transcription.String()),
		Response:      strings.TrimSpace(a.response.String()),
		Timestamp:     at,
	}
	a.transcription.Reset()
	return turn, true
}

// Pending returns the current accumulator contents.
func (a *Assembler) Pending() (transcription, response string) {
	return a.transcription.String(), a.response.String()
}
