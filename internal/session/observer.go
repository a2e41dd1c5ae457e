package session

import "github.com/Rrens/live-assist/internal/domain"

// Observer receives a session's output. Calls for one session come from
// that session's event pump and never overlap.
type Observer interface {
	OnTranscription(sessionID, fragment string)
	// OnResponse receives the whole response so far, not the delta.
	OnResponse(sessionID, cumulative string)
	OnComplete(sessionID string, turn domain.ConversationTurn)
	// OnError receives terminal failures; the session is closed.
	OnError(sessionID string, err error)
}

// ObserverFuncs adapts optional funcs to Observer.
type ObserverFuncs struct {
	Transcription func(sessionID, fragment string)
	Response      func(sessionID, cumulative string)
	Complete      func(sessionID string, turn domain.ConversationTurn)
	Error         func(sessionID string, err error)
}

func (o ObserverFuncs) OnTranscription(sessionID, fragment string) {
	if o.Transcription != nil {
		o.Transcription(sessionID, fragment)
	}
}

func (o ObserverFuncs) OnResponse(sessionID, cumulative string) {
	if o.Response != nil {
		o.Response(sessionID, cumulative)
	}
}

func (o ObserverFuncs) OnComplete(sessionID string, turn domain.ConversationTurn) {
	if o.Complete != nil {
		o.Complete(sessionID, turn)
	}
}

func (o ObserverFuncs) OnError(sessionID string, err error) {
	if o.Error != nil {
		o.Error(sessionID, err)
	}
}
